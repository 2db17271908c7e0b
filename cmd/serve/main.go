// Command serve exposes a trained model as a REST inference service.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/jnb666/denoiseg/api"
	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/onnx"
)

func main() {
	modelFile := flag.String("model", "", "trained model artifact (.onnx)")
	addr := flag.String("addr", ":8070", "listen address")
	flag.Parse()
	if *modelFile == "" {
		fmt.Println("usage: serve -model <file.onnx> [-addr <host:port>]")
		os.Exit(1)
	}

	m, err := onnx.Load(*modelFile)
	nnet.CheckErr(err)
	defer m.Close()
	log.Printf("model loaded from %s  threshold=%.2f\n", *modelFile, m.Meta.Threshold)

	th := m.Meta.Threshold
	if th == 0 {
		th = 0.5
	}
	r := gin.Default()
	r.MaxMultipartMemory = 8 << 20
	a := &api.APIs{Model: m, Threshold: th}
	a.Register(r)
	if err := r.Run(*addr); err != nil {
		log.Fatal(err)
	}
}
