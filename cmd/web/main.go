// Command web serves the training monitor web interface.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/web"
)

const (
	scale = 2
	rows  = 4
	cols  = 6
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Println("usage: web [opts] <model>")
		os.Exit(1)
	}
	model := os.Args[len(os.Args)-1]
	addr := flag.String("addr", ":8080", "listen address")
	useAuth := flag.Bool("auth", false, "authenticate requests with pam")
	flag.Parse()

	mon, err := web.NewMonitor(model)
	nnet.CheckErr(err)

	t, err := web.NewTemplates(
		web.Link{Url: "/train", Name: "train"},
		web.Link{Url: "/images", Name: "images"},
		web.Link{Url: "/config", Name: "config"},
	)
	nnet.CheckErr(err)

	trainPage := web.NewTrainPage(t.Clone(), mon)
	imagePage := web.NewImagePage(t.Clone(), mon, scale, rows, cols)
	configPage := web.NewConfigPage(t.Clone(), mon)

	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/train", http.StatusFound))
	r.PathPrefix("/static/").Handler(http.FileServer(http.Dir(web.AssetDir)))

	r.HandleFunc("/train", trainPage.Base())
	r.HandleFunc("/train/{cmd:(?:stats|start|stop|tune)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.Handle("/images", http.RedirectHandler("/images/train/input", http.StatusFound))
	r.HandleFunc("/images/{dset}/{kind:(?:input|labels|denoised|seg)}", imagePage.Base())
	r.HandleFunc("/images/{dset}/{opt:(?:all|annotated|prev|next)}", imagePage.Setopt())
	r.HandleFunc("/img/{dset}/{id:[0-9]+}/{kind}", imagePage.Image())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/load", configPage.Load()).Methods("POST")
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())

	var handler http.Handler = r
	if *useAuth {
		handler = web.NewAuth(t, "").Wrap(r)
	}
	fmt.Printf("serving web page at http://localhost%s\n", *addr)
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatal(err)
	}
}
