// Command train runs the external trainer on a prepared data set, tunes the
// segmentation threshold on the validation set and exports the model artifact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/onnx"
	"github.com/jnb666/denoiseg/seg"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: train [opts] <model>")
		os.Exit(1)
	}
	model := os.Args[len(os.Args)-1]
	fmt.Println("load model:", model)
	conf, err := nnet.LoadConfig(model + ".conf")
	nnet.CheckErr(err)

	// override config settings from command line
	flag.StringVar(&conf.Trainer, "trainer", conf.Trainer, "external trainer command")
	flag.Float64Var(&conf.Alpha, "alpha", conf.Alpha, "denoising vs segmentation loss weight")
	flag.Float64Var(&conf.LearnRate, "lr", conf.LearnRate, "learning rate")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.MaxSamples, "samples", conf.MaxSamples, "max samples")
	flag.IntVar(&conf.BatchSize, "batch", conf.BatchSize, "train batch size")
	flag.IntVar(&conf.StepsPerEpoch, "steps", conf.StepsPerEpoch, "steps per epoch")
	flag.IntVar(&conf.DebugLevel, "debug", conf.DebugLevel, "debug logging level")
	out := flag.String("out", "", "export path for the trained model, default <datadir>/<model>.onnx")
	flag.Parse()
	nnet.CheckErr(conf.Validate())

	data, err := nnet.LoadData(conf.DataSet)
	nnet.CheckErr(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	backend := nnet.NewExecBackend(path.Join(nnet.DataDir, model+"_run"))
	test := nnet.NewTestLogger(conf)
	err = nnet.Train(ctx, backend, conf, data, test)
	nnet.CheckErr(err)

	d := data["train"]
	meta := onnx.Metadata{
		InputShape: []int64{1, 1, int64(d.Dims[0]), int64(d.Dims[1])},
		Classes:    d.Class,
		Threshold:  conf.Threshold,
		Mean:       d.Mean,
		StdDev:     d.StdDev,
	}
	err = meta.Save(onnx.MetadataFile(backend.ModelFile()))
	nnet.CheckErr(err)

	if valid, ok := data["valid"]; ok {
		m, err := onnx.Load(backend.ModelFile())
		nnet.CheckErr(err)
		threshold, score, err := seg.OptimizeThreshold(m, valid)
		m.Close()
		nnet.CheckErr(err)
		fmt.Printf("best threshold %.2f  score %.4f\n", threshold, score)
		meta.Threshold = threshold
		conf.Threshold = threshold
		err = conf.Save(model + ".conf")
		nnet.CheckErr(err)
	}

	dst := *out
	if dst == "" {
		dst = path.Join(nnet.DataDir, model+".onnx")
	}
	err = onnx.Export(backend.ModelFile(), dst, meta)
	nnet.CheckErr(err)
}
