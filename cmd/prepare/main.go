// Command prepare converts a source data set into the gob encoded files used
// for training. The source is either a DSB2018 style npz archive with
// X_train, Y_train, X_val, Y_val, X_test and Y_test members or a directory
// tree of tiff/png images and instance masks.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/npz"
	"github.com/jnb666/denoiseg/seg"
)

var noiseLevels = map[string]float64{"n0": 0, "n10": 10, "n20": 20}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: prepare [opts] <name>")
		os.Exit(1)
	}
	name := os.Args[len(os.Args)-1]
	npzFile := flag.String("npz", "", "source npz archive")
	imageDir := flag.String("dir", "", "source directory with images/ and masks/ subdirs per set")
	noise := flag.String("noise", "n0", "noise level to apply: n0 n10 n20")
	labels := flag.Int("labels", 0, "if set, keep ground truth for only the first n training images")
	augment := flag.Bool("augment", true, "apply 8 fold rotate and flip augmentation to the training set")
	combine := flag.Bool("combine", false, "add unlabeled test images to the training set")
	split := flag.Float64("split", 0, "with -dir, first move this fraction of the training images to the test set")
	seed := flag.Int64("seed", 1, "random number seed")
	flag.Parse()

	sigma, ok := noiseLevels[*noise]
	if !ok {
		nnet.CheckErr(fmt.Errorf("unknown noise level %q, expect one of n0 n10 n20", *noise))
	}
	var data map[string]*img.Data
	var err error
	switch {
	case *npzFile != "":
		data, err = loadArchive(*npzFile)
	case *imageDir != "":
		if *split > 0 {
			err = img.SplitDir(*imageDir, *split, *seed)
			nnet.CheckErr(err)
		}
		data, err = loadDirs(*imageDir)
	default:
		err = fmt.Errorf("either -npz or -dir source must be given")
	}
	nnet.CheckErr(err)

	rng := nnet.SetSeed(*seed)
	train := data["train"]
	if *labels > 0 {
		train.Shuffle(rng)
		err = seg.ZeroOut(train, *labels)
		nnet.CheckErr(err)
	}
	if *combine {
		if test, ok := data["test"]; ok {
			n := train.Len()
			train, err = img.Combine(train, test)
			nnet.CheckErr(err)
			// the added images contribute to denoising only
			err = seg.ZeroOut(train, n)
			nnet.CheckErr(err)
			fmt.Println("combined with test images:", train.Len(), "training images")
		}
	}
	if *augment {
		train = img.Augment(train)
	}
	data["train"] = train

	for _, key := range nnet.DataTypes {
		d, ok := data[key]
		if !ok {
			continue
		}
		trans := img.NewTransformer(d, rng, func(m *img.GrayImage, rng *rand.Rand) *img.GrayImage {
			if sigma > 0 {
				m = m.AddNoise(sigma, rng)
			}
			return m.Normalise()
		})
		trans.TransformAll()
		d.Mean, d.StdDev = img.GetStats(d.Images)
		fmt.Printf("%s: %d images %v  annotated=%d  mean=%.3f sd=%.3f\n",
			key, d.Len(), d.Dims, d.Annotated(), d.Mean, d.StdDev)
		err = nnet.SaveDataFile(d, name+"_"+key)
		nnet.CheckErr(err)
	}

	conf := nnet.DefaultConfig()
	conf.DataSet = name
	conf.RandSeed = *seed
	err = conf.SaveDefault(name)
	nnet.CheckErr(err)
}

func loadArchive(file string) (map[string]*img.Data, error) {
	arrays, err := npz.ReadArchive(file)
	if err != nil {
		return nil, err
	}
	names := map[string]string{"train": "train", "valid": "val", "test": "test"}
	data := make(map[string]*img.Data)
	for key, suffix := range names {
		x, ok := arrays["X_"+suffix]
		if !ok {
			continue
		}
		d, err := img.FromArrays(x, arrays["Y_"+suffix])
		if err != nil {
			return nil, fmt.Errorf("%s set: %v", key, err)
		}
		data[key] = d
	}
	if _, ok := data["train"]; !ok {
		return nil, fmt.Errorf("archive %s has no X_train member", file)
	}
	return data, nil
}

func loadDirs(dir string) (map[string]*img.Data, error) {
	data := make(map[string]*img.Data)
	for _, key := range nnet.DataTypes {
		sub := dir + "/" + key
		if _, err := os.Stat(sub); err != nil {
			continue
		}
		images, err := img.ReadDir(sub + "/images")
		if err != nil {
			return nil, err
		}
		var masks []*img.LabelMap
		if _, err := os.Stat(sub + "/masks"); err == nil {
			if masks, err = img.ReadMasks(sub + "/masks"); err != nil {
				return nil, err
			}
		}
		d, err := img.NewData(images, masks)
		if err != nil {
			return nil, fmt.Errorf("%s set: %v", key, err)
		}
		data[key] = d
	}
	if _, ok := data["train"]; !ok {
		return nil, fmt.Errorf("no train directory under %s", dir)
	}
	return data, nil
}
