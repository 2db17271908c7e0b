// Command predict runs batch inference over a directory of images, writing a
// denoised tiff and an instance labeled png mask for each input.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/onnx"
	"github.com/jnb666/denoiseg/seg"
)

func main() {
	modelFile := flag.String("model", "", "trained model artifact (.onnx)")
	inDir := flag.String("in", "", "input image directory")
	outDir := flag.String("out", "out", "output directory")
	threshold := flag.Float64("threshold", 0, "segmentation threshold, default from model metadata")
	cleanDir := flag.String("clean", "", "directory with matching clean reference images to report denoising psnr")
	flag.Parse()
	if *modelFile == "" || *inDir == "" {
		fmt.Println("usage: predict -model <file.onnx> -in <dir> [-out <dir>] [-threshold <t>]")
		os.Exit(1)
	}

	m, err := onnx.Load(*modelFile)
	nnet.CheckErr(err)
	defer m.Close()
	th := m.Meta.Threshold
	if *threshold > 0 {
		th = *threshold
	}
	if th <= 0 || th >= 1 {
		nnet.CheckErr(fmt.Errorf("invalid threshold %g", th))
	}

	images, err := img.ReadDir(*inDir)
	nnet.CheckErr(err)
	files, err := filepath.Glob(filepath.Join(*inDir, "*"))
	nnet.CheckErr(err)
	names := imageNames(files)
	if len(names) != len(images) {
		nnet.CheckErr(fmt.Errorf("have %d images but %d file names", len(images), len(names)))
	}
	var clean []*img.GrayImage
	if *cleanDir != "" {
		clean, err = img.ReadDir(*cleanDir)
		nnet.CheckErr(err)
		if len(clean) != len(images) {
			nnet.CheckErr(fmt.Errorf("have %d images but %d clean references", len(images), len(clean)))
		}
	}
	err = os.MkdirAll(*outDir, 0755)
	nnet.CheckErr(err)

	width, height := m.InputSize()
	psnr := 0.0
	for i, image := range images {
		if image.Width != width || image.Height != height {
			image = image.CenterCrop(width, height)
		}
		pred, err := m.Predict(image.Normalise())
		nnet.CheckErr(err)
		mask := pred.Segment(th)
		base := strings.TrimSuffix(names[i], filepath.Ext(names[i]))
		denoised := pred.Denoised.Normalise()
		err = img.WriteTiff(filepath.Join(*outDir, base+"_denoised.tif"), denoised)
		nnet.CheckErr(err)
		err = writePng(filepath.Join(*outDir, base+"_mask.png"), mask)
		nnet.CheckErr(err)
		if clean != nil {
			ref := clean[i]
			if ref.Width != width || ref.Height != height {
				ref = ref.CenterCrop(width, height)
			}
			db := seg.PSNR(ref.Normalise(), denoised, 1)
			psnr += db
			fmt.Printf("%s: %d objects  psnr %.2f dB\n", names[i], mask.MaxLabel(), db)
		} else {
			fmt.Printf("%s: %d objects\n", names[i], mask.MaxLabel())
		}
	}
	if clean != nil && len(images) > 0 {
		fmt.Printf("mean psnr: %.2f dB\n", psnr/float64(len(images)))
	}
}

func imageNames(files []string) []string {
	var names []string
	for _, f := range files {
		switch filepath.Ext(f) {
		case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
			names = append(names, filepath.Base(f))
		}
	}
	return names
}

func writePng(path string, m *img.LabelMap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, m)
}
