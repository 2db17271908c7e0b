// Package seg converts instance masks to segmentation targets and scores
// predicted segmentations against the ground truth.
package seg

import (
	"fmt"

	"github.com/jnb666/denoiseg/img"
)

// Class ids within the one hot encoding.
const (
	Background = iota
	Foreground
	Border
	NumClasses
)

var neighbours = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// OneHot encodes an instance mask as per class maps with a single active class
// per pixel. Border pixels are background pixels touching an object and pixels
// where two objects meet, foreground is the remaining object interior.
func OneHot(mask *img.LabelMap) [NumClasses]*img.GrayImage {
	var classes [NumClasses]*img.GrayImage
	for i := range classes {
		classes[i] = img.NewGray(mask.Width, mask.Height)
	}
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			classes[classAt(mask, x, y)].Pix[x+y*mask.Width] = 1
		}
	}
	return classes
}

// Flatten writes the one hot encoding as class major planes into buf which
// must have size 3 * height * width. An unannotated mask gives all zero
// planes so the trainer can exclude it from the segmentation loss.
func Flatten(mask *img.LabelMap, buf []float32) {
	size := mask.Width * mask.Height
	if len(buf) != NumClasses*size {
		panic(fmt.Sprintf("seg: buffer size %d, expect %d", len(buf), NumClasses*size))
	}
	for i := range buf {
		buf[i] = 0
	}
	if mask.Empty() {
		return
	}
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			buf[classAt(mask, x, y)*size+x+y*mask.Width] = 1
		}
	}
}

func classAt(mask *img.LabelMap, x, y int) int {
	label := mask.LabelAt(x, y)
	if label != 0 {
		// objects touching another object
		for _, n := range neighbours {
			if next := mask.LabelAt(x+n[0], y+n[1]); next != 0 && next != label {
				return Border
			}
		}
		return Foreground
	}
	// background adjacent to an object
	for _, n := range neighbours {
		if mask.LabelAt(x+n[0], y+n[1]) != 0 {
			return Border
		}
	}
	return Background
}

// ZeroOut keeps the masks for the first keep images and clears the rest so
// only a subset of annotations is used for training. The count must be
// greater than zero and no more than the number of images in the set.
func ZeroOut(d *img.Data, keep int) error {
	if keep <= 0 || keep > d.Len() {
		return fmt.Errorf("seg: annotated image count %d out of range 1-%d", keep, d.Len())
	}
	for i := keep; i < d.Len(); i++ {
		d.Masks[i] = img.NewLabelMap(d.Dims[1], d.Dims[0])
	}
	fmt.Printf("using ground truth for %d of %d images\n", keep, d.Len())
	return nil
}
