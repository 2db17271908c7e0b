package img

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"
)

const readThreads = 4

// ReadDir decodes all images in dir in parallel, sorted by file name.
// Tiff, png and jpeg are supported.
func ReadDir(dir string) ([]*GrayImage, error) {
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	images := make([]*GrayImage, len(files))
	grp := new(errgroup.Group)
	grp.SetLimit(readThreads)
	for i, file := range files {
		i, file := i, file
		grp.Go(func() error {
			src, err := decodeFile(file)
			if err != nil {
				return err
			}
			images[i] = toGray(src)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// ReadMasks decodes instance label masks from dir in parallel, sorted by file
// name. Masks must be 8 or 16 bit grayscale with one id per instance.
func ReadMasks(dir string) ([]*LabelMap, error) {
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	masks := make([]*LabelMap, len(files))
	grp := new(errgroup.Group)
	grp.SetLimit(readThreads)
	for i, file := range files {
		i, file := i, file
		grp.Go(func() error {
			src, err := decodeFile(file)
			if err != nil {
				return err
			}
			masks[i], err = toLabels(src)
			return errors.Wrap(err, filepath.Base(file))
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return masks, nil
}

// WriteTiff saves the image as 16 bit grayscale tiff, clamping values to 0-1.
func WriteTiff(path string, m *GrayImage) error {
	dst := image.NewGray16(m.Bounds())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			dst.SetGray16(x, y, color.Gray16{Y: uint16(clampu(m.Pix[x+y*m.Width], 0, 1))})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tiff.Encode(f, dst, &tiff.Options{Compression: tiff.Deflate})
}

// SplitDir moves a random fraction of the images and masks under dir/train
// into dir/test. Layout is train/images, train/masks as per the source data.
func SplitDir(dir string, testFrac float64, seed int64) error {
	if testFrac <= 0 || testFrac >= 1 {
		return fmt.Errorf("img: test fraction %g out of range", testFrac)
	}
	images, err := listImages(filepath.Join(dir, "train", "images"))
	if err != nil {
		return err
	}
	masks, err := listImages(filepath.Join(dir, "train", "masks"))
	if err != nil {
		return err
	}
	if len(images) != len(masks) {
		return fmt.Errorf("img: %d images but %d masks", len(images), len(masks))
	}
	for _, sub := range []string{"images", "masks"} {
		if err := os.MkdirAll(filepath.Join(dir, "test", sub), 0755); err != nil {
			return err
		}
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(images))
	ntest := int(float64(len(images)) * testFrac)
	for _, ix := range perm[:ntest] {
		for _, file := range []string{images[ix], masks[ix]} {
			sub := filepath.Base(filepath.Dir(file))
			dst := filepath.Join(dir, "test", sub, filepath.Base(file))
			if err := os.Rename(file, dst); err != nil {
				return err
			}
		}
	}
	fmt.Printf("moved %d of %d images to %s\n", ntest, len(images), filepath.Join(dir, "test"))
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "img: read dir")
	}
	var files []string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	return src, errors.Wrapf(err, "img: decode %s", filepath.Base(path))
}

func toGray(src image.Image) *GrayImage {
	b := src.Bounds()
	dst := NewGray(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func toLabels(src image.Image) (*LabelMap, error) {
	b := src.Bounds()
	dst := NewLabelMap(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var label int32
			switch m := src.(type) {
			case *image.Gray16:
				label = int32(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			case *image.Gray:
				label = int32(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
				return nil, fmt.Errorf("img: mask must be grayscale, got %T", src)
			}
			dst.Labels[x+y*b.Dx()] = label
		}
	}
	return dst, nil
}
