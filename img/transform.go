package img

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/jnb666/denoiseg/stats"
)

// Percentiles used to normalise raw microscopy intensities.
var (
	NormPercLow  = 1.0
	NormPercHigh = 99.8
)

const maxPatches = 10

// Rot90 rotates the image counter clockwise by k quarter turns.
func (m *GrayImage) Rot90(k int) *GrayImage {
	w, h := rotatedSize(m.Width, m.Height, k)
	dst := NewGray(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := rotatedIndex(x, y, m.Width, m.Height, k)
			dst.Pix[x+y*w] = m.Pix[sx+sy*m.Width]
		}
	}
	return dst
}

// FlipV mirrors the image top to bottom.
func (m *GrayImage) FlipV() *GrayImage {
	dst := NewGray(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		copy(dst.Pix[y*m.Width:(y+1)*m.Width], m.Pix[(m.Height-y-1)*m.Width:(m.Height-y)*m.Width])
	}
	return dst
}

// Crop returns the rectangle starting at x0, y0 with given size.
func (m *GrayImage) Crop(x0, y0, width, height int) *GrayImage {
	dst := NewGray(width, height)
	for y := 0; y < height; y++ {
		copy(dst.Pix[y*width:(y+1)*width], m.Pix[x0+(y0+y)*m.Width:x0+(y0+y)*m.Width+width])
	}
	return dst
}

// CenterCrop crops to cropW x cropH about the image center.
func (m *GrayImage) CenterCrop(cropW, cropH int) *GrayImage {
	return m.Crop((m.Width-cropW)/2, (m.Height-cropH)/2, cropW, cropH)
}

// AddNoise adds zero mean gaussian noise with given sigma to a copy of the image.
func (m *GrayImage) AddNoise(sigma float64, rng *rand.Rand) *GrayImage {
	dst := NewGray(m.Width, m.Height)
	for i, val := range m.Pix {
		dst.Pix[i] = val + float32(rng.NormFloat64()*sigma)
	}
	return dst
}

// Normalise scales intensities so the low and high percentiles map to 0 and 1.
func (m *GrayImage) Normalise() *GrayImage {
	lo := stats.Quantile(m.Pix, NormPercLow)
	hi := stats.Quantile(m.Pix, NormPercHigh)
	dst := NewGray(m.Width, m.Height)
	if hi-lo < 1e-20 {
		copy(dst.Pix, m.Pix)
		return dst
	}
	for i, val := range m.Pix {
		dst.Pix[i] = (val - lo) / (hi - lo)
	}
	return dst
}

func (m *LabelMap) Rot90(k int) *LabelMap {
	w, h := rotatedSize(m.Width, m.Height, k)
	dst := NewLabelMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := rotatedIndex(x, y, m.Width, m.Height, k)
			dst.Labels[x+y*w] = m.Labels[sx+sy*m.Width]
		}
	}
	return dst
}

func (m *LabelMap) FlipV() *LabelMap {
	dst := NewLabelMap(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		copy(dst.Labels[y*m.Width:(y+1)*m.Width], m.Labels[(m.Height-y-1)*m.Width:(m.Height-y)*m.Width])
	}
	return dst
}

func (m *LabelMap) Crop(x0, y0, width, height int) *LabelMap {
	dst := NewLabelMap(width, height)
	for y := 0; y < height; y++ {
		copy(dst.Labels[y*width:(y+1)*width], m.Labels[x0+(y0+y)*m.Width:x0+(y0+y)*m.Width+width])
	}
	return dst
}

func rotatedSize(w, h, k int) (int, int) {
	if k%2 == 1 {
		return h, w
	}
	return w, h
}

// source pixel for destination x, y after k quarter turn ccw rotation
func rotatedIndex(x, y, srcW, srcH, k int) (int, int) {
	switch ((k % 4) + 4) % 4 {
	case 1:
		return srcW - y - 1, x
	case 2:
		return srcW - x - 1, srcH - y - 1
	case 3:
		return y, srcH - x - 1
	default:
		return x, y
	}
}

// Augment expands the data set 8-fold by 90 degree rotations and flipping.
// Masks are transformed together with their images.
func Augment(d *Data) *Data {
	n := d.Len()
	images := append([]*GrayImage{}, d.Images...)
	masks := append([]*LabelMap{}, d.Masks...)
	for k := 1; k <= 3; k++ {
		for i := 0; i < n; i++ {
			images = append(images, d.Images[i].Rot90(k))
			masks = append(masks, d.Masks[i].Rot90(k))
		}
	}
	for i := 0; i < 4*n; i++ {
		images = append(images, images[i].FlipV())
		masks = append(masks, masks[i].FlipV())
	}
	res := *d
	res.Images = images
	res.Masks = masks
	fmt.Printf("augmented: %d => %d images\n", n, res.Len())
	return &res
}

// Shuffle reorders images and masks in place using the given source.
func (d *Data) Shuffle(rng *rand.Rand) {
	perm := rng.Perm(d.Len())
	images := make([]*GrayImage, d.Len())
	masks := make([]*LabelMap, d.Len())
	for i, ix := range perm {
		images[i] = d.Images[ix]
		masks[i] = d.Masks[ix]
	}
	d.Images = images
	d.Masks = masks
}

// Patches extracts up to maxPatches random square patches of given size from
// the image and mask.
func Patches(image *GrayImage, mask *LabelMap, size int, rng *rand.Rand) (images []*GrayImage, masks []*LabelMap) {
	if size > image.Width || size > image.Height {
		panic(fmt.Sprintf("img: patch size %d exceeds image %dx%d", size, image.Width, image.Height))
	}
	for i := 0; i < maxPatches; i++ {
		x0 := rng.Intn(image.Width - size + 1)
		y0 := rng.Intn(image.Height - size + 1)
		images = append(images, image.Crop(x0, y0, size, size))
		masks = append(masks, mask.Crop(x0, y0, size, size))
	}
	return images, masks
}

// Combine appends the test images to the training set. If the sizes differ the
// test images are cut into patches matching the training image size first.
func Combine(train, test *Data) (*Data, error) {
	res := *train
	res.Images = append([]*GrayImage{}, train.Images...)
	res.Masks = append([]*LabelMap{}, train.Masks...)
	if train.Dims[0] == test.Dims[0] && train.Dims[1] == test.Dims[1] {
		res.Images = append(res.Images, test.Images...)
		res.Masks = append(res.Masks, test.Masks...)
		return &res, nil
	}
	size := train.Dims[0]
	if train.Dims[1] != size {
		return nil, fmt.Errorf("img: training patches must be square to combine, have %v", train.Dims)
	}
	rng := rand.New(rand.NewSource(0))
	for i := range test.Images {
		images, masks := Patches(test.Images[i], test.Masks[i], size, rng)
		res.Images = append(res.Images, images...)
		res.Masks = append(res.Masks, masks...)
	}
	return &res, nil
}

// Transformer applies a per image op across a data set with a pool of workers.
type Transformer struct {
	data *Data
	fn   func(m *GrayImage, rng *rand.Rand) *GrayImage
	rng  []*rand.Rand
}

// Create a new transformer with one rng per thread so runs are reproducible
// for a fixed seed independent of scheduling.
func NewTransformer(data *Data, rng *rand.Rand, fn func(m *GrayImage, rng *rand.Rand) *GrayImage) *Transformer {
	t := &Transformer{data: data, fn: fn}
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

// Transform a batch of images in parallel
func (t *Transformer) TransformBatch(index []int, dst []*GrayImage) []*GrayImage {
	if dst == nil {
		dst = make([]*GrayImage, len(index))
	}
	var wg sync.WaitGroup
	queue := make(chan int, len(t.rng))
	for thread := range t.rng {
		wg.Add(1)
		go func(thread int) {
			for i := range queue {
				dst[i] = t.fn(t.data.Images[index[i]], t.rng[thread])
			}
			wg.Done()
		}(thread)
	}
	for i := range index {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return dst
}

// TransformAll transforms every image in the set in place.
func (t *Transformer) TransformAll() {
	index := make([]int, t.data.Len())
	for i := range index {
		index[i] = i
	}
	t.TransformBatch(index, t.data.Images)
}
