package img

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/jnb666/denoiseg/npz"
	"github.com/jnb666/denoiseg/stats"
)

// Segmentation classes predicted for each pixel.
var Classes = []string{"background", "foreground", "border"}

// Image data set pairing each source image with its instance label mask.
type Data struct {
	DataHead
	Images []*GrayImage
	Masks  []*LabelMap
}

type DataHead struct {
	Class  []string
	Dims   []int
	Mean   float32
	StdDev float32
}

// Create a new image set. All images must share the same dimensions.
func NewData(images []*GrayImage, masks []*LabelMap) (*Data, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("img: empty data set")
	}
	if len(masks) != 0 && len(masks) != len(images) {
		return nil, fmt.Errorf("img: have %d images but %d masks", len(images), len(masks))
	}
	src := images[0]
	if len(masks) == 0 {
		masks = make([]*LabelMap, len(images))
		for i := range masks {
			masks[i] = NewLabelMap(src.Width, src.Height)
		}
	}
	for i, m := range images {
		if m.Width != src.Width || m.Height != src.Height {
			return nil, fmt.Errorf("img: image %d is %dx%d, expect %dx%d", i, m.Width, m.Height, src.Width, src.Height)
		}
		if masks[i].Width != src.Width || masks[i].Height != src.Height {
			return nil, fmt.Errorf("img: mask %d size mismatch", i)
		}
	}
	return &Data{
		DataHead: DataHead{Class: Classes, Dims: []int{src.Height, src.Width}},
		Images:   images,
		Masks:    masks,
	}, nil
}

// FromArrays builds a data set from npz arrays with shape [n, h, w].
func FromArrays(x, y *npz.Array) (*Data, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("img: expect images shaped [n, h, w], got %v", x.Shape)
	}
	n, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	pix := x.Floats
	if pix == nil {
		if x.Ints == nil {
			return nil, fmt.Errorf("img: empty image array")
		}
		pix = make([]float32, len(x.Ints))
		for i, v := range x.Ints {
			pix[i] = float32(v)
		}
	}
	images := make([]*GrayImage, n)
	for i := range images {
		images[i] = &GrayImage{Pix: pix[i*h*w : (i+1)*h*w], Height: h, Width: w}
	}
	var masks []*LabelMap
	if y != nil {
		if len(y.Shape) != 3 || y.Shape[0] != n || y.Shape[1] != h || y.Shape[2] != w {
			return nil, fmt.Errorf("img: mask shape %v does not match images %v", y.Shape, x.Shape)
		}
		labels := y.Ints
		if labels == nil {
			labels = make([]int32, len(y.Floats))
			for i, v := range y.Floats {
				labels[i] = int32(v)
			}
		}
		masks = make([]*LabelMap, n)
		for i := range masks {
			masks[i] = &LabelMap{Labels: labels[i*h*w : (i+1)*h*w], Height: h, Width: w}
		}
	}
	return NewData(images, masks)
}

// ToArrays converts the set back to [n, h, w] shaped arrays for interchange.
func (d *Data) ToArrays() (x, y *npz.Array) {
	h, w := d.Dims[0], d.Dims[1]
	x = &npz.Array{Shape: []int{d.Len(), h, w}, Floats: make([]float32, d.Len()*h*w)}
	y = &npz.Array{Shape: []int{d.Len(), h, w}, Ints: make([]int32, d.Len()*h*w)}
	for i := range d.Images {
		copy(x.Floats[i*h*w:], d.Images[i].Pix)
		copy(y.Ints[i*h*w:], d.Masks[i].Labels)
	}
	return x, y
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Images) }

// Classes returns the segmentation class names
func (d *Data) Classes() []string { return d.Class }

// Shape returns height, width
func (d *Data) Shape() []int { return d.Dims }

// Annotated returns the number of masks with at least one labeled pixel.
func (d *Data) Annotated() int {
	n := 0
	for _, m := range d.Masks {
		if !m.Empty() {
			n++
		}
	}
	return n
}

// Slice returns images from start to end
func (d *Data) Slice(start, end int) *Data {
	data := *d
	data.Images = append([]*GrayImage{}, d.Images[start:end]...)
	data.Masks = append([]*LabelMap{}, d.Masks[start:end]...)
	return &data
}

// Input copies the pixel values for the given image indexes into buf.
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.Dims[0] * d.Dims[1]
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Images[ix].Pix)
	}
}

// Encode data to binary file
func (d *Data) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&d.DataHead); err != nil {
		return fmt.Errorf("error encoding header: %s", err)
	}
	for i := range d.Images {
		if err := enc.Encode(d.Images[i]); err != nil {
			return fmt.Errorf("error encoding image %d: %s", i, err)
		}
		if err := enc.Encode(d.Masks[i]); err != nil {
			return fmt.Errorf("error encoding mask %d: %s", i, err)
		}
	}
	return nil
}

// Decode data from binary file
func (d *Data) Decode(r io.Reader) error {
	d.DataHead = DataHead{}
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&d.DataHead); err != nil {
		return fmt.Errorf("error decoding header: %s", err)
	}
	d.Images = nil
	d.Masks = nil
	for {
		m := new(GrayImage)
		if err := dec.Decode(m); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error decoding image %d: %s", len(d.Images), err)
		}
		mask := new(LabelMap)
		if err := dec.Decode(mask); err != nil {
			return fmt.Errorf("error decoding mask %d: %s", len(d.Masks), err)
		}
		d.Images = append(d.Images, m)
		d.Masks = append(d.Masks, mask)
	}
}

// Calculate mean and stddev from set of images
func GetStats(imgList ...[]*GrayImage) (mean, std float32) {
	s := new(stats.Average)
	for _, images := range imgList {
		for _, img := range images {
			for _, val := range img.Pix {
				s.Add(float64(val))
			}
		}
	}
	fmt.Printf("mean = %.2f stddev = %.2f\n", s.Mean, s.StdDev)
	return float32(s.Mean), float32(s.StdDev)
}
