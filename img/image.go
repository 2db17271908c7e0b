// Package img contains routines for manipulating sets of microscopy images and
// their instance segmentation masks.
package img

import (
	"image"
	"image/color"
)

var GrayModel = color.ModelFunc(grayModel)

// Gray color stored a float in range 0-1
type Gray struct {
	Y float32
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if _, ok := c.(Gray); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Gray{Y: 0.299*float32(r)/0xffff + 0.587*float32(g)/0xffff + 0.114*float32(b)/0xffff}
}

// GrayImage type stores the image data as float32 values in row major order.
type GrayImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewGray(width, height int) *GrayImage {
	return &GrayImage{Pix: make([]float32, height*width), Height: height, Width: width}
}

func (m *GrayImage) Clone() *GrayImage {
	dst := NewGray(m.Width, m.Height)
	copy(dst.Pix, m.Pix)
	return dst
}

func (m *GrayImage) ColorModel() color.Model {
	return GrayModel
}

func (m *GrayImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *GrayImage) GrayAt(x, y int) Gray {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return Gray{}
	}
	return Gray{Y: m.Pix[x+y*m.Width]}
}

func (m *GrayImage) At(x, y int) color.Color {
	return m.GrayAt(x, y)
}

func (m *GrayImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Pix[x+y*m.Width] = grayModel(c).(Gray).Y
}

// LabelMap stores per pixel instance labels, 0 is background.
type LabelMap struct {
	Labels []int32
	Height int
	Width  int
}

func NewLabelMap(width, height int) *LabelMap {
	return &LabelMap{Labels: make([]int32, height*width), Height: height, Width: width}
}

func (m *LabelMap) Clone() *LabelMap {
	dst := NewLabelMap(m.Width, m.Height)
	copy(dst.Labels, m.Labels)
	return dst
}

func (m *LabelMap) LabelAt(x, y int) int32 {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return 0
	}
	return m.Labels[x+y*m.Width]
}

func (m *LabelMap) SetLabel(x, y int, label int32) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Labels[x+y*m.Width] = label
}

// MaxLabel returns the highest instance id in the map.
func (m *LabelMap) MaxLabel() int32 {
	var max int32
	for _, l := range m.Labels {
		if l > max {
			max = l
		}
	}
	return max
}

// Empty is set if the map has no annotated pixels.
func (m *LabelMap) Empty() bool {
	for _, l := range m.Labels {
		if l != 0 {
			return false
		}
	}
	return true
}

func (m *LabelMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *LabelMap) ColorModel() color.Model {
	return color.NRGBAModel
}

// At renders each instance with a color hashed from its id so adjacent objects
// are distinguishable in previews.
func (m *LabelMap) At(x, y int) color.Color {
	label := m.LabelAt(x, y)
	if label == 0 {
		return color.NRGBA{A: 255}
	}
	h := uint32(label) * 2654435761
	return color.NRGBA{
		R: uint8(55 + h%200),
		G: uint8(55 + (h>>8)%200),
		B: uint8(55 + (h>>16)%200),
		A: 255,
	}
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}
