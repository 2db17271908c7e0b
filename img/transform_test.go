package img

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func testImage(w, h int) *GrayImage {
	m := NewGray(w, h)
	for i := range m.Pix {
		m.Pix[i] = float32(i)
	}
	return m
}

func testSet(t *testing.T, n, size int) *Data {
	images := make([]*GrayImage, n)
	masks := make([]*LabelMap, n)
	for i := range images {
		images[i] = testImage(size, size)
		masks[i] = NewLabelMap(size, size)
		masks[i].SetLabel(0, 0, int32(i+1))
	}
	d, err := NewData(images, masks)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRot90(t *testing.T) {
	m := testImage(3, 2)
	r := m.Rot90(1)
	if r.Width != 2 || r.Height != 3 {
		t.Fatal("size: got", r.Width, r.Height)
	}
	expect := []float32{2, 5, 1, 4, 0, 3}
	if !reflect.DeepEqual(r.Pix, expect) {
		t.Error("rot90: got", r.Pix, "expect", expect)
	}
	if !reflect.DeepEqual(m.Rot90(4).Pix, m.Pix) {
		t.Error("four turns should be identity")
	}
	if !reflect.DeepEqual(m.Rot90(1).Rot90(1).Pix, m.Rot90(2).Pix) {
		t.Error("two single turns != half turn")
	}
}

func TestFlipV(t *testing.T) {
	m := testImage(2, 2)
	expect := []float32{2, 3, 0, 1}
	if got := m.FlipV().Pix; !reflect.DeepEqual(got, expect) {
		t.Error("got", got, "expect", expect)
	}
}

func TestCrop(t *testing.T) {
	m := testImage(4, 4)
	c := m.CenterCrop(2, 2)
	expect := []float32{5, 6, 9, 10}
	if !reflect.DeepEqual(c.Pix, expect) {
		t.Error("got", c.Pix, "expect", expect)
	}
}

func TestAugment(t *testing.T) {
	d := testSet(t, 3, 4)
	aug := Augment(d)
	if aug.Len() != 24 {
		t.Fatal("augmented length: got", aug.Len())
	}
	if d.Len() != 3 {
		t.Error("source modified: len =", d.Len())
	}
	// image 3+0 is first image rotated 90
	if !reflect.DeepEqual(aug.Images[3].Pix, d.Images[0].Rot90(1).Pix) {
		t.Error("rotation mismatch")
	}
	// mask follows its image through the transform
	if aug.Masks[3].LabelAt(0, 3) != 1 {
		t.Error("mask not rotated with image")
	}
	// second half is flipped first half
	for i := 0; i < 12; i++ {
		if !reflect.DeepEqual(aug.Images[12+i].Pix, aug.Images[i].FlipV().Pix) {
			t.Fatal("flip mismatch at", i)
		}
	}
}

func TestPatches(t *testing.T) {
	m := testImage(8, 8)
	mask := NewLabelMap(8, 8)
	mask.SetLabel(2, 2, 7)
	images, masks := Patches(m, mask, 4, rand.New(rand.NewSource(0)))
	if len(images) != 10 || len(masks) != 10 {
		t.Fatal("got", len(images), "patches")
	}
	for i, p := range images {
		if p.Width != 4 || p.Height != 4 {
			t.Fatal("patch size: got", p.Width, p.Height)
		}
		if masks[i].Width != 4 {
			t.Fatal("mask patch size mismatch")
		}
	}
	// same seed gives same patches
	again, _ := Patches(m, mask, 4, rand.New(rand.NewSource(0)))
	if !reflect.DeepEqual(images[0].Pix, again[0].Pix) {
		t.Error("patches not reproducible")
	}
}

func TestAddNoise(t *testing.T) {
	m := NewGray(64, 64)
	noisy := m.AddNoise(0.1, rand.New(rand.NewSource(1)))
	var sum, sum2 float64
	for _, v := range noisy.Pix {
		sum += float64(v)
		sum2 += float64(v) * float64(v)
	}
	n := float64(len(noisy.Pix))
	mean := sum / n
	sigma := math.Sqrt(sum2/n - mean*mean)
	if math.Abs(mean) > 0.01 {
		t.Error("noise mean:", mean)
	}
	if math.Abs(sigma-0.1) > 0.01 {
		t.Error("noise sigma:", sigma)
	}
}

func TestNormalise(t *testing.T) {
	m := NewGray(10, 10)
	for i := range m.Pix {
		m.Pix[i] = float32(i) * 100
	}
	norm := m.Normalise()
	if norm.Pix[0] > 0.001 || norm.Pix[99] < 0.99 {
		t.Error("range: got", norm.Pix[0], norm.Pix[99])
	}
	mid := norm.Pix[50]
	if mid < 0.4 || mid > 0.6 {
		t.Error("midpoint: got", mid)
	}
}

func TestShuffle(t *testing.T) {
	d := testSet(t, 10, 4)
	for i := range d.Images {
		d.Images[i].Pix[0] = float32(i + 1)
	}
	d.Shuffle(rand.New(rand.NewSource(42)))
	if d.Len() != 10 {
		t.Fatal("length changed")
	}
	for i := range d.Images {
		// image i+1 was paired with mask label i+1
		if int32(d.Images[i].Pix[0]) != d.Masks[i].LabelAt(0, 0) {
			t.Fatal("image and mask no longer paired at", i)
		}
	}
}

func TestCombine(t *testing.T) {
	train := testSet(t, 2, 4)
	test := testSet(t, 2, 4)
	res, err := Combine(train, test)
	if err != nil {
		t.Fatal(err)
	}
	if res.Len() != 4 {
		t.Error("same size combine: got", res.Len())
	}
	big := testSet(t, 2, 8)
	res, err = Combine(train, big)
	if err != nil {
		t.Fatal(err)
	}
	if res.Len() != 2+2*10 {
		t.Error("patched combine: got", res.Len())
	}
	if res.Images[5].Width != 4 {
		t.Error("patch size: got", res.Images[5].Width)
	}
}

func TestTransformBatch(t *testing.T) {
	d := testSet(t, 20, 4)
	trans := NewTransformer(d, rand.New(rand.NewSource(0)), func(m *GrayImage, rng *rand.Rand) *GrayImage {
		return m.FlipV()
	})
	index := make([]int, d.Len())
	for i := range index {
		index[i] = i
	}
	dst := trans.TransformBatch(index, nil)
	for i := range dst {
		if !reflect.DeepEqual(dst[i].Pix, d.Images[i].FlipV().Pix) {
			t.Fatal("mismatch at", i)
		}
	}
}
