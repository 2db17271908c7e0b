package seg

import (
	"math"
	"testing"

	"github.com/jnb666/denoiseg/img"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 6x6 mask with a 2x2 object at (1,1) and a single pixel object at (4,4)
func twoObjects() *img.LabelMap {
	m := img.NewLabelMap(6, 6)
	m.SetLabel(1, 1, 1)
	m.SetLabel(2, 1, 1)
	m.SetLabel(1, 2, 1)
	m.SetLabel(2, 2, 1)
	m.SetLabel(4, 4, 2)
	return m
}

func TestOneHot(t *testing.T) {
	classes := OneHot(twoObjects())
	// every pixel has exactly one active class
	for i := 0; i < 36; i++ {
		sum := classes[Background].Pix[i] + classes[Foreground].Pix[i] + classes[Border].Pix[i]
		require.Equal(t, float32(1), sum, "pixel %d", i)
	}
	assert.Equal(t, float32(1), classes[Foreground].GrayAt(1, 1).Y)
	assert.Equal(t, float32(1), classes[Foreground].GrayAt(4, 4).Y)
	// ring of background pixels around the object is border
	assert.Equal(t, float32(1), classes[Border].GrayAt(0, 0).Y)
	assert.Equal(t, float32(1), classes[Border].GrayAt(3, 2).Y)
	assert.Equal(t, float32(1), classes[Border].GrayAt(3, 3).Y)
	// far corner is plain background
	assert.Equal(t, float32(1), classes[Background].GrayAt(0, 5).Y)
}

func TestOneHotTouching(t *testing.T) {
	m := img.NewLabelMap(4, 1)
	m.SetLabel(0, 0, 1)
	m.SetLabel(1, 0, 1)
	m.SetLabel(2, 0, 2)
	m.SetLabel(3, 0, 2)
	classes := OneHot(m)
	// contact pixels between the two objects are border
	assert.Equal(t, float32(1), classes[Foreground].GrayAt(0, 0).Y)
	assert.Equal(t, float32(1), classes[Border].GrayAt(1, 0).Y)
	assert.Equal(t, float32(1), classes[Border].GrayAt(2, 0).Y)
	assert.Equal(t, float32(1), classes[Foreground].GrayAt(3, 0).Y)
}

func TestFlatten(t *testing.T) {
	mask := twoObjects()
	buf := make([]float32, 3*36)
	Flatten(mask, buf)
	classes := OneHot(mask)
	for c := 0; c < NumClasses; c++ {
		assert.Equal(t, classes[c].Pix, buf[c*36:(c+1)*36], "class %d", c)
	}
	// unannotated mask gives all zero planes, not all background
	Flatten(img.NewLabelMap(6, 6), buf)
	for i, v := range buf {
		require.Equal(t, float32(0), v, "element %d", i)
	}
}

func TestZeroOut(t *testing.T) {
	newSet := func() *img.Data {
		masks := make([]*img.LabelMap, 5)
		images := make([]*img.GrayImage, 5)
		for i := range masks {
			images[i] = img.NewGray(4, 4)
			masks[i] = img.NewLabelMap(4, 4)
			masks[i].SetLabel(0, 0, 1)
		}
		d, err := img.NewData(images, masks)
		require.NoError(t, err)
		return d
	}
	d := newSet()
	require.Error(t, ZeroOut(d, 0))
	require.Error(t, ZeroOut(d, -1))
	require.Error(t, ZeroOut(d, 6))

	require.NoError(t, ZeroOut(d, 2))
	assert.Equal(t, 2, d.Annotated())

	// keeping every annotation is valid
	d = newSet()
	require.NoError(t, ZeroOut(d, 5))
	assert.Equal(t, 5, d.Annotated())
}

func TestLabel(t *testing.T) {
	prob := img.NewGray(6, 6)
	for _, p := range [][2]int{{1, 1}, {2, 1}, {1, 2}} {
		prob.Pix[p[0]+p[1]*6] = 0.9
	}
	// diagonal pixel joins the blob with 8-connectivity
	prob.Pix[3+2*6] = 0.9
	prob.Pix[5+5*6] = 0.8
	mask := Label(prob, 0.5)
	assert.Equal(t, int32(2), mask.MaxLabel())
	assert.Equal(t, mask.LabelAt(1, 1), mask.LabelAt(3, 2))
	assert.NotEqual(t, mask.LabelAt(1, 1), mask.LabelAt(5, 5))
	assert.Equal(t, int32(0), mask.LabelAt(0, 0))
}

func TestPrecision(t *testing.T) {
	truth := twoObjects()
	assert.Equal(t, 1.0, Precision(truth, truth.Clone()))
	empty := img.NewLabelMap(6, 6)
	assert.Equal(t, 1.0, Precision(empty, empty))
	assert.Equal(t, 0.0, Precision(truth, empty))
	assert.Equal(t, 0.0, Precision(empty, truth))

	// missing the single pixel object: TP=1 FN=1 => 1/2
	pred := truth.Clone()
	pred.SetLabel(4, 4, 0)
	assert.Equal(t, 0.5, Precision(truth, pred))

	// extra spurious object: TP=2 FP=1 => 2/3
	pred = truth.Clone()
	pred.SetLabel(0, 5, 3)
	assert.InDelta(t, 2.0/3, Precision(truth, pred), 1e-9)
}

func TestPSNR(t *testing.T) {
	clean := img.NewGray(4, 4)
	noisy := img.NewGray(4, 4)
	assert.True(t, math.IsInf(PSNR(clean, clean, 1), 1))
	for i := range noisy.Pix {
		noisy.Pix[i] = 0.1
	}
	// mse = 0.01 => psnr = 20 dB
	assert.InDelta(t, 20.0, PSNR(clean, noisy, 1), 1e-4)
}

type fakePredictor struct {
	masks map[*img.GrayImage]*img.LabelMap
}

func (f fakePredictor) Predict(m *img.GrayImage) (*Prediction, error) {
	mask := f.masks[m]
	p := &Prediction{Denoised: m.Clone()}
	for i := range p.Prob {
		p.Prob[i] = img.NewGray(m.Width, m.Height)
	}
	for i, label := range mask.Labels {
		if label != 0 {
			p.Prob[Foreground].Pix[i] = 0.9
		} else {
			p.Prob[Background].Pix[i] = 0.9
		}
	}
	return p, nil
}

func TestOptimizeThreshold(t *testing.T) {
	images := []*img.GrayImage{img.NewGray(6, 6), img.NewGray(6, 6)}
	masks := []*img.LabelMap{twoObjects(), twoObjects()}
	d, err := img.NewData(images, masks)
	require.NoError(t, err)
	pred := fakePredictor{masks: map[*img.GrayImage]*img.LabelMap{
		images[0]: masks[0],
		images[1]: masks[1],
	}}
	best, score, err := OptimizeThreshold(pred, d)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.InDelta(t, 0.1, best, 1e-9)

	// all masks empty is an error
	empty, err := img.NewData([]*img.GrayImage{img.NewGray(6, 6)}, nil)
	require.NoError(t, err)
	_, _, err = OptimizeThreshold(pred, empty)
	assert.Error(t, err)
}
