package seg

import (
	"math"

	"github.com/jnb666/denoiseg/img"
)

const matchIoU = 0.5

// Precision scores a predicted instance segmentation against the ground truth
// as TP / (TP + FP + FN), where a true positive is a predicted instance
// overlapping a ground truth instance with intersection over union above 0.5.
// An IoU above 0.5 makes the matching unique so no assignment search is needed.
func Precision(truth, pred *img.LabelMap) float64 {
	ntrue := int(truth.MaxLabel())
	npred := int(pred.MaxLabel())
	if ntrue == 0 && npred == 0 {
		return 1
	}
	if ntrue == 0 || npred == 0 {
		return 0
	}
	// pixel counts per instance and per overlapping pair
	trueArea := make([]int, ntrue+1)
	predArea := make([]int, npred+1)
	overlap := make(map[[2]int32]int)
	for i, t := range truth.Labels {
		p := pred.Labels[i]
		trueArea[t]++
		predArea[p]++
		if t != 0 && p != 0 {
			overlap[[2]int32{t, p}]++
		}
	}
	tp := 0
	for pair, inter := range overlap {
		union := trueArea[pair[0]] + predArea[pair[1]] - inter
		if float64(inter) > matchIoU*float64(union) {
			tp++
		}
	}
	return float64(tp) / float64(ntrue+npred-tp)
}

// PSNR returns the peak signal to noise ratio in dB between a clean reference
// image and its estimate, for intensities in range 0 to maxVal.
func PSNR(clean, noisy *img.GrayImage, maxVal float64) float64 {
	var mse float64
	for i, val := range clean.Pix {
		d := float64(val - noisy.Pix[i])
		mse += d * d
	}
	mse /= float64(len(clean.Pix))
	if mse == 0 {
		return math.Inf(1)
	}
	return 20*math.Log10(maxVal) - 10*math.Log10(mse)
}
