package seg

import (
	"fmt"

	"github.com/jnb666/denoiseg/img"
	"github.com/pkg/errors"
)

// Prediction is the network output for a single image: the denoised estimate
// plus one probability map per segmentation class.
type Prediction struct {
	Denoised *img.GrayImage
	Prob     [NumClasses]*img.GrayImage
}

// Segment thresholds the foreground probabilities into labeled instances.
func (p *Prediction) Segment(threshold float64) *img.LabelMap {
	return Label(p.Prob[Foreground], threshold)
}

// Predictor runs inference on a single image.
type Predictor interface {
	Predict(m *img.GrayImage) (*Prediction, error)
}

// OptimizeThreshold sweeps the segmentation threshold over 0.1 to 0.9 and
// returns the value maximising the mean precision score over the validation
// set, along with that score. Images without ground truth are skipped.
func OptimizeThreshold(p Predictor, valid *img.Data) (best, score float64, err error) {
	preds := make([]*Prediction, 0, valid.Len())
	masks := make([]*img.LabelMap, 0, valid.Len())
	for i := range valid.Images {
		if valid.Masks[i].Empty() {
			continue
		}
		pred, err := p.Predict(valid.Images[i])
		if err != nil {
			return 0, 0, errors.Wrapf(err, "predict image %d", i)
		}
		preds = append(preds, pred)
		masks = append(masks, valid.Masks[i])
	}
	if len(preds) == 0 {
		return 0, 0, fmt.Errorf("seg: no annotated validation images")
	}
	score = -1
	for t := 0.1; t <= 0.901; t += 0.05 {
		total := 0.0
		for i, pred := range preds {
			total += Precision(masks[i], pred.Segment(t))
		}
		mean := total / float64(len(preds))
		fmt.Printf("threshold %.2f: score %.4f\n", t, mean)
		if mean > score {
			best, score = t, mean
		}
	}
	return best, score, nil
}
