// Package onnx runs inference on exported model artifacts using the
// onnxruntime library.
package onnx

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/seg"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes a model artifact. It is stored as a json file alongside
// the .onnx file.
type Metadata struct {
	InputShape []int64  `json:"input_shape"`
	Classes    []string `json:"classes"`
	Threshold  float64  `json:"threshold"`
	Mean       float32  `json:"mean"`
	StdDev     float32  `json:"std_dev"`
}

// MetadataFile returns the metadata path for the given model file.
func MetadataFile(modelFile string) string {
	return strings.TrimSuffix(modelFile, ".onnx") + ".json"
}

// Read metadata from json file.
func LoadMetadata(path string) (m Metadata, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrap(err, "read metadata")
	}
	if err = json.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "parse metadata")
	}
	if len(m.InputShape) != 4 {
		return m, fmt.Errorf("onnx: invalid input shape %v", m.InputShape)
	}
	return m, nil
}

// Write metadata as json file.
func (m Metadata) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Model wraps an onnxruntime session for a trained model. The input is a
// single normalised grayscale image and the output has one denoised channel
// followed by the raw segmentation class scores.
type Model struct {
	Meta         Metadata
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	width        int
	height       int
}

// Load the model artifact and its metadata and create the inference session.
func Load(modelFile string) (*Model, error) {
	meta, err := LoadMetadata(MetadataFile(modelFile))
	if err != nil {
		return nil, err
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "initialize onnxruntime")
	}
	m := &Model{
		Meta:   meta,
		height: int(meta.InputShape[2]),
		width:  int(meta.InputShape[3]),
	}
	outputShape := append([]int64{}, meta.InputShape...)
	outputShape[1] = int64(1 + len(meta.Classes))
	m.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	m.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		m.inputTensor.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}
	m.session, err = ort.NewAdvancedSession(modelFile,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{m.inputTensor}, []ort.ArbitraryTensor{m.outputTensor},
		nil)
	if err != nil {
		m.inputTensor.Destroy()
		m.outputTensor.Destroy()
		return nil, errors.Wrap(err, "create session")
	}
	return m, nil
}

// InputSize returns the expected image width and height.
func (m *Model) InputSize() (width, height int) {
	return m.width, m.height
}

// Predict runs inference on a single image and returns the denoised estimate
// plus the per class probability maps with softmax applied.
func (m *Model) Predict(image *img.GrayImage) (*seg.Prediction, error) {
	if image.Width != m.width || image.Height != m.height {
		return nil, fmt.Errorf("onnx: image size %dx%d does not match model input %dx%d",
			image.Width, image.Height, m.width, m.height)
	}
	copy(m.inputTensor.GetData(), image.Pix)
	if err := m.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}
	return splitOutput(m.outputTensor.GetData(), m.width, m.height), nil
}

// Close frees the session and tensors.
func (m *Model) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}

// Export copies the model artifact to dst and writes the metadata next to it.
func Export(srcModel, dst string, meta Metadata) error {
	src, err := os.Open(srcModel)
	if err != nil {
		return errors.Wrap(err, "open model artifact")
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err = io.Copy(out, src); err != nil {
		return err
	}
	return meta.Save(MetadataFile(dst))
}

// split the raw output planes into the denoised image and softmaxed class
// probability maps
func splitOutput(out []float32, width, height int) *seg.Prediction {
	nfeat := width * height
	p := &seg.Prediction{Denoised: img.NewGray(width, height)}
	copy(p.Denoised.Pix, out[:nfeat])
	for c := range p.Prob {
		p.Prob[c] = img.NewGray(width, height)
	}
	scores := out[nfeat:]
	for i := 0; i < nfeat; i++ {
		max := scores[i]
		for c := 1; c < seg.NumClasses; c++ {
			if v := scores[i+c*nfeat]; v > max {
				max = v
			}
		}
		sum := 0.0
		var exps [seg.NumClasses]float64
		for c := 0; c < seg.NumClasses; c++ {
			exps[c] = math.Exp(float64(scores[i+c*nfeat] - max))
			sum += exps[c]
		}
		for c := 0; c < seg.NumClasses; c++ {
			p.Prob[c].Pix[i] = float32(exps[c] / sum)
		}
	}
	return p
}
