// Package api exposes model inference as a REST service.
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"

	_ "image/jpeg"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/tiff"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/seg"
)

// Model is the inference interface served by the API.
type Model interface {
	seg.Predictor
	InputSize() (width, height int)
}

// APIs holds the route handlers.
type APIs struct {
	Model     Model
	Threshold float64
}

// Register the routes on the gin engine.
func (a *APIs) Register(r *gin.Engine) {
	r.GET("/health", a.Health)
	r.POST("/predict", a.Predict)
}

// Health reports service status and the model input size.
func (a *APIs) Health(c *gin.Context) {
	w, h := a.Model.InputSize()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"width":     w,
		"height":    h,
		"threshold": a.Threshold,
	})
}

// PredictResponse is returned for each segmented image upload.
type PredictResponse struct {
	Image       string             `json:"image"`
	Objects     int                `json:"objects"`
	Threshold   float64            `json:"threshold"`
	Probability map[string]float32 `json:"probability"`
	Denoised    string             `json:"denoised,omitempty"`
	Mask        string             `json:"mask,omitempty"`
}

// Predict segments an uploaded image. The image form field holds a png, jpeg
// or tiff file which is converted to grayscale and resized to the model input
// size. An optional threshold form field overrides the tuned segmentation
// threshold and images=1 includes the denoised image and labeled mask as
// base64 encoded pngs.
func (a *APIs) Predict(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		Error(c, http.StatusBadRequest, errors.New("missing image form field"))
		return
	}
	defer file.Close()
	src, _, err := image.Decode(file)
	if err != nil {
		Error(c, http.StatusBadRequest, fmt.Errorf("decode %s: %v", header.Filename, err))
		return
	}
	threshold := a.Threshold
	if val := c.PostForm("threshold"); val != "" {
		if threshold, err = strconv.ParseFloat(val, 64); err != nil || threshold <= 0 || threshold >= 1 {
			Error(c, http.StatusBadRequest, fmt.Errorf("invalid threshold %q", val))
			return
		}
	}
	width, height := a.Model.InputSize()
	input := toInput(src, width, height)
	pred, err := a.Model.Predict(input)
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}
	mask := pred.Segment(threshold)
	resp := PredictResponse{
		Image:       header.Filename,
		Objects:     int(mask.MaxLabel()),
		Threshold:   threshold,
		Probability: meanProbability(pred),
	}
	if c.PostForm("images") == "1" {
		if resp.Denoised, err = encodePng(pred.Denoised.Normalise()); err != nil {
			Error(c, http.StatusInternalServerError, err)
			return
		}
		if resp.Mask, err = encodePng(mask); err != nil {
			Error(c, http.StatusInternalServerError, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HTTPError is the json error message body.
type HTTPError struct {
	Error string `json:"error"`
}

func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{Error: err.Error()})
}

// convert to grayscale, resize to the model input size and normalise
func toInput(src image.Image, width, height int) *img.GrayImage {
	b := src.Bounds()
	if b.Dx() != width || b.Dy() != height {
		src = resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	}
	dst := img.NewGray(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return dst.Normalise()
}

func meanProbability(pred *seg.Prediction) map[string]float32 {
	prob := make(map[string]float32, len(img.Classes))
	for c, name := range img.Classes {
		var sum float32
		for _, v := range pred.Prob[c].Pix {
			sum += v
		}
		prob[name] = sum / float32(len(pred.Prob[c].Pix))
	}
	return prob
}

func encodePng(m image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
