package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/seg"
)

// fake model which marks a fixed square as foreground
type fakeModel struct {
	size int
}

func (f *fakeModel) InputSize() (int, int) { return f.size, f.size }

func (f *fakeModel) Predict(m *img.GrayImage) (*seg.Prediction, error) {
	p := &seg.Prediction{Denoised: m.Clone()}
	for c := range p.Prob {
		p.Prob[c] = img.NewGray(f.size, f.size)
	}
	for y := 0; y < f.size; y++ {
		for x := 0; x < f.size; x++ {
			if x >= 2 && x < 4 && y >= 2 && y < 4 {
				p.Prob[seg.Foreground].Pix[x+y*f.size] = 0.9
			} else {
				p.Prob[seg.Background].Pix[x+y*f.size] = 0.9
			}
		}
	}
	return p, nil
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	a := &APIs{Model: &fakeModel{size: 8}, Threshold: 0.5}
	a.Register(r)
	return r
}

func uploadRequest(t *testing.T, fields map[string]string) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", "cell.png")
	require.NoError(t, err)
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = uint8(i)
	}
	require.NoError(t, png.Encode(fw, src))
	for key, val := range fields {
		require.NoError(t, w.WriteField(key, val))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest("POST", "/predict", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	r := testRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 8, resp["width"])
}

func TestPredict(t *testing.T) {
	r := testRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cell.png", resp.Image)
	assert.Equal(t, 1, resp.Objects)
	assert.Equal(t, 0.5, resp.Threshold)
	assert.InDelta(t, 0.9*4/64, resp.Probability["foreground"], 1e-6)
	assert.Empty(t, resp.Denoised)
}

func TestPredictImages(t *testing.T) {
	r := testRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, map[string]string{"images": "1", "threshold": "0.8"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.8, resp.Threshold)
	assert.NotEmpty(t, resp.Denoised)
	assert.NotEmpty(t, resp.Mask)
}

func TestPredictErrors(t *testing.T) {
	r := testRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/predict", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, map[string]string{"threshold": "2.5"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var herr HTTPError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &herr))
	assert.Contains(t, herr.Error, "threshold")
}
