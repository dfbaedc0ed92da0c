package batch

import (
	"fmt"

	"github.com/hyperjump/twinscope/internal/imagecache"
)

// Preprocessing modes, named after the input conventions of common pretrained extractors.
const (
	ModeTF    = "tf"
	ModeTorch = "torch"
	ModeCaffe = "caffe"
	ModeNone  = "none"
)

var (
	torchMean = [3]float64{0.485, 0.456, 0.406}
	torchStd  = [3]float64{0.229, 0.224, 0.225}
	caffeMean = [3]float64{103.939, 116.779, 123.68}
)

// Preprocessor turns a cached [0,255] RGB tensor into a fresh model input vector.
// The tensor is never modified.
type Preprocessor func(t *imagecache.Tensor) []float64

// NewPreprocessor returns the normalization for mode.
func NewPreprocessor(mode string) (Preprocessor, error) {
	switch mode {
	case ModeTF:
		return func(t *imagecache.Tensor) []float64 {
			out := make([]float64, len(t.Data))
			for i, v := range t.Data {
				out[i] = float64(v)/127.5 - 1
			}
			return out
		}, nil
	case ModeTorch:
		return func(t *imagecache.Tensor) []float64 {
			out := make([]float64, len(t.Data))
			for i, v := range t.Data {
				c := i % 3
				out[i] = (float64(v)/255 - torchMean[c]) / torchStd[c]
			}
			return out
		}, nil
	case ModeCaffe:
		return func(t *imagecache.Tensor) []float64 {
			out := make([]float64, len(t.Data))
			for i := 0; i+2 < len(t.Data); i += 3 {
				// RGB -> BGR, then zero-center per channel.
				out[i] = float64(t.Data[i+2]) - caffeMean[0]
				out[i+1] = float64(t.Data[i+1]) - caffeMean[1]
				out[i+2] = float64(t.Data[i]) - caffeMean[2]
			}
			return out
		}, nil
	case ModeNone, "":
		return func(t *imagecache.Tensor) []float64 {
			out := make([]float64, len(t.Data))
			for i, v := range t.Data {
				out[i] = float64(v)
			}
			return out
		}, nil
	default:
		return nil, fmt.Errorf("unknown preprocessing mode: %s (supported: tf, torch, caffe, none)", mode)
	}
}
