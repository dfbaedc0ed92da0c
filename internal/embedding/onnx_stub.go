//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"

	"github.com/hyperjump/twinscope/internal/nn"
)

// ONNXStage stub type when built without CGO (see onnx.go for real implementation).
type ONNXStage struct{}

// NewONNXStage returns an error when built without CGO (ONNX not available).
func NewONNXStage(_ string, _ ONNXSpec, _ int) (*ONNXStage, error) {
	return nil, errors.New("ONNX backbone requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (s *ONNXStage) Name() string                                  { return "" }
func (s *ONNXStage) Kind() string                                  { return nn.KindONNX }
func (s *ONNXStage) OutputDim(int) (int, error)                    { return 0, errors.New("ONNX unavailable") }
func (s *ONNXStage) Forward([]float64) ([]float64, error)          { return nil, errors.New("ONNX unavailable") }
func (s *ONNXStage) Backward(in, out, gradOut []float64) []float64 { return make([]float64, len(in)) }
func (s *ONNXStage) Params() []*nn.Param                           { return nil }
func (s *ONNXStage) Trainable() bool                               { return false }
func (s *ONNXStage) SetTrainable(bool)                             {}
func (s *ONNXStage) Close() error                                  { return nil }
