//go:build cgo
// +build cgo

package embedding

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/twinscope/internal/nn"
)

// ONNXStage runs a pretrained backbone through ONNX Runtime. It requires CGO and the
// onnxruntime shared library. The stage is never trainable.
type ONNXStage struct {
	name         string
	size         int
	outputDim    int
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXStage creates a backbone stage taking 1×3×size×size inputs. InitializeEnvironment
// is called if not already done.
func NewONNXStage(name string, spec ONNXSpec, size int) (*ONNXStage, error) {
	if spec.OutputDim <= 0 {
		return nil, fmt.Errorf("onnx output_dim must be positive")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	inputData := make([]float32, 3*size*size)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, spec.OutputDim)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(spec.OutputDim)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		spec.ModelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXStage{
		name:         name,
		size:         size,
		outputDim:    spec.OutputDim,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *ONNXStage) Name() string { return s.name }
func (s *ONNXStage) Kind() string { return nn.KindONNX }

func (s *ONNXStage) OutputDim(inputDim int) (int, error) {
	if want := 3 * s.size * s.size; inputDim != want {
		return 0, fmt.Errorf("layer %s: input dimension mismatch: got %d, expected %d", s.name, inputDim, want)
	}
	return s.outputDim, nil
}

// Forward converts the HWC input to CHW and runs the session.
func (s *ONNXStage) Forward(in []float64) ([]float64, error) {
	if _, err := s.OutputDim(len(in)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("layer %s: session closed", s.name)
	}

	data := s.inputTensor.GetData()
	plane := s.size * s.size
	for px := 0; px < plane; px++ {
		for c := 0; c < 3; c++ {
			data[c*plane+px] = float32(in[px*3+c])
		}
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	outputData := s.outputTensor.GetData()
	out := make([]float64, s.outputDim)
	for i := range out {
		out[i] = float64(outputData[i])
	}
	return out, nil
}

// Backward returns a zero gradient; the backbone is not differentiated.
func (s *ONNXStage) Backward(in, out, gradOut []float64) []float64 {
	return make([]float64, len(in))
}

func (s *ONNXStage) Params() []*nn.Param { return nil }
func (s *ONNXStage) Trainable() bool     { return false }
func (s *ONNXStage) SetTrainable(bool)   {}

// Close destroys the session and tensors.
func (s *ONNXStage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		_ = s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		_ = s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	return err
}
