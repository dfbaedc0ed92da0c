package embedding

import (
	"fmt"
	"math/rand/v2"

	"github.com/hyperjump/twinscope/internal/nn"
)

// Layer names produced by BuildExtractor. Hidden blocks are named block1_dense,
// block1_relu, block2_dense and so on.
const (
	LayerPool      = "pool"
	LayerBackbone  = "backbone"
	LayerEmbedding = "embedding"
)

// ONNXSpec describes a pretrained ONNX backbone used as the first extractor stage.
type ONNXSpec struct {
	ModelPath  string `json:"model_path"`
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
	OutputDim  int    `json:"output_dim"`
}

// ExtractorSpec is the architecture of the feature extractor. It is stored in model
// file headers so a model can be rebuilt before its weights are read.
type ExtractorSpec struct {
	ImageSize    int       `json:"image_size"`
	PoolGrid     int       `json:"pool_grid"`
	Hidden       []int     `json:"hidden"`
	EmbeddingDim int       `json:"embedding_dim"`
	Seed         uint64    `json:"seed"`
	ONNX         *ONNXSpec `json:"onnx,omitempty"`
}

// InputDim returns the width of a flattened size×size×3 input.
func (s ExtractorSpec) InputDim() int {
	return s.ImageSize * s.ImageSize * 3
}

// BuildExtractor creates the extractor layers in definition order: the ONNX backbone
// or a grid average pool, then dense+ReLU blocks, then the embedding projection.
// Dense weights are initialized from a PCG source seeded with spec.Seed.
func BuildExtractor(spec ExtractorSpec) ([]nn.Layer, error) {
	if spec.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive")
	}
	if spec.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}

	var layers []nn.Layer
	if spec.ONNX != nil && spec.ONNX.ModelPath != "" {
		stage, err := NewONNXStage(LayerBackbone, *spec.ONNX, spec.ImageSize)
		if err != nil {
			return nil, err
		}
		layers = append(layers, stage)
	} else {
		pool, err := nn.NewGridPool(LayerPool, spec.ImageSize, spec.ImageSize, 3, spec.PoolGrid)
		if err != nil {
			return nil, err
		}
		layers = append(layers, pool)
	}

	dim, err := layers[0].OutputDim(spec.InputDim())
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x5bd1e995))
	for i, width := range spec.Hidden {
		name := fmt.Sprintf("block%d", i+1)
		dense, err := nn.NewDense(name+"_dense", dim, width, rng)
		if err != nil {
			return nil, err
		}
		layers = append(layers, dense, nn.NewReLU(name+"_relu"))
		dim = width
	}

	out, err := nn.NewDense(LayerEmbedding, dim, spec.EmbeddingDim, rng)
	if err != nil {
		return nil, err
	}
	return append(layers, out), nil
}
