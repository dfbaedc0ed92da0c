package nn

import "fmt"

// GridPool averages an H×W×C row-major image over a grid×grid lattice of cells,
// producing grid·grid·C features. Cell edges follow integer division so every
// pixel belongs to exactly one cell.
type GridPool struct {
	trainableFlag
	name     string
	height   int
	width    int
	channels int
	grid     int
	cells    [][]int // pixel offsets per output cell, without channel
}

// NewGridPool creates a pooling layer for height×width×channels inputs.
func NewGridPool(name string, height, width, channels, grid int) (*GridPool, error) {
	if grid <= 0 || grid > height || grid > width {
		return nil, fmt.Errorf("layer %s: grid %d does not fit a %dx%d input", name, grid, height, width)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("layer %s: channels must be positive", name)
	}
	p := &GridPool{
		trainableFlag: trainableFlag{trainable: true},
		name:          name,
		height:        height,
		width:         width,
		channels:      channels,
		grid:          grid,
		cells:         make([][]int, grid*grid),
	}
	for y := 0; y < height; y++ {
		gy := y * grid / height
		for x := 0; x < width; x++ {
			gx := x * grid / width
			cell := gy*grid + gx
			p.cells[cell] = append(p.cells[cell], y*width+x)
		}
	}
	return p, nil
}

func (p *GridPool) Name() string { return p.name }
func (p *GridPool) Kind() string { return KindPool }

// Grid returns the cells per side.
func (p *GridPool) Grid() int { return p.grid }

func (p *GridPool) inputDim() int {
	return p.height * p.width * p.channels
}

func (p *GridPool) OutputDim(inputDim int) (int, error) {
	if err := checkDim(p.name, inputDim, p.inputDim()); err != nil {
		return 0, err
	}
	return p.grid * p.grid * p.channels, nil
}

func (p *GridPool) Forward(in []float64) ([]float64, error) {
	if err := checkDim(p.name, len(in), p.inputDim()); err != nil {
		return nil, err
	}
	out := make([]float64, p.grid*p.grid*p.channels)
	for cell, pixels := range p.cells {
		for c := 0; c < p.channels; c++ {
			var sum float64
			for _, px := range pixels {
				sum += in[px*p.channels+c]
			}
			out[cell*p.channels+c] = sum / float64(len(pixels))
		}
	}
	return out, nil
}

func (p *GridPool) Backward(in, out, gradOut []float64) []float64 {
	gradIn := make([]float64, p.inputDim())
	for cell, pixels := range p.cells {
		n := float64(len(pixels))
		for c := 0; c < p.channels; c++ {
			g := gradOut[cell*p.channels+c] / n
			for _, px := range pixels {
				gradIn[px*p.channels+c] = g
			}
		}
	}
	return gradIn
}

func (p *GridPool) Params() []*Param { return nil }
