package imagecache

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Tensor is an (H, W, 3) RGB image in row-major HWC order with values in [0, 255].
type Tensor struct {
	Height int
	Width  int
	Data   []float32
}

// Len returns the number of scalar values.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// At returns channel c of pixel (y, x).
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*3+c]
}

// Decode reads an image and letterboxes it to a size×size tensor.
func Decode(r io.Reader, size int) (*Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return Letterbox(img, size), nil
}

// Letterbox scales img to fit within size×size keeping its aspect ratio, centers it
// on a black square canvas, and converts the result to a tensor.
func Letterbox(img image.Image, size int) *Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	newWidth, newHeight := size, size
	if width > height {
		newHeight = max(1, int(float64(height)*float64(size)/float64(width)+0.5))
	} else if height > width {
		newWidth = max(1, int(float64(width)*float64(size)/float64(height)+0.5))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	offX := (size - newWidth) / 2
	offY := (size - newHeight) / 2
	dst := image.Rect(offX, offY, offX+newWidth, offY+newHeight)
	draw.ApproxBiLinear.Scale(canvas, dst, img, bounds, draw.Over, nil)

	t := &Tensor{Height: size, Width: size, Data: make([]float32, size*size*3)}
	i := 0
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			p := row[x*4:]
			t.Data[i] = float32(p[0])
			t.Data[i+1] = float32(p[1])
			t.Data[i+2] = float32(p[2])
			i += 3
		}
	}
	return t
}
