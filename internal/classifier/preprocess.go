package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const channels = 3

// Tensor is a decoded, resized, normalized image in NHWC layout with a
// leading batch dimension of 1. Values are scaled to [0, 1].
type Tensor struct {
	Data []float32
	Dims [4]int64 // (1, size, size, 3)
}

// Preprocess decodes raw image bytes and normalizes them into the fixed
// tensor shape the model expects. Any decodable JPEG/PNG in any color mode
// is accepted; corrupt bytes fail here, before the model is ever invoked.
func Preprocess(raw []byte, size int) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(img, size), nil
}

// FromImage resizes a decoded image to size x size with Lanczos resampling
// and scales the three color channels to [0, 1]. Grayscale and alpha inputs
// are converted by reading through the color model, so the output is always
// three-channel.
func FromImage(img image.Image, size int) *Tensor {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	data := make([]float32, size*size*channels)
	bounds := resized.Bounds()

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = float32(r) / 65535.0
			data[i+1] = float32(g) / 65535.0
			data[i+2] = float32(b) / 65535.0
			i += channels
		}
	}

	return &Tensor{
		Data: data,
		Dims: [4]int64{1, int64(size), int64(size), channels},
	}
}
