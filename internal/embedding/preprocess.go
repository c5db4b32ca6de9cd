package embedding

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// CLIP normalization constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ErrInvalidImage is wrapped by errors for bytes that are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

// DecodeImage decodes JPEG, PNG, GIF or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// Preprocess converts img into the CLIP vision input: the shortest side is resized to
// size and the center size x size square is kept (one CatmullRom pass over the centered
// source square), then pixels are scaled to [0,1] and normalized with the CLIP mean and
// std. The result is laid out CHW, length 3*size*size. Alpha is dropped.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			i := y*size + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
