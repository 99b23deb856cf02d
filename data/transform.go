package data

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/youngquan/anomalib/tensor"
)

// Transform converts a decoded image into a [3, height, width] tensor.
type Transform func(img image.Image) (*tensor.Tensor, error)

// EvalTransform resizes to height x width and scales pixels to [0, 1].
func EvalTransform(height, width int) Transform {
	return func(img image.Image) (*tensor.Tensor, error) {
		return ToTensor(Resize(img, height, width)), nil
	}
}

// ImagenetteTransform prepares auxiliary images: resize to twice the target
// size, convert to grayscale with probability 0.3, crop the centre
// height x width region and scale to [0, 1]. The returned transform is safe
// for concurrent use.
func ImagenetteTransform(height, width int, rng *rand.Rand) Transform {
	var mu sync.Mutex
	return func(img image.Image) (*tensor.Tensor, error) {
		resized := Resize(img, 2*height, 2*width)
		mu.Lock()
		gray := rng.Float64() < 0.3
		mu.Unlock()
		if gray {
			resized = Grayscale(resized)
		}
		return ToTensor(CenterCrop(resized, height, width)), nil
	}
}

// Resize scales img to height x width with bilinear interpolation.
func Resize(img image.Image, height, width int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Grayscale replaces every pixel by its luma, keeping three channels.
func Grayscale(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.RGBAAt(x, y)).(color.Gray)
			out.SetRGBA(x, y, color.RGBA{R: g.Y, G: g.Y, B: g.Y, A: 255})
		}
	}
	return out
}

func CenterCrop(img *image.RGBA, height, width int) *image.RGBA {
	b := img.Bounds()
	x0 := b.Min.X + (b.Dx()-width)/2
	y0 := b.Min.Y + (b.Dy()-height)/2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Copy(out, image.Point{}, img, image.Rect(x0, y0, x0+width, y0+height), draw.Src, nil)
	return out
}

// ToTensor lays the image out as [3, height, width] with values in [0, 1].
func ToTensor(img *image.RGBA) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	data := make([]float64, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			data[i] = float64(px.R) / 255
			data[plane+i] = float64(px.G) / 255
			data[2*plane+i] = float64(px.B) / 255
		}
	}
	return tensor.MustNew(data, 3, h, w)
}

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

func loadImage(path string, transform Transform) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return transform(img)
}
