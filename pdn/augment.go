package pdn

import (
	"math/rand"

	"github.com/youngquan/anomalib/tensor"
)

type adjustment int

const (
	adjustBrightness adjustment = iota
	adjustContrast
	adjustSaturation
)

// randomAugment applies one of brightness, contrast or saturation with a
// factor drawn from [0.8, 1.2] to every image of a [batch, 3, h, w] batch.
func randomAugment(images *tensor.Tensor, rng *rand.Rand) *tensor.Tensor {
	factor := 0.8 + 0.4*rng.Float64()
	return adjustImages(images, adjustment(rng.Intn(3)), factor)
}

func adjustImages(images *tensor.Tensor, kind adjustment, factor float64) *tensor.Tensor {
	shape := images.Shape()
	values := images.Data()
	plane := shape[2] * shape[3]
	per := shape[1] * plane
	for n := 0; n < shape[0]; n++ {
		img := values[n*per : (n+1)*per]
		switch kind {
		case adjustBrightness:
			for i, v := range img {
				img[i] = clamp01(v * factor)
			}
		case adjustContrast:
			gray := luminance(img, plane)
			mean := 0.0
			for _, g := range gray {
				mean += g
			}
			mean /= float64(plane)
			for i, v := range img {
				img[i] = clamp01(factor*v + (1-factor)*mean)
			}
		case adjustSaturation:
			gray := luminance(img, plane)
			for i, v := range img {
				img[i] = clamp01(factor*v + (1-factor)*gray[i%plane])
			}
		}
	}
	return tensor.MustNew(values, shape...)
}

// luminance returns the ITU-R 601 grayscale plane of a 3-channel image.
func luminance(img []float64, plane int) []float64 {
	gray := make([]float64, plane)
	for i := range gray {
		gray[i] = 0.2989*img[i] + 0.587*img[plane+i] + 0.114*img[2*plane+i]
	}
	return gray
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
