package trainer

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

// AUROC is the area under the ROC curve of scores, treating every label other
// than data.LabelNormal as positive. It is NaN unless both classes are present.
func AUROC(scores []float64, labels []int) float64 {
	if len(scores) != len(labels) || len(scores) == 0 {
		return math.NaN()
	}
	y := append([]float64(nil), scores...)
	classes := make([]bool, len(labels))
	pos, neg := 0, 0
	for i, l := range labels {
		classes[i] = l != data.LabelNormal
		if classes[i] {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// ImageScores reduces [batch, 1, h, w] anomaly maps to one score per image, the map maximum.
func ImageScores(maps *tensor.Tensor) []float64 {
	shape := maps.Shape()
	values := maps.Data()
	per := len(values) / shape[0]
	scores := make([]float64, shape[0])
	for n := range scores {
		m := math.Inf(-1)
		for _, v := range values[n*per : (n+1)*per] {
			if v > m {
				m = v
			}
		}
		scores[n] = m
	}
	return scores
}
