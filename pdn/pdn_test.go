package pdn

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/youngquan/anomalib/efficientad"
	"github.com/youngquan/anomalib/nn"
	"github.com/youngquan/anomalib/tensor"
)

func tinyConfig() Config {
	return Config{
		Size:             efficientad.ModelSizeSmall,
		OutChannels:      2,
		Width:            2,
		AutoencoderWidth: 2,
		Padding:          true,
		PadMaps:          true,
		Seed:             1,
	}
}

func randomImages(seed int64, shape ...int) *tensor.Tensor {
	return tensor.Rand(rand.New(rand.NewSource(seed)), shape...)
}

func TestPDNOutputSize(t *testing.T) {
	small, err := NewPDN(efficientad.ModelSizeSmall, 4, 2, false)
	if err != nil {
		t.Fatalf("small: %v", err)
	}
	if h, w := small.OutputSize(256, 256); h != 56 || w != 56 {
		t.Fatalf("unexpected small output size %dx%d", h, w)
	}
	medium, err := NewPDN(efficientad.ModelSizeMedium, 4, 2, false)
	if err != nil {
		t.Fatalf("medium: %v", err)
	}
	if h, _ := medium.OutputSize(256, 256); h != 56 {
		t.Fatalf("unexpected medium output size %d", h)
	}
	if _, err := NewPDN("large", 4, 2, false); err == nil {
		t.Fatalf("expected unknown size error")
	}
}

func TestPDNForwardMatchesOutputSize(t *testing.T) {
	tensor.Seed(3)
	cases := []struct {
		size    efficientad.ModelSize
		padding bool
		input   int
	}{
		{efficientad.ModelSizeSmall, true, 16},
		{efficientad.ModelSizeMedium, false, 40},
	}
	for _, tc := range cases {
		p, err := NewPDN(tc.size, 3, 2, tc.padding)
		if err != nil {
			t.Fatalf("%s: %v", tc.size, err)
		}
		out, err := p.Forward(randomImages(1, 1, 3, tc.input, tc.input))
		if err != nil {
			t.Fatalf("%s forward: %v", tc.size, err)
		}
		h, w := p.OutputSize(tc.input, tc.input)
		shape := out.Shape()
		if shape[1] != 3 || shape[2] != h || shape[3] != w {
			t.Fatalf("%s: forward shape %v, predicted %dx%d", tc.size, shape, h, w)
		}
	}
}

func TestTrainingLossesBackpropagateToTrainableNetworks(t *testing.T) {
	tensor.Seed(5)
	state := efficientad.NewNormalizationState()
	if err := state.SetChannelStats([]float64{0, 0}, []float64{1, 1}); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	m, err := NewModel(tinyConfig(), state)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	losses, err := m.TrainingLosses(randomImages(2, 2, 3, 16, 16), randomImages(3, 1, 3, 16, 16))
	if err != nil {
		t.Fatalf("training losses: %v", err)
	}
	for name, l := range map[string]*tensor.Tensor{"st": losses.Student, "ae": losses.Autoencoder, "stae": losses.Combined} {
		if l.Numel() != 1 || math.IsNaN(l.Data()[0]) || l.Data()[0] < 0 {
			t.Fatalf("%s loss not a non-negative scalar: %v", name, l.Data())
		}
	}
	total, err := tensor.Add(losses.Student, losses.Autoencoder)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if total, err = tensor.Add(total, losses.Combined); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := total.Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if m.StudentParameters()[0].Grad() == nil {
		t.Fatalf("student received no gradient")
	}
	if m.AutoencoderParameters()[0].Grad() == nil {
		t.Fatalf("autoencoder received no gradient")
	}
	for _, p := range m.Teacher().Parameters() {
		if p.RequiresGrad() || p.Grad() != nil {
			t.Fatalf("teacher parameter is trainable")
		}
	}
}

func TestPredictNormalizesWithQuantiles(t *testing.T) {
	tensor.Seed(7)
	state := efficientad.NewNormalizationState()
	m, err := NewModel(tinyConfig(), state)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	images := randomImages(4, 2, 3, 16, 16)
	raw, err := m.Predict(images, false)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	shape := raw.MapStudent.Shape()
	if shape[0] != 2 || shape[1] != 1 || shape[2] != 16 || shape[3] != 16 {
		t.Fatalf("unexpected map shape %v", shape)
	}
	q := efficientad.Quantiles{QaStudent: 0.5, QbStudent: 2.5, QaAutoencoder: 1, QbAutoencoder: 3}
	state.SetQuantiles(q)
	norm, err := m.Predict(images, true)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	rawST, rawAE := raw.MapStudent.Data(), raw.MapAutoencoder.Data()
	normST, normAE, combined := norm.MapStudent.Data(), norm.MapAutoencoder.Data(), norm.AnomalyMap.Data()
	for i := range rawST {
		wantST := 0.1 * (rawST[i] - q.QaStudent) / (q.QbStudent - q.QaStudent)
		wantAE := 0.1 * (rawAE[i] - q.QaAutoencoder) / (q.QbAutoencoder - q.QaAutoencoder)
		if math.Abs(normST[i]-wantST) > 1e-9 || math.Abs(normAE[i]-wantAE) > 1e-9 {
			t.Fatalf("element %d: normalized maps %v/%v want %v/%v", i, normST[i], normAE[i], wantST, wantAE)
		}
		if math.Abs(combined[i]-0.5*(wantST+wantAE)) > 1e-9 {
			t.Fatalf("element %d: combined %v", i, combined[i])
		}
	}
	unnormalized, err := m.Predict(images, false)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(unnormalized.MapStudent.Data()[0]-rawST[0]) > 1e-12 {
		t.Fatalf("normalize=false applied quantiles")
	}
}

func TestPaddedMapsKeepBordersLow(t *testing.T) {
	tensor.Seed(9)
	cfg := tinyConfig()
	m, err := NewModel(cfg, efficientad.NewNormalizationState())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	pred, err := m.Predict(randomImages(5, 1, 3, 16, 16), false)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	// The 4x4 feature map padded by 4 spans 12 cells; the corner pixel samples only padding.
	if v := pred.MapStudent.Data()[0]; v != 0 {
		t.Fatalf("expected zero at the padded corner, got %v", v)
	}
}

func TestHardMeanLoss(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i + 1)
	}
	distance := tensor.MustNew(values, 1, 1, 1, 1000)
	distance.SetRequiresGrad(true)
	loss, err := hardMeanLoss(distance)
	if err != nil {
		t.Fatalf("hard loss: %v", err)
	}
	if loss.Data()[0] != 1000 {
		t.Fatalf("expected only the largest element, got %v", loss.Data()[0])
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	grad := distance.Grad().Data()
	if grad[999] != 1 || grad[0] != 0 {
		t.Fatalf("gradient should flow only to mined elements: %v %v", grad[0], grad[999])
	}
}

func TestAdjustImages(t *testing.T) {
	// one 1x2 RGB image: pixel 0 red, pixel 1 white
	img := tensor.MustNew([]float64{1, 1, 0, 1, 0, 1}, 1, 3, 1, 2)
	bright := adjustImages(img, adjustBrightness, 1.2).Data()
	if bright[0] != 1 || bright[2] != 0 {
		t.Fatalf("brightness not clamped: %v", bright)
	}
	gray := adjustImages(img, adjustSaturation, 0).Data()
	if math.Abs(gray[0]-gray[2]) > 1e-12 || math.Abs(gray[0]-0.2989) > 1e-12 {
		t.Fatalf("zero saturation should give the luminance in every channel: %v", gray)
	}
	flat := adjustImages(img, adjustContrast, 0).Data()
	for _, v := range flat {
		if math.Abs(v-flat[0]) > 1e-12 {
			t.Fatalf("zero contrast should give a constant image: %v", flat)
		}
	}
}

func TestLoadTeacherFromSavedModule(t *testing.T) {
	tensor.Seed(11)
	src, err := NewModel(tinyConfig(), efficientad.NewNormalizationState())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pretrained_teacher_small.json")
	if err := nn.SaveModule(path, src.Teacher()); err != nil {
		t.Fatalf("save: %v", err)
	}
	tensor.Seed(12)
	dst, err := NewModel(tinyConfig(), efficientad.NewNormalizationState())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if err := dst.LoadTeacher(path); err != nil {
		t.Fatalf("load teacher: %v", err)
	}
	images := randomImages(6, 1, 3, 16, 16)
	a, _ := src.TeacherFeatures(images)
	b, _ := dst.TeacherFeatures(images)
	for i, v := range a.Data() {
		if math.Abs(v-b.Data()[i]) > 1e-12 {
			t.Fatalf("teacher outputs differ after load at %d", i)
		}
	}
	for _, p := range dst.Teacher().Parameters() {
		if p.RequiresGrad() {
			t.Fatalf("loaded teacher is trainable")
		}
	}
}

func TestSaveLoadTrainable(t *testing.T) {
	tensor.Seed(13)
	src, _ := NewModel(tinyConfig(), efficientad.NewNormalizationState())
	path := filepath.Join(t.TempDir(), "trainable.json")
	if err := src.SaveTrainable(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	tensor.Seed(14)
	dst, _ := NewModel(tinyConfig(), efficientad.NewNormalizationState())
	if err := dst.LoadTrainable(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	a := src.AutoencoderParameters()[0].Data()
	b := dst.AutoencoderParameters()[0].Data()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("autoencoder parameter %d differs after load", i)
		}
	}
}
