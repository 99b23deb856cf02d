package efficientad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/tensor"
)

type recordingLoader struct {
	path string
}

func (r *recordingLoader) LoadTeacher(path string) error {
	r.path = path
	return nil
}

type fileFetcher struct {
	size  ModelSize
	calls int
}

func (f *fileFetcher) Fetch(dir string) error {
	f.calls++
	path := TeacherWeightsPath(dir, f.size)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("{}"), 0o644)
}

func TestPreparePretrainedModelFetchesOnce(t *testing.T) {
	dir := t.TempDir()
	loader := &recordingLoader{}
	fetcher := &fileFetcher{size: ModelSizeSmall}
	for i := 0; i < 2; i++ {
		if err := PreparePretrainedModel(dir, ModelSizeSmall, loader, fetcher, nil); err != nil {
			t.Fatalf("prepare: %v", err)
		}
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected a single download, got %d", fetcher.calls)
	}
	want := filepath.Join(dir, "efficientad_pretrained_weights", "pretrained_teacher_small.json")
	if loader.path != want {
		t.Fatalf("loaded %q, want %q", loader.path, want)
	}
}

func TestPreparePretrainedModelMissingWeights(t *testing.T) {
	err := PreparePretrainedModel(t.TempDir(), ModelSizeMedium, &recordingLoader{}, nil, nil)
	if !errors.Is(err, ErrMissingWeights) {
		t.Fatalf("expected ErrMissingWeights, got %v", err)
	}
	if err := PreparePretrainedModel(t.TempDir(), "large", &recordingLoader{}, nil, nil); err == nil {
		t.Fatalf("expected unknown size error")
	}
}

func TestEfficientAdLifecycle(t *testing.T) {
	student := tensor.Zeros(2)
	student.SetRequiresGrad(true)
	model := &stubModel{losses: [3]float64{1, 1, 1}, student: []*tensor.Tensor{student}}
	state := NewNormalizationState()
	aux := loaderOf(1, sample(data.LabelNormal, 0))
	m, err := New(model, state, aux, Options{LR: 1e-4, WeightDecay: 1e-5, Metrics: &recordingMetrics{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.TrainerArguments().NumSanityValSteps != 0 {
		t.Fatalf("sanity validation steps must be disabled")
	}
	if m.LearningType() != LearningTypeOneClass {
		t.Fatalf("unexpected learning type %q", m.LearningType())
	}

	plan, err := m.ConfigureOptimizers(Budget{MaxEpochs: Unset, MaxSteps: 20})
	if err != nil {
		t.Fatalf("configure optimizers: %v", err)
	}
	if plan.DecayStep != 19 {
		t.Fatalf("unexpected decay step %d", plan.DecayStep)
	}

	train := loaderOf(1, sample(data.LabelNormal, 1, 2))
	if err := m.OnTrainStart(train); err != nil {
		t.Fatalf("train start: %v", err)
	}
	batch, err := train.Iter().Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := m.TrainingStep(batch); err != nil {
		t.Fatalf("training step: %v", err)
	}
	val := loaderOf(1, sample(data.LabelNormal, 1, 2), sample(1, 5, 5))
	if err := m.OnValidationStart(val); err != nil {
		t.Fatalf("validation start: %v", err)
	}
	if !m.State().IsCalibrated() {
		t.Fatalf("state not calibrated after both hooks")
	}
	out, err := m.ValidationStep(batch)
	if err != nil {
		t.Fatalf("validation step: %v", err)
	}
	if out.AnomalyMaps == nil {
		t.Fatalf("validation step did not attach anomaly maps")
	}
}

func TestNewRejectsUnknownSize(t *testing.T) {
	if _, err := New(&stubModel{}, NewNormalizationState(), emptyIterable{}, Options{Size: "huge"}); err == nil {
		t.Fatalf("expected unknown size error")
	}
}
