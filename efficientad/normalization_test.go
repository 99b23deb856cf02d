package efficientad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/youngquan/anomalib/tensor"
)

func TestNormalizationStateSaveLoad(t *testing.T) {
	state := NewNormalizationState()
	if state.IsCalibrated() {
		t.Fatalf("new state reports calibrated")
	}
	if err := state.SetChannelStats([]float64{1, 2, 3}, []float64{0.5, 0.25, 1}); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	if state.IsCalibrated() {
		t.Fatalf("state without quantiles reports calibrated")
	}
	q := Quantiles{QaStudent: 0.1, QbStudent: 0.9, QaAutoencoder: 0.2, QbAutoencoder: 0.8}
	state.SetQuantiles(q)
	if !state.IsCalibrated() {
		t.Fatalf("fully set state not calibrated")
	}

	path := filepath.Join(t.TempDir(), "normalization.json")
	if err := state.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadNormalizationState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.IsCalibrated() || loaded.Channels() != 3 {
		t.Fatalf("loaded state incomplete")
	}
	if got, _ := loaded.Quantiles(); got != q {
		t.Fatalf("quantiles changed: %+v", got)
	}
	if loaded.ChannelStd()[1] != 0.25 {
		t.Fatalf("unexpected std %v", loaded.ChannelStd())
	}
}

func TestNormalizationStateChannelsOnly(t *testing.T) {
	state := NewNormalizationState()
	if err := state.SetChannelStats([]float64{1}, []float64{2}); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	path := filepath.Join(t.TempDir(), "state.json")
	if err := state.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadNormalizationState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.HasChannelStats() || loaded.HasQuantiles() {
		t.Fatalf("unexpected restored groups")
	}
}

func TestNormalizationStateRejectsPartialFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	err := tensor.SaveTensors(path, map[string]*tensor.Tensor{
		keyMean: tensor.MustNew([]float64{1}, 1, 1, 1, 1),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadNormalizationState(path); !errors.Is(err, ErrPartialState) {
		t.Fatalf("expected ErrPartialState, got %v", err)
	}
}

func TestLoadNormalizationStateMissingFile(t *testing.T) {
	_, err := LoadNormalizationState(filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSetChannelStatsValidates(t *testing.T) {
	state := NewNormalizationState()
	if err := state.SetChannelStats([]float64{1, 2}, []float64{1}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if state.HasChannelStats() {
		t.Fatalf("failed set left channel stats behind")
	}
}
