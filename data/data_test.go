package data

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/youngquan/anomalib/tensor"
)

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func constantSample(v float64, label int) *Sample {
	return &Sample{Image: tensor.Full(v, 3, 2, 2), Label: label}
}

func drain(t *testing.T, it Iterator) []*Batch {
	t.Helper()
	var out []*Batch
	for {
		b, err := it.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		out = append(out, b)
	}
}

func TestLoaderBatchesAndLen(t *testing.T) {
	ds := NewInMemory(constantSample(0, 0), constantSample(1, 0), constantSample(2, 1), constantSample(3, 1), constantSample(4, 0))
	l, err := NewLoader(ds, LoaderConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", l.Len())
	}
	batches := drain(t, l.Iter())
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if got := batches[2].Size(); got != 1 {
		t.Fatalf("expected trailing batch of 1, got %d", got)
	}
	shape := batches[0].Image.Shape()
	if len(shape) != 4 || shape[0] != 2 || shape[1] != 3 {
		t.Fatalf("unexpected batch shape: %v", shape)
	}
	if batches[1].Labels[0] != 1 || batches[1].Labels[1] != 1 {
		t.Fatalf("unexpected labels: %v", batches[1].Labels)
	}
}

func TestLoaderDropLast(t *testing.T) {
	ds := NewInMemory(constantSample(0, 0), constantSample(1, 0), constantSample(2, 0))
	l, _ := NewLoader(ds, LoaderConfig{BatchSize: 2, DropLast: true})
	if l.Len() != 1 {
		t.Fatalf("expected 1 batch, got %d", l.Len())
	}
	if got := len(drain(t, l.Iter())); got != 1 {
		t.Fatalf("expected 1 batch, got %d", got)
	}
}

func TestLoaderShuffleIsSeededAndReshuffles(t *testing.T) {
	samples := make([]*Sample, 16)
	for i := range samples {
		samples[i] = constantSample(float64(i), 0)
	}
	order := func(l *Loader) []float64 {
		var firsts []float64
		for _, b := range drain(t, l.Iter()) {
			firsts = append(firsts, b.Image.Data()[0])
		}
		return firsts
	}
	a, _ := NewLoader(NewInMemory(samples...), LoaderConfig{BatchSize: 1, Shuffle: true, Seed: 7})
	b, _ := NewLoader(NewInMemory(samples...), LoaderConfig{BatchSize: 1, Shuffle: true, Seed: 7})
	first := order(a)
	if !sameValues(first, order(b)) {
		t.Fatalf("same seed produced different orders")
	}
	second := order(a)
	if sameValues(first, second) {
		t.Fatalf("second pass was not reshuffled")
	}
}

func TestInMemoryBounds(t *testing.T) {
	ds := NewInMemory(constantSample(0, 0))
	if _, err := ds.Item(1); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestAnomalyFolderLabels(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "test", "good", "000.png"), color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(root, "test", "scratch", "000.png"), color.RGBA{G: 255, A: 255})
	writePNG(t, filepath.Join(root, "test", "scratch", "notes.txt"), color.RGBA{})

	ds, err := NewAnomalyFolder(root, "test", EvalTransform(4, 4))
	if err != nil {
		t.Fatalf("anomaly folder: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 images, got %d", ds.Len())
	}
	good, err := ds.Item(0)
	if err != nil {
		t.Fatalf("item 0: %v", err)
	}
	if good.Label != LabelNormal {
		t.Fatalf("expected good image labelled normal, got %d", good.Label)
	}
	shape := good.Image.Shape()
	if shape[0] != 3 || shape[1] != 4 || shape[2] != 4 {
		t.Fatalf("unexpected image shape: %v", shape)
	}
	if v := good.Image.Data()[0]; v < 0.99 {
		t.Fatalf("expected red channel near 1, got %v", v)
	}
	bad, _ := ds.Item(1)
	if bad.Label == LabelNormal {
		t.Fatalf("expected defect image labelled anomalous")
	}
}

func TestImageFolderWithImagenetteTransform(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "n01440764", "a.png"), color.RGBA{R: 200, G: 100, B: 50, A: 255})
	writePNG(t, filepath.Join(root, "n02102040", "b.png"), color.RGBA{R: 10, G: 20, B: 30, A: 255})

	ds, err := NewImageFolder(root, ImagenetteTransform(4, 4, rand.New(rand.NewSource(1))))
	if err != nil {
		t.Fatalf("image folder: %v", err)
	}
	if ds.Len() != 2 || len(ds.ClassNames()) != 2 {
		t.Fatalf("unexpected dataset size %d / classes %v", ds.Len(), ds.ClassNames())
	}
	s, err := ds.Item(1)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if s.Label != 1 {
		t.Fatalf("expected class index 1, got %d", s.Label)
	}
	shape := s.Image.Shape()
	if shape[0] != 3 || shape[1] != 4 || shape[2] != 4 {
		t.Fatalf("unexpected shape %v", shape)
	}
}

func TestImageFolderEmpty(t *testing.T) {
	if _, err := NewImageFolder(t.TempDir(), EvalTransform(2, 2)); err == nil {
		t.Fatalf("expected error for empty folder")
	}
}

func TestImageFolderCollectsNestedImages(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "imagenette2", "train", "n01440764", "a.PNG"), color.RGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(root, "imagenette2", "val", "n01440764", "b.png"), color.RGBA{G: 1, A: 255})
	if err := os.WriteFile(filepath.Join(root, "imagenette2", "noisy_labels.csv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ds, err := NewImageFolder(root, EvalTransform(2, 2))
	if err != nil {
		t.Fatalf("image folder: %v", err)
	}
	if ds.Len() != 2 || len(ds.ClassNames()) != 1 {
		t.Fatalf("unexpected dataset size %d / classes %v", ds.Len(), ds.ClassNames())
	}
	s, err := ds.Item(1)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if filepath.Base(s.Path) != "b.png" || s.Label != 0 {
		t.Fatalf("unexpected sample %s label %d", s.Path, s.Label)
	}
}
