package tensor

import "testing"

func TestChannelMoments(t *testing.T) {
	// batch=2, channels=2, 1x2 planes
	x := MustNew([]float64{
		1, 2, 10, 20,
		3, 4, 30, 40,
	}, 2, 2, 1, 2)
	sum, sq, count, err := ChannelMoments(x)
	if err != nil {
		t.Fatalf("moments failed: %v", err)
	}
	if count != 4 {
		t.Fatalf("unexpected per-channel count: %d", count)
	}
	if !AlmostEqualSlices(sum, []float64{10, 100}, 1e-12) {
		t.Fatalf("unexpected sums: %v", sum)
	}
	if !AlmostEqualSlices(sq, []float64{30, 3000}, 1e-12) {
		t.Fatalf("unexpected sums of squares: %v", sq)
	}
	if _, _, _, err := ChannelMoments(MustNew([]float64{1, 2}, 2)); err == nil {
		t.Fatalf("expected rank error")
	}
}

func TestNormalizeChannels(t *testing.T) {
	x := MustNew([]float64{2, 4, 10, 30}, 1, 2, 1, 2)
	out, err := NormalizeChannels(x, []float64{3, 20}, []float64{1, 10})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !AlmostEqualSlices(out.Data(), []float64{-1, 1, -1, 1}, 1e-12) {
		t.Fatalf("unexpected normalized values: %v", out.Data())
	}
	if _, err := NormalizeChannels(x, []float64{1}, []float64{1}); err == nil {
		t.Fatalf("expected statistics mismatch error")
	}
}

func TestMeanChannelsForwardBackward(t *testing.T) {
	x := MustNew([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 2, 2)
	x.SetRequiresGrad(true)
	m, err := MeanChannels(x)
	if err != nil {
		t.Fatalf("mean channels failed: %v", err)
	}
	if !equalShapes(m.Shape(), []int{1, 1, 2, 2}) {
		t.Fatalf("unexpected shape: %v", m.Shape())
	}
	if !AlmostEqualSlices(m.Data(), []float64{3, 4, 5, 6}, 1e-12) {
		t.Fatalf("unexpected means: %v", m.Data())
	}
	if err := Sum(m).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	want := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	if !AlmostEqualSlices(x.Grad().Data(), want, 1e-12) {
		t.Fatalf("unexpected grad: %v", x.Grad().Data())
	}
}

func TestUpsampleNearestForwardBackward(t *testing.T) {
	x := MustNew([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	x.SetRequiresGrad(true)
	up, err := UpsampleNearest(x, 4, 4)
	if err != nil {
		t.Fatalf("upsample failed: %v", err)
	}
	want := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if !AlmostEqualSlices(up.Data(), want, 1e-12) {
		t.Fatalf("unexpected upsampled values: %v", up.Data())
	}
	if err := Sum(up).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if !AlmostEqualSlices(x.Grad().Data(), []float64{4, 4, 4, 4}, 1e-12) {
		t.Fatalf("unexpected grad: %v", x.Grad().Data())
	}
	if _, err := UpsampleNearest(x, 0, 2); err == nil {
		t.Fatalf("expected size error")
	}
}
