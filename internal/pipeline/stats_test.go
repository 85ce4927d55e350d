package pipeline

import (
	"math"
	"testing"
)

func TestSpearmanCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{5, 6, 7, 8, 7}

	rho, p, err := SpearmanCorrelation(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(rho-0.82078) > 1e-4 {
		t.Errorf("rho = %f, want 0.82078", rho)
	}
	if math.Abs(p-0.08859) > 1e-3 {
		t.Errorf("p = %f, want 0.08859", p)
	}
}

func TestSpearmanPerfectMonotone(t *testing.T) {
	rho, p, err := SpearmanCorrelation([]float64{1, 2, 3, 4}, []float64{10, 20, 30, 400})
	if err != nil {
		t.Fatal(err)
	}
	if rho != 1 || p != 0 {
		t.Errorf("rho, p = %f, %f, want 1, 0", rho, p)
	}

	rho, _, err = SpearmanCorrelation([]float64{1, 2, 3, 4}, []float64{400, 30, 20, 10})
	if err != nil {
		t.Fatal(err)
	}
	if rho != -1 {
		t.Errorf("rho = %f, want -1", rho)
	}
}

func TestSpearmanSymmetric(t *testing.T) {
	x := []float64{3, 1, 4, 1.5, 5, 9, 2.6}
	y := []float64{2, 7, 1, 8, 2.8, 1.8, 2.85}

	ab, _, err := SpearmanCorrelation(x, y)
	if err != nil {
		t.Fatal(err)
	}
	ba, _, err := SpearmanCorrelation(y, x)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("correlation not symmetric: %f vs %f", ab, ba)
	}
}

func TestSpearmanErrors(t *testing.T) {
	if _, _, err := SpearmanCorrelation([]float64{1, 2}, []float64{1, 2, 3}); err == nil {
		t.Error("length mismatch accepted")
	}
	if _, _, err := SpearmanCorrelation([]float64{1, 2}, []float64{1, 2}); err == nil {
		t.Error("two points accepted")
	}
	if _, _, err := SpearmanCorrelation([]float64{1, 1, 1}, []float64{1, 2, 3}); err == nil {
		t.Error("constant input accepted")
	}
}

func TestRanksAverageTies(t *testing.T) {
	got := ranks([]float64{10, 20, 20, 30})
	want := []float64{1, 2.5, 2.5, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranks = %v, want %v", got, want)
		}
	}
}
