package gam

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func splineInput(n int) *mat.Dense {
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i)/float64(n-1)*10)
	}
	return x
}

func TestBSplinesBasisShape(t *testing.T) {
	t.Parallel()

	bs, err := NewBSplines(splineInput(25), []int{10}, []int{3})
	if err != nil {
		t.Fatalf("NewBSplines returned error: %v", err)
	}
	if r, c := bs.Basis.Dims(); r != 25 || c != 10 {
		t.Fatalf("basis shape %dx%d, expected 25x10", r, c)
	}
	if bs.TotalDF() != 10 || bs.NVars() != 1 {
		t.Fatalf("unexpected df/nvars: %d/%d", bs.TotalDF(), bs.NVars())
	}
}

func TestBSplinesRowSums(t *testing.T) {
	t.Parallel()

	// The underlying basis is a partition of unity; with the constant
	// removed, rows sum to at most 1 and to exactly 1 outside the support
	// of the dropped first function (the leftmost knot span).
	bs, err := NewBSplines(splineInput(40), []int{10}, []int{3})
	if err != nil {
		t.Fatalf("NewBSplines returned error: %v", err)
	}
	r, c := bs.Basis.Dims()
	firstSpan := 10.0 / 8 // 7 interior knots over [0, 10]
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			v := bs.Basis.At(i, j)
			if v < -1e-12 {
				t.Fatalf("negative basis value %g at [%d][%d]", v, i, j)
			}
			sum += v
		}
		if sum > 1+1e-9 {
			t.Errorf("row %d: basis sums to %.12f, expected <= 1", i, sum)
		}
		x := float64(i) / float64(r-1) * 10
		if x >= firstSpan && math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d (x=%.2f): basis sums to %.12f, expected 1", i, x, sum)
		}
	}
}

func TestBSplinesEndpointsClamped(t *testing.T) {
	t.Parallel()

	bs, err := NewBSplines(splineInput(20), []int{10}, []int{3})
	if err != nil {
		t.Fatalf("NewBSplines returned error: %v", err)
	}
	// At the left end only the dropped function is non-zero, so the row is
	// all zeros; at the right end the last basis function carries all the
	// weight.
	for j := 0; j < 10; j++ {
		if v := bs.Basis.At(0, j); math.Abs(v) > 1e-12 {
			t.Errorf("basis[0][%d] = %.12f, expected 0 at the left end", j, v)
		}
	}
	if v := bs.Basis.At(19, 9); math.Abs(v-1) > 1e-9 {
		t.Errorf("last basis at the right end = %.12f, expected 1", v)
	}
}

func TestBSplinesMultipleVariables(t *testing.T) {
	t.Parallel()

	n := 30
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, math.Sin(float64(i)*0.3))
	}
	bs, err := NewBSplines(x, []int{10, 8}, []int{3, 3})
	if err != nil {
		t.Fatalf("NewBSplines returned error: %v", err)
	}
	if bs.TotalDF() != 18 {
		t.Fatalf("total df %d, expected 18", bs.TotalDF())
	}
	if bs.Offset(1) != 10 {
		t.Fatalf("offset of variable 1 is %d, expected 10", bs.Offset(1))
	}
}

func TestBSplinesRejectsConstantVariable(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		x.Set(i, 0, 5)
	}
	if _, err := NewBSplines(x, []int{10}, []int{3}); err == nil {
		t.Fatal("expected error for a constant variable")
	}
}

func TestPenaltyMatrixSymmetric(t *testing.T) {
	t.Parallel()

	bs, err := NewBSplines(splineInput(20), []int{10}, []int{3})
	if err != nil {
		t.Fatalf("NewBSplines returned error: %v", err)
	}
	s := bs.PenaltyMatrix(0)
	r, c := s.Dims()
	if r != 10 || c != 10 {
		t.Fatalf("penalty shape %dx%d, expected 10x10", r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if s.At(i, j) != s.At(j, i) {
				t.Fatalf("penalty not symmetric at [%d][%d]", i, j)
			}
		}
	}
	// A linear coefficient sequence has zero second differences, so it must
	// be penalty-free.
	lin := make([]float64, 10)
	for i := range lin {
		lin[i] = float64(i)
	}
	v := mat.NewVecDense(10, lin)
	var sv mat.VecDense
	sv.MulVec(s, v)
	if q := mat.Dot(v, &sv); math.Abs(q) > 1e-9 {
		t.Errorf("linear sequence has penalty %g, expected 0", q)
	}
}
