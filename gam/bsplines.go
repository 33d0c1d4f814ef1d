package gam

// B-Spline Basis Construction
//
// This file builds clamped B-spline bases for smooth model terms. Each
// variable gets its own basis with a fixed number of basis functions (the
// degrees of freedom) and a fixed polynomial degree. Interior knots are
// placed uniformly across the observed range of the variable, and the end
// knots are repeated degree+1 times so the basis is clamped at the data
// boundaries.
//
// Basis functions are evaluated with the knot-span/triangular scheme from
// the NURBS literature, which stays numerically stable at the endpoints.
//
// The constant function is removed from each basis: df+1 basis functions are
// built and the first column is dropped. Without this the basis block would
// be exactly collinear with any design whose columns span the constant,
// such as a full set of one-hot group indicators.

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BSplines holds per-variable spline bases evaluated at the training points.
type BSplines struct {
	// DF is the number of basis functions per variable.
	DF []int
	// Degree is the polynomial degree per variable.
	Degree []int
	// Basis is the evaluated basis, n_samples x sum(DF). Columns for
	// variable k occupy the contiguous block starting at Offset(k).
	Basis *mat.Dense

	knots [][]float64
	nVars int
}

// NewBSplines constructs a clamped B-spline basis for each column of x.
// df and degree must have one entry per column of x.
func NewBSplines(x *mat.Dense, df, degree []int) (*BSplines, error) {
	n, nVars := x.Dims()
	if nVars == 0 {
		return nil, errors.New("no variables to smooth")
	}
	if len(df) != nVars || len(degree) != nVars {
		return nil, fmt.Errorf("df/degree length mismatch: %d variables, %d df, %d degree", nVars, len(df), len(degree))
	}

	total := 0
	for k := 0; k < nVars; k++ {
		if degree[k] < 1 {
			return nil, fmt.Errorf("variable %d: degree must be >= 1, got %d", k, degree[k])
		}
		if df[k] < degree[k]+1 {
			return nil, fmt.Errorf("variable %d: df must be >= degree+1, got df=%d degree=%d", k, df[k], degree[k])
		}
		total += df[k]
	}

	bs := &BSplines{
		DF:     append([]int(nil), df...),
		Degree: append([]int(nil), degree...),
		knots:  make([][]float64, nVars),
		nVars:  nVars,
	}

	basis := mat.NewDense(n, total, nil)
	offset := 0
	for k := 0; k < nVars; k++ {
		col := mat.Col(nil, k, x)
		// df+1 raw basis functions; column 0 is dropped below.
		knots, err := clampedKnots(col, df[k]+1, degree[k])
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", k, err)
		}
		bs.knots[k] = knots
		for i, v := range col {
			span := findSpan(knots, degree[k], v)
			vals := basisFuncs(knots, degree[k], span, v)
			for r, bv := range vals {
				raw := span - degree[k] + r
				if raw == 0 {
					continue
				}
				basis.Set(i, offset+raw-1, bv)
			}
		}
		offset += df[k]
	}
	bs.Basis = basis
	return bs, nil
}

// NVars returns the number of smoothed variables.
func (bs *BSplines) NVars() int { return bs.nVars }

// Offset returns the first basis column index for variable k.
func (bs *BSplines) Offset(k int) int {
	off := 0
	for i := 0; i < k; i++ {
		off += bs.DF[i]
	}
	return off
}

// TotalDF returns the combined number of basis columns across variables.
func (bs *BSplines) TotalDF() int {
	total := 0
	for _, d := range bs.DF {
		total += d
	}
	return total
}

// PenaltyMatrix returns the second-order difference penalty for variable k,
// a df x df matrix S = D2' * D2 penalising curvature of the coefficient
// sequence.
func (bs *BSplines) PenaltyMatrix(k int) *mat.Dense {
	df := bs.DF[k]
	s := mat.NewDense(df, df, nil)
	if df < 3 {
		return s
	}
	// Row r of the second-difference operator hits coefficients r, r+1, r+2
	// with weights 1, -2, 1.
	d2 := mat.NewDense(df-2, df, nil)
	for r := 0; r < df-2; r++ {
		d2.Set(r, r, 1)
		d2.Set(r, r+1, -2)
		d2.Set(r, r+2, 1)
	}
	s.Mul(d2.T(), d2)
	return s
}

// clampedKnots builds the knot vector: degree+1 repeats of the data minimum,
// df-degree-1 uniform interior knots, degree+1 repeats of the maximum.
func clampedKnots(values []float64, df, degree int) ([]float64, error) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return nil, fmt.Errorf("constant variable (min == max == %g), cannot build spline basis", lo)
	}

	interior := df - degree - 1
	knots := make([]float64, 0, df+degree+1)
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	for i := 1; i <= interior; i++ {
		knots = append(knots, lo+(hi-lo)*float64(i)/float64(interior+1))
	}
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}
	return knots, nil
}

// findSpan locates the knot span containing x, clamped so the endpoints map
// to valid spans.
func findSpan(knots []float64, degree int, x float64) int {
	last := len(knots) - degree - 2
	if x >= knots[last+1] {
		return last
	}
	if x <= knots[degree] {
		return degree
	}
	lo, hi := degree, last+1
	for {
		mid := (lo + hi) / 2
		switch {
		case x < knots[mid]:
			hi = mid
		case x >= knots[mid+1]:
			lo = mid
		default:
			return mid
		}
	}
}

// basisFuncs evaluates the degree+1 non-zero basis functions at x for the
// given span, using the stable triangular recurrence.
func basisFuncs(knots []float64, degree, span int, x float64) []float64 {
	out := make([]float64, degree+1)
	left := make([]float64, degree+1)
	right := make([]float64, degree+1)
	out[0] = 1
	for j := 1; j <= degree; j++ {
		left[j] = x - knots[span+1-j]
		right[j] = knots[span+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			tmp := out[r] / (right[r+1] + left[j-r])
			out[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		out[j] = saved
	}
	return out
}
