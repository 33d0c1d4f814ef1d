package gam

// Penalized Additive Model Fitting
//
// This file implements a small additive-model fitter in the spirit of the
// usual GAM toolkits: the caller supplies a formula naming the linear terms,
// a data table backing those terms, a spline smoother for the nonlinear
// part, and one penalty weight per smooth term. The fit solves the
// penalized normal equations
//
//	(Z'Z + sum_k alpha_k * S_k) beta = Z'y
//
// where Z is the linear design concatenated with the spline basis and S_k
// is the difference penalty for smooth term k, embedded in the spline block.
// Penalty weights can be tuned with SelectPenWeight, a generalized
// cross-validation grid search.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DataTable is a column-ordered table of named float columns, the per-sample
// data backing an additive-model formula.
type DataTable struct {
	n     int
	names []string
	cols  map[string][]float64
}

// NewDataTable creates an empty table for n samples.
func NewDataTable(n int) *DataTable {
	return &DataTable{n: n, cols: make(map[string][]float64)}
}

// SetColumn adds or replaces a column. The column length must match the
// table's sample count.
func (t *DataTable) SetColumn(name string, values []float64) error {
	if len(values) != t.n {
		return fmt.Errorf("column %s has %d values, table has %d samples", name, len(values), t.n)
	}
	if _, ok := t.cols[name]; !ok {
		t.names = append(t.names, name)
	}
	t.cols[name] = append([]float64(nil), values...)
	return nil
}

// Column returns the named column values.
func (t *DataTable) Column(name string) ([]float64, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Len returns the number of samples in the table.
func (t *DataTable) Len() int { return t.n }

// Names returns the column names in insertion order.
func (t *DataTable) Names() []string { return append([]string(nil), t.names...) }

// AdditiveModel is a formula-driven penalized regression model. Alpha holds
// one penalty weight per smooth term and may be replaced between fits.
type AdditiveModel struct {
	Formula  string
	Data     *DataTable
	Smoother *BSplines
	Alpha    []float64

	response string
	terms    []string
}

// FitResult holds the outcome of a single penalized fit.
type FitResult struct {
	// Params is the coefficient vector: linear terms in formula order,
	// followed by the spline basis coefficients.
	Params []float64
	// Fitted is the in-sample prediction.
	Fitted []float64
	// RSS is the residual sum of squares.
	RSS float64
	// EDF is the effective degrees of freedom, tr of the hat matrix.
	EDF float64
}

// NewAdditiveModel parses the formula and validates it against the table and
// smoother. Formulas look like "y ~ x0 + x1 + c2 - 1": one response, linear
// terms joined by +, and a trailing "- 1" suppressing the intercept (the
// only supported form; the linear terms are expected to span the constant).
func NewAdditiveModel(formula string, data *DataTable, smoother *BSplines, alpha []float64) (*AdditiveModel, error) {
	if data == nil {
		return nil, errors.New("nil data table")
	}
	if smoother == nil {
		return nil, errors.New("nil smoother")
	}
	if len(alpha) != smoother.NVars() {
		return nil, fmt.Errorf("%d penalty weights for %d smooth terms", len(alpha), smoother.NVars())
	}
	if rows, _ := smoother.Basis.Dims(); rows != data.Len() {
		return nil, fmt.Errorf("smoother built for %d samples, table has %d", rows, data.Len())
	}

	response, terms, err := parseFormula(formula)
	if err != nil {
		return nil, err
	}
	for _, term := range terms {
		if _, ok := data.Column(term); !ok {
			return nil, fmt.Errorf("formula term %s not present in data table", term)
		}
	}

	return &AdditiveModel{
		Formula:  formula,
		Data:     data,
		Smoother: smoother,
		Alpha:    append([]float64(nil), alpha...),
		response: response,
		terms:    terms,
	}, nil
}

// Terms returns the linear term names in formula order.
func (m *AdditiveModel) Terms() []string { return append([]string(nil), m.terms...) }

// Fit solves the penalized least-squares problem with the model's current
// penalty weights.
func (m *AdditiveModel) Fit() (*FitResult, error) {
	return m.fitWith(m.Alpha)
}

// SelectPenWeight searches for penalty weights minimising the generalized
// cross-validation score GCV = n*RSS / (n - EDF)^2. A nil grid uses a
// log-spaced default from 1e-4 to 1e4. Weights are tuned one smooth term at
// a time, holding the others at their current value; the model itself is
// not modified.
func (m *AdditiveModel) SelectPenWeight(grid []float64) ([]float64, error) {
	if grid == nil {
		grid = defaultAlphaGrid()
	}
	best := append([]float64(nil), m.Alpha...)
	for k := range best {
		bestScore := math.Inf(1)
		bestAlpha := best[k]
		for _, a := range grid {
			trial := append([]float64(nil), best...)
			trial[k] = a
			res, err := m.fitWith(trial)
			if err != nil {
				return nil, fmt.Errorf("penalty search failed at alpha=%g: %w", a, err)
			}
			score := gcv(float64(m.Data.Len()), res.RSS, res.EDF)
			if score < bestScore {
				bestScore = score
				bestAlpha = a
			}
		}
		best[k] = bestAlpha
	}
	return best, nil
}

func (m *AdditiveModel) fitWith(alpha []float64) (*FitResult, error) {
	y, ok := m.Data.Column(m.response)
	if !ok {
		return nil, fmt.Errorf("response column %s not present in data table", m.response)
	}

	n := m.Data.Len()
	p := len(m.terms)
	q := m.Smoother.TotalDF()

	z := mat.NewDense(n, p+q, nil)
	for j, term := range m.terms {
		col, _ := m.Data.Column(term)
		z.SetCol(j, col)
	}
	z.Slice(0, n, p, p+q).(*mat.Dense).Copy(m.Smoother.Basis)

	var ztz mat.Dense
	ztz.Mul(z.T(), z)

	// Embed alpha_k * S_k into the spline block of the penalty.
	pen := mat.NewDense(p+q, p+q, nil)
	for k := 0; k < m.Smoother.NVars(); k++ {
		s := m.Smoother.PenaltyMatrix(k)
		off := p + m.Smoother.Offset(k)
		df := m.Smoother.DF[k]
		for i := 0; i < df; i++ {
			for j := 0; j < df; j++ {
				pen.Set(off+i, off+j, alpha[k]*s.At(i, j))
			}
		}
	}

	var a mat.Dense
	a.Add(&ztz, pen)

	yVec := mat.NewVecDense(n, append([]float64(nil), y...))
	var zty mat.VecDense
	zty.MulVec(z.T(), yVec)

	var beta mat.VecDense
	if err := beta.SolveVec(&a, &zty); err != nil {
		return nil, fmt.Errorf("penalized normal equations are singular: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(z, &beta)

	rss := 0.0
	fittedVals := make([]float64, n)
	for i := 0; i < n; i++ {
		fittedVals[i] = fitted.AtVec(i)
		r := y[i] - fittedVals[i]
		rss += r * r
	}

	// EDF = tr((Z'Z + P)^-1 Z'Z), computed by solving against Z'Z.
	var w mat.Dense
	if err := w.Solve(&a, &ztz); err != nil {
		return nil, fmt.Errorf("effective degrees of freedom solve failed: %w", err)
	}
	edf := 0.0
	for i := 0; i < p+q; i++ {
		edf += w.At(i, i)
	}

	params := make([]float64, p+q)
	for i := range params {
		params[i] = beta.AtVec(i)
	}
	return &FitResult{Params: params, Fitted: fittedVals, RSS: rss, EDF: edf}, nil
}

func gcv(n, rss, edf float64) float64 {
	denom := n - edf
	if denom <= 0 {
		return math.Inf(1)
	}
	return n * rss / (denom * denom)
}

func defaultAlphaGrid() []float64 {
	grid := make([]float64, 0, 17)
	for e := -4.0; e <= 4.0; e += 0.5 {
		grid = append(grid, math.Pow(10, e))
	}
	return grid
}

// parseFormula splits "y ~ a + b + c - 1" into the response name and the
// ordered linear term names. The trailing "- 1" is required.
func parseFormula(formula string) (response string, terms []string, err error) {
	parts := strings.SplitN(formula, "~", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("malformed formula %q: missing ~", formula)
	}
	response = strings.TrimSpace(parts[0])
	if response == "" {
		return "", nil, fmt.Errorf("malformed formula %q: empty response", formula)
	}

	rhs := strings.TrimSpace(parts[1])
	switch {
	case strings.HasSuffix(rhs, "- 1"):
		rhs = strings.TrimSpace(strings.TrimSuffix(rhs, "- 1"))
	case strings.HasSuffix(rhs, "-1"):
		rhs = strings.TrimSpace(strings.TrimSuffix(rhs, "-1"))
	default:
		return "", nil, fmt.Errorf("malformed formula %q: intercept suppression (- 1) is required", formula)
	}

	for _, raw := range strings.Split(rhs, "+") {
		term := strings.TrimSpace(raw)
		if term == "" {
			return "", nil, fmt.Errorf("malformed formula %q: empty term", formula)
		}
		terms = append(terms, term)
	}
	return response, terms, nil
}
