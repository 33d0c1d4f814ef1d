package combat

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"harmonize/gam"
)

const (
	// smoothBasisDF is the number of spline basis functions per smooth term.
	smoothBasisDF = 10
	// splineDegree is the polynomial degree of the spline basis (cubic).
	splineDegree = 3
)

// SmoothModel carries everything the nonlinear covariate path needs: the
// spline basis, the additive-model formula, the per-sample table backing the
// formula terms, and the combined design matrix used in place of the linear
// one. Built once during learning and read-only afterwards.
type SmoothModel struct {
	// Active reports whether smoothing was requested.
	Active bool
	// Terms are the smoothed covariate column names.
	Terms []string
	// Cols are the smoothed columns' positions in the covariate table.
	Cols []int
	// Basis is the cubic spline basis over the smoothed columns.
	Basis *gam.BSplines
	// Formula is the additive-model formula: one linear term per site
	// indicator (x<code>) and per non-smoothed covariate (c<position>),
	// with the intercept suppressed. Smooth terms enter through the
	// smoother, not the formula.
	Formula string
	// Table maps each formula term to its per-sample values; the response
	// column y is set per feature during estimation.
	Table *gam.DataTable
	// Design is the combined numeric design: linear terms horizontally
	// concatenated with the spline basis columns.
	Design *mat.Dense
}

// buildSmoothModel assembles the smoothing preprocessor output. design is
// the linear design matrix from buildDesign; its site-indicator columns
// become the x<code> formula terms.
func buildSmoothModel(cov *Covariates, smoothTerms []string, info *batchInfo, design *mat.Dense) (*SmoothModel, error) {
	smoothSet := make(map[string]bool, len(smoothTerms))
	for _, term := range smoothTerms {
		if term == SiteColumn {
			return nil, fmt.Errorf("%s cannot be a smooth term", SiteColumn)
		}
		if _, ok := cov.Numeric(term); !ok {
			return nil, fmt.Errorf("smooth term %s is not a numeric covariate column", term)
		}
		smoothSet[term] = true
	}

	// Smoothed columns in table order, mirroring the covariate layout.
	var (
		terms []string
		cols  []int
	)
	for i, name := range cov.Names() {
		if smoothSet[name] {
			terms = append(terms, name)
			cols = append(cols, i)
		}
	}

	n := cov.Len()
	xSpline := mat.NewDense(n, len(terms), nil)
	for j, name := range terms {
		values, _ := cov.Numeric(name)
		xSpline.SetCol(j, values)
	}
	df := make([]int, len(terms))
	degree := make([]int, len(terms))
	for k := range terms {
		df[k] = smoothBasisDF
		degree[k] = splineDegree
	}
	basis, err := gam.NewBSplines(xSpline, df, degree)
	if err != nil {
		return nil, fmt.Errorf("failed to build spline basis: %w", err)
	}

	table := gam.NewDataTable(n)
	var formulaTerms []string
	for b := 0; b < info.nBatch(); b++ {
		name := "x" + strconv.Itoa(b)
		formulaTerms = append(formulaTerms, name)
		if err := table.SetColumn(name, mat.Col(nil, b, design)); err != nil {
			return nil, err
		}
	}
	numNames, positions := cov.numericColumns()
	for j, name := range numNames {
		if smoothSet[name] {
			continue
		}
		term := "c" + strconv.Itoa(positions[j])
		formulaTerms = append(formulaTerms, term)
		values, _ := cov.Numeric(name)
		if err := table.SetColumn(term, values); err != nil {
			return nil, err
		}
	}
	formula := "y ~ " + strings.Join(formulaTerms, " + ") + " - 1"

	// Combined design: linear terms then the spline basis columns.
	nLinear := len(formulaTerms)
	combined := mat.NewDense(n, nLinear+basis.TotalDF(), nil)
	for j, term := range formulaTerms {
		values, _ := table.Column(term)
		combined.SetCol(j, values)
	}
	combined.Slice(0, n, nLinear, nLinear+basis.TotalDF()).(*mat.Dense).Copy(basis.Basis)

	return &SmoothModel{
		Active:  true,
		Terms:   terms,
		Cols:    cols,
		Basis:   basis,
		Formula: formula,
		Table:   table,
		Design:  combined,
	}, nil
}
