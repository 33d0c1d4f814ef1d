package combat

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// buildDesign constructs the regression design matrix: one indicator column
// per site (ordered by ascending site code) followed by one column per
// numeric covariate in table order. No intercept column is added; the site
// indicators already span the constant.
func buildDesign(cov *Covariates) (*mat.Dense, *batchInfo, error) {
	sites, ok := cov.Labels(SiteColumn)
	if !ok {
		return nil, nil, fmt.Errorf("covariates table has no %q column", SiteColumn)
	}
	info := newBatchInfo(sites)

	numNames, _ := cov.numericColumns()
	n := cov.Len()
	design := mat.NewDense(n, info.nBatch()+len(numNames), nil)

	for b, idxs := range info.indices {
		for _, i := range idxs {
			design.Set(i, b, 1)
		}
	}
	for j, name := range numNames {
		values, _ := cov.Numeric(name)
		design.SetCol(info.nBatch()+j, values)
	}
	return design, info, nil
}
