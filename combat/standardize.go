package combat

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"harmonize/gam"
)

// smoothFeatureWarnThreshold is the feature count above which the smoothing
// path logs a long-runtime warning (one or two model fits per feature).
const smoothFeatureWarnThreshold = 10

// standardized bundles the outputs of standardizeAcrossFeatures. All
// per-feature slices have length n_features; sData and standMean are
// n_features x n_samples.
type standardized struct {
	sData     *mat.Dense
	standMean *mat.Dense
	varPooled []float64
	bHat      *mat.Dense // design columns x n_features
	grandMean []float64
}

// standardizeAcrossFeatures estimates the regression coefficients, removes
// the grand mean and covariate effects, and scales each feature by its
// pooled standard deviation. X is n_features x n_samples.
//
// Without smoothing the coefficients come from the closed-form OLS solve
// over all features at once. With smoothing each feature is fit separately
// as a penalized additive model, with the penalty weight re-selected by
// generalized cross-validation before the final fit.
func standardizeAcrossFeatures(x *mat.Dense, design *mat.Dense, info *batchInfo, smooth *SmoothModel, logger *slog.Logger) (*standardized, error) {
	nFeatures, nSamples := x.Dims()
	nBatch := info.nBatch()

	var bHat *mat.Dense
	if smooth != nil && smooth.Active {
		design = smooth.Design
		if nFeatures > smoothFeatureWarnThreshold {
			logger.Warn("harmonizing many features with the smoothing model; computation will take some time",
				"features", nFeatures,
				"hint", "drop the smooth terms to use the faster linear model")
		}
		var err error
		bHat, err = fitSmoothCoefficients(x, smooth)
		if err != nil {
			return nil, err
		}
	} else {
		var dtd mat.Dense
		dtd.Mul(design.T(), design)
		var inv mat.Dense
		if err := inv.Inverse(&dtd); err != nil {
			return nil, fmt.Errorf("design matrix is rank-deficient: %w", err)
		}
		bHat = &mat.Dense{}
		bHat.Product(&inv, design.T(), x.T())
	}

	// Grand mean: per-site coefficients weighted by site share.
	grandMean := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		var g float64
		for b := 0; b < nBatch; b++ {
			g += float64(info.counts[b]) / float64(info.total) * bHat.At(b, j)
		}
		grandMean[j] = g
	}

	// Pooled variance: mean squared residual across samples (divide by N).
	var fitted mat.Dense
	fitted.Mul(design, bHat) // n_samples x n_features
	varPooled := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		var ss float64
		for s := 0; s < nSamples; s++ {
			r := x.At(j, s) - fitted.At(s, j)
			ss += r * r
		}
		varPooled[j] = ss / float64(nSamples)
	}

	// Standardization mean: grand mean plus the covariate-only part of the
	// fit, with the site-indicator columns zeroed out.
	_, designCols := design.Dims()
	standMean := mat.NewDense(nFeatures, nSamples, nil)
	for s := 0; s < nSamples; s++ {
		for j := 0; j < nFeatures; j++ {
			v := grandMean[j]
			for k := nBatch; k < designCols; k++ {
				v += design.At(s, k) * bHat.At(k, j)
			}
			standMean.Set(j, s, v)
		}
	}

	sData := mat.NewDense(nFeatures, nSamples, nil)
	for j := 0; j < nFeatures; j++ {
		sd := math.Sqrt(varPooled[j])
		for s := 0; s < nSamples; s++ {
			sData.Set(j, s, (x.At(j, s)-standMean.At(j, s))/sd)
		}
	}

	return &standardized{
		sData:     sData,
		standMean: standMean,
		varPooled: varPooled,
		bHat:      bHat,
		grandMean: grandMean,
	}, nil
}

// fitSmoothCoefficients estimates one coefficient column per feature via the
// additive model: an initial fit with unit penalty weights, a GCV search for
// better weights, and a single refit with the selected optimum.
func fitSmoothCoefficients(x *mat.Dense, smooth *SmoothModel) (*mat.Dense, error) {
	nFeatures, _ := x.Dims()
	_, designCols := smooth.Design.Dims()
	bHat := mat.NewDense(designCols, nFeatures, nil)

	alpha := make([]float64, len(smooth.Terms))
	for k := range alpha {
		alpha[k] = 1.0
	}

	for j := 0; j < nFeatures; j++ {
		if err := smooth.Table.SetColumn("y", mat.Row(nil, j, x)); err != nil {
			return nil, err
		}
		model, err := gam.NewAdditiveModel(smooth.Formula, smooth.Table, smooth.Basis, alpha)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		if _, err := model.Fit(); err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		selected, err := model.SelectPenWeight(nil)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		model.Alpha = selected
		res, err := model.Fit()
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
		bHat.SetCol(j, res.Params)
	}
	return bHat, nil
}
