package combat

import (
	"gonum.org/v1/gonum/mat"
)

// lsPriors holds the per-site least-squares estimates and the empirical-
// Bayes prior hyperparameters derived from them. gammaHat and deltaHat are
// n_batch x n_features; the hyperparameter slices have one entry per site.
type lsPriors struct {
	gammaHat *mat.Dense
	deltaHat *mat.Dense
	gammaBar []float64 // normal prior mean per site
	tau2     []float64 // normal prior variance per site
	aPrior   []float64 // inverse-gamma shape per site
	bPrior   []float64 // inverse-gamma rate per site
}

// fitLSPriors estimates per-site location (gamma-hat) and scale (delta-hat)
// from the standardized data, then the prior hyperparameters by method of
// moments. With orthogonal one-hot site indicators the OLS site effect is
// exactly the per-site sample mean, and delta-hat is the per-site sample
// variance (ddof=1).
func fitLSPriors(sData *mat.Dense, info *batchInfo) *lsPriors {
	nFeatures, _ := sData.Dims()
	nBatch := info.nBatch()

	gammaHat := mat.NewDense(nBatch, nFeatures, nil)
	deltaHat := mat.NewDense(nBatch, nFeatures, nil)
	for b := 0; b < nBatch; b++ {
		idxs := info.indices[b]
		for j := 0; j < nFeatures; j++ {
			var sum float64
			for _, s := range idxs {
				sum += sData.At(j, s)
			}
			mean := sum / float64(len(idxs))
			var ss float64
			for _, s := range idxs {
				d := sData.At(j, s) - mean
				ss += d * d
			}
			gammaHat.Set(b, j, mean)
			deltaHat.Set(b, j, ss/float64(len(idxs)-1))
		}
	}

	lp := &lsPriors{
		gammaHat: gammaHat,
		deltaHat: deltaHat,
		gammaBar: make([]float64, nBatch),
		tau2:     make([]float64, nBatch),
		aPrior:   make([]float64, nBatch),
		bPrior:   make([]float64, nBatch),
	}
	for b := 0; b < nBatch; b++ {
		gm, gv := meanVar(mat.Row(nil, b, gammaHat))
		lp.gammaBar[b] = gm
		lp.tau2[b] = gv

		dm, dv := meanVar(mat.Row(nil, b, deltaHat))
		if dv == 0 {
			// Degenerate spread (single site, identical delta-hats): keep
			// the hyperparameters finite with the posterior mode at dm.
			dv = dm * dm * 1e-12
		}
		// Method-of-moments inverse-gamma hyperparameters.
		lp.aPrior[b] = (2*dv + dm*dm) / dv
		lp.bPrior[b] = (dm*dv + dm*dm*dm) / dv
	}
	return lp
}

// meanVar returns the sample mean and ddof=1 variance of values, which must
// hold at least two entries.
func meanVar(values []float64) (mean, variance float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return mean, variance
}
