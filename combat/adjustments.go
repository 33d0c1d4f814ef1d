package combat

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// convergenceTol stops the fixed-point solver once the summed absolute
	// parameter change over one sweep drops below this value.
	convergenceTol = 1e-4
	// maxIterations bounds the fixed-point solver.
	maxIterations = 1000
)

// findParametricAdjustments runs the empirical-Bayes fixed-point solver per
// site, shrinking the least-squares site effects toward the estimated
// priors. Returns gamma-star and delta-star, each n_batch x n_features.
// Sites are independent; this is the only iterative step in the pipeline.
func findParametricAdjustments(sData *mat.Dense, lp *lsPriors, info *batchInfo) (gammaStar, deltaStar *mat.Dense) {
	nFeatures, _ := sData.Dims()
	nBatch := info.nBatch()

	gammaStar = mat.NewDense(nBatch, nFeatures, nil)
	deltaStar = mat.NewDense(nBatch, nFeatures, nil)
	for b := 0; b < nBatch; b++ {
		g, d := iterateSite(sData, lp, info, b)
		gammaStar.SetRow(b, g)
		deltaStar.SetRow(b, d)
	}
	return gammaStar, deltaStar
}

// iterateSite solves the coupled gamma/delta updates for one site. Gamma is
// the precision-weighted shrinkage of the OLS estimate toward the prior
// mean; delta is the inverse-gamma posterior mode given the residuals
// against the updated gamma.
func iterateSite(sData *mat.Dense, lp *lsPriors, info *batchInfo, b int) (g, d []float64) {
	nFeatures, _ := sData.Dims()
	idxs := info.indices[b]
	n := float64(len(idxs))

	gHat := mat.Row(nil, b, lp.gammaHat)
	g = append([]float64(nil), gHat...)
	d = mat.Row(nil, b, lp.deltaHat)
	gNew := make([]float64, nFeatures)
	dNew := make([]float64, nFeatures)

	for iter := 0; iter < maxIterations; iter++ {
		for j := 0; j < nFeatures; j++ {
			gNew[j] = (lp.tau2[b]*n*gHat[j] + d[j]*lp.gammaBar[b]) / (lp.tau2[b]*n + d[j])
		}
		for j := 0; j < nFeatures; j++ {
			var sum2 float64
			for _, s := range idxs {
				r := sData.At(j, s) - gNew[j]
				sum2 += r * r
			}
			dNew[j] = (0.5*sum2 + lp.bPrior[b]) / (n/2 + lp.aPrior[b] - 1)
		}

		change := 0.0
		for j := 0; j < nFeatures; j++ {
			change += math.Abs(gNew[j]-g[j]) + math.Abs(dNew[j]-d[j])
		}
		copy(g, gNew)
		copy(d, dNew)
		if change < convergenceTol {
			break
		}
	}
	return g, d
}

// adjustDataFinal reconstructs the harmonized data: per site, remove the
// shrunk location effect, rescale by the shrunk site scale, then restore
// the pooled scale and the standardization mean. Output is n_features x
// n_samples, matching sData.
func adjustDataFinal(sData *mat.Dense, gammaStar, deltaStar *mat.Dense, standMean *mat.Dense, varPooled []float64, info *batchInfo) *mat.Dense {
	nFeatures, nSamples := sData.Dims()
	out := mat.NewDense(nFeatures, nSamples, nil)
	for b := range info.indices {
		for j := 0; j < nFeatures; j++ {
			gs := gammaStar.At(b, j)
			ds := math.Sqrt(deltaStar.At(b, j))
			sp := math.Sqrt(varPooled[j])
			for _, s := range info.indices[b] {
				v := (sData.At(j, s) - gs) / ds
				out.Set(j, s, v*sp+standMean.At(j, s))
			}
		}
	}
	return out
}
