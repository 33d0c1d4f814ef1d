package combat

// ComBat Empirical-Bayes Harmonization
//
// This package removes site/batch effects from multi-site feature data.
// The pipeline:
//
// 1. Design matrix: one-hot site indicators plus numeric covariates.
// 2. Optional smoothing: cubic spline bases and an additive-model design
//    for covariates whose effect should be modelled nonlinearly.
// 3. Standardization: estimate regression coefficients (closed-form OLS or
//    per-feature penalized additive fits), remove the grand mean and
//    covariate effects, scale by the pooled standard deviation.
// 4. Priors: per-site location/scale estimates and method-of-moments
//    empirical-Bayes hyperparameters.
// 5. Adjustment: a fixed-point solver shrinks each site's effects toward
//    the priors.
// 6. Reconstruction: put the harmonized values back on the original scale.
//
// Everything runs synchronously; features and sites are estimated
// independently but in sequence.

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"harmonize/utils"
)

// Model is the estimated harmonization parameter bundle. It is created once
// per Learn call and immutable afterwards. Smooth is nil unless smoothing
// was requested.
type Model struct {
	// Design is the active design matrix (combined design when smoothing).
	Design *mat.Dense
	// SData is the standardized data, n_features x n_samples.
	SData *mat.Dense
	// StandMean is the standardization mean, n_features x n_samples.
	StandMean *mat.Dense
	// VarPooled is the pooled variance per feature.
	VarPooled []float64
	// BHat holds the regression coefficients, design columns x n_features.
	BHat *mat.Dense
	// GrandMean is the count-weighted mean site effect per feature.
	GrandMean []float64
	// GammaStar is the shrunk additive site effect, n_batch x n_features.
	GammaStar *mat.Dense
	// DeltaStar is the shrunk multiplicative site effect, n_batch x n_features.
	DeltaStar *mat.Dense
	// NBatch is the number of distinct sites.
	NBatch int
	// SiteLabels maps site code to the original label.
	SiteLabels []string
	// Smooth describes the nonlinear covariate model when active.
	Smooth *SmoothModel
}

// Learn estimates the harmonization model and returns the harmonized data.
//
// data is n_samples x n_features and is not modified; at least two features
// are required, since the empirical-Bayes priors are moments taken across
// features. covars must contain a "SITE" column with one site label per
// sample; every other column must be numeric. smoothTerms optionally names covariate columns to model with
// smooth nonlinear terms; a non-empty list switches coefficient estimation
// to per-feature additive fits, which is considerably slower. logger may be
// nil, in which case the shared logger is used.
//
// The returned harmonized matrix is n_samples x n_features, matching data.
func Learn(data *mat.Dense, covars *Covariates, smoothTerms []string, logger *slog.Logger) (*Model, *mat.Dense, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	nSamples, nFeatures := data.Dims()
	if nFeatures < 2 {
		return nil, nil, fmt.Errorf("empirical Bayes prior estimation needs at least 2 features, got %d", nFeatures)
	}
	if covars.Len() != nSamples {
		return nil, nil, fmt.Errorf("data has %d samples, covariates table has %d", nSamples, covars.Len())
	}

	// Features-as-rows internally; the input stays untouched.
	x := mat.DenseCopyOf(data.T())

	design, info, err := buildDesign(covars)
	if err != nil {
		return nil, nil, err
	}

	var smooth *SmoothModel
	if len(smoothTerms) > 0 {
		smooth, err = buildSmoothModel(covars, smoothTerms, info, design)
		if err != nil {
			return nil, nil, err
		}
	}

	std, err := standardizeAcrossFeatures(x, design, info, smooth, logger)
	if err != nil {
		return nil, nil, err
	}

	priors := fitLSPriors(std.sData, info)
	gammaStar, deltaStar := findParametricAdjustments(std.sData, priors, info)
	adjusted := adjustDataFinal(std.sData, gammaStar, deltaStar, std.standMean, std.varPooled, info)

	activeDesign := design
	if smooth != nil {
		activeDesign = smooth.Design
	}
	model := &Model{
		Design:     activeDesign,
		SData:      std.sData,
		StandMean:  std.standMean,
		VarPooled:  std.varPooled,
		BHat:       std.bHat,
		GrandMean:  std.grandMean,
		GammaStar:  gammaStar,
		DeltaStar:  deltaStar,
		NBatch:     info.nBatch(),
		SiteLabels: append([]string(nil), info.labels...),
		Smooth:     smooth,
	}

	// Back to the caller's samples x features orientation.
	harmonized := mat.DenseCopyOf(adjusted.T())
	return model, harmonized, nil
}

// NFeatures returns the number of harmonized features.
func (m *Model) NFeatures() int {
	_, c := m.BHat.Dims()
	return c
}

// NSamples returns the number of samples the model was fit on.
func (m *Model) NSamples() int {
	r, _ := m.Design.Dims()
	return r
}
