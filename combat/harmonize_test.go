package combat

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// twoSiteData builds 20 samples x 5 features from two sites of 10 samples
// each, with a constant +3 shift added to every feature at site B. Values
// are deterministic so runs are reproducible bit for bit.
func twoSiteData() (*mat.Dense, *Covariates) {
	const nSamples, nFeatures = 20, 5
	data := mat.NewDense(nSamples, nFeatures, nil)
	sites := make([]string, nSamples)
	for s := 0; s < nSamples; s++ {
		site, shift := "A", 0.0
		if s >= 10 {
			site, shift = "B", 3.0
		}
		sites[s] = site
		for j := 0; j < nFeatures; j++ {
			base := math.Sin(float64(1+s)*0.7 + float64(j)*1.3)
			data.Set(s, j, base+0.5*float64(j)+shift)
		}
	}
	cov := NewCovariates(nSamples)
	if err := cov.AddLabels(SiteColumn, sites); err != nil {
		panic(err)
	}
	return data, cov
}

func siteMeans(m *mat.Dense, nFeatures int) (meanA, meanB []float64) {
	meanA = make([]float64, nFeatures)
	meanB = make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		for s := 0; s < 10; s++ {
			meanA[j] += m.At(s, j) / 10
			meanB[j] += m.At(s+10, j) / 10
		}
	}
	return meanA, meanB
}

func TestLearnPreservesShape(t *testing.T) {
	t.Parallel()

	data, cov := twoSiteData()
	_, harmonized, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("Learn returned error: %v", err)
	}
	gr, gc := harmonized.Dims()
	dr, dc := data.Dims()
	if gr != dr || gc != dc {
		t.Fatalf("harmonized shape %dx%d, expected %dx%d", gr, gc, dr, dc)
	}
}

func TestLearnRemovesSiteShift(t *testing.T) {
	t.Parallel()

	data, cov := twoSiteData()
	rawA, rawB := siteMeans(data, 5)
	for j := range rawA {
		if diff := rawB[j] - rawA[j]; math.Abs(diff-3) > 0.7 {
			t.Fatalf("feature %d: raw site shift %.3f, expected near 3", j, diff)
		}
	}

	model, harmonized, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("Learn returned error: %v", err)
	}

	// Gamma-star difference between sites is the shift in standardized
	// units: multiplying back by the pooled standard deviation should
	// recover roughly +3.
	for j := 0; j < 5; j++ {
		sd := math.Sqrt(model.VarPooled[j])
		got := (model.GammaStar.At(1, j) - model.GammaStar.At(0, j)) * sd
		if math.Abs(got-3) > 0.8 {
			t.Errorf("feature %d: recovered site shift %.3f, expected near 3", j, got)
		}
	}

	harmA, harmB := siteMeans(harmonized, 5)
	for j := range harmA {
		if diff := math.Abs(harmB[j] - harmA[j]); diff > 0.5 {
			t.Errorf("feature %d: harmonized site means differ by %.3f", j, diff)
		}
	}
}

func TestDeltaStarStrictlyPositive(t *testing.T) {
	t.Parallel()

	data, cov := twoSiteData()
	model, _, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("Learn returned error: %v", err)
	}
	r, c := model.DeltaStar.Dims()
	for b := 0; b < r; b++ {
		for j := 0; j < c; j++ {
			if v := model.DeltaStar.At(b, j); !(v > 0) {
				t.Fatalf("delta_star[%d][%d] = %g, expected > 0", b, j, v)
			}
		}
	}
}

func TestLearnSingleSiteApproximatesIdentity(t *testing.T) {
	t.Parallel()

	const nSamples, nFeatures = 12, 4
	data := mat.NewDense(nSamples, nFeatures, nil)
	sites := make([]string, nSamples)
	for s := 0; s < nSamples; s++ {
		sites[s] = "only"
		for j := 0; j < nFeatures; j++ {
			data.Set(s, j, math.Cos(float64(s)*0.9+float64(j))+float64(j)*2)
		}
	}
	cov := NewCovariates(nSamples)
	if err := cov.AddLabels(SiteColumn, sites); err != nil {
		t.Fatal(err)
	}

	_, harmonized, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("Learn returned error: %v", err)
	}
	for s := 0; s < nSamples; s++ {
		for j := 0; j < nFeatures; j++ {
			if diff := math.Abs(harmonized.At(s, j) - data.At(s, j)); diff > 0.15 {
				t.Errorf("sample %d feature %d: |harmonized-input| = %.4f", s, j, diff)
			}
		}
	}
}

func TestStandardizationMatchesSiteStatistics(t *testing.T) {
	t.Parallel()

	data, cov := twoSiteData()
	model, _, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("Learn returned error: %v", err)
	}

	// With only the SITE column the grand mean is the count-weighted
	// average of the per-site sample means, and the pooled variance is the
	// mean squared deviation from the per-site means.
	meanA, meanB := siteMeans(data, 5)
	for j := 0; j < 5; j++ {
		wantGrand := 0.5*meanA[j] + 0.5*meanB[j]
		if diff := math.Abs(model.GrandMean[j] - wantGrand); diff > 1e-9 {
			t.Errorf("feature %d: grand mean %.6f, want %.6f", j, model.GrandMean[j], wantGrand)
		}

		var ss float64
		for s := 0; s < 20; s++ {
			m := meanA[j]
			if s >= 10 {
				m = meanB[j]
			}
			d := data.At(s, j) - m
			ss += d * d
		}
		wantVar := ss / 20
		if diff := math.Abs(model.VarPooled[j] - wantVar); diff > 1e-9 {
			t.Errorf("feature %d: pooled variance %.6f, want %.6f", j, model.VarPooled[j], wantVar)
		}
	}
}

func TestLearnIsDeterministic(t *testing.T) {
	t.Parallel()

	data, cov := twoSiteData()
	_, first, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("first Learn returned error: %v", err)
	}
	_, second, err := Learn(data, cov, nil, nil)
	if err != nil {
		t.Fatalf("second Learn returned error: %v", err)
	}
	r, c := first.Dims()
	for s := 0; s < r; s++ {
		for j := 0; j < c; j++ {
			if first.At(s, j) != second.At(s, j) {
				t.Fatalf("output differs at [%d][%d]: %v vs %v", s, j, first.At(s, j), second.At(s, j))
			}
		}
	}
}

func TestLearnMissingSiteColumn(t *testing.T) {
	t.Parallel()

	const nSamples = 6
	data := mat.NewDense(nSamples, 2, nil)
	cov := NewCovariates(nSamples)
	if err := cov.AddNumeric("age", []float64{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Learn(data, cov, nil, nil); err == nil {
		t.Fatal("expected error for covariates without a SITE column")
	}
}

func TestLearnRejectsSampleMismatch(t *testing.T) {
	t.Parallel()

	data := mat.NewDense(4, 2, nil)
	cov := NewCovariates(5)
	if err := cov.AddLabels(SiteColumn, []string{"A", "A", "B", "B", "B"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Learn(data, cov, nil, nil); err == nil {
		t.Fatal("expected error for sample count mismatch")
	}
}

func TestLearnRejectsSingleFeature(t *testing.T) {
	t.Parallel()

	// The prior hyperparameters are moments across features; with one
	// feature they are undefined.
	data := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	cov := NewCovariates(6)
	if err := cov.AddLabels(SiteColumn, []string{"A", "A", "A", "B", "B", "B"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Learn(data, cov, nil, nil); err == nil {
		t.Fatal("expected error for a single-feature matrix")
	}
}
