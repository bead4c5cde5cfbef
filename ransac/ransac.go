// Package ransac implements a generic outlier-resistant model fitter.
//
// The estimator draws random minimal samples, fits candidate models with a
// kernel-supplied closed-form solver, and scores each model with an
// a-contrario criterion that picks the residual threshold maximizing model
// quality instead of requiring a fixed threshold a priori. Noisy but
// unambiguous data automatically tightens the threshold; sparse data
// loosens it.
package ransac

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoModelFound is returned when no sample produced a valid model.
var ErrNoModelFound = errors.New("no model found")

// Kernel couples a minimal solver with a residual function over a fixed
// set of correspondences. Residuals are squared distances.
type Kernel interface {
	// NumSamples is the number of correspondences.
	NumSamples() int
	// MinSampleSize is the smallest sample that determines a model.
	MinSampleSize() int
	// Fit solves for the candidate models of a minimal sample. A
	// degenerate sample yields no models.
	Fit(sample []int) []*mat.Dense
	// Error returns the squared residual of one correspondence under a model.
	Error(model *mat.Dense, idx int) float64
	// LogAlpha0 is the log10 probability that a random point falls within
	// a unit-distance band of the model, used to normalize residual
	// magnitudes against the measurement domain (for image-space residuals
	// this is log10(pi/(w*h))).
	LogAlpha0() float64
}

// Result is the outcome of a successful estimation.
type Result struct {
	// Model is the best model over all trials.
	Model *mat.Dense
	// Inliers are the indices consistent with Model, in increasing order.
	Inliers []int
	// Threshold is the squared residual bound selected for Model.
	Threshold float64
	// Score is the log10 quality of the model; lower is better.
	Score float64
}

// Options tune the estimation loop.
type Options struct {
	// MaxIterations caps the number of random trials. Adaptive early exit
	// may stop sooner, never later.
	MaxIterations int
	// Confidence drives the adaptive trial-count reduction. Zero means 0.99.
	Confidence float64
}

const defaultConfidence = 0.99

// Estimate runs adaptive sample consensus over the kernel's
// correspondences. The caller owns and seeds rng; no global random state is
// touched, so a fixed seed reproduces the run exactly.
//
// The returned inlier set may be small; callers enforce their own minimum
// support and treat shortfall as a failure of the surrounding operation.
func Estimate(rng *rand.Rand, kernel Kernel, opts Options) (*Result, error) {
	n := kernel.NumSamples()
	minSample := kernel.MinSampleSize()
	if n < minSample {
		return nil, errors.Wrapf(ErrNoModelFound, "%d correspondences, need at least %d", n, minSample)
	}
	maxIterations := opts.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}
	confidence := opts.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = defaultConfidence
	}

	logChoose := newLogCombination(n)
	residuals := make([]indexedResidual, n)

	best := Result{Score: math.Inf(1)}
	adaptiveCap := maxIterations

	for trial := 0; trial < maxIterations && trial < adaptiveCap; trial++ {
		sample := sampleIndices(rng, n, minSample)
		for _, model := range kernel.Fit(sample) {
			for i := 0; i < n; i++ {
				residuals[i] = indexedResidual{index: i, value: kernel.Error(model, i)}
			}
			sort.Slice(residuals, func(i, j int) bool {
				return residuals[i].value < residuals[j].value
			})

			score, threshold, k := scoreModel(residuals, minSample, kernel.LogAlpha0(), logChoose)
			if k == 0 || score >= best.Score {
				continue
			}
			inliers := make([]int, k)
			for i := 0; i < k; i++ {
				inliers[i] = residuals[i].index
			}
			sort.Ints(inliers)
			best = Result{
				Model:     mat.DenseCopyOf(model),
				Inliers:   inliers,
				Threshold: threshold,
				Score:     score,
			}
			adaptiveCap = adaptiveTrialCount(confidence, float64(k)/float64(n), minSample, maxIterations)
			// keep a floor of trials so one optimistic early model cannot
			// end the search by itself
			if floor := minTrials(maxIterations); adaptiveCap < floor {
				adaptiveCap = floor
			}
		}
	}

	if best.Model == nil {
		return nil, ErrNoModelFound
	}
	return &best, nil
}

type indexedResidual struct {
	index int
	value float64
}

// scoreModel scans the sorted residuals for the inlier count minimizing the
// a-contrario score
//
//	score(k) = logC(n,k) + (k - minSample) * (logAlpha0 + log10(e_k))
//
// where e_k is the k-th smallest squared residual. The first term grows
// with the number of kept points and the second rewards keeping many points
// only while their residuals stay small relative to the measurement domain.
func scoreModel(residuals []indexedResidual, minSample int, logAlpha0 float64, logChoose []float64) (float64, float64, int) {
	n := len(residuals)
	bestScore := math.Inf(1)
	bestThreshold := 0.0
	bestCount := 0
	for k := minSample + 1; k <= n; k++ {
		eps := residuals[k-1].value
		logAlpha := logAlpha0 + 0.5*log10Safe(eps)
		// alpha is the probability of a random point landing this close to
		// the model; once it saturates, larger thresholds are meaningless
		// and residuals only grow from here
		if logAlpha >= 0 {
			break
		}
		score := logChoose[k] + float64(k-minSample)*logAlpha
		if score < bestScore {
			bestScore = score
			bestThreshold = eps
			bestCount = k
		}
	}
	return bestScore, bestThreshold, bestCount
}

// log10Safe maps a zero residual (an exact fit) to a large negative value
// instead of -Inf so score arithmetic stays comparable.
func log10Safe(x float64) float64 {
	if x <= 0 {
		return -320
	}
	return math.Log10(x)
}

// newLogCombination tabulates log10 of n-choose-k for k in [0, n].
func newLogCombination(n int) []float64 {
	logFact := make([]float64, n+1)
	for i := 2; i <= n; i++ {
		logFact[i] = logFact[i-1] + math.Log10(float64(i))
	}
	out := make([]float64, n+1)
	for k := 0; k <= n; k++ {
		out[k] = logFact[n] - logFact[k] - logFact[n-k]
	}
	return out
}

// minTrials is the floor kept under the adaptive cutoff.
func minTrials(maxIterations int) int {
	const floor = 32
	if maxIterations < floor {
		return maxIterations
	}
	return floor
}

// adaptiveTrialCount is the standard RANSAC iteration bound
// log(1-p)/log(1-w^s) for success probability p and inlier ratio w,
// clamped to the caller's hard cap.
func adaptiveTrialCount(confidence, inlierRatio float64, sampleSize, maxIterations int) int {
	if inlierRatio <= 0 {
		return maxIterations
	}
	if inlierRatio >= 1 {
		return 1
	}
	wPowS := math.Pow(inlierRatio, float64(sampleSize))
	if wPowS >= 1-1e-12 {
		return 1
	}
	needed := math.Log(1-confidence) / math.Log(1-wPowS)
	if math.IsNaN(needed) || needed > float64(maxIterations) {
		return maxIterations
	}
	if needed < 1 {
		return 1
	}
	return int(math.Ceil(needed))
}

// sampleIndices draws k distinct indices from [0, n) via partial
// Fisher-Yates on a scratch permutation.
func sampleIndices(rng *rand.Rand, n, k int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sample := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
		sample[i] = perm[i]
	}
	return sample
}
