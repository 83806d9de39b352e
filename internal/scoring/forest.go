package scoring

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
)

// eulerGamma is the Euler-Mascheroni constant used in the harmonic number
// approximation.
const eulerGamma = 0.5772156649

// ForestConfig configures an IsolationForest.
type ForestConfig struct {
	Trees      int
	SampleSize int
	Seed       uint64
}

// IsolationForest is an in-process Scorer. Every Score call rebuilds the
// forest from the configured seed so identical input yields identical output.
type IsolationForest struct {
	cfg ForestConfig
}

// NewIsolationForest returns an IsolationForest with defaults applied.
func NewIsolationForest(cfg ForestConfig) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &IsolationForest{cfg: cfg}
}

// Score implements Scorer. Scores are decision values: the mean-path anomaly
// score shifted so that the contamination percentile sits at zero.
func (f *IsolationForest) Score(ctx context.Context, features []Feature, contamination float64) (*Result, error) {
	if err := validContamination(contamination); err != nil {
		return nil, err
	}
	n := len(features)
	res := &Result{Labels: make([]Label, n), Scores: make([]float64, n)}
	if n == 0 {
		return res, nil
	}

	rng := rand.New(rand.NewPCG(f.cfg.Seed, f.cfg.Seed))
	psi := min(f.cfg.SampleSize, n)
	heightLimit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	depths := make([]float64, n)
	for t := 0; t < f.cfg.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := rng.Perm(n)[:psi]
		root := grow(features, sample, 0, heightLimit, rng)
		for i, x := range features {
			depths[i] += root.pathLength(x, 0)
		}
	}

	norm := averagePathLength(psi)
	raw := make([]float64, n)
	for i := range features {
		mean := depths[i] / float64(f.cfg.Trees)
		raw[i] = -math.Pow(2, -mean/norm)
	}

	offset := percentile(raw, contamination*100)
	for i, s := range raw {
		d := s - offset
		res.Scores[i] = d
		if d < 0 {
			res.Labels[i] = LabelAnomaly
		} else {
			res.Labels[i] = LabelNormal
		}
	}
	return res, nil
}

type node struct {
	feature     int
	threshold   float64
	left, right *node
	size        int // leaf only
}

func (nd *node) leaf() bool { return nd.left == nil }

func (nd *node) pathLength(x Feature, depth int) float64 {
	for !nd.leaf() {
		if x[nd.feature] < nd.threshold {
			nd = nd.left
		} else {
			nd = nd.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(nd.size)
}

func grow(features []Feature, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	// Only features that still vary within this partition can split it.
	var candidates []int
	var lo, hi Feature
	for k := range lo {
		lo[k], hi[k] = math.Inf(1), math.Inf(-1)
	}
	for _, i := range idx {
		for k, v := range features[i] {
			lo[k] = min(lo[k], v)
			hi[k] = max(hi[k], v)
		}
	}
	for k := range lo {
		if hi[k] > lo[k] {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	k := candidates[rng.IntN(len(candidates))]
	threshold := lo[k] + rng.Float64()*(hi[k]-lo[k])

	var left, right []int
	for _, i := range idx {
		if features[i][k] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature:   k,
		threshold: threshold,
		left:      grow(features, left, depth+1, limit, rng),
		right:     grow(features, right, depth+1, limit, rng),
	}
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	harmonic := math.Log(fn-1) + eulerGamma
	return 2*harmonic - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
