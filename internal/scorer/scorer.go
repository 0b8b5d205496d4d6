// Package scorer computes task priorities from submission features.
// Scorers are pure functions of their input (no clock, no global state) so
// that scheduling order is reproducible given identical submissions.
package scorer

import (
	"fmt"
	"hash/fnv"
	"math"
)

// Features is the minimal feature set extracted from a submission.
type Features struct {
	NameLength        int
	DescriptionLength int
	OwnerID           string
}

// Scorer maps features to a numeric priority. Higher values are more
// urgent. Any conforming implementation is acceptable; the scheduling core
// never inspects a scorer's internals.
type Scorer interface {
	Score(f Features) (float64, error)
}

// Constant returns the same priority for every task. Useful for tests and
// as a degraded mode when no scoring model is configured.
type Constant struct {
	Value float64
}

func (c Constant) Score(Features) (float64, error) {
	return c.Value, nil
}

// Linear is the reference scorer: a weighted sum over the feature vector,
// clamped to [Min, Max]. The owner id contributes via a stable hash so the
// result stays a pure function of the inputs.
type Linear struct {
	NameWeight        float64
	DescriptionWeight float64
	OwnerWeight       float64
	Bias              float64
	Min               float64
	Max               float64
}

// NewLinear returns a Linear scorer with default weights and the given bounds.
func NewLinear(min, max float64) Linear {
	return Linear{
		NameWeight:        0.05,
		DescriptionWeight: 0.01,
		OwnerWeight:       0.02,
		Bias:              1.0,
		Min:               min,
		Max:               max,
	}
}

func (l Linear) Score(f Features) (float64, error) {
	v := l.Bias +
		l.NameWeight*float64(f.NameLength) +
		l.DescriptionWeight*float64(f.DescriptionLength) +
		l.OwnerWeight*ownerFeature(f.OwnerID)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("linear scorer: non-finite result for %+v", f)
	}
	return clamp(v, l.Min, l.Max), nil
}

// ownerFeature maps an owner id to a stable value in [0, 100).
func ownerFeature(ownerID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	return float64(h.Sum32() % 100)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
