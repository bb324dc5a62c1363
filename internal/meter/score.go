package meter

import "math"

const (
	MinScore = 1
	MaxScore = 10
)

// Scorer maps accumulated energy to a crowd score
type Scorer struct {
	// Scale is the energy multiplier, calibrated against the recording
	// duration.
	Scale float64
}

// Compute returns clamp(round(energy*Scale), MinScore, MaxScore). Silence,
// negative and NaN input score MinScore.
func (s Scorer) Compute(energy float64) int {
	if math.IsNaN(energy) || energy <= 0 {
		return MinScore
	}

	v := math.Round(energy * s.Scale)
	switch {
	case math.IsNaN(v) || v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return int(v)
}
