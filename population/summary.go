package population

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a fitness vector.
type Summary struct {
	Count  int     `json:"count"`
	Best   int     `json:"best"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
}

// Summarize computes statistics over fitness. Best is the index of the
// fittest genome.
func Summarize(fitness []float32) Summary {
	if len(fitness) == 0 {
		return Summary{Best: -1}
	}

	x := make([]float64, len(fitness))
	for i, v := range fitness {
		x[i] = float64(v)
	}

	s := Summary{
		Count: len(x),
		Best:  floats.MaxIdx(x),
		Max:   floats.Max(x),
		Min:   floats.Min(x),
		Mean:  stat.Mean(x, nil),
	}
	if len(x) > 1 {
		s.StdDev = stat.StdDev(x, nil)
	}

	sorted := slices.Clone(x)
	slices.Sort(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}
