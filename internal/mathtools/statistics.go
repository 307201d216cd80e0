package mathtools

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistics is a descriptive summary of a sample. Variance and standard
// deviation are population values.
type Statistics struct {
	Count    int
	Mean     float64
	Median   float64
	StdDev   float64
	Variance float64
	Min      float64
	Max      float64
	Range    float64
	Q1       float64
	Q3       float64
	IQR      float64
}

var ErrEmptySample = errors.New("empty sample")

// Describe computes the summary of xs. xs is not modified.
func Describe(xs []float64) (Statistics, error) {
	if len(xs) == 0 {
		return Statistics{}, ErrEmptySample
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	mean, variance := stat.PopMeanVariance(sorted, nil)
	minV, maxV := floats.Min(sorted), floats.Max(sorted)
	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)

	return Statistics{
		Count:    len(sorted),
		Mean:     mean,
		Median:   percentile(sorted, 0.5),
		StdDev:   math.Sqrt(variance),
		Variance: variance,
		Min:      minV,
		Max:      maxV,
		Range:    maxV - minV,
		Q1:       q1,
		Q3:       q3,
		IQR:      q3 - q1,
	}, nil
}

// percentile interpolates linearly between closest ranks on sorted data
// (rank = p*(n-1)).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ExtractNumbers returns every decimal number in text in order of appearance.
func ExtractNumbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func (s Statistics) String() string {
	return fmt.Sprintf(
		"count %d, mean %s, median %s, population std dev %s, variance %s, min %s, max %s, range %s, Q1 %s, Q3 %s, IQR %s",
		s.Count, num(s.Mean), num(s.Median), num(s.StdDev), num(s.Variance),
		num(s.Min), num(s.Max), num(s.Range), num(s.Q1), num(s.Q3), num(s.IQR),
	)
}

func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}
