// Package analytics fits a pairwise hedge ratio over stored bars and turns
// live prices into a mean-reversion z-score broadcast to subscribers.
package analytics

import (
	"math"
	"sort"

	"pairstream-go/internal/market"
)

// olsFit solves Y = alpha + beta*X by ordinary least squares over aligned
// samples. Returns ok=false for fewer than 2 observations or a degenerate
// (constant) X.
func olsFit(xs, ys []float64) (alpha, beta float64, ok bool) {
	n := len(xs)
	if n < 2 || len(ys) != n {
		return 0, 0, false
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return 0, 0, false
	}
	beta = sxy / sxx
	alpha = meanY - beta*meanX
	return alpha, beta, true
}

// spreadStats computes the mean and sample standard deviation of the
// residual series Y - (alpha + beta*X).
func spreadStats(xs, ys []float64, alpha, beta float64) (mean, std float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	spreads := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		spreads[i] = ys[i] - (alpha + beta*xs[i])
		sum += spreads[i]
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, s := range spreads {
		d := s - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// alignCloses pairs up the two bar series by bucket start, dropping buckets
// missing from either side, and returns chronological close slices.
func alignCloses(xBars, yBars []market.Bar) (xs, ys []float64) {
	yByStart := make(map[int64]float64, len(yBars))
	for _, bar := range yBars {
		yByStart[bar.BucketStart.UnixMilli()] = bar.Close
	}

	type obs struct {
		start int64
		x, y  float64
	}
	aligned := make([]obs, 0, len(xBars))
	for _, bar := range xBars {
		start := bar.BucketStart.UnixMilli()
		if y, ok := yByStart[start]; ok {
			aligned = append(aligned, obs{start: start, x: bar.Close, y: y})
		}
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].start < aligned[j].start })

	xs = make([]float64, len(aligned))
	ys = make([]float64, len(aligned))
	for i, o := range aligned {
		xs[i] = o.x
		ys[i] = o.y
	}
	return xs, ys
}
