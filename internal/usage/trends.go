package usage

import (
	"fmt"
	"math"
)

// Trend defaults, matching the usage panel's forecast settings.
const (
	DefaultHorizon    = 10
	DefaultConfidence = 0.95
)

// TrendSummary describes where a spending series sits now and where it is
// heading, based on a simple linear fit.
type TrendSummary struct {
	Current     float64 // fitted value at the latest observation
	CurrentLow  float64 // confidence interval bounds for Current
	CurrentHigh float64

	PSlopePositive   float64 // probability the series is rising
	PFuturePositive  float64 // probability the value is above zero at the horizon
	Slope, Intercept float64
}

// SummarizeTrend fits a least-squares line through the ordered observations
// and derives the current estimate with its confidence interval plus the
// probabilities that the slope is positive and that the value will still be
// above zero horizon steps ahead.
func SummarizeTrend(values []float64, horizon int, confidence float64) (*TrendSummary, error) {
	n := len(values)
	if n < 2 {
		return nil, fmt.Errorf("at least two data points are required to assess a trend")
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for _, y := range values {
		yMean += y
	}
	yMean /= float64(n)

	var denom, num float64
	for i, y := range values {
		dx := float64(i) - xMean
		denom += dx * dx
		num += dx * (y - yMean)
	}
	slope := num / denom
	intercept := yMean - slope*xMean

	// Residual standard error quantifies noise around the fit. Two points
	// determine the line exactly, leaving zero residual freedom; treat that
	// fit as noiseless rather than dividing by n-2 = 0.
	var sErr float64
	if n > 2 {
		var ssr float64
		for i, y := range values {
			r := y - (intercept + slope*float64(i))
			ssr += r * r
		}
		sErr = math.Sqrt(ssr / float64(n-2))
	}

	slopeSE := sErr / math.Sqrt(denom)

	currentX := float64(n - 1)
	current := intercept + slope*currentX
	currentSE := sErr * math.Sqrt(1/float64(n)+(currentX-xMean)*(currentX-xMean)/denom)
	z := normalQuantile((1 + confidence) / 2)

	summary := &TrendSummary{
		Current:     current,
		CurrentLow:  current - z*currentSE,
		CurrentHigh: current + z*currentSE,
		Slope:       slope,
		Intercept:   intercept,
	}

	if slopeSE == 0 {
		// No observed noise, so the sign of the slope is deterministic.
		if slope > 0 {
			summary.PSlopePositive = 1
		}
	} else {
		summary.PSlopePositive = 1 - normalCDF(0, slope, slopeSE)
	}

	futureX := currentX + float64(horizon)
	futureMean := intercept + slope*futureX
	futureSE := sErr * math.Sqrt(1/float64(n)+(futureX-xMean)*(futureX-xMean)/denom)
	if futureSE == 0 {
		if futureMean > 0 {
			summary.PFuturePositive = 1
		}
	} else {
		summary.PFuturePositive = 1 - normalCDF(0, futureMean, futureSE)
	}

	return summary, nil
}

// normalCDF is the cumulative distribution of N(mu, sigma) at x.
func normalCDF(x, mu, sigma float64) float64 {
	return 0.5 * (1 + math.Erf((x-mu)/(sigma*math.Sqrt2)))
}

// normalQuantile is the inverse CDF of the standard normal.
func normalQuantile(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}
