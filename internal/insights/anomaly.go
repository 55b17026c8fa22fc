package insights

import (
	"math"

	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
)

// Anomaly is one flagged point of the recent window.
type Anomaly struct {
	// Index into the analyzed values.
	Index     int
	Value     float64
	Deviation float64 // absolute distance from the baseline mean
}

// Baseline summarizes the historical window anomalies were judged against.
type Baseline struct {
	Mean   float64
	StdDev float64
	Points int
}

// AnomalyDetector flags unusual recent values. ok=false means the series
// is too short to judge.
type AnomalyDetector interface {
	Detect(values []float64) (found []Anomaly, base Baseline, ok bool)
}

// ZScoreDetector compares the last Recent values with the mean and
// standard deviation of up to Historical values before them.
type ZScoreDetector struct {
	MinPoints  int     // default 20
	Historical int     // default 40
	Recent     int     // default 10
	K          float64 // flag when |v-mean| > K*stddev, default 2
}

// DefaultAnomaly is the built-in detector: historical points -50..-10,
// recent points -10..end, 2 sigma.
func DefaultAnomaly() ZScoreDetector {
	return ZScoreDetector{MinPoints: 20, Historical: 40, Recent: 10, K: 2}
}

func (d ZScoreDetector) Detect(values []float64) ([]Anomaly, Baseline, bool) {
	n := len(values)
	if n < d.MinPoints || n <= d.Recent {
		return nil, Baseline{}, false
	}
	recentStart := n - d.Recent
	histStart := recentStart - d.Historical
	if histStart < 0 {
		histStart = 0
	}
	hist := values[histStart:recentStart]
	base := Baseline{
		Mean:   timeseries.Mean(hist),
		StdDev: timeseries.StdDev(hist),
		Points: len(hist),
	}

	limit := d.K * base.StdDev
	var found []Anomaly
	for i := recentStart; i < n; i++ {
		dev := math.Abs(values[i] - base.Mean)
		if dev > limit {
			found = append(found, Anomaly{Index: i, Value: values[i], Deviation: dev})
		}
	}
	return found, base, true
}
