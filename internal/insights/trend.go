package insights

import (
	"math"

	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Trend is the outcome of a trend analysis worth reporting.
type Trend struct {
	Slope      float64
	Direction  string // increasing, decreasing or stable
	Confidence float64
	Severity   types.Severity
}

// TrendAnalyzer inspects a series of values. ok=false means nothing worth
// reporting.
type TrendAnalyzer interface {
	Trend(values []float64) (trend Trend, ok bool)
}

// OLSTrend fits value against point index by least squares.
type OLSTrend struct {
	MinPoints int     // default 10
	MinSlope  float64 // report above this |slope|, default 0.1
	WarnSlope float64 // warning above this |slope|, default 0.5
}

// DefaultTrend is the built-in trend analyzer.
func DefaultTrend() OLSTrend {
	return OLSTrend{MinPoints: 10, MinSlope: 0.1, WarnSlope: 0.5}
}

func (a OLSTrend) Trend(values []float64) (Trend, bool) {
	if len(values) < a.MinPoints {
		return Trend{}, false
	}
	slope, _ := timeseries.LinearRegression(values)
	abs := math.Abs(slope)
	if abs <= a.MinSlope {
		return Trend{}, false
	}
	t := Trend{
		Slope:      slope,
		Direction:  direction(slope),
		Confidence: math.Min(abs*100, 100),
		Severity:   types.SeverityInfo,
	}
	if abs > a.WarnSlope {
		t.Severity = types.SeverityWarning
	}
	return t, true
}

func direction(slope float64) string {
	switch {
	case slope > 0:
		return "increasing"
	case slope < 0:
		return "decreasing"
	default:
		return "stable"
	}
}
