package timeseries

import (
	"fmt"
	"math"
	"sort"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Aggregate reduces points with agg. AggNone and AggLast return the most
// recent value. rate is the value delta per second between the first and
// last point. ok is false for an empty input.
func Aggregate(points []types.DataPoint, agg types.Aggregation) (value float64, ok bool, err error) {
	if len(points) == 0 {
		return 0, false, nil
	}
	switch agg {
	case types.AggRate:
		if len(points) < 2 {
			return 0, true, nil
		}
		first, last := points[0], points[len(points)-1]
		secs := last.Timestamp.Sub(first.Timestamp).Seconds()
		if secs <= 0 {
			return 0, true, nil
		}
		return (last.Value - first.Value) / secs, true, nil
	case types.AggNone, types.AggLast:
		return points[len(points)-1].Value, true, nil
	}
	v, err := Reduce(types.Values(points), agg)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Reduce applies a value-only aggregation to a non-empty slice.
func Reduce(values []float64, agg types.Aggregation) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("no values")
	}
	switch agg {
	case types.AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case types.AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case types.AggSum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case types.AggAvg:
		return Mean(values), nil
	case types.AggCount:
		return float64(len(values)), nil
	case types.AggLast, types.AggNone:
		return values[len(values)-1], nil
	case types.AggP50:
		return Percentile(values, 50), nil
	case types.AggP95:
		return Percentile(values, 95), nil
	case types.AggP99:
		return Percentile(values, 99), nil
	default:
		return 0, fmt.Errorf("unsupported aggregation %q", agg)
	}
}

// Percentile uses linear interpolation between closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
