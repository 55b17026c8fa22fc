package alerting

import (
	"fmt"
	"math"
	"time"

	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// ConditionEvaluator reduces a rule's window to the single value the
// operator is applied to. ok=false means the window cannot produce a value
// and the rule does not fire.
type ConditionEvaluator interface {
	Reduce(window []types.DataPoint, c types.Condition) (value float64, ok bool, err error)
}

// EvaluatorFunc adapts a function to ConditionEvaluator.
type EvaluatorFunc func(window []types.DataPoint, c types.Condition) (float64, bool, error)

func (f EvaluatorFunc) Reduce(window []types.DataPoint, c types.Condition) (float64, bool, error) {
	return f(window, c)
}

func defaultEvaluators() map[types.ConditionType]ConditionEvaluator {
	return map[types.ConditionType]ConditionEvaluator{
		types.ConditionThreshold: EvaluatorFunc(reduceThreshold),
		types.ConditionChange:    EvaluatorFunc(reduceChange),
		types.ConditionAnomaly:   EvaluatorFunc(reduceAnomaly),
		types.ConditionForecast:  EvaluatorFunc(reduceForecast),
	}
}

// reduceThreshold applies the condition's aggregation; without one it
// uses the most recent value.
func reduceThreshold(window []types.DataPoint, c types.Condition) (float64, bool, error) {
	return timeseries.Aggregate(window, c.Aggregation)
}

// reduceChange is the percent change from the first to the last point.
func reduceChange(window []types.DataPoint, _ types.Condition) (float64, bool, error) {
	if len(window) < 2 {
		return 0, false, nil
	}
	first, last := window[0].Value, window[len(window)-1].Value
	if first == 0 {
		return 0, false, nil
	}
	return (last - first) / math.Abs(first) * 100, true, nil
}

// reduceAnomaly is the z-score of the latest point against the rest of the
// window.
func reduceAnomaly(window []types.DataPoint, _ types.Condition) (float64, bool, error) {
	if len(window) < 3 {
		return 0, false, nil
	}
	baseline := types.Values(window[:len(window)-1])
	std := timeseries.StdDev(baseline)
	if std == 0 {
		return 0, false, nil
	}
	latest := window[len(window)-1].Value
	return (latest - timeseries.Mean(baseline)) / std, true, nil
}

// reduceForecast projects the window's linear trend Duration ahead of the
// last point. Without a Duration the projection horizon is the window.
func reduceForecast(window []types.DataPoint, c types.Condition) (float64, bool, error) {
	n := len(window)
	if n < 2 {
		return 0, false, nil
	}
	span := window[n-1].Timestamp.Sub(window[0].Timestamp)
	if span <= 0 {
		return 0, false, nil
	}
	horizon := c.Duration
	if horizon <= 0 {
		horizon = c.TimeWindow
	}
	step := span / time.Duration(n-1)
	if step <= 0 {
		return 0, false, nil
	}
	slope, intercept := timeseries.LinearRegression(types.Values(window))
	ahead := float64(horizon) / float64(step)
	return intercept + slope*(float64(n-1)+ahead), true, nil
}

func describe(c types.Condition, value float64, metricID string) string {
	agg := string(c.Aggregation)
	if agg == "" {
		agg = "last"
	}
	kind := string(c.Type)
	if kind == "" || c.Type == types.ConditionThreshold {
		kind = agg
	}
	switch c.Operator {
	case types.OpBetween:
		return fmt.Sprintf("%s %s %.2f within [%.2f, %.2f]", metricID, kind, value, c.Min, c.Max)
	case types.OpOutside:
		return fmt.Sprintf("%s %s %.2f outside [%.2f, %.2f]", metricID, kind, value, c.Min, c.Max)
	default:
		return fmt.Sprintf("%s %s %.2f %s %.2f", metricID, kind, value, c.Operator, c.Value)
	}
}
