package types

import (
	"fmt"
	"strings"
)

// Metric is the distance function an index is built and queried with.
// It is fixed for the lifetime of a store.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricL2, MetricCosine:
		return m, nil
	case "":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Score converts a raw distance into a bounded confidence.
//
// L2 distances map through 1/(1+d), which is 1 at d=0 and falls toward 0
// as d grows. Cosine distances map to 1-d, clamped to [0, 1].
func (m Metric) Score(distance float64) float64 {
	switch m {
	case MetricCosine:
		s := 1 - distance
		if s < 0 {
			return 0
		}
		if s > 1 {
			return 1
		}
		return s
	default:
		if distance < 0 {
			distance = 0
		}
		return 1 / (1 + distance)
	}
}

func (m Metric) String() string {
	return string(m)
}
