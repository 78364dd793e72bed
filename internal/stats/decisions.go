package stats

import (
	"unitygate/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// DecisionBreakdown reads the per-verdict decision counters.
func DecisionBreakdown() map[string]float64 {
	ch := make(chan prometheus.Metric, 8)
	go func() {
		metrics.DecisionTotal.Collect(ch)
		close(ch)
	}()
	out := make(map[string]float64)
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil || pb.Counter == nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			if lp.GetName() == "verdict" {
				out[lp.GetValue()] = pb.GetCounter().GetValue()
			}
		}
	}
	return out
}
