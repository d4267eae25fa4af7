package replica

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ts(v uint64) model.StateTimestamp {
	return model.StateTimestamp(v)
}

func keyRegion(left model.Key, right model.RightBound) model.Region {
	return model.NewRegion(0, ^uint64(0), model.KeyRange{Left: left, Right: right})
}

func fullRegion() model.Region {
	return keyRegion("", model.UnboundedRight())
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics("test", prometheus.NewRegistry())
}

// tsMap builds a capture-timestamp map over region: run i starts at
// lefts[i] (lefts[0] must be the region's left edge) and carries tss[i].
func tsMap(region model.Region, lefts []model.Key, tss []model.StateTimestamp) model.RegionMap[model.StateTimestamp] {
	m := model.NewRegionMap(region, tss[0])
	for i := 1; i < len(lefts); i++ {
		m.Update(region.WithInner(model.KeyRange{Left: lefts[i], Right: region.Inner.Right}), tss[i])
	}
	return m
}
