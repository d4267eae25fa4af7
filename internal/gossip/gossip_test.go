package gossip

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/config"
	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/model"
)

func newTestService(t *testing.T, nodeID string) *Service {
	t.Helper()
	m := metrics.NewMetrics(nodeID, prometheus.NewRegistry())
	svc, err := NewService(&config.GossipConfig{
		Enabled:  true,
		BindPort: 0, // OS-assigned, so parallel test runs do not collide
	}, nodeID, m, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}

func TestServiceSelfMembership(t *testing.T) {
	svc := newTestService(t, "node-1")
	assert.Contains(t, svc.Members(), "node-1")
}

func TestServiceBootstrapStateInMeta(t *testing.T) {
	svc := newTestService(t, "node-2")

	svc.SetBootstrapState(model.BootstrapStateBackfilling)
	meta := svc.NodeMeta(512)
	assert.Contains(t, string(meta), string(model.BootstrapStateBackfilling))

	svc.SetBootstrapState(model.BootstrapStateReady)
	meta = svc.NodeMeta(512)
	assert.Contains(t, string(meta), string(model.BootstrapStateReady))
}

func TestServiceHealthTransitions(t *testing.T) {
	svc := newTestService(t, "node-3")

	svc.UpdateHealthStatus(model.HealthMetrics{ErrorRate: 0.5})
	assert.Contains(t, string(svc.LocalState(false)), string(model.NodeStatusUnhealthy))

	svc.UpdateHealthStatus(model.HealthMetrics{})
	assert.Contains(t, string(svc.LocalState(false)), string(model.NodeStatusHealthy))
}
