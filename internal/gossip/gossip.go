// Package gossip propagates replica liveness and bootstrap state across
// the cluster. Peers learn whether a replica is still backfilling or
// ready to serve without asking the primary.
package gossip

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/config"
	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/model"
)

// Service manages cluster membership and health propagation
type Service struct {
	config     *config.GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	logger     *zap.Logger
	m          *metrics.Metrics

	mu         sync.Mutex
	healthData *model.HealthStatus
}

// NewService creates a running gossip service
func NewService(cfg *config.GossipConfig, nodeID string, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	s := &Service{
		config: cfg,
		nodeID: nodeID,
		logger: logger,
		m:      m,
		healthData: &model.HealthStatus{
			NodeID:    nodeID,
			Status:    model.NodeStatusHealthy,
			Bootstrap: model.BootstrapStateIdle,
			Timestamp: time.Now().Unix(),
		},
	}

	// Configure memberlist
	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = s
	mlConfig.Events = &eventDelegate{service: s}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	// Join seed nodes
	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return s, nil
}

// NodeMeta implements memberlist.Delegate
func (s *Service) NodeMeta(limit int) []byte {
	s.mu.Lock()
	data, _ := json.Marshal(s.healthData)
	s.mu.Unlock()
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *Service) NotifyMsg(data []byte) {
	var healthStatus model.HealthStatus
	if err := json.Unmarshal(data, &healthStatus); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}

	s.logger.Debug("Received peer health status",
		zap.String("node_id", healthStatus.NodeID),
		zap.String("status", string(healthStatus.Status)),
		zap.String("bootstrap", string(healthStatus.Bootstrap)))
}

// GetBroadcasts implements memberlist.Delegate
func (s *Service) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *Service) LocalState(join bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(s.healthData)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *Service) MergeRemoteState(buf []byte, join bool) {
	// No-op for now
}

// SetBootstrapState publishes where this replica is in its bootstrap.
func (s *Service) SetBootstrapState(state model.BootstrapState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthData.Bootstrap = state
	s.healthData.Timestamp = time.Now().Unix()
}

// UpdateHealthStatus updates the local health status
func (s *Service) UpdateHealthStatus(hm model.HealthMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthData.Timestamp = time.Now().Unix()
	s.healthData.Metrics = hm

	if hm.ErrorRate > 0.1 {
		s.healthData.Status = model.NodeStatusUnhealthy
	} else if hm.MemoryUsage > 90 {
		s.healthData.Status = model.NodeStatusDegraded
	} else {
		s.healthData.Status = model.NodeStatusHealthy
	}

	if s.m != nil {
		s.m.GossipMembersTotal.Set(float64(s.memberlist.NumMembers()))
	}
}

// Members returns the currently known member names.
func (s *Service) Members() []string {
	nodes := s.memberlist.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Shutdown shuts down the gossip service
func (s *Service) Shutdown() error {
	return s.memberlist.Shutdown()
}

// eventDelegate handles memberlist events
type eventDelegate struct {
	service *Service
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	if d.service.m != nil && d.service.memberlist != nil {
		d.service.m.GossipMembersTotal.Set(float64(d.service.memberlist.NumMembers()))
	}
}

// NotifyLeave is called when a node leaves
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
