// Package branch keeps durable bookkeeping of branch lineage. Every
// branch a replica ever joins has a birth certificate recording where it
// forked from; the bootstrap engine records the branch it is joining and
// the façade consults the manager when it is created.
package branch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// BirthCertificate records the origin of one branch.
type BirthCertificate struct {
	Branch           uuid.UUID
	Region           model.Region
	InitialTimestamp model.StateTimestamp
}

// HistoryManager is an in-memory registry of birth certificates.
type HistoryManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	records map[uuid.UUID]BirthCertificate
}

// NewHistoryManager returns an empty registry.
func NewHistoryManager(logger *zap.Logger) *HistoryManager {
	return &HistoryManager{
		logger:  logger,
		records: make(map[uuid.UUID]BirthCertificate),
	}
}

// Record stores a certificate. Recording the same certificate twice is a
// no-op; recording a conflicting one for a known branch is an error.
func (m *HistoryManager) Record(cert BirthCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[cert.Branch]; ok {
		if existing.InitialTimestamp != cert.InitialTimestamp || !existing.Region.Equal(cert.Region) {
			return fmt.Errorf("conflicting birth certificate for branch %s", cert.Branch)
		}
		return nil
	}
	m.records[cert.Branch] = cert
	m.logger.Debug("Recorded branch birth certificate",
		zap.String("branch", cert.Branch.String()),
		zap.Uint64("initial_timestamp", uint64(cert.InitialTimestamp)))
	return nil
}

// Get looks up the certificate for a branch.
func (m *HistoryManager) Get(branch uuid.UUID) (BirthCertificate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cert, ok := m.records[branch]
	return cert, ok
}

// Knows reports whether a branch has been recorded.
func (m *HistoryManager) Knows(branch uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[branch]
	return ok
}
