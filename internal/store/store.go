package store

import (
	"context"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// Durability selects how hard the store tries to persist a write before
// acknowledging it. Bootstrap writes are soft; the caller picks for
// synchronous writes.
type Durability int

const (
	DurabilitySoft Durability = iota
	DurabilityHard
)

// WriteToken reserves a slot in the store's write pipeline. Tokens are
// issued in FIFO order and the store applies writes in issue order, which
// is what lets concurrent appliers preserve the global write order.
type WriteToken struct {
	seq   uint64
	valid bool
}

// ReadToken reserves a slot in the store's read pipeline.
type ReadToken struct {
	seq   uint64
	valid bool
}

// Store is the on-disk engine as seen by the bootstrap machinery. The
// real engine lives elsewhere; everything here treats it through this
// interface.
type Store interface {
	// GetRegion returns the region this store holds keys for.
	GetRegion() model.Region

	// WaitUntilOKToReceiveBackfill blocks while the store is temporarily
	// unable to ingest backfill data, e.g. while building an index.
	WaitUntilOKToReceiveBackfill(ctx context.Context) error

	// NewWriteToken issues the next write-pipeline slot.
	NewWriteToken(tok *WriteToken)

	// NewReadToken issues the next read-pipeline slot.
	NewReadToken(tok *ReadToken)

	// GetMetainfo returns the version annotation over region.
	GetMetainfo(ctx context.Context, tok *ReadToken, region model.Region) (model.RegionMap[model.Version], error)

	// SetMetainfo updates version annotations without touching data.
	SetMetainfo(ctx context.Context, metainfo model.RegionMap[model.Version],
		order model.OrderToken, tok *WriteToken, durability Durability) error

	// Write applies a write together with its new metainfo.
	Write(ctx context.Context, metainfo model.RegionMap[model.Version], write model.Write,
		resp *model.WriteResponse, durability Durability, ts model.StateTimestamp,
		order model.OrderToken, tok *WriteToken) error

	// Read serves a point lookup.
	Read(ctx context.Context, read model.Read, tok *ReadToken) (model.ReadResponse, error)

	// ReceiveBackfill ingests one backfill chunk: raw items plus the
	// version annotation the source captured them at.
	ReceiveBackfill(ctx context.Context, region model.Region,
		items []model.BackfillItem, metainfo model.RegionMap[model.Version]) error
}
