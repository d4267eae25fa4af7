// Package backfill moves historical key-range state from a peer replica
// to a bootstrapping one. The consumer drives a Backfiller with a
// progress callback; the source cuts the peer's data into contiguous
// chunks in ascending key order and the callback decides after each chunk
// whether to keep going.
package backfill

import (
	"context"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// Chunk is one contiguous slice of backfilled state. Versions covers the
// whole chunk region, including key gaps, with the versions the source
// captured it at. Checksum covers the items in order.
type Chunk struct {
	Region   model.Region
	Items    []model.BackfillItem
	Versions model.RegionMap[model.Version]
	Checksum uint32
}

// ProgressFunc consumes one chunk. Returning false stops the backfill at
// this chunk boundary; the pass can resume later from the cursor.
type ProgressFunc func(chunk Chunk) bool

// Backfiller is the consumer-side handle on a backfill source.
type Backfiller interface {
	// Synchronize round-trips to the source and returns once the
	// source's captures are guaranteed to reach at least ts.
	Synchronize(ctx context.Context, ts model.StateTimestamp) error

	// Go streams chunks in ascending key order starting at left,
	// invoking progress for each, until the region is exhausted,
	// progress returns false, or ctx is cancelled.
	Go(ctx context.Context, progress ProgressFunc, left model.RightBound) error
}

// Watermark reports how far a data source has advanced, so Synchronize
// can wait for it to catch up.
type Watermark interface {
	// WaitTimestamp blocks until the source has applied all writes with
	// timestamps up to and including ts.
	WaitTimestamp(ctx context.Context, ts model.StateTimestamp) error
}
