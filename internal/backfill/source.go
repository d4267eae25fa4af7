package backfill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/errors"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/store"
	"github.com/devrev/pairdb/replica-node/internal/util"
	"github.com/devrev/pairdb/replica-node/internal/util/syncutil"
)

// SynchronizeRequest asks the source to ack once its captures reach TS.
type SynchronizeRequest struct {
	TS  model.StateTimestamp
	Ack mailbox.Address[struct{}]
}

// Source serves backfill chunks out of a peer's store. Chunk cutting
// reads the store directly; Synchronize goes through the source's
// mailbox the way a remote consumer would.
type Source struct {
	mgr       *mailbox.Manager
	peer      *store.MemStore
	watermark Watermark
	chunkMax  int
	logger    *zap.Logger

	// runCtx unparks waiting synchronize handlers when the source shuts
	// down, independent of the fabric's lifetime.
	runCtx    context.Context
	runCancel context.CancelFunc

	syncMailbox *mailbox.Mailbox[SynchronizeRequest]
}

// NewSource returns a source serving the peer store's region.
func NewSource(mgr *mailbox.Manager, peer *store.MemStore, watermark Watermark,
	chunkMaxKeys int, logger *zap.Logger) *Source {
	s := &Source{
		mgr:       mgr,
		peer:      peer,
		watermark: watermark,
		chunkMax:  chunkMaxKeys,
		logger:    logger,
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.syncMailbox = mailbox.New(mgr, "backfill-synchronize",
		func(ctx context.Context, req SynchronizeRequest) {
			ctx, cancel := syncutil.LinkedContext(ctx, s.runCtx)
			defer cancel()
			if err := s.watermark.WaitTimestamp(ctx, req.TS); err != nil {
				return
			}
			mailbox.Send(mgr, req.Ack, struct{}{})
		})
	return s
}

// Close tears down the source's mailboxes, unparking any waiting
// synchronize handlers first.
func (s *Source) Close() {
	s.runCancel()
	s.syncMailbox.Close()
}

// SynchronizeAddress returns the address remote consumers synchronize
// through.
func (s *Source) SynchronizeAddress() mailbox.Address[SynchronizeRequest] {
	return s.syncMailbox.Address()
}

// Synchronize round-trips a synchronize request through the mailbox
// fabric and waits for the ack.
func (s *Source) Synchronize(ctx context.Context, ts model.StateTimestamp) error {
	acked := make(chan struct{}, 1)
	ackBox := mailbox.New(s.mgr, "backfill-synchronize-ack",
		func(_ context.Context, _ struct{}) {
			select {
			case acked <- struct{}{}:
			default:
			}
		})
	defer ackBox.Close()

	if !mailbox.Send(s.mgr, s.syncMailbox.Address(), SynchronizeRequest{TS: ts, Ack: ackBox.Address()}) {
		return errors.BackfillerGone("source", nil)
	}
	select {
	case <-acked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go streams chunks from left to the end of the peer's region.
func (s *Source) Go(ctx context.Context, progress ProgressFunc, left model.RightBound) error {
	region := s.peer.GetRegion()
	if left.Unbounded {
		return nil
	}
	cursor := left.Key
	if cursor < region.Inner.Left {
		return fmt.Errorf("backfill left bound %q precedes region %s", cursor, region)
	}

	for {
		// Items and their capture versions are snapshotted atomically so
		// the chunk never claims a timestamp its items do not reflect.
		var tok store.ReadToken
		s.peer.NewReadToken(&tok)
		items, versions, bound, covered, err := s.peer.SnapshotRange(
			ctx, &tok, cursor, region.Inner.Right, s.chunkMax)
		if err != nil {
			return err
		}

		var sum util.ChecksumWriter
		for _, it := range items {
			sum.Add([]byte(it.Key))
			sum.Add(it.Value)
		}
		chunk := Chunk{
			Region:   region.WithInner(model.KeyRange{Left: cursor, Right: bound}),
			Items:    items,
			Versions: versions,
			Checksum: sum.Sum(),
		}
		s.logger.Debug("Cut backfill chunk",
			zap.String("chunk_region", chunk.Region.String()),
			zap.Int("items", len(chunk.Items)),
			zap.Bool("covered", covered))

		if !progress(chunk) {
			return nil
		}
		if covered {
			return nil
		}
		cursor = bound.Key
	}
}

// VerifyChunk recomputes a chunk's checksum and reports whether it
// matches what the source recorded.
func VerifyChunk(chunk Chunk) bool {
	var sum util.ChecksumWriter
	for _, it := range chunk.Items {
		sum.Add([]byte(it.Key))
		sum.Add(it.Value)
	}
	return sum.Sum() == chunk.Checksum
}
