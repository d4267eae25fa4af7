package store

import (
	"context"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

const btreeDegree = 16

type item struct {
	key   model.Key
	value []byte
}

func itemLess(a, b item) bool {
	return a.key < b.key
}

// MemStore is a btree-backed store engine. It keeps the data plane and
// the metainfo plane consistent under one mutex and enforces FIFO apply
// order over write tokens.
type MemStore struct {
	region model.Region
	logger *zap.Logger

	mu       sync.Mutex
	tree     *btree.BTreeG[item]
	metainfo model.RegionMap[model.Version]

	// Token FIFO. Write and read tokens are issued from one sequence and
	// consumed in issue order, so a read issued after a write always
	// observes it; an abandoned token (cancelled before use) is skipped
	// so later holders are not wedged.
	fifoMu    sync.Mutex
	fifoCond  *sync.Cond
	issueSeq  uint64
	applySeq  uint64
	abandoned map[uint64]struct{}

	// Closed while the store can ingest backfill. Swapped out whole when
	// ingestion is paused, so waiters always see a fresh gate.
	gateMu       sync.Mutex
	backfillGate chan struct{}
}

// NewMemStore returns a store covering region with every key annotated
// with the initial version.
func NewMemStore(region model.Region, initial model.Version, logger *zap.Logger) *MemStore {
	s := &MemStore{
		region:       region,
		logger:       logger,
		tree:         btree.NewG[item](btreeDegree, itemLess),
		metainfo:     model.NewRegionMap(region, initial),
		abandoned:    make(map[uint64]struct{}),
		backfillGate: make(chan struct{}),
	}
	s.fifoCond = sync.NewCond(&s.fifoMu)
	close(s.backfillGate)
	return s
}

// GetRegion returns the region this store holds keys for.
func (s *MemStore) GetRegion() model.Region {
	return s.region
}

// SetBackfillReady opens or closes the backfill ingestion gate. A store
// building a secondary index closes it; WaitUntilOKToReceiveBackfill
// blocks until it reopens.
func (s *MemStore) SetBackfillReady(ready bool) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	select {
	case <-s.backfillGate:
		if !ready {
			s.backfillGate = make(chan struct{})
		}
	default:
		if ready {
			close(s.backfillGate)
		}
	}
}

// WaitUntilOKToReceiveBackfill blocks until the ingestion gate is open.
func (s *MemStore) WaitUntilOKToReceiveBackfill(ctx context.Context) error {
	s.gateMu.Lock()
	gate := s.backfillGate
	s.gateMu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewWriteToken issues the next write-pipeline slot.
func (s *MemStore) NewWriteToken(tok *WriteToken) {
	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	tok.seq = s.issueSeq
	tok.valid = true
	s.issueSeq++
}

// NewReadToken issues the next pipeline slot for a read.
func (s *MemStore) NewReadToken(tok *ReadToken) {
	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	tok.seq = s.issueSeq
	tok.valid = true
	s.issueSeq++
}

// waitTurn blocks until the slot is at the head of the pipeline. On
// cancellation the slot is marked abandoned so successors can pass.
func (s *MemStore) waitTurn(ctx context.Context, seq uint64, valid *bool) error {
	if !*valid {
		panic("store: token used before issue or after use")
	}
	stop := context.AfterFunc(ctx, func() {
		s.fifoCond.Broadcast()
	})
	defer stop()

	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			s.abandoned[seq] = struct{}{}
			*valid = false
			s.advanceLocked()
			s.fifoCond.Broadcast()
			return err
		}
		if s.applySeq == seq {
			return nil
		}
		s.fifoCond.Wait()
	}
}

// finishTurn retires a slot and wakes the next holder.
func (s *MemStore) finishTurn(valid *bool) {
	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	*valid = false
	s.applySeq++
	s.advanceLocked()
	s.fifoCond.Broadcast()
}

func (s *MemStore) advanceLocked() {
	for {
		if _, ok := s.abandoned[s.applySeq]; !ok {
			return
		}
		delete(s.abandoned, s.applySeq)
		s.applySeq++
	}
}

// GetMetainfo returns the version annotation over region, once every
// write issued before the read token has been applied.
func (s *MemStore) GetMetainfo(ctx context.Context, tok *ReadToken, region model.Region) (model.RegionMap[model.Version], error) {
	if err := s.waitTurn(ctx, tok.seq, &tok.valid); err != nil {
		return model.RegionMap[model.Version]{}, err
	}
	defer s.finishTurn(&tok.valid)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metainfo.Mask(region), nil
}

// SetMetainfo updates version annotations without touching data.
func (s *MemStore) SetMetainfo(ctx context.Context, metainfo model.RegionMap[model.Version],
	order model.OrderToken, tok *WriteToken, durability Durability) error {
	if err := s.waitTurn(ctx, tok.seq, &tok.valid); err != nil {
		return err
	}
	defer s.finishTurn(&tok.valid)

	s.mu.Lock()
	defer s.mu.Unlock()
	metainfo.Visit(func(sub model.Region, v model.Version) {
		s.metainfo.Update(sub, v)
	})
	return nil
}

// Write applies a write together with its new metainfo.
func (s *MemStore) Write(ctx context.Context, metainfo model.RegionMap[model.Version], write model.Write,
	resp *model.WriteResponse, durability Durability, ts model.StateTimestamp,
	order model.OrderToken, tok *WriteToken) error {
	if err := s.waitTurn(ctx, tok.seq, &tok.valid); err != nil {
		return err
	}
	defer s.finishTurn(&tok.valid)

	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for _, op := range write.Ops {
		if !s.region.Contains(op.Key) {
			s.logger.Error("write op outside store region",
				zap.String("key", string(op.Key)),
				zap.String("region", s.region.String()))
			continue
		}
		if op.Delete {
			s.tree.Delete(item{key: op.Key})
		} else {
			s.tree.ReplaceOrInsert(item{key: op.Key, value: op.Value})
		}
		applied++
	}
	metainfo.Visit(func(sub model.Region, v model.Version) {
		s.metainfo.Update(sub, v)
	})
	if resp != nil {
		resp.Applied = applied
	}
	return nil
}

// Read serves a point lookup, once every write issued before the read
// token has been applied.
func (s *MemStore) Read(ctx context.Context, read model.Read, tok *ReadToken) (model.ReadResponse, error) {
	if err := s.waitTurn(ctx, tok.seq, &tok.valid); err != nil {
		return model.ReadResponse{}, err
	}
	defer s.finishTurn(&tok.valid)

	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.tree.Get(item{key: read.Key}); ok {
		return model.ReadResponse{Found: true, Value: it.value}, nil
	}
	return model.ReadResponse{Found: false}, nil
}

// ReceiveBackfill ingests one backfill chunk.
func (s *MemStore) ReceiveBackfill(ctx context.Context, region model.Region,
	items []model.BackfillItem, metainfo model.RegionMap[model.Version]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bi := range items {
		if !region.Contains(bi.Key) {
			s.logger.Error("backfill item outside chunk region",
				zap.String("key", string(bi.Key)),
				zap.String("region", region.String()))
			continue
		}
		if bi.Deleted {
			s.tree.Delete(item{key: bi.Key})
		} else {
			s.tree.ReplaceOrInsert(item{key: bi.Key, value: bi.Value})
		}
	}
	metainfo.Visit(func(sub model.Region, v model.Version) {
		s.metainfo.Update(sub, v)
	})
	return nil
}

// SnapshotRange returns up to maxItems items starting at left together
// with the metainfo over the prefix they cover, read atomically so the
// capture timestamps never claim writes the items do not reflect. The
// returned bound is the right edge of the covered prefix; covered is
// false when maxItems stopped the scan short of right.
func (s *MemStore) SnapshotRange(ctx context.Context, tok *ReadToken, left model.Key,
	right model.RightBound, maxItems int) ([]model.BackfillItem, model.RegionMap[model.Version], model.RightBound, bool, error) {

	if err := s.waitTurn(ctx, tok.seq, &tok.valid); err != nil {
		return nil, model.RegionMap[model.Version]{}, model.RightBound{}, false, err
	}
	defer s.finishTurn(&tok.valid)

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []model.BackfillItem
	truncated := false
	s.tree.AscendGreaterOrEqual(item{key: left}, func(it item) bool {
		if !right.Admits(it.key) {
			return false
		}
		if len(items) == maxItems {
			truncated = true
			return false
		}
		items = append(items, model.BackfillItem{Key: it.key, Value: it.value})
		return true
	})

	bound := right
	covered := true
	if truncated {
		bound = model.BoundedRight(items[len(items)-1].Key + "\x00")
		if !bound.Less(right) {
			bound = right
		} else {
			covered = false
		}
	}

	sub := s.region.WithInner(model.KeyRange{Left: left, Right: bound})
	return items, s.metainfo.Mask(sub), bound, covered, nil
}

// AscendRange walks items with keys in [left, right) in ascending order.
// It takes no pipeline token; chunk cutting goes through SnapshotRange.
func (s *MemStore) AscendRange(left model.Key, right model.RightBound, f func(model.Key, []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.AscendGreaterOrEqual(item{key: left}, func(it item) bool {
		if !right.Admits(it.key) {
			return false
		}
		return f(it.key, it.value)
	})
}
