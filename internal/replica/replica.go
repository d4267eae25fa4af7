package replica

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

// Replica is the post-bootstrap façade: once the store is synchronized
// with the primary, every write and read goes straight through here with
// none of the bootstrap machinery in the way.
type Replica struct {
	st       store.Store
	branchID uuid.UUID
	logger   *zap.Logger

	// Tracks applied writes so reads can wait for their minimum
	// timestamp.
	enforcer *TimestampEnforcer
}

// NewReplica returns a façade over a store whose entire region is at
// {branchID, current} on the given branch.
func NewReplica(st store.Store, history *branch.HistoryManager, branchID uuid.UUID,
	current model.StateTimestamp, logger *zap.Logger) *Replica {
	if !history.Knows(branchID) {
		logger.Warn("Replica created for unrecorded branch",
			zap.String("branch", branchID.String()))
	}
	return &Replica{
		st:       st,
		branchID: branchID,
		logger:   logger,
		enforcer: NewTimestampEnforcer(current),
	}
}

// DoWrite applies one write over the replica's whole region at ts.
func (r *Replica) DoWrite(ctx context.Context, write model.Write, ts model.StateTimestamp,
	order model.OrderToken, durability store.Durability) (model.WriteResponse, error) {

	// Serialize on the predecessor so concurrent callers acquire write
	// tokens in timestamp order.
	if err := r.enforcer.WaitAllBefore(ctx, ts.Pred()); err != nil {
		return model.WriteResponse{}, err
	}

	var tok store.WriteToken
	r.st.NewWriteToken(&tok)

	region := r.st.GetRegion()
	newMetainfo := model.NewRegionMap(region, model.Version{Branch: r.branchID, Timestamp: ts})

	var resp model.WriteResponse
	err := r.st.Write(ctx, newMetainfo, write, &resp, durability, ts, order, &tok)
	if err != nil {
		return model.WriteResponse{}, err
	}
	r.enforcer.Complete(ts)
	return resp, nil
}

// DoRead serves a read once every write up to minTimestamp has been
// applied.
func (r *Replica) DoRead(ctx context.Context, read model.Read,
	minTimestamp model.StateTimestamp) (model.ReadResponse, error) {

	if err := r.enforcer.WaitAllBefore(ctx, minTimestamp); err != nil {
		return model.ReadResponse{}, err
	}
	var tok store.ReadToken
	r.st.NewReadToken(&tok)
	return r.st.Read(ctx, read, &tok)
}

// CurrentTimestamp returns the latest timestamp through which all writes
// have been applied.
func (r *Replica) CurrentTimestamp() model.StateTimestamp {
	return r.enforcer.LatestAllBeforeCompleted()
}

// WaitTimestamp blocks until all writes up to ts have been applied. This
// is the watermark a backfill source consults before promising captures
// past ts.
func (r *Replica) WaitTimestamp(ctx context.Context, ts model.StateTimestamp) error {
	return r.enforcer.WaitAllBefore(ctx, ts)
}
