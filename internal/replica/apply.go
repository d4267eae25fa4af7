package replica

import (
	"context"

	"github.com/google/uuid"

	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

// applyWriteOrMetainfo advances region to version {branch, ts}, applying
// the write's payload when hasWrite is set and a metainfo-only update
// otherwise. The write token is acquired by the caller so that
// concurrent appliers hit the store in a deterministic order.
func applyWriteOrMetainfo(ctx context.Context, st store.Store, branchID uuid.UUID,
	region model.Region, hasWrite bool, write model.Write, ts model.StateTimestamp,
	tok *store.WriteToken, order model.OrderToken) error {

	newMetainfo := model.NewRegionMap(region, model.Version{Branch: branchID, Timestamp: ts})
	if hasWrite {
		var resp model.WriteResponse
		return st.Write(ctx, newMetainfo, write, &resp, store.DurabilitySoft, ts, order, tok)
	}
	return st.SetMetainfo(ctx, newMetainfo, order, tok, store.DurabilitySoft)
}
