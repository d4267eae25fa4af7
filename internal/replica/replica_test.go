package replica

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

func facadeFixture(t *testing.T, current model.StateTimestamp) (*Replica, *store.MemStore, uuid.UUID) {
	t.Helper()
	logger := zap.NewNop()
	branchID := uuid.New()
	st := store.NewMemStore(fullRegion(), model.Version{Branch: branchID, Timestamp: current}, logger)
	history := branch.NewHistoryManager(logger)
	require.NoError(t, history.Record(branch.BirthCertificate{Branch: branchID, Region: st.GetRegion()}))
	return NewReplica(st, history, branchID, current, logger), st, branchID
}

func TestReplicaWriteAndRead(t *testing.T) {
	rep, st, branchID := facadeFixture(t, 10)
	ctx := context.Background()

	resp, err := rep.DoWrite(ctx, model.NewWrite(model.PointOp{Key: "k", Value: []byte("v")}),
		11, model.OrderToken{Source: "t", Seq: 1}, store.DurabilityHard)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, ts(11), rep.CurrentTimestamp())

	read, err := rep.DoRead(ctx, model.Read{Key: "k"}, 11)
	require.NoError(t, err)
	assert.True(t, read.Found)
	assert.Equal(t, "v", string(read.Value))

	// The whole region's version advanced.
	assert.Equal(t, ts(11), metainfoAt(t, st, "unrelated").Timestamp)
	assert.Equal(t, branchID, metainfoAt(t, st, "unrelated").Branch)
}

func TestReplicaReadWaitsForMinTimestamp(t *testing.T) {
	rep, _, _ := facadeFixture(t, 10)
	ctx := context.Background()

	got := make(chan model.ReadResponse, 1)
	go func() {
		resp, err := rep.DoRead(ctx, model.Read{Key: "k"}, 12)
		assert.NoError(t, err)
		got <- resp
	}()

	select {
	case <-got:
		t.Fatal("read returned before its minimum timestamp was applied")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := rep.DoWrite(ctx, model.NewWrite(model.PointOp{Key: "k", Value: []byte("v11")}),
		11, model.OrderToken{Source: "t", Seq: 1}, store.DurabilitySoft)
	require.NoError(t, err)
	_, err = rep.DoWrite(ctx, model.NewWrite(model.PointOp{Key: "k", Value: []byte("v12")}),
		12, model.OrderToken{Source: "t", Seq: 2}, store.DurabilitySoft)
	require.NoError(t, err)

	select {
	case resp := <-got:
		assert.True(t, resp.Found)
		assert.Equal(t, "v12", string(resp.Value))
	case <-time.After(time.Second):
		t.Fatal("read never unblocked")
	}
}

func TestReplicaConcurrentWritesApplyInTimestampOrder(t *testing.T) {
	rep, st, _ := facadeFixture(t, 0)
	ctx := context.Background()

	// Launch out of order; DoWrite serializes on the predecessor.
	var wg sync.WaitGroup
	for _, timestamp := range []model.StateTimestamp{3, 1, 2} {
		wg.Add(1)
		go func(timestamp model.StateTimestamp) {
			defer wg.Done()
			_, err := rep.DoWrite(ctx, model.NewWrite(model.PointOp{
				Key:   "k",
				Value: []byte{byte(timestamp)},
			}), timestamp, model.OrderToken{Source: "t", Seq: uint64(timestamp)}, store.DurabilitySoft)
			assert.NoError(t, err)
		}(timestamp)
	}
	wg.Wait()

	found, val := readKey(t, st, "k")
	assert.True(t, found)
	assert.Equal(t, []byte{3}, []byte(val), "latest timestamp must win")
	assert.Equal(t, ts(3), rep.CurrentTimestamp())
}
