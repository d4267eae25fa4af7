package primary

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/protocol"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

func fullRegion() model.Region {
	return model.NewRegion(0, ^uint64(0), model.KeyRange{Left: "", Right: model.UnboundedRight()})
}

func dispatcherFixture(t *testing.T) (*Dispatcher, *mailbox.Manager, uuid.UUID) {
	t.Helper()
	logger := zap.NewNop()
	mgr := mailbox.NewManager(logger)
	t.Cleanup(mgr.Shutdown)

	branchID := uuid.New()
	st := store.NewMemStore(fullRegion(), model.Version{Branch: branchID}, logger)
	d, err := NewDispatcher(DispatcherConfig{
		Manager:        mgr,
		Store:          st,
		BranchID:       branchID,
		History:        branch.NewHistoryManager(logger),
		MaxOutstanding: 8,
		Logger:         logger,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, mgr, branchID
}

func TestDispatcherSequencesTimestamps(t *testing.T) {
	d, _, _ := dispatcherFixture(t)
	ctx := context.Background()

	ts1, err := d.Dispatch(ctx, model.NewWrite(model.PointOp{Key: "a", Value: []byte("1")}))
	require.NoError(t, err)
	ts2, err := d.Dispatch(ctx, model.NewWrite(model.PointOp{Key: "b", Value: []byte("2")}))
	require.NoError(t, err)

	assert.Equal(t, model.StateTimestamp(1), ts1)
	assert.Equal(t, model.StateTimestamp(2), ts2)
	assert.Equal(t, model.StateTimestamp(2), d.CurrentTimestamp())

	// The watermark follows the local applies.
	require.NoError(t, d.WaitTimestamp(ctx, 2))
}

func TestDispatcherRejectsInvalidWrite(t *testing.T) {
	d, _, _ := dispatcherFixture(t)

	_, err := d.Dispatch(context.Background(), model.NewWrite(model.PointOp{Key: "", Value: []byte("1")}))
	assert.Error(t, err)
}

func TestDispatcherRegistrationAndStreaming(t *testing.T) {
	d, mgr, _ := dispatcherFixture(t)
	ctx := context.Background()

	serverID := uuid.New()
	intros := make(chan protocol.Intro, 1)
	writes := make(chan protocol.AsyncWrite, 16)

	introBox := mailbox.New(mgr, "replica-intro", func(_ context.Context, i protocol.Intro) {
		intros <- i
	})
	defer introBox.Close()
	asyncBox := mailbox.New(mgr, "replica-async", func(_ context.Context, w protocol.AsyncWrite) {
		writes <- w
		mailbox.Send(mgr, w.Ack, struct{}{})
	})
	defer asyncBox.Close()

	_, err := d.Dispatch(ctx, model.NewWrite(model.PointOp{Key: "before", Value: []byte("x")}))
	require.NoError(t, err)

	require.True(t, mailbox.Send(mgr, d.ServerCard().Registrar, protocol.RegistrationCard{
		ServerID:       serverID,
		IntroAddr:      introBox.Address(),
		AsyncWriteAddr: asyncBox.Address(),
	}))

	var intro protocol.Intro
	select {
	case intro = <-intros:
	case <-time.After(5 * time.Second):
		t.Fatal("intro never arrived")
	}
	assert.Equal(t, model.StateTimestamp(1), intro.StreamingBeginTimestamp,
		"streaming must begin at the timestamp current at registration")

	// Writes sequenced after registration reach the replica.
	ts, err := d.Dispatch(ctx, model.NewWrite(model.PointOp{Key: "after", Value: []byte("y")}))
	require.NoError(t, err)
	select {
	case w := <-writes:
		assert.Equal(t, ts, w.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("async write never streamed")
	}

	// The ready signal flips WaitReady.
	waitDone := make(chan error, 1)
	go func() { waitDone <- d.WaitReady(ctx, serverID) }()
	mailbox.Send(mgr, intro.ReadyAddr, struct{}{})
	select {
	case err := <-waitDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitReady never returned")
	}
}

func TestDispatcherUnknownReplica(t *testing.T) {
	d, _, _ := dispatcherFixture(t)
	_, err := d.Read(context.Background(), uuid.New(), model.Read{Key: "a"}, 0)
	assert.Error(t, err)
	assert.Error(t, d.WaitReady(context.Background(), uuid.New()))
}
