package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

func testRegion() model.Region {
	return model.NewRegion(0, ^uint64(0), model.KeyRange{Left: "", Right: model.UnboundedRight()})
}

func newTestStore(t *testing.T) (*MemStore, uuid.UUID) {
	t.Helper()
	branchID := uuid.New()
	return NewMemStore(testRegion(), model.Version{Branch: branchID}, zap.NewNop()), branchID
}

func applyWrite(t *testing.T, s *MemStore, branchID uuid.UUID, ts model.StateTimestamp, ops ...model.PointOp) {
	t.Helper()
	var tok WriteToken
	s.NewWriteToken(&tok)
	metainfo := model.NewRegionMap(s.GetRegion(), model.Version{Branch: branchID, Timestamp: ts})
	var resp model.WriteResponse
	err := s.Write(context.Background(), metainfo, model.NewWrite(ops...), &resp,
		DurabilitySoft, ts, model.OrderToken{}, &tok)
	require.NoError(t, err)
}

func TestMemStoreWriteRead(t *testing.T) {
	s, branchID := newTestStore(t)

	applyWrite(t, s, branchID, 1,
		model.PointOp{Key: "a", Value: []byte("1")},
		model.PointOp{Key: "b", Value: []byte("2")})

	var tok ReadToken
	s.NewReadToken(&tok)
	resp, err := s.Read(context.Background(), model.Read{Key: "a"}, &tok)
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "1", string(resp.Value))

	// Deletes remove the key.
	applyWrite(t, s, branchID, 2, model.PointOp{Key: "a", Delete: true})
	s.NewReadToken(&tok)
	resp, err = s.Read(context.Background(), model.Read{Key: "a"}, &tok)
	require.NoError(t, err)
	assert.False(t, resp.Found)
}

func TestMemStoreTokenFIFO(t *testing.T) {
	s, branchID := newTestStore(t)

	// Issue tokens in order, then fire the writes in reverse: the store
	// must still apply them in issue order, so the last-issued write
	// wins the key.
	const n = 8
	toks := make([]WriteToken, n)
	for i := range toks {
		s.NewWriteToken(&toks[i])
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			metainfo := model.NewRegionMap(s.GetRegion(),
				model.Version{Branch: branchID, Timestamp: model.StateTimestamp(i + 1)})
			var resp model.WriteResponse
			err := s.Write(context.Background(), metainfo,
				model.NewWrite(model.PointOp{Key: "k", Value: []byte{byte(i)}}),
				&resp, DurabilitySoft, model.StateTimestamp(i+1), model.OrderToken{}, &toks[i])
			assert.NoError(t, err)
		}(i)
		// Stagger slightly so the reversed launch order is real.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	var tok ReadToken
	s.NewReadToken(&tok)
	resp, err := s.Read(context.Background(), model.Read{Key: "k"}, &tok)
	require.NoError(t, err)
	assert.Equal(t, []byte{n - 1}, resp.Value, "writes must apply in token issue order")
}

func TestMemStoreAbandonedTokenDoesNotWedge(t *testing.T) {
	s, branchID := newTestStore(t)

	var first, second WriteToken
	s.NewWriteToken(&first)
	s.NewWriteToken(&second)

	// The first token's holder cancels before applying; the second must
	// still get through.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	metainfo := model.NewRegionMap(s.GetRegion(), model.Version{Branch: branchID, Timestamp: 1})
	err := s.Write(cancelled, metainfo, model.NewWrite(model.PointOp{Key: "x", Value: []byte("1")}),
		nil, DurabilitySoft, 1, model.OrderToken{}, &first)
	require.ErrorIs(t, err, context.Canceled)

	done := make(chan error, 1)
	go func() {
		metainfo := model.NewRegionMap(s.GetRegion(), model.Version{Branch: branchID, Timestamp: 2})
		done <- s.Write(context.Background(), metainfo,
			model.NewWrite(model.PointOp{Key: "y", Value: []byte("2")}),
			nil, DurabilitySoft, 2, model.OrderToken{}, &second)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second write wedged behind abandoned token")
	}
}

func TestMemStoreReadWaitsForEarlierWrite(t *testing.T) {
	s, branchID := newTestStore(t)

	var wtok WriteToken
	s.NewWriteToken(&wtok)
	var rtok ReadToken
	s.NewReadToken(&rtok)

	readDone := make(chan model.ReadResponse, 1)
	go func() {
		resp, err := s.Read(context.Background(), model.Read{Key: "k"}, &rtok)
		assert.NoError(t, err)
		readDone <- resp
	}()

	select {
	case <-readDone:
		t.Fatal("read overtook an earlier issued write token")
	case <-time.After(20 * time.Millisecond):
	}

	metainfo := model.NewRegionMap(s.GetRegion(), model.Version{Branch: branchID, Timestamp: 1})
	require.NoError(t, s.Write(context.Background(), metainfo,
		model.NewWrite(model.PointOp{Key: "k", Value: []byte("v")}),
		nil, DurabilitySoft, 1, model.OrderToken{}, &wtok))

	select {
	case resp := <-readDone:
		assert.True(t, resp.Found)
		assert.Equal(t, "v", string(resp.Value))
	case <-time.After(time.Second):
		t.Fatal("read never unblocked")
	}
}

func TestMemStoreSetMetainfo(t *testing.T) {
	s, branchID := newTestStore(t)

	sub := s.GetRegion().WithInner(model.KeyRange{Left: "a", Right: model.BoundedRight("m")})
	var tok WriteToken
	s.NewWriteToken(&tok)
	err := s.SetMetainfo(context.Background(),
		model.NewRegionMap(sub, model.Version{Branch: branchID, Timestamp: 7}),
		model.OrderToken{}, &tok, DurabilitySoft)
	require.NoError(t, err)

	var rtok ReadToken
	s.NewReadToken(&rtok)
	mi, err := s.GetMetainfo(context.Background(), &rtok, s.GetRegion())
	require.NoError(t, err)
	assert.Equal(t, model.StateTimestamp(7), mi.Lookup("g").Timestamp)
	assert.Equal(t, model.StateTimestamp(0), mi.Lookup("z").Timestamp)
}

func TestMemStoreBackfillGate(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.WaitUntilOKToReceiveBackfill(context.Background()))

	s.SetBackfillReady(false)
	blocked := make(chan error, 1)
	go func() {
		blocked <- s.WaitUntilOKToReceiveBackfill(context.Background())
	}()
	select {
	case <-blocked:
		t.Fatal("gate did not block")
	case <-time.After(20 * time.Millisecond):
	}

	s.SetBackfillReady(true)
	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate never reopened")
	}
}

func TestMemStoreReceiveBackfill(t *testing.T) {
	s, branchID := newTestStore(t)

	region := s.GetRegion().WithInner(model.KeyRange{Left: "a", Right: model.BoundedRight("m")})
	err := s.ReceiveBackfill(context.Background(), region,
		[]model.BackfillItem{
			{Key: "b", Value: []byte("bv")},
			{Key: "c", Value: []byte("cv")},
		},
		model.NewRegionMap(region, model.Version{Branch: branchID, Timestamp: 5}))
	require.NoError(t, err)

	var tok ReadToken
	s.NewReadToken(&tok)
	resp, err := s.Read(context.Background(), model.Read{Key: "b"}, &tok)
	require.NoError(t, err)
	assert.True(t, resp.Found)

	s.NewReadToken(&tok)
	mi, err := s.GetMetainfo(context.Background(), &tok, s.GetRegion())
	require.NoError(t, err)
	assert.Equal(t, model.StateTimestamp(5), mi.Lookup("b").Timestamp)
	assert.Equal(t, model.StateTimestamp(0), mi.Lookup("z").Timestamp)
}

func TestMemStoreSnapshotRange(t *testing.T) {
	s, branchID := newTestStore(t)
	for i, k := range []model.Key{"a", "b", "c", "d", "e"} {
		applyWrite(t, s, branchID, model.StateTimestamp(i+1), model.PointOp{Key: k, Value: []byte(k)})
	}

	var tok ReadToken
	s.NewReadToken(&tok)
	items, versions, bound, covered, err := s.SnapshotRange(
		context.Background(), &tok, "", model.UnboundedRight(), 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.False(t, covered)
	assert.Equal(t, model.BoundedRight("c\x00"), bound)
	assert.Equal(t, model.StateTimestamp(5), versions.Lookup("b").Timestamp)

	// Resume from the bound and finish.
	s.NewReadToken(&tok)
	items, _, bound, covered, err = s.SnapshotRange(
		context.Background(), &tok, bound.Key, model.UnboundedRight(), 3)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, covered)
	assert.True(t, bound.Unbounded)
}
