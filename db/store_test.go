package db

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/marketdata"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SnapshotStore {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	syn := marketdata.DefaultSynthetic()
	syn.Taus = []float64{0.25, 0.5}
	syn.Strikes = []float64{0.9, 1, 1.1}
	chain, err := syn.Chain(ctx, "SYN")
	require.NoError(t, err)
	chain.Calls[0].Bid = nil

	id, err := store.SaveChain(ctx, chain, "synthetic")
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.Chain(ctx, "SYN")
	require.NoError(t, err)
	require.Equal(t, "SYN", got.Symbol)
	require.Equal(t, chain.Spot, got.Spot)
	require.True(t, chain.AsOf.Equal(got.AsOf))
	require.NotEqual(t, chain.Version, got.Version)
	require.Len(t, got.Calls, len(chain.Calls))
	require.Len(t, got.Puts, len(chain.Puts))

	require.Nil(t, got.Calls[0].Bid)
	for i, q := range got.Calls {
		want := chain.Calls[i]
		require.Equal(t, want.Strike, q.Strike)
		require.True(t, want.Expiry.Equal(q.Expiry))
		require.Equal(t, data.Call, q.Type)
		require.Equal(t, *want.Ask, *q.Ask)
		require.Equal(t, *want.Last, *q.Last)
	}
	require.Len(t, got.Expiries(), 2)
}

func TestSnapshotLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	older := &marketdata.Chain{Symbol: "X", Spot: 10, AsOf: asOf}
	newer := &marketdata.Chain{Symbol: "X", Spot: 11, AsOf: asOf.Add(time.Hour)}
	other := &marketdata.Chain{Symbol: "Y", Spot: 99, AsOf: asOf.Add(2 * time.Hour)}

	olderID, err := store.SaveChain(ctx, older, "test")
	require.NoError(t, err)
	newerID, err := store.SaveChain(ctx, newer, "test")
	require.NoError(t, err)
	_, err = store.SaveChain(ctx, other, "test")
	require.NoError(t, err)

	got, err := store.Chain(ctx, "X")
	require.NoError(t, err)
	require.Equal(t, 11.0, got.Spot)

	got, err = store.ChainVersion(ctx, "X", olderID)
	require.NoError(t, err)
	require.Equal(t, 10.0, got.Spot)

	snaps, err := store.Snapshots(ctx, "X")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, newerID, snaps[0].ID)
	require.Equal(t, olderID, snaps[1].ID)
}

func TestSnapshotNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Chain(context.Background(), "NONE")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	require.ErrorIs(t, err, marketdata.ErrProvider)
}
