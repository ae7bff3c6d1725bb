package mq

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterListByQueue(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterStore(dssync.MutexWrap(datastore.NewMapDatastore()), DefaultRetention)
	defer dlq.Close()

	require.NoError(t, dlq.Put(ctx, "alpha", Message{ID: "m1"}, "boom"))
	require.NoError(t, dlq.Put(ctx, "alpha", Message{ID: "m2"}, "boom"))
	require.NoError(t, dlq.Put(ctx, "beta", Message{ID: "m3"}, "boom"))

	letters, err := dlq.List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, letters, 2)

	letters, err = dlq.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, letters, 3)
}

func TestDeadLetterReplayNotFound(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterStore(dssync.MutexWrap(datastore.NewMapDatastore()), DefaultRetention)
	defer dlq.Close()

	require.Error(t, dlq.Replay(ctx, "alpha", "missing"))
}

func TestDeadLetterSweep(t *testing.T) {
	ctx := context.Background()
	mClock := clock.NewMock()
	mClock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	dlq := NewDeadLetterStore(dssync.MutexWrap(datastore.NewMapDatastore()), DefaultRetention,
		WithDeadLetterClock(mClock))
	defer dlq.Close()

	require.NoError(t, dlq.Put(ctx, "alpha", Message{ID: "old"}, "boom"))

	mClock.Add(15 * 24 * time.Hour)
	require.NoError(t, dlq.Put(ctx, "alpha", Message{ID: "young"}, "boom"))

	n, err := dlq.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	letters, err := dlq.List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "young", letters[0].Message.ID)

	// sweeping again is a no-op
	n, err = dlq.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
