package submission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-storefront/mq"
)

func TestWatcherPublishesObjectEvents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "carpark"), 0755))

	dlq := mq.NewDeadLetterStore(dssync.MutexWrap(datastore.NewMapDatastore()), mq.DefaultRetention)
	t.Cleanup(dlq.Close)
	queue := mq.NewQueue("piece-submit", mq.Config{MaxAttempts: 1, BufferSize: 8}, dlq)
	t.Cleanup(queue.Close)

	events := make(chan ObjectEvent, 8)
	queue.Consume(func(ctx context.Context, msg *mq.Message) error {
		var ev ObjectEvent
		if err := mq.Unmarshal(msg, &ev); err != nil {
			return err
		}
		events <- ev
		return nil
	})

	w, err := NewWatcher(root, "local", queue)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
	})

	// non-car writes are ignored
	require.NoError(t, os.WriteFile(filepath.Join(root, "carpark", "notes.txt"), []byte("x"), 0644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "carpark", "bafytest.car"), []byte("car bytes"), 0644))

	select {
	case ev := <-events:
		require.Equal(t, "local", ev.Region)
		require.Equal(t, "carpark", ev.Bucket)
		require.Equal(t, "bafytest.car", ev.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("no object-written event published")
	}

	// a bucket directory created after the watcher starts is picked up too;
	// watching the new directory races the write, so retry with fresh names
	require.NoError(t, os.MkdirAll(filepath.Join(root, "staging", "deep"), 0755))
	attempt := 0
	require.Eventually(t, func() bool {
		attempt++
		name := fmt.Sprintf("nested-%d.car", attempt)
		if err := os.WriteFile(filepath.Join(root, "staging", "deep", name), []byte("car bytes"), 0644); err != nil {
			return false
		}
		select {
		case ev := <-events:
			require.Equal(t, "staging", ev.Bucket)
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}
