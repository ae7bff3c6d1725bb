package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/build"
)

// DefaultRetention matches the reference deployment: dead letters are kept
// for 14 days for manual inspection and replay, then swept.
const DefaultRetention = 14 * 24 * time.Hour

var (
	deadPrefix   = datastore.NewKey("/dead")
	replayPrefix = datastore.NewKey("/replay")
)

// DeadLetter is a message that exhausted its retries, together with why and
// when it failed.
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Message  Message   `json:"message"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterStore persists dead letters in a datastore, namespaced by queue.
// It is never drained automatically; operators list entries and replay them
// explicitly, and a background sweep enforces the retention window.
type DeadLetterStore struct {
	ds        datastore.Batching
	retention time.Duration
	clock     clock.Clock

	sweepOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type DeadLetterOption func(*DeadLetterStore)

func WithDeadLetterClock(c clock.Clock) DeadLetterOption {
	return func(d *DeadLetterStore) { d.clock = c }
}

func NewDeadLetterStore(ds datastore.Batching, retention time.Duration, opts ...DeadLetterOption) *DeadLetterStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &DeadLetterStore{
		ds:        ds,
		retention: retention,
		clock:     build.Clock,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func deadKey(queue, id string) datastore.Key {
	return deadPrefix.ChildString(queue).ChildString(id)
}

func replayKey(queue, id string) datastore.Key {
	return replayPrefix.ChildString(queue).ChildString(id)
}

// Put records a dead letter for the given queue.
func (d *DeadLetterStore) Put(ctx context.Context, queue string, msg Message, reason string) error {
	dl := DeadLetter{
		Queue:    queue,
		Message:  msg,
		Reason:   reason,
		FailedAt: d.clock.Now().UTC(),
	}
	b, err := json.Marshal(&dl)
	if err != nil {
		return xerrors.Errorf("marshaling dead letter %s: %w", msg.ID, err)
	}
	if err := d.ds.Put(ctx, deadKey(queue, msg.ID), b); err != nil {
		return xerrors.Errorf("storing dead letter %s: %w", msg.ID, err)
	}
	return nil
}

// List returns the dead letters for the given queue, or for all queues when
// queue is empty.
func (d *DeadLetterStore) List(ctx context.Context, queue string) ([]DeadLetter, error) {
	prefix := deadPrefix
	if queue != "" {
		prefix = deadPrefix.ChildString(queue)
	}

	res, err := d.ds.Query(ctx, query.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, xerrors.Errorf("querying dead letters: %w", err)
	}
	defer res.Close() //nolint:errcheck

	var out []DeadLetter
	for r := range res.Next() {
		if r.Error != nil {
			return nil, xerrors.Errorf("iterating dead letters: %w", r.Error)
		}
		var dl DeadLetter
		if err := json.Unmarshal(r.Value, &dl); err != nil {
			return nil, xerrors.Errorf("unmarshaling dead letter %s: %w", r.Key, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// Replay marks a dead letter for redelivery. The owning queue picks it up on
// its next replay poll.
func (d *DeadLetterStore) Replay(ctx context.Context, queue, id string) error {
	k := deadKey(queue, id)
	b, err := d.ds.Get(ctx, k)
	if err == datastore.ErrNotFound {
		return xerrors.Errorf("dead letter %s not found in queue %s", id, queue)
	}
	if err != nil {
		return xerrors.Errorf("reading dead letter %s: %w", id, err)
	}
	if err := d.ds.Put(ctx, replayKey(queue, id), b); err != nil {
		return xerrors.Errorf("marking dead letter %s for replay: %w", id, err)
	}
	if err := d.ds.Delete(ctx, k); err != nil {
		return xerrors.Errorf("removing dead letter %s: %w", id, err)
	}
	return nil
}

// TakeReplayed removes and returns all messages marked for replay on the
// given queue.
func (d *DeadLetterStore) TakeReplayed(ctx context.Context, queue string) ([]Message, error) {
	prefix := replayPrefix.ChildString(queue)
	res, err := d.ds.Query(ctx, query.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, xerrors.Errorf("querying replayed messages: %w", err)
	}
	defer res.Close() //nolint:errcheck

	var out []Message
	var keys []datastore.Key
	for r := range res.Next() {
		if r.Error != nil {
			return nil, xerrors.Errorf("iterating replayed messages: %w", r.Error)
		}
		var dl DeadLetter
		if err := json.Unmarshal(r.Value, &dl); err != nil {
			return nil, xerrors.Errorf("unmarshaling replayed message %s: %w", r.Key, err)
		}
		out = append(out, dl.Message)
		keys = append(keys, datastore.RawKey(r.Key))
	}

	for _, k := range keys {
		if err := d.ds.Delete(ctx, k); err != nil {
			return nil, xerrors.Errorf("removing replayed message %s: %w", k, err)
		}
	}
	return out, nil
}

// StartSweeper launches the background retention sweep.
func (d *DeadLetterStore) StartSweeper(interval time.Duration) {
	d.sweepOnce.Do(func() {
		d.wg.Add(1)
		go d.sweepLoop(interval)
	})
}

func (d *DeadLetterStore) sweepLoop(interval time.Duration) {
	defer d.wg.Done()

	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := d.Sweep(d.ctx)
			if err != nil {
				log.Errorw("dead letter sweep failed", "err", err)
			} else if n > 0 {
				log.Infow("swept expired dead letters", "count", n)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Sweep removes dead letters older than the retention window, returning how
// many were removed.
func (d *DeadLetterStore) Sweep(ctx context.Context) (int, error) {
	cutoff := d.clock.Now().UTC().Add(-d.retention)

	res, err := d.ds.Query(ctx, query.Query{Prefix: deadPrefix.String()})
	if err != nil {
		return 0, xerrors.Errorf("querying dead letters for sweep: %w", err)
	}
	defer res.Close() //nolint:errcheck

	var expired []datastore.Key
	for r := range res.Next() {
		if r.Error != nil {
			return 0, xerrors.Errorf("iterating dead letters for sweep: %w", r.Error)
		}
		var dl DeadLetter
		if err := json.Unmarshal(r.Value, &dl); err != nil {
			return 0, xerrors.Errorf("unmarshaling dead letter %s: %w", r.Key, err)
		}
		if dl.FailedAt.Before(cutoff) {
			expired = append(expired, datastore.RawKey(r.Key))
		}
	}

	for _, k := range expired {
		if err := d.ds.Delete(ctx, k); err != nil {
			return 0, xerrors.Errorf("sweeping dead letter %s: %w", k, err)
		}
	}
	return len(expired), nil
}

func (d *DeadLetterStore) Close() {
	d.cancel()
	d.wg.Wait()
}
