package mq

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/filecoin-project/go-storefront/build"
	"github.com/filecoin-project/go-storefront/journal"
	"github.com/filecoin-project/go-storefront/metrics"
)

// Config bounds the redelivery behaviour of a queue.
type Config struct {
	// MaxAttempts is the redelivery budget: a message is tried once plus up
	// to MaxAttempts more times before it is dead-lettered.
	MaxAttempts int
	// BackoffMin/BackoffMax bound the delay between redeliveries.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// BufferSize is the in-flight buffer; Publish blocks when it is full.
	BufferSize int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffMin:  time.Second,
		BackoffMax:  time.Minute,
		BufferSize:  1024,
	}
}

// replayPollInterval is how often a consuming queue checks its dead letter
// sink for operator-replayed messages.
const replayPollInterval = 30 * time.Second

// Queue is a named at-least-once queue consumed by exactly one handler, one
// message at a time. Single-message delivery trades throughput for strict
// per-message failure attribution, matching the rest of the pipeline.
type Queue struct {
	name  string
	cfg   Config
	dlq   *DeadLetterStore
	clock clock.Clock

	journal       journal.Journal
	evtDeadLetter journal.EventType

	ch chan *Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
}

type QueueOption func(*Queue)

// WithQueueClock overrides the queue clock; used by tests.
func WithQueueClock(c clock.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

// WithQueueJournal records dead-letter events to the given journal.
func WithQueueJournal(j journal.Journal) QueueOption {
	return func(q *Queue) { q.journal = j }
}

// NewQueue creates a queue delivering into the given dead letter store once
// the redelivery budget is exhausted. dlq may be shared between queues; dead
// letters are namespaced by queue name.
func NewQueue(name string, cfg Config, dlq *DeadLetterStore, opts ...QueueOption) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultConfig().BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		cfg:     cfg,
		dlq:     dlq,
		clock:   build.Clock,
		journal: journal.NilJournal(),
		ch:      make(chan *Message, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(q)
	}
	q.evtDeadLetter = q.journal.RegisterEventType("mq", "deadletter")
	return q
}

func (q *Queue) Name() string { return q.name }

// Publish enqueues a JSON-encodable body as a new message.
func (q *Queue) Publish(ctx context.Context, body interface{}) error {
	msg, err := newMessage(body, q.clock.Now().UTC())
	if err != nil {
		return err
	}
	return q.enqueue(ctx, msg)
}

func (q *Queue) enqueue(ctx context.Context, msg *Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

// Consume starts the single consumer goroutine. It must be called at most
// once per queue.
func (q *Queue) Consume(h Handler) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.run(h)
	})
}

func (q *Queue) run(h Handler) {
	defer q.wg.Done()

	replayTicker := q.clock.Ticker(replayPollInterval)
	defer replayTicker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-replayTicker.C:
			q.drainReplayed()
		case msg := <-q.ch:
			q.deliver(msg, h)
		}
	}
}

// deliver runs the handler for one message, retrying transient failures with
// backoff until the redelivery budget runs out.
func (q *Queue) deliver(msg *Message, h Handler) {
	b := &backoff.Backoff{
		Min:    q.cfg.BackoffMin,
		Max:    q.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := h(q.ctx, msg)
		if err == nil {
			_ = stats.RecordWithTags(q.ctx, []tag.Mutator{tag.Upsert(metrics.Queue, q.name)}, metrics.MessagesHandled.M(1))
			return
		}

		msg.Attempts++

		if IsPermanent(err) || msg.Attempts > q.cfg.MaxAttempts {
			q.deadLetter(msg, err)
			return
		}

		_ = stats.RecordWithTags(q.ctx, []tag.Mutator{tag.Upsert(metrics.Queue, q.name)}, metrics.MessagesRetried.M(1))
		log.Warnw("redelivering message", "queue", q.name, "msg", msg.ID, "attempts", msg.Attempts, "err", err)

		select {
		case <-q.clock.After(b.Duration()):
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) deadLetter(msg *Message, cause error) {
	_ = stats.RecordWithTags(q.ctx, []tag.Mutator{tag.Upsert(metrics.Queue, q.name)}, metrics.MessagesDeadLetter.M(1))
	log.Errorw("message exhausted retries, dead-lettering", "queue", q.name, "msg", msg.ID, "attempts", msg.Attempts, "err", cause)

	if q.dlq == nil {
		log.Errorw("no dead letter store configured, dropping message", "queue", q.name, "msg", msg.ID)
		return
	}
	if err := q.dlq.Put(q.ctx, q.name, *msg, cause.Error()); err != nil {
		log.Errorw("failed to persist dead letter", "queue", q.name, "msg", msg.ID, "err", err)
	}

	q.journal.RecordEvent(q.evtDeadLetter, func() interface{} {
		return map[string]interface{}{
			"queue":    q.name,
			"msg":      msg.ID,
			"attempts": msg.Attempts,
			"reason":   cause.Error(),
		}
	})
}

// drainReplayed moves operator-replayed dead letters back onto the queue.
func (q *Queue) drainReplayed() {
	if q.dlq == nil {
		return
	}
	msgs, err := q.dlq.TakeReplayed(q.ctx, q.name)
	if err != nil {
		log.Errorw("failed to read replayed messages", "queue", q.name, "err", err)
		return
	}
	for i := range msgs {
		msg := msgs[i]
		msg.Attempts = 0
		if err := q.enqueue(q.ctx, &msg); err != nil {
			log.Errorw("failed to requeue replayed message", "queue", q.name, "msg", msg.ID, "err", err)
			return
		}
		log.Infow("requeued replayed message", "queue", q.name, "msg", msg.ID)
	}
}

// Close stops the consumer. In-flight redelivery waits are interrupted; the
// affected message is redelivered on the next run by the usual recovery
// paths.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}
