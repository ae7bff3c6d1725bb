// Package mq implements the at-least-once message queues the pipeline runs
// on: single-message delivery, bounded redelivery with backoff, and a
// per-queue dead letter sink for messages that exhaust their attempts.
//
// Exactly-once is deliberately not attempted. Consumers are built to be
// idempotent under redelivery (conditional store writes, effects keyed by
// stable identifiers), so the queue only promises that a message is either
// eventually handled or eventually dead-lettered.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("mq")

// Message is the delivery envelope. Body is opaque JSON; Attempts counts
// failed deliveries so far.
type Message struct {
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes a single message. A nil return acknowledges the message.
// A plain error triggers redelivery; an error marked with Permanent sends the
// message straight to the dead letter sink.
type Handler func(ctx context.Context, msg *Message) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Retrying a permanently invalid input
// wastes the retry budget and never succeeds, so such messages skip the
// redelivery loop entirely.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Unmarshal decodes a message body into v, returning a permanent error on
// malformed payloads.
func Unmarshal(msg *Message, v interface{}) error {
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return Permanent(xerrors.Errorf("malformed message %s: %w", msg.ID, err))
	}
	return nil
}

func newMessage(body interface{}, now time.Time) (*Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Errorf("marshaling message body: %w", err)
	}
	return &Message{
		ID:         uuid.NewString(),
		Body:       b,
		EnqueuedAt: now,
	}, nil
}
