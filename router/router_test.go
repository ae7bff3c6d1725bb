package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/claims"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/offer"
	"github.com/filecoin-project/go-storefront/piece"
)

func testCid(t *testing.T, seed string) cid.Cid {
	h, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

type routerHarness struct {
	router   *Router
	claims   chan claims.Claim
	offers   chan offer.Trigger
	receipts chan claims.Receipt
}

func newRouterHarness(t *testing.T) *routerHarness {
	dlq := mq.NewDeadLetterStore(dssync.MutexWrap(datastore.NewMapDatastore()), mq.DefaultRetention)
	t.Cleanup(dlq.Close)

	cfg := mq.Config{MaxAttempts: 1, BackoffMin: time.Millisecond, BufferSize: 8}
	claimQ := mq.NewQueue("content-claim", cfg, dlq)
	offerQ := mq.NewQueue("piece-offer", cfg, dlq)
	receiptQ := mq.NewQueue("receipt", cfg, dlq)
	t.Cleanup(claimQ.Close)
	t.Cleanup(offerQ.Close)
	t.Cleanup(receiptQ.Close)

	h := &routerHarness{
		claims:   make(chan claims.Claim, 8),
		offers:   make(chan offer.Trigger, 8),
		receipts: make(chan claims.Receipt, 8),
	}

	claimQ.Consume(func(ctx context.Context, msg *mq.Message) error {
		var c claims.Claim
		if err := mq.Unmarshal(msg, &c); err != nil {
			return err
		}
		h.claims <- c
		return nil
	})
	offerQ.Consume(func(ctx context.Context, msg *mq.Message) error {
		var tr offer.Trigger
		if err := mq.Unmarshal(msg, &tr); err != nil {
			return err
		}
		h.offers <- tr
		return nil
	})
	receiptQ.Consume(func(ctx context.Context, msg *mq.Message) error {
		var r claims.Receipt
		if err := mq.Unmarshal(msg, &r); err != nil {
			return err
		}
		h.receipts <- r
		return nil
	})

	r, err := New(claimQ, offerQ, receiptQ)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	h.router = r
	return h
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %+v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouteInsert(t *testing.T) {
	ctx := context.Background()
	h := newRouterHarness(t)

	rec := piece.Record{
		Piece:   testCid(t, "piece"),
		Content: testCid(t, "content"),
		Group:   "did:key:zspace",
		Status:  piece.StatusSubmitted,
		Cause:   "inv-1",
	}

	h.router.Route(ctx, piece.ChangeEvent{ID: "ev-1", Kind: piece.EventInsert, Record: rec})

	// a fresh submission fans out to both claim and offer, never receipt
	c := recv(t, h.claims, "claim")
	require.Equal(t, rec.Piece, c.Piece)
	require.Equal(t, rec.Content, c.Content)
	require.Equal(t, rec.Group, c.Group)

	tr := recv(t, h.offers, "offer trigger")
	require.Equal(t, rec.Piece, tr.Piece)

	expectNone(t, h.receipts, "receipt")
}

func TestRouteTerminalUpdate(t *testing.T) {
	ctx := context.Background()
	h := newRouterHarness(t)

	rec := piece.Record{
		Piece:  testCid(t, "piece"),
		Status: piece.StatusAccepted,
		Cause:  "inv-1",
		Detail: "proof-xyz",
	}
	h.router.Route(ctx, piece.ChangeEvent{ID: "ev-2", Kind: piece.EventUpdate, Record: rec, Previous: piece.StatusSubmitted})

	rcpt := recv(t, h.receipts, "receipt")
	require.Equal(t, rec.Piece, rcpt.Piece)
	require.Equal(t, "inv-1", rcpt.Cause)
	require.True(t, rcpt.Accepted)
	require.Equal(t, "proof-xyz", rcpt.Proof)
	require.Empty(t, rcpt.Reason)

	expectNone(t, h.claims, "claim")
	expectNone(t, h.offers, "offer trigger")

	// an invalid outcome carries the reason instead of a proof
	rec.Status = piece.StatusInvalid
	rec.Detail = "piece cid mismatch"
	h.router.Route(ctx, piece.ChangeEvent{ID: "ev-3", Kind: piece.EventUpdate, Record: rec, Previous: piece.StatusSubmitted})

	rcpt = recv(t, h.receipts, "receipt")
	require.False(t, rcpt.Accepted)
	require.Equal(t, "piece cid mismatch", rcpt.Reason)
	require.Empty(t, rcpt.Proof)
}

func TestRouteIgnoresIntermediate(t *testing.T) {
	ctx := context.Background()
	h := newRouterHarness(t)

	rec := piece.Record{
		Piece:  testCid(t, "piece"),
		Status: piece.StatusOffered,
		Cause:  "inv-1",
	}
	h.router.Route(ctx, piece.ChangeEvent{ID: "ev-4", Kind: piece.EventUpdate, Record: rec, Previous: piece.StatusSubmitted})

	expectNone(t, h.claims, "claim")
	expectNone(t, h.offers, "offer trigger")
	expectNone(t, h.receipts, "receipt")
}

func TestRouteDedup(t *testing.T) {
	ctx := context.Background()
	h := newRouterHarness(t)

	rec := piece.Record{
		Piece:   testCid(t, "piece"),
		Content: testCid(t, "content"),
		Group:   "did:key:zspace",
		Status:  piece.StatusSubmitted,
		Cause:   "inv-1",
	}
	ev := piece.ChangeEvent{ID: "ev-5", Kind: piece.EventInsert, Record: rec}

	// redelivering the same event must not double the actions
	h.router.Route(ctx, ev)
	h.router.Route(ctx, ev)

	recv(t, h.claims, "claim")
	recv(t, h.offers, "offer trigger")
	expectNone(t, h.claims, "duplicate claim")
	expectNone(t, h.offers, "duplicate offer trigger")

	// a distinct event for the same piece still fires
	ev.ID = "ev-6"
	h.router.Route(ctx, ev)
	recv(t, h.claims, "claim")
	recv(t, h.offers, "offer trigger")
}

type fakeClaims struct {
	mu       sync.Mutex
	claims   []claims.Claim
	receipts []claims.Receipt
	err      error
}

func (f *fakeClaims) IssueClaim(ctx context.Context, c claims.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.claims = append(f.claims, c)
	return nil
}

func (f *fakeClaims) EmitReceipt(ctx context.Context, r claims.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.receipts = append(f.receipts, r)
	return nil
}

func testMessage(t *testing.T, body interface{}) *mq.Message {
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return &mq.Message{ID: "test-msg", Body: b}
}

func TestClaimHandler(t *testing.T) {
	ctx := context.Background()
	svc := &fakeClaims{}
	h := ClaimHandler(svc, time.Second)

	c := claims.Claim{Piece: testCid(t, "piece"), Content: testCid(t, "content"), Group: "did:key:zspace"}
	require.NoError(t, h(ctx, testMessage(t, c)))
	require.Len(t, svc.claims, 1)
	require.Equal(t, c, svc.claims[0])

	// service failures are transient by default
	svc.err = xerrors.New("claims service down")
	err := h(ctx, testMessage(t, c))
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))
}

func TestReceiptHandler(t *testing.T) {
	ctx := context.Background()
	svc := &fakeClaims{}
	h := ReceiptHandler(svc, time.Second)

	r := claims.Receipt{Piece: testCid(t, "piece"), Cause: "inv-1", Accepted: true, Proof: "p"}
	require.NoError(t, h(ctx, testMessage(t, r)))
	require.Len(t, svc.receipts, 1)
	require.Equal(t, r, svc.receipts[0])
}
