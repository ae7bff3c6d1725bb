package offer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/aggregator"
	"github.com/filecoin-project/go-storefront/mq"
)

func testCid(t *testing.T, seed string) cid.Cid {
	h, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

type fakeAggregator struct {
	offers   []aggregator.OfferRequest
	rejected string
	err      error
}

func (f *fakeAggregator) PieceOffer(ctx context.Context, req aggregator.OfferRequest) (aggregator.OfferResponse, error) {
	if f.err != nil {
		return aggregator.OfferResponse{}, f.err
	}
	f.offers = append(f.offers, req)
	return aggregator.OfferResponse{Rejected: f.rejected}, nil
}

func (f *fakeAggregator) PieceStatus(ctx context.Context, p cid.Cid) (aggregator.Resolution, error) {
	return aggregator.Resolution{State: aggregator.StateUnresolved}, nil
}

func triggerMessage(t *testing.T, tr Trigger) *mq.Message {
	b, err := json.Marshal(tr)
	require.NoError(t, err)
	return &mq.Message{ID: "msg-1", Body: b}
}

func TestHandleOffers(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{}
	h := NewHandler(Config{Proof: "proof-blob", CallTimeout: time.Second}, agg)

	tr := Trigger{Piece: testCid(t, "piece"), Content: testCid(t, "content"), Group: "did:key:zspace"}
	require.NoError(t, h.Handle(ctx, triggerMessage(t, tr)))

	require.Len(t, agg.offers, 1)
	require.Equal(t, tr.Piece, agg.offers[0].Piece)
	require.Equal(t, tr.Content, agg.offers[0].Content)
	require.Equal(t, "proof-blob", agg.offers[0].Proof)
}

func TestHandleTransientFailure(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{err: xerrors.New("connection refused")}
	h := NewHandler(Config{}, agg)

	err := h.Handle(ctx, triggerMessage(t, Trigger{Piece: testCid(t, "piece")}))
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))
}

func TestHandleRejection(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{rejected: "unknown aggregator proof"}
	h := NewHandler(Config{}, agg)

	// rejection is final: retrying the same offer yields the same answer
	err := h.Handle(ctx, triggerMessage(t, Trigger{Piece: testCid(t, "piece")}))
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))
	require.Contains(t, err.Error(), "unknown aggregator proof")
}

func TestHandleMalformedTrigger(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(Config{}, &fakeAggregator{})

	err := h.Handle(ctx, &mq.Message{ID: "m1", Body: []byte("{broken")})
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))
}
