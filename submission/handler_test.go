package submission

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/commp"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/piece"
	"github.com/filecoin-project/go-storefront/piece/piecestore"
)

func testContentCid(t *testing.T, seed string) cid.Cid {
	h, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

// memObjectStore serves objects from a map and counts reads.
type memObjectStore struct {
	objects map[string][]byte
	reads   int
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) put(bucket, key string, data []byte) {
	s.objects[bucket+"/"+key] = data
}

func (s *memObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.reads++
	b, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, xerrors.Errorf("object %s/%s not found", bucket, key)
	}
	return b, nil
}

type handlerHarness struct {
	handler *Handler
	objects *memObjectStore
	store   *piecestore.SqliteStore
}

func newHandlerHarness(t *testing.T, cfg Config) *handlerHarness {
	store, err := piecestore.NewSqliteStore(filepath.Join(t.TempDir(), piecestore.DefaultDbFilename))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	objects := newMemObjectStore()
	if cfg.Group == "" {
		cfg.Group = "did:key:zspace"
	}
	return &handlerHarness{
		handler: NewHandler(cfg, objects, store),
		objects: objects,
		store:   store,
	}
}

func eventMessage(t *testing.T, ev ObjectEvent) *mq.Message {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return &mq.Message{ID: "msg-" + ev.Key, Body: b}
}

func TestHandleSubmits(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{})

	data := []byte("some car file bytes")
	content := testContentCid(t, "content")
	key := content.String() + "/" + content.String() + ".car"
	h.objects.put("carpark", key, data)

	msg := eventMessage(t, ObjectEvent{Region: "us-west-2", Bucket: "carpark", Key: key})
	require.NoError(t, h.handler.Handle(ctx, msg))

	wantPiece, _, err := commp.PieceCID(data)
	require.NoError(t, err)

	rec, err := h.store.Get(ctx, wantPiece)
	require.NoError(t, err)
	require.Equal(t, content, rec.Content)
	require.Equal(t, "did:key:zspace", rec.Group)
	require.Equal(t, piece.StatusSubmitted, rec.Status)
	require.Equal(t, msg.ID, rec.Cause)

	// redelivery acks without error and without a second record
	require.NoError(t, h.handler.Handle(ctx, msg))
}

func TestHandleBadKey(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{})

	msg := eventMessage(t, ObjectEvent{Bucket: "carpark", Key: "not-a-cid.car"})
	err := h.handler.Handle(ctx, msg)
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))
	require.Zero(t, h.objects.reads)
}

func TestHandleMissingObject(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{})

	content := testContentCid(t, "content")
	msg := eventMessage(t, ObjectEvent{Bucket: "carpark", Key: content.String() + ".car"})

	// the object may simply not be replicated yet: retry, don't dead-letter
	err := h.handler.Handle(ctx, msg)
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))
}

func TestHandleConflict(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{})

	// the same bytes under two distinct content keys hash to the same piece
	// but disagree on content: the second insert is a corruption signal
	data := []byte("identical bytes")
	first := testContentCid(t, "first")
	second := testContentCid(t, "second")
	h.objects.put("carpark", first.String()+".car", data)
	h.objects.put("carpark", second.String()+".car", data)

	require.NoError(t, h.handler.Handle(ctx, eventMessage(t, ObjectEvent{Bucket: "carpark", Key: first.String() + ".car"})))

	err := h.handler.Handle(ctx, eventMessage(t, ObjectEvent{Bucket: "carpark", Key: second.String() + ".car"}))
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))

	var cerr *piece.ConflictError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, first, cerr.ExistingContent)
}

func TestHandleTrustClientPiece(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{TrustClientPiece: true})

	data := []byte("client computed these bytes")
	pieceCid, _, err := commp.PieceCID(data)
	require.NoError(t, err)

	content := testContentCid(t, "content")
	msg := eventMessage(t, ObjectEvent{
		Bucket: "carpark",
		Key:    content.String() + ".car",
		Piece:  pieceCid.String(),
	})
	require.NoError(t, h.handler.Handle(ctx, msg))

	// trusted piece means no object fetch and no compute
	require.Zero(t, h.objects.reads)

	rec, err := h.store.Get(ctx, pieceCid)
	require.NoError(t, err)
	require.Equal(t, content, rec.Content)
}

func TestHandleTrustClientPieceRejectsNonCommitment(t *testing.T) {
	ctx := context.Background()
	h := newHandlerHarness(t, Config{TrustClientPiece: true})

	content := testContentCid(t, "content")

	// a syntactically valid cid that is not a piece commitment
	msg := eventMessage(t, ObjectEvent{
		Bucket: "carpark",
		Key:    content.String() + ".car",
		Piece:  testContentCid(t, "not-a-piece").String(),
	})
	err := h.handler.Handle(ctx, msg)
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))

	// a malformed piece cid is equally permanent
	msg = eventMessage(t, ObjectEvent{
		Bucket: "carpark",
		Key:    content.String() + ".car",
		Piece:  "zzzz",
	})
	err = h.handler.Handle(ctx, msg)
	require.Error(t, err)
	require.True(t, mq.IsPermanent(err))
}

func TestContentFromKey(t *testing.T) {
	content := testContentCid(t, "content")

	for _, key := range []string{
		content.String() + ".car",
		content.String() + "/" + content.String() + ".car",
		"prefix/" + content.String() + ".car",
	} {
		got, err := contentFromKey(key)
		require.NoError(t, err, key)
		require.Equal(t, content, got)
	}

	_, err := contentFromKey("hello/world.txt")
	require.Error(t, err)
	var verr *piece.ValidationError
	require.ErrorAs(t, err, &verr)
}
