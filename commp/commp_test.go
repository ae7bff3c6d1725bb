package commp

import (
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-storefront/piece"
)

func TestPieceCID(t *testing.T) {
	data := []byte("some content addressed bytes")

	c1, size1, err := PieceCID(data)
	require.NoError(t, err)
	require.True(t, c1.Defined())
	require.GreaterOrEqual(t, uint64(size1), uint64(len(data)))

	// deterministic
	c2, size2, err := PieceCID(data)
	require.NoError(t, err)
	require.Equal(t, c1, c2)
	require.Equal(t, size1, size2)

	// sensitive to content
	c3, _, err := PieceCID([]byte("different bytes entirely"))
	require.NoError(t, err)
	require.NotEqual(t, c1, c3)
}

func TestPieceCIDEmpty(t *testing.T) {
	_, _, err := PieceCID(nil)
	var verr *piece.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidatePieceCID(t *testing.T) {
	c, _, err := PieceCID([]byte("some bytes"))
	require.NoError(t, err)
	require.NoError(t, ValidatePieceCID(c))

	require.Error(t, ValidatePieceCID(cid.Undef))

	// an ordinary content cid is not a piece commitment
	h, err := mh.Sum([]byte("content"), mh.SHA2_256, -1)
	require.NoError(t, err)
	require.Error(t, ValidatePieceCID(cid.NewCidV1(cid.Raw, h)))
}
