// Package commp computes and validates piece commitment CIDs for submitted
// content. The rest of the pipeline treats this as a black box from bytes to
// a piece identifier.
package commp

import (
	"bytes"
	"io"

	commputils "github.com/filecoin-project/go-commp-utils/v2"
	commcid "github.com/filecoin-project/go-fil-commcid"
	"github.com/filecoin-project/go-padreader"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/piece"
)

// proofType only selects the commitment flavour; it does not bind pieces to a
// particular sector size.
const proofType = abi.RegisteredSealProof_StackedDrg32GiBV1_1

// PieceCID computes the piece commitment CID over data, zero-padding up to
// the next valid piece size. Failures are piece.ValidationError: bytes that
// cannot be committed now never will be.
func PieceCID(data []byte) (cid.Cid, abi.UnpaddedPieceSize, error) {
	if len(data) == 0 {
		return cid.Undef, 0, &piece.ValidationError{Reason: "empty content"}
	}

	padded := padreader.PaddedSize(uint64(len(data)))
	r := io.MultiReader(
		bytes.NewReader(data),
		bytes.NewReader(make([]byte, uint64(padded)-uint64(len(data)))),
	)

	c, err := commputils.GeneratePieceCIDFromFile(proofType, r, padded)
	if err != nil {
		return cid.Undef, 0, &piece.ValidationError{Reason: "computing piece commitment", Err: err}
	}
	return c, padded, nil
}

// ValidatePieceCID checks that c actually encodes a piece commitment, for
// submissions that arrive with a precomputed piece CID.
func ValidatePieceCID(c cid.Cid) error {
	if !c.Defined() {
		return &piece.ValidationError{Reason: "undefined piece cid"}
	}
	if _, err := commcid.CIDToPieceCommitmentV1(c); err != nil {
		return &piece.ValidationError{Reason: "not a piece commitment cid", Err: xerrors.Errorf("%s: %w", c, err)}
	}
	return nil
}
