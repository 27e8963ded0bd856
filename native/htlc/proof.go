package htlc

import (
	"fmt"

	coreerrors "slotmarket/core/errors"
)

// SetHashlock records the validator's commitment to a secret and the number of
// distinct shares required before release. Both values can be set exactly once
// per escrow.
func (e *Engine) SetHashlock(caller [20]byte, tokenID uint64, hashlock [32]byte, threshold uint32) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyValidator)
	if err != nil {
		return nil, err
	}
	if esc.HashlockSet() {
		return nil, fmt.Errorf("%w: hashlock already set for token %d", coreerrors.ErrInvalidState, tokenID)
	}
	if hashlock == ([32]byte{}) {
		return nil, fmt.Errorf("%w: hashlock must be non-zero", coreerrors.ErrInvalidArgument)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be at least 1", coreerrors.ErrInvalidArgument)
	}
	esc.Hashlock = hashlock
	esc.Threshold = threshold
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewHashlockSetEvent(esc))
	return esc.Clone(), nil
}

// SubmitShare adds a proof share to the escrow's share set. Shares are
// identified by their digest; resubmitting a share is rejected and never
// counted twice.
func (e *Engine) SubmitShare(caller [20]byte, tokenID uint64, share []byte) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyValidator)
	if err != nil {
		return nil, err
	}
	if !esc.HashlockSet() {
		return nil, fmt.Errorf("%w: hashlock not set for token %d", coreerrors.ErrInvalidState, tokenID)
	}
	if len(share) == 0 {
		return nil, fmt.Errorf("%w: share must not be empty", coreerrors.ErrInvalidArgument)
	}
	digest := ShareDigest(share)
	if esc.HasShare(digest) {
		return nil, fmt.Errorf("%w: duplicate share for token %d", coreerrors.ErrInvalidState, tokenID)
	}
	esc.Shares = append(esc.Shares, digest)
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewShareSubmittedEvent(esc, digest))
	return esc.Clone(), nil
}

// verifyRelease checks the preimage against the hashlock and the share count
// against the threshold.
func verifyRelease(esc *Escrow, preimage [32]byte) error {
	if !esc.HashlockSet() {
		return fmt.Errorf("%w: hashlock not set", coreerrors.ErrProofFailure)
	}
	if HashSecret(preimage) != esc.Hashlock {
		return fmt.Errorf("%w: preimage does not match hashlock", coreerrors.ErrProofFailure)
	}
	if uint64(len(esc.Shares)) < uint64(esc.Threshold) {
		return fmt.Errorf("%w: %d of %d shares submitted", coreerrors.ErrProofFailure, len(esc.Shares), esc.Threshold)
	}
	return nil
}
