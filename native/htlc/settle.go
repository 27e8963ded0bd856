package htlc

import (
	"fmt"
	"math/big"

	coreerrors "slotmarket/core/errors"
)

// Commission returns the validator's cut of amount at the configured rate,
// truncated toward zero.
func (e *Engine) Commission(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(uint64(e.commissionBps)))
	return fee.Div(fee, big.NewInt(10_000))
}

func (e *Engine) treasury() [20]byte {
	if e.feeTreasury == ([20]byte{}) {
		return e.custodian
	}
	return e.feeTreasury
}

// Withdraw releases the escrow to the publisher once the validator's proof is
// complete. The commission is minted to the validator within the supply cap,
// the publisher receives the amount net of commission and the slot passes
// permanently to the advertiser.
func (e *Engine) Withdraw(caller [20]byte, tokenID uint64, preimage [32]byte) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyPublisher)
	if err != nil {
		return nil, err
	}
	if err := verifyRelease(esc, preimage); err != nil {
		return nil, err
	}
	if e.validator == ([20]byte{}) {
		return nil, errNilValidator
	}
	commission := e.Commission(esc.Amount)
	headroom, err := e.currency.MintHeadroom()
	if err != nil {
		return nil, err
	}
	if commission.Cmp(headroom) > 0 {
		return nil, fmt.Errorf("%w: commission %s exceeds remaining supply %s", coreerrors.ErrTransferFailure, commission, headroom)
	}
	payout := new(big.Int).Sub(esc.Amount, commission)

	esc.Status = EscrowReleased
	esc.Commission = commission
	esc.SettledAt = e.now()
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}

	if err := e.currency.Mint(e.validator, commission); err != nil {
		return nil, err
	}
	if err := e.currency.Transfer(e.custodian, esc.Publisher, payout); err != nil {
		return nil, err
	}
	if treasury := e.treasury(); treasury != e.custodian {
		if err := e.currency.Transfer(e.custodian, treasury, commission); err != nil {
			return nil, err
		}
	}
	if err := e.inventory.TransferFrom(e.custodian, e.custodian, esc.Advertiser, esc.TokenID); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(esc))
	return esc.Clone(), nil
}

// Refund returns the locked amount to the advertiser once the timelock has
// elapsed without a release. The slot goes back to the publisher.
func (e *Engine) Refund(caller [20]byte, tokenID uint64) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyAdvertiser)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now < esc.Timelock {
		return nil, fmt.Errorf("%w: refund available at %d", coreerrors.ErrTimingViolation, esc.Timelock)
	}
	return e.unwind(esc, EscrowRefunded, now)
}

// Cancel lets the publisher abandon delivery at any time while the escrow is
// pending. The advertiser is repaid in full and the slot returns to the
// publisher.
func (e *Engine) Cancel(caller [20]byte, tokenID uint64) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyPublisher)
	if err != nil {
		return nil, err
	}
	return e.unwind(esc, EscrowCancelled, e.now())
}

func (e *Engine) unwind(esc *Escrow, status EscrowStatus, now int64) (*Escrow, error) {
	esc.Status = status
	esc.SettledAt = now
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if err := e.currency.Transfer(e.custodian, esc.Advertiser, esc.Amount); err != nil {
		return nil, err
	}
	if err := e.inventory.TransferFrom(e.custodian, e.custodian, esc.Publisher, esc.TokenID); err != nil {
		return nil, err
	}
	switch status {
	case EscrowRefunded:
		e.emit(NewRefundedEvent(esc))
	default:
		e.emit(NewCancelledEvent(esc))
	}
	return esc.Clone(), nil
}
