package currency

import (
	"encoding/hex"
	"math/big"

	"slotmarket/core/types"
)

const (
	EventTypeTransfer = "currency.transfer"
	EventTypeApproval = "currency.approval"
	EventTypeMint     = "currency.mint"
)

// NewTransferEvent returns the payload emitted for a balance transfer.
func NewTransferEvent(from, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"from":   hex.EncodeToString(from[:]),
		"to":     hex.EncodeToString(to[:]),
		"amount": cloneBigInt(amount).String(),
	}}
}

// NewApprovalEvent returns the payload emitted when an allowance changes.
func NewApprovalEvent(owner, spender [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"owner":   hex.EncodeToString(owner[:]),
		"spender": hex.EncodeToString(spender[:]),
		"amount":  cloneBigInt(amount).String(),
	}}
}

// NewMintEvent returns the payload emitted when supply is minted.
func NewMintEvent(to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeMint, Attributes: map[string]string{
		"to":     hex.EncodeToString(to[:]),
		"amount": cloneBigInt(amount).String(),
	}}
}
