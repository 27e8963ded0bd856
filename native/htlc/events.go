package htlc

import (
	"encoding/hex"
	"strconv"

	"slotmarket/core/types"
)

const (
	EventTypeEscrowOpened         = "escrow.opened"
	EventTypeEscrowMetadata       = "escrow.metadata_set"
	EventTypeEscrowHashlockSet    = "escrow.hashlock_set"
	EventTypeEscrowShareSubmitted = "escrow.share_submitted"
	EventTypeEscrowReleased       = "escrow.released"
	EventTypeEscrowRefunded       = "escrow.refunded"
	EventTypeEscrowCancelled      = "escrow.cancelled"
)

// NewOpenedEvent returns the canonical event payload for a newly locked
// escrow.
func NewOpenedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowOpened, e) }

// NewMetadataEvent returns the payload emitted when the advertiser activates
// the slot.
func NewMetadataEvent(e *Escrow, uri string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowMetadata, e)
	evt.Attributes["uri"] = uri
	return evt
}

// NewHashlockSetEvent returns the payload emitted when the validator commits
// to a secret.
func NewHashlockSetEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowHashlockSet, e)
	if e != nil {
		evt.Attributes["hashlock"] = hex.EncodeToString(e.Hashlock[:])
		evt.Attributes["threshold"] = strconv.FormatUint(uint64(e.Threshold), 10)
	}
	return evt
}

// NewShareSubmittedEvent returns the payload emitted when a new share is
// counted. Only the digest is published.
func NewShareSubmittedEvent(e *Escrow, digest [32]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowShareSubmitted, e)
	evt.Attributes["shareDigest"] = hex.EncodeToString(digest[:])
	return evt
}

// NewReleasedEvent returns the canonical event payload for a release of escrow
// funds to the publisher.
func NewReleasedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowReleased, e)
	if e != nil {
		evt.Attributes["commission"] = cloneBigInt(e.Commission).String()
	}
	return evt
}

// NewRefundedEvent returns the canonical event payload for a timelocked refund
// to the advertiser.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewCancelledEvent returns the canonical event payload for a publisher
// cancellation.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["tokenId"] = strconv.FormatUint(e.TokenID, 10)
	attrs["publisher"] = hex.EncodeToString(e.Publisher[:])
	attrs["advertiser"] = hex.EncodeToString(e.Advertiser[:])
	attrs["group"] = strconv.FormatUint(e.Group, 10)
	attrs["amount"] = cloneBigInt(e.Amount).String()
	attrs["status"] = e.Status.String()
	attrs["shares"] = strconv.Itoa(len(e.Shares))
	attrs["timelock"] = strconv.FormatInt(e.Timelock, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
