package inventory

import (
	"encoding/hex"
	"strconv"

	"slotmarket/core/types"
)

const (
	EventTypeMinted      = "inventory.minted"
	EventTypeTransferred = "inventory.transferred"
	EventTypeApproved    = "inventory.approved"
	EventTypeURIUpdated  = "inventory.uri_updated"
	EventTypeGroupURI    = "inventory.group_uri"
	EventTypePaused      = "inventory.paused"
	EventTypeUnpaused    = "inventory.unpaused"
)

func newTokenEvent(eventType string, t *Token) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["tokenId"] = strconv.FormatUint(t.ID, 10)
	attrs["owner"] = hex.EncodeToString(t.Owner[:])
	attrs["group"] = strconv.FormatUint(t.Group, 10)
	attrs["validStart"] = strconv.FormatInt(t.ValidStart, 10)
	attrs["validEnd"] = strconv.FormatInt(t.ValidEnd, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewMintedEvent returns the payload emitted when a slot is minted.
func NewMintedEvent(t *Token) *types.Event {
	evt := newTokenEvent(EventTypeMinted, t)
	if t != nil {
		evt.Attributes["uri"] = t.URI
		evt.Attributes["location"] = t.Location
	}
	return evt
}

// NewTransferredEvent returns the payload emitted when custody moves.
func NewTransferredEvent(t *Token, from [20]byte) *types.Event {
	evt := newTokenEvent(EventTypeTransferred, t)
	evt.Attributes["from"] = hex.EncodeToString(from[:])
	return evt
}

// NewApprovedEvent returns the payload emitted when a transfer approval is set.
func NewApprovedEvent(t *Token) *types.Event {
	evt := newTokenEvent(EventTypeApproved, t)
	if t != nil {
		evt.Attributes["approved"] = hex.EncodeToString(t.Approved[:])
	}
	return evt
}

// NewURIUpdatedEvent returns the payload emitted when slot metadata changes.
func NewURIUpdatedEvent(t *Token) *types.Event {
	evt := newTokenEvent(EventTypeURIUpdated, t)
	if t != nil {
		evt.Attributes["uri"] = t.URI
	}
	return evt
}

// NewGroupURIEvent returns the payload emitted when an owner labels a group.
func NewGroupURIEvent(owner [20]byte, group uint64, uri string) *types.Event {
	return &types.Event{Type: EventTypeGroupURI, Attributes: map[string]string{
		"owner": hex.EncodeToString(owner[:]),
		"group": strconv.FormatUint(group, 10),
		"uri":   uri,
	}}
}

// NewPauseEvent returns the payload emitted when the transfer switch flips.
func NewPauseEvent(paused bool, by [20]byte) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"by": hex.EncodeToString(by[:]),
	}}
}
