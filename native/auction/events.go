package auction

import (
	"encoding/hex"
	"strconv"

	"slotmarket/core/types"
)

const (
	EventTypeAuctionListed    = "auction.listed"
	EventTypeAuctionStarted   = "auction.started"
	EventTypeAuctionBid       = "auction.bid"
	EventTypeAuctionCancelled = "auction.cancelled"
	EventTypeAuctionExpired   = "auction.expired"
)

func NewListedEvent(a *Auction) *types.Event { return newAuctionEvent(EventTypeAuctionListed, a) }

// NewStartedEvent carries the price schedule set by the publisher.
func NewStartedEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionStarted, a)
	if a != nil {
		evt.Attributes["startPrice"] = cloneBigInt(a.StartPrice).String()
		evt.Attributes["startTime"] = strconv.FormatInt(a.StartTime, 10)
		evt.Attributes["endTime"] = strconv.FormatInt(a.EndTime, 10)
	}
	return evt
}

// NewBidEvent records the winning bidder and the price locked in escrow.
func NewBidEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionBid, a)
	if a != nil {
		evt.Attributes["advertiser"] = hex.EncodeToString(a.Advertiser[:])
		evt.Attributes["bidPrice"] = cloneBigInt(a.BidPrice).String()
	}
	return evt
}

// NewClosedEvent returns the cancelled or expired payload matching the
// auction's terminal status.
func NewClosedEvent(a *Auction) *types.Event {
	if a != nil && a.Status == AuctionExpired {
		return newAuctionEvent(EventTypeAuctionExpired, a)
	}
	return newAuctionEvent(EventTypeAuctionCancelled, a)
}

func newAuctionEvent(eventType string, a *Auction) *types.Event {
	evt := &types.Event{Type: eventType, Attributes: make(map[string]string)}
	if a == nil {
		return evt
	}
	evt.Attributes["tokenId"] = strconv.FormatUint(a.TokenID, 10)
	evt.Attributes["publisher"] = hex.EncodeToString(a.Publisher[:])
	evt.Attributes["group"] = strconv.FormatUint(a.Group, 10)
	evt.Attributes["status"] = a.Status.String()
	return evt
}
