package auction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/events"
	"slotmarket/core/types"
	"slotmarket/native/common"
	"slotmarket/native/htlc"
	"slotmarket/native/inventory"
)

var (
	errNilState     = errors.New("auction engine: state not configured")
	errNilInventory = errors.New("auction engine: inventory registry not configured")
	errNilEscrow    = errors.New("auction engine: escrow engine not configured")
	errNilCustodian = errors.New("auction engine: custodian not configured")
)

func auctionKey(tokenID uint64) []byte {
	key := make([]byte, len("auction/listing/")+8)
	copy(key, "auction/listing/")
	binary.BigEndian.PutUint64(key[len("auction/listing/"):], tokenID)
	return key
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type slotRegistry interface {
	Token(id uint64) (*inventory.Token, error)
	TransferFrom(caller, from, to [20]byte, id uint64) error
}

type escrowOpener interface {
	Open(params htlc.OpenParams) (*htlc.Escrow, error)
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine runs the descending-price listings. The custodian holds a listed slot
// until a bid hands it to the escrow or the publisher cancels.
type Engine struct {
	state     engineState
	inventory slotRegistry
	escrow    escrowOpener
	pauses    common.PauseView
	emitter   events.Emitter
	nowFn     func() int64
	custodian [20]byte
	policy    StartPolicy
}

// NewEngine returns an engine using the token start policy and wall-clock time.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		policy:  StartPolicyToken,
	}
}

func (e *Engine) SetState(state engineState)        { e.state = state }
func (e *Engine) SetInventory(reg slotRegistry)     { e.inventory = reg }
func (e *Engine) SetEscrow(opener escrowOpener)     { e.escrow = opener }
func (e *Engine) SetPauses(p common.PauseView)      { e.pauses = p }
func (e *Engine) SetCustodian(addr [20]byte)        { e.custodian = addr }
func (e *Engine) SetStartPolicy(policy StartPolicy) { e.policy = policy }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.inventory == nil:
		return errNilInventory
	case e.escrow == nil:
		return errNilEscrow
	case e.custodian == ([20]byte{}):
		return errNilCustodian
	}
	return nil
}

// loadAuction returns the stored listing, or nil when the token was never
// listed.
func (e *Engine) loadAuction(tokenID uint64) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedAuction
	ok, err := e.state.KVGet(auctionKey(tokenID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return fromStoredAuction(&stored)
}

func (e *Engine) mustLoad(tokenID uint64) (*Auction, error) {
	auction, err := e.loadAuction(tokenID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, fmt.Errorf("%w: no auction for token %d", coreerrors.ErrNotFound, tokenID)
	}
	return auction, nil
}

func (e *Engine) storeAuction(a *Auction) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.KVPut(auctionKey(a.TokenID), toStoredAuction(a))
}

func (e *Engine) guard() error {
	if err := common.Guard(e.pauses, common.ModuleMarket); err != nil {
		return fmt.Errorf("%w: %w", coreerrors.ErrInvalidState, err)
	}
	return nil
}

// List takes custody of the publisher's slot and opens an unpriced listing.
// The publisher must have approved the custodian for the token beforehand.
func (e *Engine) List(publisher [20]byte, tokenID uint64) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	existing, err := e.loadAuction(tokenID)
	if err != nil {
		return nil, err
	}
	if existing.Live() {
		return nil, fmt.Errorf("%w: token %d already listed", coreerrors.ErrInvalidState, tokenID)
	}
	token, err := e.inventory.Token(tokenID)
	if err != nil {
		return nil, err
	}
	return e.list(publisher, token)
}

func (e *Engine) list(publisher [20]byte, token *inventory.Token) (*Auction, error) {
	if token.Owner != publisher {
		return nil, fmt.Errorf("%w: caller does not own token %d", coreerrors.ErrUnauthorized, token.ID)
	}
	auction := &Auction{
		TokenID:         token.ID,
		Publisher:       publisher,
		Group:           token.Group,
		StartPrice:      big.NewInt(0),
		TokenValidStart: token.ValidStart,
		TokenValidEnd:   token.ValidEnd,
		BidPrice:        big.NewInt(0),
		Status:          AuctionStarted,
		CreatedAt:       e.now(),
	}
	if err := e.storeAuction(auction); err != nil {
		return nil, err
	}
	if err := e.inventory.TransferFrom(e.custodian, publisher, e.custodian, token.ID); err != nil {
		return nil, err
	}
	e.emit(NewListedEvent(auction))
	return auction.Clone(), nil
}

// Start sets the price schedule of a listing. A token without a live listing
// is listed first, so a single call can take custody and open bidding.
func (e *Engine) Start(publisher [20]byte, tokenID uint64, startPrice *big.Int, endTime int64) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if startPrice == nil || startPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: start price must be positive", coreerrors.ErrInvalidArgument)
	}
	if startPrice.BitLen() > 256 {
		return nil, fmt.Errorf("%w: start price exceeds 256 bits", coreerrors.ErrInvalidArgument)
	}
	now := e.now()
	if endTime <= now {
		return nil, fmt.Errorf("%w: end time %d is not in the future", coreerrors.ErrTimingViolation, endTime)
	}
	auction, err := e.loadAuction(tokenID)
	if err != nil {
		return nil, err
	}
	var token *inventory.Token
	if auction.Live() {
		if auction.Publisher != publisher {
			return nil, fmt.Errorf("%w: only the publisher may start token %d", coreerrors.ErrUnauthorized, tokenID)
		}
		if auction.Priced() {
			return nil, fmt.Errorf("%w: auction for token %d already started", coreerrors.ErrInvalidState, tokenID)
		}
	} else {
		token, err = e.inventory.Token(tokenID)
		if err != nil {
			return nil, err
		}
		if token.Owner != publisher {
			return nil, fmt.Errorf("%w: caller does not own token %d", coreerrors.ErrUnauthorized, tokenID)
		}
	}

	startTime := now
	if e.policy != StartPolicyNow {
		if token != nil {
			startTime = token.ValidStart
		} else {
			startTime = auction.TokenValidStart
		}
	}
	if endTime <= startTime {
		return nil, fmt.Errorf("%w: end time %d must follow start time %d", coreerrors.ErrTimingViolation, endTime, startTime)
	}

	if token != nil {
		if auction, err = e.list(publisher, token); err != nil {
			return nil, err
		}
	}
	auction.StartPrice = new(big.Int).Set(startPrice)
	auction.StartTime = startTime
	auction.EndTime = endTime
	if err := e.storeAuction(auction); err != nil {
		return nil, err
	}
	e.emit(NewStartedEvent(auction))
	return auction.Clone(), nil
}

// Bid accepts the listing at the current descending price. The auction closes
// as successful and the escrow pulls the price from the bidder's allowance.
func (e *Engine) Bid(bidder [20]byte, tokenID uint64) (*htlc.Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	auction, err := e.mustLoad(tokenID)
	if err != nil {
		return nil, err
	}
	if auction.Status != AuctionStarted {
		return nil, fmt.Errorf("%w: auction for token %d is %s", coreerrors.ErrInvalidState, tokenID, auction.Status)
	}
	if !auction.Priced() {
		return nil, fmt.Errorf("%w: auction for token %d has not started", coreerrors.ErrInvalidState, tokenID)
	}
	if bidder == auction.Publisher {
		return nil, fmt.Errorf("%w: publisher cannot bid on own listing", coreerrors.ErrUnauthorized)
	}
	now := e.now()
	if now >= auction.EndTime {
		return nil, fmt.Errorf("%w: auction for token %d ended at %d", coreerrors.ErrTimingViolation, tokenID, auction.EndTime)
	}
	price, err := CurrentPrice(auction.StartPrice, auction.StartTime, auction.EndTime, now)
	if err != nil {
		return nil, err
	}

	auction.Status = AuctionSuccessful
	auction.Advertiser = bidder
	auction.BidPrice = price
	if err := e.storeAuction(auction); err != nil {
		return nil, err
	}
	escrow, err := e.escrow.Open(htlc.OpenParams{
		TokenID:       auction.TokenID,
		Publisher:     auction.Publisher,
		Advertiser:    bidder,
		Group:         auction.Group,
		Amount:        price,
		TokenValidEnd: auction.TokenValidEnd,
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewBidEvent(auction))
	return escrow, nil
}

// Cancel closes a listing that has not been bid on and returns the slot to the
// publisher. A listing whose window has lapsed closes as expired, otherwise as
// cancelled.
func (e *Engine) Cancel(publisher [20]byte, tokenID uint64) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	auction, err := e.mustLoad(tokenID)
	if err != nil {
		return nil, err
	}
	if auction.Publisher != publisher {
		return nil, fmt.Errorf("%w: only the publisher may cancel token %d", coreerrors.ErrUnauthorized, tokenID)
	}
	if auction.Status != AuctionStarted {
		return nil, fmt.Errorf("%w: auction for token %d is %s", coreerrors.ErrInvalidState, tokenID, auction.Status)
	}
	if auction.Priced() && e.now() >= auction.EndTime {
		auction.Status = AuctionExpired
	} else {
		auction.Status = AuctionCancelled
	}
	if err := e.storeAuction(auction); err != nil {
		return nil, err
	}
	if err := e.inventory.TransferFrom(e.custodian, e.custodian, auction.Publisher, tokenID); err != nil {
		return nil, err
	}
	e.emit(NewClosedEvent(auction))
	return auction.Clone(), nil
}

// Get returns a snapshot of the listing for the token.
func (e *Engine) Get(tokenID uint64) (*Auction, error) {
	return e.mustLoad(tokenID)
}
