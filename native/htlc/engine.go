package htlc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/events"
	"slotmarket/core/types"
)

const (
	// DefaultCommissionBps is the validator commission applied on release.
	DefaultCommissionBps uint32 = 500
	// DefaultRefundGraceSeconds is added to the slot's validity end to derive
	// the refund timelock.
	DefaultRefundGraceSeconds int64 = 86_400
)

var (
	errNilState     = errors.New("htlc engine: state not configured")
	errNilInventory = errors.New("htlc engine: inventory registry not configured")
	errNilCurrency  = errors.New("htlc engine: currency ledger not configured")
	errNilCustodian = errors.New("htlc engine: custodian not configured")
	errNilValidator = errors.New("htlc engine: validator not configured")
)

func escrowKey(tokenID uint64) []byte {
	key := make([]byte, len("htlc/escrow/")+8)
	copy(key, "htlc/escrow/")
	binary.BigEndian.PutUint64(key[len("htlc/escrow/"):], tokenID)
	return key
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type tokenRegistry interface {
	TransferFrom(caller, from, to [20]byte, id uint64) error
	SetTokenURI(caller [20]byte, id uint64, uri string) error
}

type currencyLedger interface {
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
	Mint(to [20]byte, amount *big.Int) error
	MintHeadroom() (*big.Int, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine implements the slot escrow: creation on a winning bid, the
// validator's hashlock and share protocol, and the three mutually exclusive
// settlement paths. The system custodian holds both asset legs while an escrow
// is pending.
type Engine struct {
	state         engineState
	inventory     tokenRegistry
	currency      currencyLedger
	emitter       events.Emitter
	nowFn         func() int64
	custodian     [20]byte
	validator     [20]byte
	feeTreasury   [20]byte
	commissionBps uint32
	refundGrace   int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// commission and refund grace.
func NewEngine() *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		commissionBps: DefaultCommissionBps,
		refundGrace:   DefaultRefundGraceSeconds,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetInventory configures the slot token registry.
func (e *Engine) SetInventory(reg tokenRegistry) { e.inventory = reg }

// SetCurrency configures the currency ledger.
func (e *Engine) SetCurrency(ledger currencyLedger) { e.currency = ledger }

// SetCustodian configures the account that holds escrowed assets.
func (e *Engine) SetCustodian(addr [20]byte) { e.custodian = addr }

// SetValidator configures the single identity allowed to run the
// proof-of-delivery protocol.
func (e *Engine) SetValidator(addr [20]byte) { e.validator = addr }

// SetFeeTreasury configures where the commission-sized remainder of a released
// escrow goes. The zero address keeps it with the custodian.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetCommissionBps configures the validator commission in basis points.
func (e *Engine) SetCommissionBps(bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("htlc: commission bps out of range: %d", bps)
	}
	e.commissionBps = bps
	return nil
}

// SetRefundGrace configures the delay after slot expiry before the advertiser
// may reclaim funds.
func (e *Engine) SetRefundGrace(seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("htlc: refund grace must be non-negative")
	}
	e.refundGrace = seconds
	return nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
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

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
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
	case e.currency == nil:
		return errNilCurrency
	case e.custodian == ([20]byte{}):
		return errNilCustodian
	}
	return nil
}

func (e *Engine) loadEscrow(tokenID uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedEscrow
	ok, err := e.state.KVGet(escrowKey(tokenID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no escrow for token %d", coreerrors.ErrNotFound, tokenID)
	}
	return fromStoredEscrow(&stored)
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.KVPut(escrowKey(esc.TokenID), toStoredEscrow(esc))
}

type party uint8

const (
	partyPublisher party = iota
	partyAdvertiser
	partyValidator
)

func (p party) String() string {
	switch p {
	case partyPublisher:
		return "publisher"
	case partyAdvertiser:
		return "advertiser"
	default:
		return "validator"
	}
}

// loadPending loads the escrow, checks the caller against the required party
// and requires the escrow to still be pending, in that order.
func (e *Engine) loadPending(tokenID uint64, caller [20]byte, who party) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(tokenID)
	if err != nil {
		return nil, err
	}
	var required [20]byte
	switch who {
	case partyPublisher:
		required = esc.Publisher
	case partyAdvertiser:
		required = esc.Advertiser
	case partyValidator:
		if e.validator == ([20]byte{}) {
			return nil, errNilValidator
		}
		required = e.validator
	}
	if caller != required {
		return nil, fmt.Errorf("%w: caller is not the %s", coreerrors.ErrUnauthorized, who)
	}
	if esc.Status != EscrowPending {
		return nil, fmt.Errorf("%w: escrow for token %d is %s", coreerrors.ErrInvalidState, tokenID, esc.Status)
	}
	return esc, nil
}

// Open locks amount from the advertiser into custody and records a pending
// escrow for the slot. The advertiser must have approved the custodian for at
// least amount beforehand. Only the auction registry calls Open.
func (e *Engine) Open(params OpenParams) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amount := cloneBigInt(params.Amount)
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", coreerrors.ErrInvalidArgument)
	}
	if params.Publisher == params.Advertiser {
		return nil, fmt.Errorf("%w: publisher cannot be the advertiser", coreerrors.ErrUnauthorized)
	}
	if params.Advertiser == e.custodian {
		return nil, fmt.Errorf("%w: custodian cannot be the advertiser", coreerrors.ErrUnauthorized)
	}
	var existing storedEscrow
	ok, err := e.state.KVGet(escrowKey(params.TokenID), &existing)
	if err != nil {
		return nil, err
	}
	if ok && EscrowStatus(existing.Status) == EscrowPending {
		return nil, fmt.Errorf("%w: escrow for token %d already pending", coreerrors.ErrInvalidState, params.TokenID)
	}
	now := e.now()
	esc := &Escrow{
		TokenID:    params.TokenID,
		Publisher:  params.Publisher,
		Advertiser: params.Advertiser,
		Group:      params.Group,
		Amount:     amount,
		Timelock:   params.TokenValidEnd + e.refundGrace,
		Commission: big.NewInt(0),
		Status:     EscrowPending,
		CreatedAt:  now,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if err := e.currency.TransferFrom(e.custodian, esc.Advertiser, e.custodian, esc.Amount); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(esc))
	return esc.Clone(), nil
}

// Get returns a snapshot of the escrow for the slot.
func (e *Engine) Get(tokenID uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(tokenID)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// SetTokenMetadata lets the advertiser write the slot's usage metadata while
// the escrow is pending. The custodian owns the slot at that point, so the
// write is forwarded on its behalf.
func (e *Engine) SetTokenMetadata(caller [20]byte, tokenID uint64, uri string) (*Escrow, error) {
	esc, err := e.loadPending(tokenID, caller, partyAdvertiser)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(uri)
	if err := e.inventory.SetTokenURI(e.custodian, tokenID, trimmed); err != nil {
		return nil, err
	}
	e.emit(NewMetadataEvent(esc, trimmed))
	return esc.Clone(), nil
}
