package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/events"
	"slotmarket/core/genesis"
	marketstate "slotmarket/core/state"
	"slotmarket/core/types"
	"slotmarket/native/auction"
	"slotmarket/native/common"
	"slotmarket/native/currency"
	"slotmarket/native/htlc"
	"slotmarket/native/inventory"
	"slotmarket/observability"
	"slotmarket/observability/logging"
	"slotmarket/storage"
)

var (
	errNilNode = errors.New("node not initialised")

	eventSeqKey       = []byte("market/event-seq")
	genesisAppliedKey = []byte("market/genesis-applied")
)

// MarketSettings fixes the principals and economics of the market for the
// lifetime of the node. FeeTreasury is optional: left zero, the
// commission-sized remainder of every release stays in the custodian's
// balance, which no caller can move.
type MarketSettings struct {
	Validator     [20]byte
	Custodian     [20]byte
	FeeTreasury   [20]byte
	Admin         [20]byte
	CommissionBps uint32
	RefundGrace   int64
	StartPolicy   auction.StartPolicy
	CurrencyCap   *big.Int
	// PauseInventory pauses inventory transfers at startup. A pause set
	// later over RPC persists across restarts regardless of this flag.
	PauseInventory bool
	// PauseMarket is authoritative: it is written on every start.
	PauseMarket bool
}

func (s MarketSettings) validate() error {
	if s.Validator == ([20]byte{}) {
		return fmt.Errorf("market: validator address required")
	}
	if s.Custodian == ([20]byte{}) {
		return fmt.Errorf("market: custodian address required")
	}
	if s.Validator == s.Custodian {
		return fmt.Errorf("market: validator and custodian must differ")
	}
	if s.CommissionBps > 10_000 {
		return fmt.Errorf("market: commission bps out of range: %d", s.CommissionBps)
	}
	if s.RefundGrace < 0 {
		return fmt.Errorf("market: refund grace must be non-negative")
	}
	if s.CurrencyCap == nil || s.CurrencyCap.Sign() <= 0 {
		return fmt.Errorf("market: currency cap must be positive")
	}
	return nil
}

// EventSink receives every committed event batch in commit order.
type EventSink interface {
	Record(ctx context.Context, records []types.EventRecord) error
}

// Option customises a Node.
type Option func(*Node)

// WithClock replaces the wall clock. The clock is read once per call.
func WithClock(clock func() time.Time) Option {
	return func(n *Node) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger sets the structured logger used for transition logs.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEventSink adds a sink that receives committed events.
func WithEventSink(sink EventSink) Option {
	return func(n *Node) {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
}

// Node serialises every market call. Each call runs against a buffered state
// overlay that is committed in one storage batch only if the call succeeds,
// so no caller ever observes a partially applied transition.
type Node struct {
	manager  *marketstate.Manager
	settings MarketSettings
	clock    func() time.Time
	logger   *slog.Logger
	sinks    []EventSink

	stateMu sync.Mutex

	streamMu      sync.Mutex
	streamSubs    map[uint64]chan types.EventRecord
	streamNextID  uint64
	streamHistory []types.EventRecord
}

// NewNode opens the market over db and applies the startup configuration: the
// currency cap and the configured pause switches.
func NewNode(db storage.Database, settings MarketSettings, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("market: database required")
	}
	if settings.StartPolicy == "" {
		settings.StartPolicy = auction.StartPolicyToken
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	settings.CurrencyCap = new(big.Int).Set(settings.CurrencyCap)
	n := &Node{
		manager:  marketstate.NewManager(db),
		settings: settings,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(slog.String("component", "market"))
	if settings.FeeTreasury == ([20]byte{}) {
		n.logger.Warn("fee treasury unset, commission remainder is retained by the custodian")
	}

	_, err := apply(n, "bootstrap", func(e *engines) (struct{}, error) {
		if err := e.currency.SetCap(settings.CurrencyCap); err != nil {
			return struct{}{}, err
		}
		if settings.PauseInventory {
			if err := e.pauses.SetPaused(common.ModuleInventory, true); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, e.pauses.SetPaused(common.ModuleMarket, settings.PauseMarket)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Settings returns the configuration the node was opened with.
func (n *Node) Settings() MarketSettings {
	out := n.settings
	out.CurrencyCap = new(big.Int).Set(n.settings.CurrencyCap)
	return out
}

type engines struct {
	now       int64
	tx        *marketstate.Tx
	pauses    *common.PauseStore
	currency  *currency.Ledger
	inventory *inventory.Registry
	escrow    *htlc.Engine
	auction   *auction.Engine
}

func (n *Node) newEngines(tx *marketstate.Tx, now int64, emitter events.Emitter) (*engines, error) {
	nowFn := func() int64 { return now }
	pauses := common.NewPauseStore(tx)

	ledger := currency.NewLedger()
	ledger.SetState(tx)
	ledger.SetEmitter(emitter)

	registry := inventory.NewRegistry()
	registry.SetState(tx)
	registry.SetPauses(pauses)
	registry.SetAdmin(n.settings.Admin)
	registry.SetNowFunc(nowFn)
	registry.SetEmitter(emitter)

	escrow := htlc.NewEngine()
	escrow.SetState(tx)
	escrow.SetInventory(registry)
	escrow.SetCurrency(ledger)
	escrow.SetCustodian(n.settings.Custodian)
	escrow.SetValidator(n.settings.Validator)
	escrow.SetFeeTreasury(n.settings.FeeTreasury)
	if err := escrow.SetCommissionBps(n.settings.CommissionBps); err != nil {
		return nil, err
	}
	if err := escrow.SetRefundGrace(n.settings.RefundGrace); err != nil {
		return nil, err
	}
	escrow.SetNowFunc(nowFn)
	escrow.SetEmitter(emitter)

	auctions := auction.NewEngine()
	auctions.SetState(tx)
	auctions.SetInventory(registry)
	auctions.SetEscrow(escrow)
	auctions.SetPauses(pauses)
	auctions.SetCustodian(n.settings.Custodian)
	auctions.SetStartPolicy(n.settings.StartPolicy)
	auctions.SetNowFunc(nowFn)
	auctions.SetEmitter(emitter)

	return &engines{
		now:       now,
		tx:        tx,
		pauses:    pauses,
		currency:  ledger,
		inventory: registry,
		escrow:    escrow,
		auction:   auctions,
	}, nil
}

// applyAs is apply for calls made on behalf of caller. The custodian only
// moves assets through settlement and is never accepted as a caller.
func applyAs[T any](n *Node, op string, caller [20]byte, fn func(*engines) (T, error), attrs ...slog.Attr) (T, error) {
	var zero T
	if n == nil || n.manager == nil {
		return zero, errNilNode
	}
	if caller == n.settings.Custodian {
		err := fmt.Errorf("%w: custodian cannot act as a caller", coreerrors.ErrUnauthorized)
		n.observe(op, err, time.Now(), attrs...)
		return zero, err
	}
	return apply(n, op, fn, attrs...)
}

// apply runs fn as one atomic ledger call. Events emitted by the engines are
// sequenced inside the same batch and published only after it commits. attrs
// are attached to the rejection log line only.
func apply[T any](n *Node, op string, fn func(*engines) (T, error), attrs ...slog.Attr) (T, error) {
	var zero T
	if n == nil || n.manager == nil {
		return zero, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	started := time.Now()
	now := n.clock().Unix()
	tx := n.manager.Begin()
	buffer := &events.Buffer{}

	result, err := func() (T, error) {
		eng, err := n.newEngines(tx, now, buffer)
		if err != nil {
			return zero, err
		}
		return fn(eng)
	}()
	var records []types.EventRecord
	if err == nil {
		records, err = n.sequence(tx, now, buffer.Drain())
	}
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit %s: %w", op, commitErr)
		}
	} else {
		tx.Discard()
	}
	n.observe(op, err, started, attrs...)
	if err != nil {
		return zero, err
	}
	n.publish(records)
	return result, nil
}

// view runs fn against the committed state and discards any staged writes.
func view[T any](n *Node, fn func(*engines) (T, error)) (T, error) {
	var zero T
	if n == nil || n.manager == nil {
		return zero, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	tx := n.manager.Begin()
	defer tx.Discard()
	eng, err := n.newEngines(tx, n.clock().Unix(), events.NoopEmitter{})
	if err != nil {
		return zero, err
	}
	return fn(eng)
}

func (n *Node) sequence(tx *marketstate.Tx, now int64, evts []*types.Event) ([]types.EventRecord, error) {
	if len(evts) == 0 {
		return nil, nil
	}
	var seq uint64
	if _, err := tx.KVGet(eventSeqKey, &seq); err != nil {
		return nil, err
	}
	records := make([]types.EventRecord, 0, len(evts))
	for _, evt := range evts {
		seq++
		records = append(records, types.EventRecord{
			Sequence:   seq,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			Timestamp:  now,
		})
	}
	if err := tx.KVPut(eventSeqKey, seq); err != nil {
		return nil, err
	}
	return records, nil
}

func (n *Node) observe(op string, err error, started time.Time, attrs ...slog.Attr) {
	class := coreerrors.Class(err)
	elapsed := time.Since(started)
	observability.Market().ObserveTransition(op, class, elapsed)
	if err != nil {
		args := []any{
			slog.String("operation", op),
			slog.String("class", class),
			slog.String("error", err.Error()),
		}
		for _, attr := range attrs {
			args = append(args, attr)
		}
		n.logger.Warn("market call rejected", args...)
		return
	}
	n.logger.Info("market transition committed",
		slog.String("operation", op),
		slog.Duration("elapsed", elapsed))
}

func (n *Node) publish(records []types.EventRecord) {
	if len(records) == 0 {
		return
	}
	metrics := observability.Market()
	for _, record := range records {
		observability.Events().RecordEmitted(record.Type)
		group := record.Attributes["group"]
		switch record.Type {
		case htlc.EventTypeEscrowOpened:
			metrics.EscrowOpened(group)
		case htlc.EventTypeEscrowReleased:
			metrics.EscrowSettled(group, "released")
		case htlc.EventTypeEscrowRefunded:
			metrics.EscrowSettled(group, "refunded")
		case htlc.EventTypeEscrowCancelled:
			metrics.EscrowSettled(group, "cancelled")
		}
		n.broadcast(record)
	}
	for _, sink := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.Record(ctx, records); err != nil {
			observability.Events().RecordDropped("sink")
			n.logger.Warn("event sink failed",
				slog.String("error", err.Error()),
				slog.Int("events", len(records)))
		}
		cancel()
	}
}

// Seed applies a genesis allocation to an empty ledger. Seeding a ledger that
// was already seeded is a no-op.
func (n *Node) Seed(spec *genesis.Spec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	return apply(n, "genesis", func(e *engines) (bool, error) {
		var applied bool
		if _, err := e.tx.KVGet(genesisAppliedKey, &applied); err != nil {
			return false, err
		}
		if applied {
			return false, nil
		}
		headroom, err := e.currency.MintHeadroom()
		if err != nil {
			return false, err
		}
		if total := spec.TotalBalance(); total.Cmp(headroom) > 0 {
			return false, fmt.Errorf("%w: genesis balances %s exceed cap headroom %s", coreerrors.ErrTransferFailure, total, headroom)
		}
		for _, balance := range spec.BalanceAllocations() {
			if err := e.currency.Mint(balance.Address, balance.Amount); err != nil {
				return false, err
			}
		}
		for _, slot := range spec.SlotAllocations() {
			if _, err := e.inventory.Mint(slot.Owner, slot.ValidStart, slot.ValidEnd, slot.Group, slot.URI, slot.Location); err != nil {
				return false, err
			}
		}
		return true, e.tx.KVPut(genesisAppliedKey, true)
	})
}

// AuctionList takes custody of caller's slot and opens an unpriced listing.
func (n *Node) AuctionList(caller [20]byte, tokenID uint64) (*auction.Auction, error) {
	return applyAs(n, "auction_list", caller, func(e *engines) (*auction.Auction, error) {
		return e.auction.List(caller, tokenID)
	})
}

// AuctionStart prices a listing, listing the slot first when needed.
func (n *Node) AuctionStart(caller [20]byte, tokenID uint64, startPrice *big.Int, endTime int64) (*auction.Auction, error) {
	return applyAs(n, "auction_start", caller, func(e *engines) (*auction.Auction, error) {
		return e.auction.Start(caller, tokenID, startPrice, endTime)
	})
}

// AuctionBid accepts a listing at the current price and returns the escrow.
func (n *Node) AuctionBid(caller [20]byte, tokenID uint64) (*htlc.Escrow, error) {
	return applyAs(n, "auction_bid", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.auction.Bid(caller, tokenID)
	})
}

// AuctionCancel closes an unsold listing.
func (n *Node) AuctionCancel(caller [20]byte, tokenID uint64) (*auction.Auction, error) {
	return applyAs(n, "auction_cancel", caller, func(e *engines) (*auction.Auction, error) {
		return e.auction.Cancel(caller, tokenID)
	})
}

func (n *Node) AuctionGet(tokenID uint64) (*auction.Auction, error) {
	return view(n, func(e *engines) (*auction.Auction, error) {
		return e.auction.Get(tokenID)
	})
}

// AuctionPrice returns the price a bid placed now would lock.
func (n *Node) AuctionPrice(tokenID uint64) (*big.Int, error) {
	return view(n, func(e *engines) (*big.Int, error) {
		a, err := e.auction.Get(tokenID)
		if err != nil {
			return nil, err
		}
		if !a.Priced() {
			return nil, fmt.Errorf("%w: auction for token %d has not started", coreerrors.ErrInvalidState, tokenID)
		}
		return auction.CurrentPrice(a.StartPrice, a.StartTime, a.EndTime, e.now)
	})
}

func (n *Node) EscrowGet(tokenID uint64) (*htlc.Escrow, error) {
	return view(n, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.Get(tokenID)
	})
}

func (n *Node) EscrowSetTokenMetadata(caller [20]byte, tokenID uint64, uri string) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_set_token_metadata", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.SetTokenMetadata(caller, tokenID, uri)
	})
}

func (n *Node) EscrowSetHashlock(caller [20]byte, tokenID uint64, hashlock [32]byte, threshold uint32) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_set_hashlock", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.SetHashlock(caller, tokenID, hashlock, threshold)
	})
}

func (n *Node) EscrowSubmitShare(caller [20]byte, tokenID uint64, share []byte) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_submit_share", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.SubmitShare(caller, tokenID, share)
	}, logging.MaskField("share", hex.EncodeToString(share)))
}

func (n *Node) EscrowWithdraw(caller [20]byte, tokenID uint64, preimage [32]byte) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_withdraw", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.Withdraw(caller, tokenID, preimage)
	}, logging.MaskField("preimage", hex.EncodeToString(preimage[:])))
}

func (n *Node) EscrowRefund(caller [20]byte, tokenID uint64) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_refund", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.Refund(caller, tokenID)
	})
}

func (n *Node) EscrowCancel(caller [20]byte, tokenID uint64) (*htlc.Escrow, error) {
	return applyAs(n, "escrow_cancel", caller, func(e *engines) (*htlc.Escrow, error) {
		return e.escrow.Cancel(caller, tokenID)
	})
}

// InventoryMint mints a slot owned by caller.
func (n *Node) InventoryMint(caller [20]byte, validStart, validEnd int64, group uint64, uri, location string) (*inventory.Token, error) {
	return applyAs(n, "inventory_mint", caller, func(e *engines) (*inventory.Token, error) {
		return e.inventory.Mint(caller, validStart, validEnd, group, uri, location)
	})
}

// InventoryApprove lets spender move caller's slot once.
func (n *Node) InventoryApprove(caller, spender [20]byte, tokenID uint64) (*inventory.Token, error) {
	return applyAs(n, "inventory_approve", caller, func(e *engines) (*inventory.Token, error) {
		if err := e.inventory.Approve(caller, spender, tokenID); err != nil {
			return nil, err
		}
		return e.inventory.Token(tokenID)
	})
}

func (n *Node) InventoryToken(tokenID uint64) (*inventory.Token, error) {
	return view(n, func(e *engines) (*inventory.Token, error) {
		return e.inventory.Token(tokenID)
	})
}

func (n *Node) InventorySetGroupURI(caller [20]byte, group uint64, uri string) (string, error) {
	return applyAs(n, "inventory_set_group_uri", caller, func(e *engines) (string, error) {
		if err := e.inventory.SetGroupURI(caller, group, uri); err != nil {
			return "", err
		}
		return e.inventory.GroupURI(caller, group)
	})
}

func (n *Node) InventoryGroupURI(owner [20]byte, group uint64) (string, error) {
	return view(n, func(e *engines) (string, error) {
		return e.inventory.GroupURI(owner, group)
	})
}

// InventorySetPaused toggles the inventory transfer pause. Only the
// configured admin may call it.
func (n *Node) InventorySetPaused(caller [20]byte, paused bool) (bool, error) {
	op := "inventory_unpause"
	if paused {
		op = "inventory_pause"
	}
	return applyAs(n, op, caller, func(e *engines) (bool, error) {
		if paused {
			return true, e.inventory.Pause(caller)
		}
		return false, e.inventory.Unpause(caller)
	})
}

func (n *Node) InventoryPaused() (bool, error) {
	return view(n, func(e *engines) (bool, error) {
		return e.inventory.Paused(), nil
	})
}

func (n *Node) CurrencyBalance(addr [20]byte) (*big.Int, error) {
	return view(n, func(e *engines) (*big.Int, error) {
		return e.currency.BalanceOf(addr)
	})
}

func (n *Node) CurrencyAllowance(owner, spender [20]byte) (*big.Int, error) {
	return view(n, func(e *engines) (*big.Int, error) {
		return e.currency.Allowance(owner, spender)
	})
}

// CurrencyApprove sets the allowance of spender over caller's balance.
func (n *Node) CurrencyApprove(caller, spender [20]byte, amount *big.Int) (*big.Int, error) {
	return applyAs(n, "currency_approve", caller, func(e *engines) (*big.Int, error) {
		if err := e.currency.Approve(caller, spender, amount); err != nil {
			return nil, err
		}
		return e.currency.Allowance(caller, spender)
	})
}

// CurrencyTransfer moves amount from caller and returns caller's new balance.
func (n *Node) CurrencyTransfer(caller, to [20]byte, amount *big.Int) (*big.Int, error) {
	return applyAs(n, "currency_transfer", caller, func(e *engines) (*big.Int, error) {
		if to == ([20]byte{}) {
			return nil, fmt.Errorf("%w: transfer to zero address", coreerrors.ErrInvalidArgument)
		}
		if err := e.currency.Transfer(caller, to, amount); err != nil {
			return nil, err
		}
		return e.currency.BalanceOf(caller)
	})
}

// Supply reports the minted total and the hard cap.
type Supply struct {
	TotalSupply *big.Int
	Cap         *big.Int
}

func (n *Node) CurrencySupply() (Supply, error) {
	return view(n, func(e *engines) (Supply, error) {
		total, err := e.currency.TotalSupply()
		if err != nil {
			return Supply{}, err
		}
		limit, err := e.currency.Cap()
		if err != nil {
			return Supply{}, err
		}
		return Supply{TotalSupply: total, Cap: limit}, nil
	})
}

// EventSequence returns the sequence of the last committed event.
func (n *Node) EventSequence() (uint64, error) {
	return view(n, func(e *engines) (uint64, error) {
		var seq uint64
		_, err := e.tx.KVGet(eventSeqKey, &seq)
		return seq, err
	})
}
