package currency

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/events"
	"slotmarket/core/types"
)

const (
	// Name is the display name of the market currency.
	Name = "Slot Market Token"
	// Symbol is the ticker of the market currency.
	Symbol = "SMT"
)

var (
	errNilState  = errors.New("currency ledger: state not configured")
	errCapNotSet = errors.New("currency ledger: supply cap not configured")
)

var (
	capKey    = []byte("currency/cap")
	supplyKey = []byte("currency/supply")
)

func balanceKey(addr [20]byte) []byte {
	return append([]byte("currency/balance/"), addr[:]...)
}

func allowanceKey(owner, spender [20]byte) []byte {
	key := append([]byte("currency/allowance/"), owner[:]...)
	key = append(key, ':')
	return append(key, spender[:]...)
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type currencyEvent struct {
	evt *types.Event
}

func (e currencyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e currencyEvent) Event() *types.Event { return e.evt }

// Ledger is the capped fungible balance ledger used to pay for slots.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger creates a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(currencyEvent{evt: evt})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.KVPut(key, cloneBigInt(amount))
}

// SetCap records the hard supply cap. The cap can only be set once.
func (l *Ledger) SetCap(limit *big.Int) error {
	if limit == nil || limit.Sign() <= 0 {
		return fmt.Errorf("currency: cap must be positive")
	}
	if l == nil || l.state == nil {
		return errNilState
	}
	ok, err := l.state.KVGet(capKey, nil)
	if err != nil {
		return err
	}
	if ok {
		existing, err := l.Cap()
		if err != nil {
			return err
		}
		if existing.Cmp(limit) == 0 {
			return nil
		}
		return fmt.Errorf("currency: cap already set to %s", existing)
	}
	return l.writeAmount(capKey, limit)
}

// Cap returns the configured hard cap.
func (l *Ledger) Cap() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(capKey, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCapNotSet
	}
	return value, nil
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() (*big.Int, error) { return l.readAmount(supplyKey) }

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) { return l.readAmount(balanceKey(addr)) }

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return l.readAmount(allowanceKey(owner, spender))
}

// MintHeadroom returns cap minus total supply.
func (l *Ledger) MintHeadroom() (*big.Int, error) {
	limit, err := l.Cap()
	if err != nil {
		return nil, err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return nil, err
	}
	headroom := new(big.Int).Sub(limit, supply)
	if headroom.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return headroom, nil
}

// Approve sets the allowance of spender over owner's balance, replacing any
// previous value.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative allowance", coreerrors.ErrInvalidArgument)
	}
	if err := l.writeAmount(allowanceKey(owner, spender), amt); err != nil {
		return err
	}
	l.emit(NewApprovalEvent(owner, spender, amt))
	return nil
}

// Transfer moves amount from one account to another. Zero transfers succeed
// without touching state.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", coreerrors.ErrTransferFailure)
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient balance", coreerrors.ErrTransferFailure)
	}
	if from == to {
		return nil
	}
	toBal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(from), new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(to), new(big.Int).Add(toBal, amt)); err != nil {
		return err
	}
	l.emit(NewTransferEvent(from, to, amt))
	return nil
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	allowance, err := l.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: allowance %s below %s", coreerrors.ErrTransferFailure, allowance, amt)
	}
	if err := l.Transfer(from, to, amt); err != nil {
		return err
	}
	return l.writeAmount(allowanceKey(from, spender), new(big.Int).Sub(allowance, amt))
}

// Mint creates amount new units for to. The mint fails without side effects if
// it would push the total supply above the cap.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative mint amount", coreerrors.ErrInvalidArgument)
	}
	if amt.Sign() == 0 {
		return nil
	}
	headroom, err := l.MintHeadroom()
	if err != nil {
		return err
	}
	if amt.Cmp(headroom) > 0 {
		return fmt.Errorf("%w: mint of %s exceeds supply cap", coreerrors.ErrTransferFailure, amt)
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	bal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.writeAmount(supplyKey, new(big.Int).Add(supply, amt)); err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(to), new(big.Int).Add(bal, amt)); err != nil {
		return err
	}
	l.emit(NewMintEvent(to, amt))
	return nil
}
