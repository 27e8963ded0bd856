package inventory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/events"
	"slotmarket/core/types"
	"slotmarket/native/common"
)

var (
	errNilState  = errors.New("inventory registry: state not configured")
	errNilPauses = errors.New("inventory registry: pause switch not configured")
)

var nextIDKey = []byte("inventory/next-id")

func tokenKey(id uint64) []byte {
	key := make([]byte, len("inventory/token/")+8)
	copy(key, "inventory/token/")
	binary.BigEndian.PutUint64(key[len("inventory/token/"):], id)
	return key
}

func groupURIKey(owner [20]byte, group uint64) []byte {
	key := append([]byte("inventory/group-uri/"), owner[:]...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], group)
	return append(key, buf[:]...)
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type pauseSwitch interface {
	common.PauseView
	SetPaused(module string, paused bool) error
}

type inventoryEvent struct {
	evt *types.Event
}

func (e inventoryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e inventoryEvent) Event() *types.Event { return e.evt }

// Registry owns the unique slot tokens: minting, approval-gated custody
// transfer, metadata and the global transfer pause.
type Registry struct {
	state   registryState
	pauses  pauseSwitch
	emitter events.Emitter
	admin   [20]byte
	nowFn   func() int64
}

// NewRegistry creates a registry with a no-op emitter and wall-clock time.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetPauses configures the switch consulted before every transfer.
func (r *Registry) SetPauses(p pauseSwitch) { r.pauses = p }

// SetAdmin configures the identity allowed to pause transfers.
func (r *Registry) SetAdmin(addr [20]byte) { r.admin = addr }

// SetNowFunc overrides the time source used by the registry.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(inventoryEvent{evt: evt})
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) loadToken(id uint64) (*Token, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var stored storedToken
	ok, err := r.state.KVGet(tokenKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: inventory token %d", coreerrors.ErrNotFound, id)
	}
	return fromStoredToken(&stored), nil
}

func (r *Registry) storeToken(t *Token) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return r.state.KVPut(tokenKey(t.ID), toStoredToken(t))
}

// Mint creates a new slot owned by owner and returns it. Identifiers are
// assigned sequentially from zero.
func (r *Registry) Mint(owner [20]byte, validStart, validEnd int64, group uint64, uri, location string) (*Token, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if owner == ([20]byte{}) {
		return nil, fmt.Errorf("%w: owner required", coreerrors.ErrInvalidArgument)
	}
	uri, location, err := SanitizeMint(validStart, validEnd, uri, location)
	if err != nil {
		return nil, err
	}
	var next uint64
	if _, err := r.state.KVGet(nextIDKey, &next); err != nil {
		return nil, err
	}
	token := &Token{
		ID:         next,
		Owner:      owner,
		ValidStart: validStart,
		ValidEnd:   validEnd,
		Group:      group,
		URI:        uri,
		Location:   location,
		MintedAt:   r.now(),
	}
	if err := r.storeToken(token); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(nextIDKey, next+1); err != nil {
		return nil, err
	}
	r.emit(NewMintedEvent(token))
	return token.Clone(), nil
}

// Token returns a copy of the slot record.
func (r *Registry) Token(id uint64) (*Token, error) {
	return r.loadToken(id)
}

// OwnerOf returns the current owner of the slot.
func (r *Registry) OwnerOf(id uint64) ([20]byte, error) {
	token, err := r.loadToken(id)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Owner, nil
}

// Approve lets spender move the slot once on the owner's behalf.
func (r *Registry) Approve(caller, spender [20]byte, id uint64) error {
	token, err := r.loadToken(id)
	if err != nil {
		return err
	}
	if token.Owner != caller {
		return fmt.Errorf("%w: only the owner may approve token %d", coreerrors.ErrUnauthorized, id)
	}
	token.Approved = spender
	if err := r.storeToken(token); err != nil {
		return err
	}
	r.emit(NewApprovedEvent(token))
	return nil
}

// GetApproved returns the address currently approved for the slot.
func (r *Registry) GetApproved(id uint64) ([20]byte, error) {
	token, err := r.loadToken(id)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Approved, nil
}

// TransferFrom moves custody of the slot from its owner to a new holder. The
// caller must be the owner or the approved address, and transfers are refused
// while the inventory module is paused.
func (r *Registry) TransferFrom(caller, from, to [20]byte, id uint64) error {
	if r == nil || r.pauses == nil {
		return errNilPauses
	}
	if err := common.Guard(r.pauses, common.ModuleInventory); err != nil {
		return fmt.Errorf("%w: %w", coreerrors.ErrTransferFailure, err)
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("%w: transfer to zero address", coreerrors.ErrTransferFailure)
	}
	token, err := r.loadToken(id)
	if err != nil {
		return err
	}
	if token.Owner != from {
		return fmt.Errorf("%w: token %d not owned by sender", coreerrors.ErrTransferFailure, id)
	}
	if caller != token.Owner && (token.Approved == ([20]byte{}) || caller != token.Approved) {
		return fmt.Errorf("%w: caller not approved for token %d", coreerrors.ErrTransferFailure, id)
	}
	token.Owner = to
	token.Approved = [20]byte{}
	if err := r.storeToken(token); err != nil {
		return err
	}
	r.emit(NewTransferredEvent(token, from))
	return nil
}

// TokenURI returns the slot's usage metadata.
func (r *Registry) TokenURI(id uint64) (string, error) {
	token, err := r.loadToken(id)
	if err != nil {
		return "", err
	}
	return token.URI, nil
}

// SetTokenURI replaces the slot's usage metadata. Only the current owner may
// write it.
func (r *Registry) SetTokenURI(caller [20]byte, id uint64, uri string) error {
	token, err := r.loadToken(id)
	if err != nil {
		return err
	}
	if token.Owner != caller {
		return fmt.Errorf("%w: only the owner may set metadata for token %d", coreerrors.ErrUnauthorized, id)
	}
	token.URI = strings.TrimSpace(uri)
	if err := r.storeToken(token); err != nil {
		return err
	}
	r.emit(NewURIUpdatedEvent(token))
	return nil
}

// SetGroupURI labels one of the owner's slot groups.
func (r *Registry) SetGroupURI(owner [20]byte, group uint64, uri string) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	trimmed := strings.TrimSpace(uri)
	if err := r.state.KVPut(groupURIKey(owner, group), trimmed); err != nil {
		return err
	}
	r.emit(NewGroupURIEvent(owner, group, trimmed))
	return nil
}

// GroupURI returns the label an owner attached to a group, or an empty string.
func (r *Registry) GroupURI(owner [20]byte, group uint64) (string, error) {
	if r == nil || r.state == nil {
		return "", errNilState
	}
	var uri string
	if _, err := r.state.KVGet(groupURIKey(owner, group), &uri); err != nil {
		return "", err
	}
	return uri, nil
}

// Paused reports whether transfers are currently blocked.
func (r *Registry) Paused() bool {
	if r == nil || r.pauses == nil {
		return false
	}
	return r.pauses.IsPaused(common.ModuleInventory)
}

// Pause blocks every transfer until Unpause.
func (r *Registry) Pause(caller [20]byte) error { return r.setPaused(caller, true) }

// Unpause lifts the transfer block.
func (r *Registry) Unpause(caller [20]byte) error { return r.setPaused(caller, false) }

func (r *Registry) setPaused(caller [20]byte, paused bool) error {
	if r == nil || r.pauses == nil {
		return errNilPauses
	}
	if r.admin == ([20]byte{}) || caller != r.admin {
		return fmt.Errorf("%w: only the inventory admin may toggle the pause", coreerrors.ErrUnauthorized)
	}
	if r.Paused() == paused {
		return fmt.Errorf("%w: inventory already in requested pause state", coreerrors.ErrInvalidState)
	}
	if err := r.pauses.SetPaused(common.ModuleInventory, paused); err != nil {
		return err
	}
	r.emit(NewPauseEvent(paused, caller))
	return nil
}
