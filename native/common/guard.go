package common

import (
	"errors"
	"strings"
)

// Module names understood by the pause switches.
const (
	ModuleInventory = "inventory"
	ModuleMarket    = "market"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

type pauseState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// PauseStore persists module pause switches in ledger state so they survive
// restarts and roll back with the call that set them.
type PauseStore struct {
	state pauseState
}

// NewPauseStore wraps the provided state backend.
func NewPauseStore(state pauseState) *PauseStore {
	return &PauseStore{state: state}
}

func pauseKey(module string) []byte {
	return []byte("pause/" + strings.ToLower(strings.TrimSpace(module)))
}

// IsPaused implements PauseView. Read failures are reported as paused so a
// broken backend never lets transfers through.
func (s *PauseStore) IsPaused(module string) bool {
	if s == nil || s.state == nil {
		return false
	}
	var paused bool
	ok, err := s.state.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}

// SetPaused flips the switch for module. Unpausing removes the key so an
// unpaused module leaves nothing behind in state.
func (s *PauseStore) SetPaused(module string, paused bool) error {
	if s == nil || s.state == nil {
		return errors.New("pause store: state not configured")
	}
	if strings.TrimSpace(module) == "" {
		return errors.New("pause store: module required")
	}
	if !paused {
		return s.state.KVDelete(pauseKey(module))
	}
	return s.state.KVPut(pauseKey(module), true)
}
