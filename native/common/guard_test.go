package common

import (
	"errors"
	"testing"

	marketstate "slotmarket/core/state"
	"slotmarket/storage"
)

func TestPauseStoreGuard(t *testing.T) {
	tx := marketstate.NewManager(storage.NewMemDB()).Begin()
	store := NewPauseStore(tx)
	if err := Guard(store, ModuleInventory); err != nil {
		t.Fatalf("expected unpaused module, got %v", err)
	}
	if err := store.SetPaused(" Inventory ", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := Guard(store, ModuleInventory); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(store, ModuleMarket); err != nil {
		t.Fatalf("pausing inventory must not pause market: %v", err)
	}
	if err := store.SetPaused(ModuleInventory, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if store.IsPaused(ModuleInventory) {
		t.Fatalf("expected module unpaused")
	}
	if ok, err := tx.KVGet(pauseKey(ModuleInventory), nil); err != nil || ok {
		t.Fatalf("expected unpause to remove the switch, ok=%v err=%v", ok, err)
	}
	if err := Guard(nil, ModuleInventory); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
