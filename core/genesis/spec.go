package genesis

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"slotmarket/crypto"
)

// Spec seeds a fresh ledger with currency balances and slot inventory. It is
// applied once; later starts with the same data directory ignore it.
type Spec struct {
	Balances []BalanceSpec `yaml:"balances"`
	Slots    []SlotSpec    `yaml:"slots"`
}

// BalanceSpec mints an initial currency balance. Amounts are base-10 strings
// so values beyond 64 bits survive the YAML round trip.
type BalanceSpec struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`

	addr   [20]byte
	amount *big.Int
}

// SlotSpec mints an inventory slot owned by Owner.
type SlotSpec struct {
	Owner      string `yaml:"owner"`
	ValidStart int64  `yaml:"validStart"`
	ValidEnd   int64  `yaml:"validEnd"`
	Group      uint64 `yaml:"group"`
	URI        string `yaml:"uri"`
	Location   string `yaml:"location"`

	owner [20]byte
}

// Balance is a validated balance allocation.
type Balance struct {
	Address [20]byte
	Amount  *big.Int
}

// Slot is a validated slot allocation.
type Slot struct {
	Owner      [20]byte
	ValidStart int64
	ValidEnd   int64
	Group      uint64
	URI        string
	Location   string
}

// Load reads and validates a YAML genesis file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML genesis content. Unknown keys are rejected.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate parses addresses and amounts and checks slot windows.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	seen := make(map[[20]byte]struct{}, len(s.Balances))
	for i := range s.Balances {
		entry := &s.Balances[i]
		addr, err := crypto.ParseAddress(entry.Address)
		if err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("balances[%d]: duplicate address %s", i, entry.Address)
		}
		seen[addr] = struct{}{}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("balances[%d]: invalid amount %q", i, entry.Amount)
		}
		entry.addr = addr
		entry.amount = amount
	}
	for i := range s.Slots {
		slot := &s.Slots[i]
		owner, err := crypto.ParseAddress(slot.Owner)
		if err != nil {
			return fmt.Errorf("slots[%d]: %w", i, err)
		}
		if slot.ValidStart >= slot.ValidEnd {
			return fmt.Errorf("slots[%d]: validStart must precede validEnd", i)
		}
		slot.owner = owner
	}
	return nil
}

// TotalBalance returns the sum of every seeded balance.
func (s *Spec) TotalBalance() *big.Int {
	total := big.NewInt(0)
	for _, b := range s.Balances {
		if b.amount != nil {
			total.Add(total, b.amount)
		}
	}
	return total
}

// BalanceAllocations returns validated balances sorted by address so the
// seeded state does not depend on file order.
func (s *Spec) BalanceAllocations() []Balance {
	out := make([]Balance, 0, len(s.Balances))
	for _, b := range s.Balances {
		out = append(out, Balance{Address: b.addr, Amount: new(big.Int).Set(b.amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

// SlotAllocations returns validated slots in file order, which fixes their
// token identifiers.
func (s *Spec) SlotAllocations() []Slot {
	out := make([]Slot, 0, len(s.Slots))
	for _, slot := range s.Slots {
		out = append(out, Slot{
			Owner:      slot.owner,
			ValidStart: slot.ValidStart,
			ValidEnd:   slot.ValidEnd,
			Group:      slot.Group,
			URI:        slot.URI,
			Location:   slot.Location,
		})
	}
	return out
}
