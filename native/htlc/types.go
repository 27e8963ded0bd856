package htlc

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// EscrowStatus represents the lifecycle states of a slot escrow. Every status
// other than EscrowPending is terminal.
type EscrowStatus uint8

const (
	EscrowPending EscrowStatus = iota
	EscrowReleased
	EscrowRefunded
	EscrowCancelled
)

// String returns the lowercase name of the status.
func (s EscrowStatus) String() string {
	switch s {
	case EscrowPending:
		return "pending"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	case EscrowCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	return s <= EscrowCancelled
}

// Terminal reports whether no further transition is possible.
func (s EscrowStatus) Terminal() bool {
	return s != EscrowPending
}

// Escrow holds the currency locked by a winning bid together with the
// proof-of-delivery state that gates its release. It is keyed by the slot
// token identifier.
type Escrow struct {
	TokenID    uint64
	Publisher  [20]byte
	Advertiser [20]byte
	Group      uint64
	Amount     *big.Int
	Hashlock   [32]byte
	Threshold  uint32
	// Shares holds the blake3 digest of every accepted proof share.
	Shares     [][32]byte
	Timelock   int64
	Commission *big.Int
	Status     EscrowStatus
	CreatedAt  int64
	SettledAt  int64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.Commission = cloneBigInt(e.Commission)
	if e.Shares != nil {
		clone.Shares = append([][32]byte(nil), e.Shares...)
	}
	return &clone
}

// HashlockSet reports whether the validator has published a hashlock.
func (e *Escrow) HashlockSet() bool {
	return e != nil && e.Hashlock != ([32]byte{})
}

// HasShare reports whether a share with the supplied digest was accepted.
func (e *Escrow) HasShare(digest [32]byte) bool {
	if e == nil {
		return false
	}
	for _, existing := range e.Shares {
		if existing == digest {
			return true
		}
	}
	return false
}

// HashSecret returns the keccak256 hashlock committed to by a 32-byte secret.
func HashSecret(preimage [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(preimage[:])
}

// ShareDigest returns the identity used to deduplicate proof shares.
func ShareDigest(share []byte) [32]byte {
	return blake3.Sum256(share)
}

// OpenParams describes the escrow created when a bid is accepted.
type OpenParams struct {
	TokenID       uint64
	Publisher     [20]byte
	Advertiser    [20]byte
	Group         uint64
	Amount        *big.Int
	TokenValidEnd int64
}

type storedEscrow struct {
	TokenID    uint64
	Publisher  [20]byte
	Advertiser [20]byte
	Group      uint64
	Amount     *big.Int
	Hashlock   [32]byte
	Threshold  uint32
	Shares     [][32]byte
	Timelock   uint64
	Commission *big.Int
	Status     uint8
	CreatedAt  uint64
	SettledAt  uint64
}

func sanitizeUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func toStoredEscrow(e *Escrow) storedEscrow {
	return storedEscrow{
		TokenID:    e.TokenID,
		Publisher:  e.Publisher,
		Advertiser: e.Advertiser,
		Group:      e.Group,
		Amount:     cloneBigInt(e.Amount),
		Hashlock:   e.Hashlock,
		Threshold:  e.Threshold,
		Shares:     append([][32]byte{}, e.Shares...),
		Timelock:   sanitizeUnix(e.Timelock),
		Commission: cloneBigInt(e.Commission),
		Status:     uint8(e.Status),
		CreatedAt:  sanitizeUnix(e.CreatedAt),
		SettledAt:  sanitizeUnix(e.SettledAt),
	}
}

func fromStoredEscrow(s *storedEscrow) (*Escrow, error) {
	status := EscrowStatus(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("htlc: invalid stored status %d", s.Status)
	}
	return &Escrow{
		TokenID:    s.TokenID,
		Publisher:  s.Publisher,
		Advertiser: s.Advertiser,
		Group:      s.Group,
		Amount:     cloneBigInt(s.Amount),
		Hashlock:   s.Hashlock,
		Threshold:  s.Threshold,
		Shares:     append([][32]byte(nil), s.Shares...),
		Timelock:   int64(s.Timelock),
		Commission: cloneBigInt(s.Commission),
		Status:     status,
		CreatedAt:  int64(s.CreatedAt),
		SettledAt:  int64(s.SettledAt),
	}, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
