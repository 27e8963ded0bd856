package inventory

import (
	"fmt"
	"strings"

	coreerrors "slotmarket/core/errors"
)

const (
	// Name is the display name of the slot token collection.
	Name = "Slot Inventory Token"
	// Symbol is the ticker of the slot token collection.
	Symbol = "SLOT"
)

// Token is a unique, time-bounded inventory slot. ValidStart and ValidEnd bound
// the window during which the slot can be used.
type Token struct {
	ID         uint64
	Owner      [20]byte
	Approved   [20]byte
	ValidStart int64
	ValidEnd   int64
	Group      uint64
	URI        string
	Location   string
	MintedAt   int64
}

// Clone returns a copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

type storedToken struct {
	ID         uint64
	Owner      [20]byte
	Approved   [20]byte
	ValidStart uint64
	ValidEnd   uint64
	Group      uint64
	URI        string
	Location   string
	MintedAt   uint64
}

func sanitizeUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func toStoredToken(t *Token) storedToken {
	return storedToken{
		ID:         t.ID,
		Owner:      t.Owner,
		Approved:   t.Approved,
		ValidStart: sanitizeUnix(t.ValidStart),
		ValidEnd:   sanitizeUnix(t.ValidEnd),
		Group:      t.Group,
		URI:        t.URI,
		Location:   t.Location,
		MintedAt:   sanitizeUnix(t.MintedAt),
	}
}

func fromStoredToken(s *storedToken) *Token {
	return &Token{
		ID:         s.ID,
		Owner:      s.Owner,
		Approved:   s.Approved,
		ValidStart: int64(s.ValidStart),
		ValidEnd:   int64(s.ValidEnd),
		Group:      s.Group,
		URI:        s.URI,
		Location:   s.Location,
		MintedAt:   int64(s.MintedAt),
	}
}

// SanitizeMint validates the parameters of a new slot.
func SanitizeMint(validStart, validEnd int64, uri, location string) (string, string, error) {
	if validStart < 0 {
		return "", "", fmt.Errorf("%w: valid start must be non-negative", coreerrors.ErrInvalidArgument)
	}
	if validStart >= validEnd {
		return "", "", fmt.Errorf("%w: valid start must precede valid end", coreerrors.ErrInvalidArgument)
	}
	return strings.TrimSpace(uri), strings.TrimSpace(location), nil
}
