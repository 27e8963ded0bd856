package auction

import (
	"fmt"
	"math/big"
	"strings"
)

// AuctionStatus enumerates the lifecycle of a listing. Every status other than
// AuctionStarted is terminal.
type AuctionStatus uint8

const (
	AuctionStarted AuctionStatus = iota
	AuctionSuccessful
	AuctionExpired
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionStarted:
		return "started"
	case AuctionSuccessful:
		return "successful"
	case AuctionExpired:
		return "expired"
	case AuctionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s AuctionStatus) Valid() bool { return s <= AuctionCancelled }

// Terminal reports whether no further transition is possible.
func (s AuctionStatus) Terminal() bool { return s != AuctionStarted }

// StartPolicy selects the reference point of the price descent.
type StartPolicy string

const (
	// StartPolicyToken starts the descent at the slot's own valid-start.
	StartPolicyToken StartPolicy = "token"
	// StartPolicyNow starts the descent when the publisher prices the listing.
	StartPolicyNow StartPolicy = "now"
)

// ParseStartPolicy normalises a configured policy name. The empty string
// selects StartPolicyToken.
func ParseStartPolicy(raw string) (StartPolicy, error) {
	switch StartPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StartPolicyToken:
		return StartPolicyToken, nil
	case StartPolicyNow:
		return StartPolicyNow, nil
	default:
		return "", fmt.Errorf("auction: unknown start policy %q", raw)
	}
}

// Auction is the listing record for one slot token. A listing is created
// unpriced by List and becomes biddable once Start sets its price schedule.
type Auction struct {
	TokenID         uint64
	Publisher       [20]byte
	Advertiser      [20]byte
	Group           uint64
	StartPrice      *big.Int
	StartTime       int64
	EndTime         int64
	TokenValidStart int64
	TokenValidEnd   int64
	BidPrice        *big.Int
	Status          AuctionStatus
	CreatedAt       int64
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartPrice = cloneBigInt(a.StartPrice)
	clone.BidPrice = cloneBigInt(a.BidPrice)
	return &clone
}

// Priced reports whether Start has set the price schedule.
func (a *Auction) Priced() bool {
	return a != nil && a.StartPrice != nil && a.StartPrice.Sign() > 0
}

// Live reports whether the listing still holds custody of the slot.
func (a *Auction) Live() bool {
	return a != nil && !a.Status.Terminal()
}

type storedAuction struct {
	TokenID         uint64
	Publisher       [20]byte
	Advertiser      [20]byte
	Group           uint64
	StartPrice      *big.Int
	StartTime       uint64
	EndTime         uint64
	TokenValidStart uint64
	TokenValidEnd   uint64
	BidPrice        *big.Int
	Status          uint8
	CreatedAt       uint64
}

func sanitizeUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func toStoredAuction(a *Auction) storedAuction {
	return storedAuction{
		TokenID:         a.TokenID,
		Publisher:       a.Publisher,
		Advertiser:      a.Advertiser,
		Group:           a.Group,
		StartPrice:      cloneBigInt(a.StartPrice),
		StartTime:       sanitizeUnix(a.StartTime),
		EndTime:         sanitizeUnix(a.EndTime),
		TokenValidStart: sanitizeUnix(a.TokenValidStart),
		TokenValidEnd:   sanitizeUnix(a.TokenValidEnd),
		BidPrice:        cloneBigInt(a.BidPrice),
		Status:          uint8(a.Status),
		CreatedAt:       sanitizeUnix(a.CreatedAt),
	}
}

func fromStoredAuction(s *storedAuction) (*Auction, error) {
	status := AuctionStatus(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("auction: invalid stored status %d", s.Status)
	}
	return &Auction{
		TokenID:         s.TokenID,
		Publisher:       s.Publisher,
		Advertiser:      s.Advertiser,
		Group:           s.Group,
		StartPrice:      cloneBigInt(s.StartPrice),
		StartTime:       int64(s.StartTime),
		EndTime:         int64(s.EndTime),
		TokenValidStart: int64(s.TokenValidStart),
		TokenValidEnd:   int64(s.TokenValidEnd),
		BidPrice:        cloneBigInt(s.BidPrice),
		Status:          status,
		CreatedAt:       int64(s.CreatedAt),
	}, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
