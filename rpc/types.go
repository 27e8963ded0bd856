package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"slotmarket/core"
	"slotmarket/core/types"
	"slotmarket/crypto"
	"slotmarket/native/auction"
	"slotmarket/native/htlc"
	"slotmarket/native/inventory"
)

// AuctionResult is the wire form of an auction record.
type AuctionResult struct {
	TokenID         uint64  `json:"tokenId"`
	Publisher       string  `json:"publisher"`
	Advertiser      *string `json:"advertiser,omitempty"`
	Group           uint64  `json:"group"`
	StartPrice      string  `json:"startPrice"`
	StartTime       int64   `json:"startTime"`
	EndTime         int64   `json:"endTime"`
	TokenValidStart int64   `json:"tokenValidStart"`
	TokenValidEnd   int64   `json:"tokenValidEnd"`
	BidPrice        string  `json:"bidPrice"`
	Status          string  `json:"status"`
	CreatedAt       int64   `json:"createdAt"`
}

// EscrowResult is the wire form of an escrow record.
type EscrowResult struct {
	TokenID    uint64   `json:"tokenId"`
	Publisher  string   `json:"publisher"`
	Advertiser string   `json:"advertiser"`
	Group      uint64   `json:"group"`
	Amount     string   `json:"amount"`
	Hashlock   *string  `json:"hashlock,omitempty"`
	Threshold  uint32   `json:"threshold"`
	Shares     []string `json:"shares"`
	Timelock   int64    `json:"timelock"`
	Commission string   `json:"commission"`
	Status     string   `json:"status"`
	CreatedAt  int64    `json:"createdAt"`
	SettledAt  int64    `json:"settledAt,omitempty"`
}

// TokenResult is the wire form of a slot token.
type TokenResult struct {
	TokenID    uint64  `json:"tokenId"`
	Owner      string  `json:"owner"`
	Approved   *string `json:"approved,omitempty"`
	ValidStart int64   `json:"validStart"`
	ValidEnd   int64   `json:"validEnd"`
	Group      uint64  `json:"group"`
	URI        string  `json:"uri"`
	Location   string  `json:"location"`
	MintedAt   int64   `json:"mintedAt"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type SupplyResult struct {
	TotalSupply string `json:"totalSupply"`
	Cap         string `json:"cap"`
}

type PausedResult struct {
	Paused bool `json:"paused"`
}

type GroupURIResult struct {
	Owner string `json:"owner"`
	Group uint64 `json:"group"`
	URI   string `json:"uri"`
}

// EventResult is the wire form of a committed event on both the history
// query and the websocket stream.
type EventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func optionalAddress(addr [20]byte) *string {
	if addr == ([20]byte{}) {
		return nil
	}
	formatted := crypto.FormatAddress(addr)
	return &formatted
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func auctionResult(a *auction.Auction) AuctionResult {
	return AuctionResult{
		TokenID:         a.TokenID,
		Publisher:       crypto.FormatAddress(a.Publisher),
		Advertiser:      optionalAddress(a.Advertiser),
		Group:           a.Group,
		StartPrice:      amountString(a.StartPrice),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		TokenValidStart: a.TokenValidStart,
		TokenValidEnd:   a.TokenValidEnd,
		BidPrice:        amountString(a.BidPrice),
		Status:          a.Status.String(),
		CreatedAt:       a.CreatedAt,
	}
}

func escrowResult(e *htlc.Escrow) EscrowResult {
	out := EscrowResult{
		TokenID:    e.TokenID,
		Publisher:  crypto.FormatAddress(e.Publisher),
		Advertiser: crypto.FormatAddress(e.Advertiser),
		Group:      e.Group,
		Amount:     amountString(e.Amount),
		Threshold:  e.Threshold,
		Shares:     make([]string, 0, len(e.Shares)),
		Timelock:   e.Timelock,
		Commission: amountString(e.Commission),
		Status:     e.Status.String(),
		CreatedAt:  e.CreatedAt,
		SettledAt:  e.SettledAt,
	}
	if e.HashlockSet() {
		lock := "0x" + hex.EncodeToString(e.Hashlock[:])
		out.Hashlock = &lock
	}
	for _, digest := range e.Shares {
		out.Shares = append(out.Shares, "0x"+hex.EncodeToString(digest[:]))
	}
	return out
}

func tokenResult(t *inventory.Token) TokenResult {
	return TokenResult{
		TokenID:    t.ID,
		Owner:      crypto.FormatAddress(t.Owner),
		Approved:   optionalAddress(t.Approved),
		ValidStart: t.ValidStart,
		ValidEnd:   t.ValidEnd,
		Group:      t.Group,
		URI:        t.URI,
		Location:   t.Location,
		MintedAt:   t.MintedAt,
	}
}

func supplyResult(s core.Supply) SupplyResult {
	return SupplyResult{TotalSupply: amountString(s.TotalSupply), Cap: amountString(s.Cap)}
}

func eventResult(record types.EventRecord) EventResult {
	attrs := record.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return EventResult{
		Sequence:   record.Sequence,
		Type:       record.Type,
		Attributes: attrs,
		Timestamp:  record.Timestamp,
	}
}

// decodeParams unmarshals the single object parameter of a call. Missing
// params decode as an empty object.
func decodeParams(params []json.RawMessage, out interface{}) *RPCError {
	if len(params) == 0 {
		return nil
	}
	if len(params) != 1 {
		return invalidParams("expected a single object parameter")
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return invalidParams(fmt.Sprintf("invalid parameter object: %v", err))
	}
	return nil
}

func parseAddressParam(field, raw string) ([20]byte, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, invalidParams(field + " is required")
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("invalid %s: %v", field, err))
	}
	return addr, nil
}

func parseAmountParam(field, raw string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(field + " is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("invalid %s: must be a base-10 integer", field))
	}
	if amount.Sign() < 0 {
		return nil, invalidParams(field + " must be non-negative")
	}
	return amount, nil
}

func decodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	return hex.DecodeString(trimmed)
}

func parseBytes32Param(field, raw string) ([32]byte, *RPCError) {
	var out [32]byte
	decoded, err := decodeHex(raw)
	if err != nil {
		return out, invalidParams(fmt.Sprintf("invalid %s: %v", field, err))
	}
	if len(decoded) != len(out) {
		return out, invalidParams(fmt.Sprintf("%s must be 32 bytes", field))
	}
	copy(out[:], decoded)
	return out, nil
}

func requireTokenID(id *uint64) (uint64, *RPCError) {
	if id == nil {
		return 0, invalidParams("tokenId is required")
	}
	return *id, nil
}
