package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"slotmarket/core"
	"slotmarket/core/genesis"
	"slotmarket/crypto"
	"slotmarket/gateway/middleware"
	"slotmarket/indexer"
	"slotmarket/native/auction"
	"slotmarket/native/htlc"
	"slotmarket/storage"
)

const (
	testSecret = "rpc-test-secret"
	testIssuer = "slotmarket"
	slotStart  = int64(1_700_000_000)
)

func fillAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	publisher  = fillAddr(0x01)
	advertiser = fillAddr(0x02)
	validator  = fillAddr(0x0A)
	custodian  = fillAddr(0xEE)
	admin      = fillAddr(0xAD)
)

type fixedClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fixedClock) Set(ts int64) {
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

type harness struct {
	t      *testing.T
	node   *core.Node
	clock  *fixedClock
	srv    *httptest.Server
	index  *indexer.Indexer
	nextID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	idx, err := indexer.New(db)
	require.NoError(t, err)

	clock := &fixedClock{now: slotStart}
	node, err := core.NewNode(storage.NewMemDB(), core.MarketSettings{
		Validator:     validator,
		Custodian:     custodian,
		Admin:         admin,
		CommissionBps: htlc.DefaultCommissionBps,
		RefundGrace:   htlc.DefaultRefundGraceSeconds,
		StartPolicy:   auction.StartPolicyToken,
		CurrencyCap:   big.NewInt(1_000_000),
	}, core.WithClock(clock.Now), core.WithEventSink(idx))
	require.NoError(t, err)

	spec := &genesis.Spec{
		Balances: []genesis.BalanceSpec{{Address: crypto.FormatAddress(advertiser), Amount: "10000"}},
		Slots: []genesis.SlotSpec{{
			Owner:      crypto.FormatAddress(publisher),
			ValidStart: slotStart,
			ValidEnd:   slotStart + 200_000,
			Group:      9,
		}},
	}
	require.NoError(t, spec.Validate())
	_, err = node.Seed(spec)
	require.NoError(t, err)

	server := NewServer(node, idx, Config{JWTSecret: testSecret, JWTIssuer: testIssuer}, nil)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = idx.Close()
	})
	return &harness{t: t, node: node, clock: clock, srv: srv, index: idx}
}

func (h *harness) token(caller [20]byte) string {
	h.t.Helper()
	token, err := middleware.IssueToken(testSecret, testIssuer, caller, time.Hour)
	require.NoError(h.t, err)
	return token
}

// call issues one JSON-RPC request. A nil caller sends no Authorization
// header.
func (h *harness) call(caller *[20]byte, method string, params interface{}) (*RPCResponse, int) {
	h.t.Helper()
	h.nextID++
	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": h.nextID}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(h.t, err)
	httpReq, err := http.NewRequest(http.MethodPost, h.srv.URL+"/rpc", bytes.NewReader(body))
	require.NoError(h.t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if caller != nil {
		httpReq.Header.Set("Authorization", "Bearer "+h.token(*caller))
	}
	resp, err := h.srv.Client().Do(httpReq)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return &out, resp.StatusCode
}

func (h *harness) mustCall(caller *[20]byte, method string, params interface{}, out interface{}) {
	h.t.Helper()
	resp, _ := h.call(caller, method, params)
	require.Nil(h.t, resp.Error, "%s: %+v", method, resp.Error)
	if out == nil {
		return
	}
	raw, err := json.Marshal(resp.Result)
	require.NoError(h.t, err)
	require.NoError(h.t, json.Unmarshal(raw, out))
}

func (h *harness) expectCode(caller *[20]byte, method string, params interface{}, code int) {
	h.t.Helper()
	resp, _ := h.call(caller, method, params)
	require.NotNil(h.t, resp.Error, method)
	require.Equal(h.t, code, resp.Error.Code, "%s: %s", method, resp.Error.Message)
}

func addrOf(addr [20]byte) string { return crypto.FormatAddress(addr) }

func TestMarketLifecycleOverRPC(t *testing.T) {
	h := newHarness(t)
	pub, adv, val := publisher, advertiser, validator

	h.mustCall(&pub, "inventory_approve", map[string]interface{}{"tokenId": 0, "spender": addrOf(custodian)}, nil)

	h.clock.Set(slotStart + 10_000)
	var started AuctionResult
	h.mustCall(&pub, "auction_start", map[string]interface{}{
		"tokenId": 0, "startPrice": "1000", "endTime": slotStart + 90_000,
	}, &started)
	require.Equal(t, "started", started.Status)
	require.Equal(t, slotStart, started.StartTime)

	var price auctionPriceResult
	h.mustCall(nil, "auction_price", map[string]interface{}{"tokenId": 0}, &price)
	require.Equal(t, "888", price.Price)

	h.mustCall(&adv, "currency_approve", map[string]interface{}{"spender": addrOf(custodian), "amount": "888"}, nil)
	var opened EscrowResult
	h.mustCall(&adv, "auction_bid", map[string]interface{}{"tokenId": 0}, &opened)
	require.Equal(t, "888", opened.Amount)
	require.Equal(t, "pending", opened.Status)

	preimage := [32]byte{7, 7, 7}
	lock := htlc.HashSecret(preimage)
	h.mustCall(&val, "escrow_setHashlock", map[string]interface{}{
		"tokenId": 0, "hashlock": "0x" + hex.EncodeToString(lock[:]), "threshold": 2,
	}, nil)
	h.mustCall(&val, "escrow_submitShare", map[string]interface{}{"tokenId": 0, "share": "0x01"}, nil)
	h.expectCode(&val, "escrow_submitShare", map[string]interface{}{"tokenId": 0, "share": "0x01"}, codeInvalidState)
	h.expectCode(&pub, "escrow_withdraw", map[string]interface{}{
		"tokenId": 0, "preimage": "0x" + hex.EncodeToString(preimage[:]),
	}, codeProofFailure)
	h.mustCall(&val, "escrow_submitShare", map[string]interface{}{"tokenId": 0, "share": "0x02"}, nil)

	var released EscrowResult
	h.mustCall(&pub, "escrow_withdraw", map[string]interface{}{
		"tokenId": 0, "preimage": "0x" + hex.EncodeToString(preimage[:]),
	}, &released)
	require.Equal(t, "released", released.Status)
	require.Equal(t, "44", released.Commission)
	require.Len(t, released.Shares, 2)

	var balance BalanceResult
	h.mustCall(nil, "currency_balance", map[string]interface{}{"address": addrOf(publisher)}, &balance)
	require.Equal(t, "844", balance.Balance)

	var token TokenResult
	h.mustCall(nil, "inventory_get", map[string]interface{}{"tokenId": 0}, &token)
	require.Equal(t, addrOf(advertiser), token.Owner)

	var supply SupplyResult
	h.mustCall(nil, "currency_supply", nil, &supply)
	require.Equal(t, "10044", supply.TotalSupply)

	var events []EventResult
	h.mustCall(nil, "market_listEvents", map[string]interface{}{"tokenId": 0, "type": htlc.EventTypeEscrowReleased}, &events)
	require.Len(t, events, 1)
	require.Equal(t, "44", events[0].Attributes["commission"])
}

func TestAuthenticationRequiredForWrites(t *testing.T) {
	h := newHarness(t)
	resp, status := h.call(nil, "auction_start", map[string]interface{}{"tokenId": 0, "startPrice": "1", "endTime": slotStart + 10})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthenticated, resp.Error.Code)

	var auctionResp AuctionResult
	pub := publisher
	h.mustCall(&pub, "inventory_approve", map[string]interface{}{"tokenId": 0, "spender": addrOf(custodian)}, nil)
	h.mustCall(&pub, "auction_list", map[string]interface{}{"tokenId": 0}, &auctionResp)
	require.Equal(t, "0", auctionResp.StartPrice)

	httpReq, err := http.NewRequest(http.MethodPost, h.srv.URL+"/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"auction_get","id":1}`))
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer not-a-token")
	res, err := h.srv.Client().Do(httpReq)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	pub, adv := publisher, advertiser

	h.expectCode(nil, "auction_get", map[string]interface{}{"tokenId": 5}, codeNotFound)
	h.expectCode(nil, "auction_get", map[string]interface{}{}, codeInvalidParams)
	h.expectCode(&adv, "auction_start", map[string]interface{}{"tokenId": 0, "startPrice": "100", "endTime": slotStart + 100}, codeUnauthorized)
	h.expectCode(&pub, "auction_start", map[string]interface{}{"tokenId": 0, "startPrice": "100", "endTime": slotStart - 1}, codeTimingViolation)
	h.expectCode(&pub, "auction_start", map[string]interface{}{"tokenId": 0, "startPrice": "-5", "endTime": slotStart + 100}, codeInvalidParams)
	h.expectCode(&pub, "auction_start", map[string]interface{}{"tokenId": 0, "startPrice": "100", "endTime": slotStart + 100}, codeTransferFailure)
	h.expectCode(&adv, "currency_transfer", map[string]interface{}{"to": "cosmos1qqqq", "amount": "1"}, codeInvalidParams)
	h.expectCode(&adv, "escrow_withdraw", map[string]interface{}{"tokenId": 0, "preimage": "0x00"}, codeInvalidParams)

	resp, status := h.call(nil, "no_such_method", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestCurrencyTransferAndAllowance(t *testing.T) {
	h := newHarness(t)
	adv := advertiser

	var after BalanceResult
	h.mustCall(&adv, "currency_transfer", map[string]interface{}{"to": addrOf(publisher), "amount": "250"}, &after)
	require.Equal(t, "9750", after.Balance)
	h.expectCode(&adv, "currency_transfer", map[string]interface{}{"to": addrOf(publisher), "amount": "999999"}, codeTransferFailure)

	var allowance AllowanceResult
	h.mustCall(&adv, "currency_approve", map[string]interface{}{"spender": addrOf(custodian), "amount": "40"}, nil)
	h.mustCall(nil, "currency_allowance", map[string]interface{}{"owner": addrOf(advertiser), "spender": addrOf(custodian)}, &allowance)
	require.Equal(t, "40", allowance.Allowance)
}

func TestInventoryAdministration(t *testing.T) {
	h := newHarness(t)
	pub, adm := publisher, admin

	var minted TokenResult
	h.mustCall(&pub, "inventory_mint", map[string]interface{}{
		"validStart": slotStart + 10, "validEnd": slotStart + 20, "group": 4, "uri": "ipfs://slot", "location": "lobby",
	}, &minted)
	require.Equal(t, uint64(1), minted.TokenID)
	require.Equal(t, "lobby", minted.Location)

	var group GroupURIResult
	h.mustCall(&pub, "inventory_setGroupURI", map[string]interface{}{"group": 4, "uri": "ipfs://group"}, nil)
	h.mustCall(nil, "inventory_groupURI", map[string]interface{}{"owner": addrOf(publisher), "group": 4}, &group)
	require.Equal(t, "ipfs://group", group.URI)

	h.expectCode(&pub, "inventory_pause", nil, codeUnauthorized)
	var paused PausedResult
	h.mustCall(&adm, "inventory_pause", nil, &paused)
	require.True(t, paused.Paused)
	h.mustCall(nil, "inventory_paused", nil, &paused)
	require.True(t, paused.Paused)
	h.mustCall(&adm, "inventory_unpause", nil, &paused)
	require.False(t, paused.Paused)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	res, err := h.srv.Client().Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, res.Header.Get(middleware.HeaderRequestID))

	h.call(nil, "currency_supply", nil)
	res, err = h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestEventsWebsocketReplaysBacklog(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pub := publisher
	h.mustCall(&pub, "inventory_approve", map[string]interface{}{"tokenId": 0, "spender": addrOf(custodian)}, nil)

	seq, err := h.node.EventSequence()
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + fmt.Sprintf("/ws/events?cursor=%d", seq)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	h.mustCall(&pub, "auction_list", map[string]interface{}{"tokenId": 0}, nil)

	last := seq
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt EventResult
		require.NoError(t, json.Unmarshal(data, &evt))
		require.Equal(t, last+1, evt.Sequence)
		last = evt.Sequence
		if evt.Type == auction.EventTypeAuctionListed {
			break
		}
	}
}
