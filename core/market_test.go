package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "slotmarket/core/errors"
	"slotmarket/core/genesis"
	"slotmarket/core/types"
	"slotmarket/crypto"
	"slotmarket/native/auction"
	"slotmarket/native/htlc"
	"slotmarket/observability/logging"
	"slotmarket/storage"
)

func marketAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	testPublisher  = marketAddr(0x01)
	testAdvertiser = marketAddr(0x02)
	testValidator  = marketAddr(0x0A)
	testCustodian  = marketAddr(0xEE)
	testAdmin      = marketAddr(0xAD)
)

type testClock struct {
	mu  sync.Mutex
	now int64
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *testClock) Set(ts int64) {
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

type recordingSink struct {
	mu      sync.Mutex
	records []types.EventRecord
}

func (s *recordingSink) Record(_ context.Context, records []types.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Type)
	}
	return out
}

func testSettings() MarketSettings {
	return MarketSettings{
		Validator:     testValidator,
		Custodian:     testCustodian,
		Admin:         testAdmin,
		CommissionBps: htlc.DefaultCommissionBps,
		RefundGrace:   htlc.DefaultRefundGraceSeconds,
		StartPolicy:   auction.StartPolicyToken,
		CurrencyCap:   big.NewInt(1_000_000),
	}
}

func newTestNode(t *testing.T, db storage.Database, clock *testClock, sink *recordingSink) *Node {
	t.Helper()
	opts := []Option{WithClock(clock.Now)}
	if sink != nil {
		opts = append(opts, WithEventSink(sink))
	}
	node, err := NewNode(db, testSettings(), opts...)
	require.NoError(t, err)
	return node
}

func seedNode(t *testing.T, node *Node, validStart, validEnd int64) {
	t.Helper()
	spec := &genesis.Spec{
		Balances: []genesis.BalanceSpec{{Address: crypto.FormatAddress(testAdvertiser), Amount: "10000"}},
		Slots: []genesis.SlotSpec{{
			Owner:      crypto.FormatAddress(testPublisher),
			ValidStart: validStart,
			ValidEnd:   validEnd,
			Group:      9,
		}},
	}
	require.NoError(t, spec.Validate())
	applied, err := node.Seed(spec)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestMarketFullLifecycle(t *testing.T) {
	const start int64 = 1_700_000_000
	clock := &testClock{now: start}
	sink := &recordingSink{}
	node := newTestNode(t, storage.NewMemDB(), clock, sink)
	seedNode(t, node, start, start+200_000)

	_, err := node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)

	clock.Set(start + 10_000)
	listing, err := node.AuctionStart(testPublisher, 0, big.NewInt(1000), start+90_000)
	require.NoError(t, err)
	require.Equal(t, start, listing.StartTime)

	price, err := node.AuctionPrice(0)
	require.NoError(t, err)
	require.Equal(t, int64(888), price.Int64())

	_, err = node.CurrencyApprove(testAdvertiser, testCustodian, big.NewInt(888))
	require.NoError(t, err)
	escrow, err := node.AuctionBid(testAdvertiser, 0)
	require.NoError(t, err)
	require.Equal(t, int64(888), escrow.Amount.Int64())

	_, err = node.EscrowSetTokenMetadata(testAdvertiser, 0, "ipfs://creative")
	require.NoError(t, err)

	preimage := [32]byte{1, 2, 3}
	_, err = node.EscrowSetHashlock(testValidator, 0, htlc.HashSecret(preimage), 5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = node.EscrowSubmitShare(testValidator, 0, []byte{byte(i), 0xAA})
		require.NoError(t, err)
	}

	before, err := node.CurrencySupply()
	require.NoError(t, err)
	released, err := node.EscrowWithdraw(testPublisher, 0, preimage)
	require.NoError(t, err)
	require.Equal(t, htlc.EscrowReleased, released.Status)
	require.Equal(t, int64(44), released.Commission.Int64())

	after, err := node.CurrencySupply()
	require.NoError(t, err)
	require.Equal(t, int64(44), new(big.Int).Sub(after.TotalSupply, before.TotalSupply).Int64())
	require.True(t, after.TotalSupply.Cmp(after.Cap) <= 0)

	pubBal, err := node.CurrencyBalance(testPublisher)
	require.NoError(t, err)
	require.Equal(t, int64(844), pubBal.Int64())
	valBal, err := node.CurrencyBalance(testValidator)
	require.NoError(t, err)
	require.Equal(t, int64(44), valBal.Int64())

	token, err := node.InventoryToken(0)
	require.NoError(t, err)
	require.Equal(t, testAdvertiser, token.Owner)
	require.Equal(t, "ipfs://creative", token.URI)

	_, err = node.EscrowWithdraw(testPublisher, 0, preimage)
	require.ErrorIs(t, err, coreerrors.ErrInvalidState)

	require.Contains(t, sink.Types(), htlc.EventTypeEscrowReleased)
	require.Contains(t, sink.Types(), auction.EventTypeAuctionBid)
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	const start int64 = 1_700_000_000
	clock := &testClock{now: start}
	sink := &recordingSink{}
	node := newTestNode(t, storage.NewMemDB(), clock, sink)
	seedNode(t, node, start, start+200_000)
	_, err := node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	_, err = node.AuctionStart(testPublisher, 0, big.NewInt(1000), start+90_000)
	require.NoError(t, err)

	seqBefore, err := node.EventSequence()
	require.NoError(t, err)
	recorded := len(sink.Types())

	// No allowance: the escrow pull fails after the auction record was
	// staged as successful.
	_, err = node.AuctionBid(testAdvertiser, 0)
	require.ErrorIs(t, err, coreerrors.ErrTransferFailure)

	listing, err := node.AuctionGet(0)
	require.NoError(t, err)
	require.Equal(t, auction.AuctionStarted, listing.Status)
	_, err = node.EscrowGet(0)
	require.ErrorIs(t, err, coreerrors.ErrNotFound)

	seqAfter, err := node.EventSequence()
	require.NoError(t, err)
	require.Equal(t, seqBefore, seqAfter)
	require.Len(t, sink.Types(), recorded)
}

// startAndProve runs a listing through bid, hashlock and a full share set and
// returns the preimage that releases it.
func startAndProve(t *testing.T, node *Node, clock *testClock, start int64) [32]byte {
	t.Helper()
	_, err := node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	clock.Set(start + 10_000)
	_, err = node.AuctionStart(testPublisher, 0, big.NewInt(1000), start+90_000)
	require.NoError(t, err)
	_, err = node.CurrencyApprove(testAdvertiser, testCustodian, big.NewInt(888))
	require.NoError(t, err)
	_, err = node.AuctionBid(testAdvertiser, 0)
	require.NoError(t, err)

	preimage := [32]byte{9, 8, 7}
	_, err = node.EscrowSetHashlock(testValidator, 0, htlc.HashSecret(preimage), 5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = node.EscrowSubmitShare(testValidator, 0, []byte{byte(i), 0xBB})
		require.NoError(t, err)
	}
	return preimage
}

func TestFailedSettlementRollsBack(t *testing.T) {
	const start int64 = 1_700_000_000
	clock := &testClock{now: start}
	sink := &recordingSink{}
	node := newTestNode(t, storage.NewMemDB(), clock, sink)
	seedNode(t, node, start, start+200_000)
	preimage := startAndProve(t, node, clock, start)

	_, err := node.InventorySetPaused(testAdmin, true)
	require.NoError(t, err)
	supplyBefore, err := node.CurrencySupply()
	require.NoError(t, err)
	seqBefore, err := node.EventSequence()
	require.NoError(t, err)
	recorded := len(sink.Types())

	// The validator mint and publisher payout are staged before the slot
	// transfer trips the pause.
	_, err = node.EscrowWithdraw(testPublisher, 0, preimage)
	require.ErrorIs(t, err, coreerrors.ErrTransferFailure)

	supplyAfter, err := node.CurrencySupply()
	require.NoError(t, err)
	require.Equal(t, 0, supplyBefore.TotalSupply.Cmp(supplyAfter.TotalSupply))
	escrow, err := node.EscrowGet(0)
	require.NoError(t, err)
	require.Equal(t, htlc.EscrowPending, escrow.Status)
	for addr, want := range map[[20]byte]int64{testPublisher: 0, testValidator: 0, testCustodian: 888} {
		bal, err := node.CurrencyBalance(addr)
		require.NoError(t, err)
		require.Equal(t, want, bal.Int64())
	}
	token, err := node.InventoryToken(0)
	require.NoError(t, err)
	require.Equal(t, testCustodian, token.Owner)
	seqAfter, err := node.EventSequence()
	require.NoError(t, err)
	require.Equal(t, seqBefore, seqAfter)
	require.Len(t, sink.Types(), recorded)

	_, err = node.InventorySetPaused(testAdmin, false)
	require.NoError(t, err)
	released, err := node.EscrowWithdraw(testPublisher, 0, preimage)
	require.NoError(t, err)
	require.Equal(t, htlc.EscrowReleased, released.Status)
}

func TestCustodianCannotActAsCaller(t *testing.T) {
	const start int64 = 1_700_000_000
	clock := &testClock{now: start}
	node := newTestNode(t, storage.NewMemDB(), clock, nil)
	seedNode(t, node, start, start+200_000)
	_, err := node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	_, err = node.AuctionStart(testPublisher, 0, big.NewInt(1000), start+90_000)
	require.NoError(t, err)

	// Custody itself is not something the custodian can approve away.
	_, err = node.InventoryApprove(testCustodian, testAdvertiser, 0)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = node.AuctionBid(testCustodian, 0)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	_, err = node.CurrencyApprove(testAdvertiser, testCustodian, big.NewInt(888))
	require.NoError(t, err)
	_, err = node.AuctionBid(testAdvertiser, 0)
	require.NoError(t, err)

	_, err = node.CurrencyTransfer(testCustodian, testPublisher, big.NewInt(888))
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = node.CurrencyApprove(testCustodian, testPublisher, big.NewInt(888))
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = node.EscrowCancel(testCustodian, 0)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	held, err := node.CurrencyBalance(testCustodian)
	require.NoError(t, err)
	require.Equal(t, int64(888), held.Int64())
	allowance, err := node.CurrencyAllowance(testCustodian, testPublisher)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())
	escrow, err := node.EscrowGet(0)
	require.NoError(t, err)
	require.Equal(t, htlc.EscrowPending, escrow.Status)

	cancelled, err := node.EscrowCancel(testPublisher, 0)
	require.NoError(t, err)
	require.Equal(t, htlc.EscrowCancelled, cancelled.Status)
}

func TestRejectedSettlementMasksSecrets(t *testing.T) {
	const start int64 = 1_700_000_000
	clock := &testClock{now: start}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	node, err := NewNode(storage.NewMemDB(), testSettings(), WithClock(clock.Now), WithLogger(logger))
	require.NoError(t, err)
	seedNode(t, node, start, start+200_000)
	startAndProve(t, node, clock, start)

	wrong := [32]byte{0xC0, 0xFF, 0xEE}
	_, err = node.EscrowWithdraw(testPublisher, 0, wrong)
	require.ErrorIs(t, err, coreerrors.ErrProofFailure)
	_, err = node.EscrowSubmitShare(testPublisher, 0, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	out := buf.String()
	require.Contains(t, out, `"preimage":"`+logging.RedactedValue+`"`)
	require.Contains(t, out, `"share":"`+logging.RedactedValue+`"`)
	require.NotContains(t, out, hex.EncodeToString(wrong[:]))
	require.NotContains(t, out, "deadbeef")
}

func TestCommissionRemainderDestination(t *testing.T) {
	const start int64 = 1_700_000_000
	treasury := marketAddr(0x7E)
	cases := []struct {
		name          string
		feeTreasury   [20]byte
		wantCustodian int64
		wantTreasury  int64
		wantWarning   bool
	}{
		{name: "unset retains in custody", wantCustodian: 44, wantWarning: true},
		{name: "treasury receives remainder", feeTreasury: treasury, wantTreasury: 44},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &testClock{now: start}
			var buf bytes.Buffer
			settings := testSettings()
			settings.FeeTreasury = tc.feeTreasury
			node, err := NewNode(storage.NewMemDB(), settings, WithClock(clock.Now),
				WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
			require.NoError(t, err)
			require.Equal(t, tc.wantWarning, strings.Contains(buf.String(), "fee treasury unset"))
			seedNode(t, node, start, start+200_000)
			preimage := startAndProve(t, node, clock, start)

			_, err = node.EscrowWithdraw(testPublisher, 0, preimage)
			require.NoError(t, err)

			held, err := node.CurrencyBalance(testCustodian)
			require.NoError(t, err)
			require.Equal(t, tc.wantCustodian, held.Int64())
			fees, err := node.CurrencyBalance(treasury)
			require.NoError(t, err)
			require.Equal(t, tc.wantTreasury, fees.Int64())

			total := new(big.Int)
			for _, addr := range [][20]byte{testAdvertiser, testPublisher, testValidator, testCustodian, treasury} {
				bal, err := node.CurrencyBalance(addr)
				require.NoError(t, err)
				total.Add(total, bal)
			}
			supply, err := node.CurrencySupply()
			require.NoError(t, err)
			require.Equal(t, 0, total.Cmp(supply.TotalSupply))
		})
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	clock := &testClock{now: 1_000}
	node := newTestNode(t, storage.NewMemDB(), clock, nil)
	seedNode(t, node, 2_000, 3_000)

	spec := &genesis.Spec{Balances: []genesis.BalanceSpec{{Address: crypto.FormatAddress(testAdvertiser), Amount: "1"}}}
	require.NoError(t, spec.Validate())
	applied, err := node.Seed(spec)
	require.NoError(t, err)
	require.False(t, applied)

	bal, err := node.CurrencyBalance(testAdvertiser)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.Int64())
}

func TestSeedRespectsCap(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), &testClock{now: 1}, nil)
	spec := &genesis.Spec{Balances: []genesis.BalanceSpec{{Address: crypto.FormatAddress(testAdvertiser), Amount: "1000001"}}}
	require.NoError(t, spec.Validate())
	_, err := node.Seed(spec)
	require.ErrorIs(t, err, coreerrors.ErrTransferFailure)
}

func TestInventoryPauseThroughNode(t *testing.T) {
	clock := &testClock{now: 1_000}
	node := newTestNode(t, storage.NewMemDB(), clock, nil)
	seedNode(t, node, 2_000, 3_000)

	_, err := node.InventorySetPaused(testPublisher, true)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	paused, err := node.InventorySetPaused(testAdmin, true)
	require.NoError(t, err)
	require.True(t, paused)

	_, err = node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	_, err = node.AuctionList(testPublisher, 0)
	require.ErrorIs(t, err, coreerrors.ErrTransferFailure)

	_, err = node.InventorySetPaused(testAdmin, false)
	require.NoError(t, err)
	_, err = node.AuctionList(testPublisher, 0)
	require.NoError(t, err)
}

func TestMarketPauseFromSettings(t *testing.T) {
	settings := testSettings()
	settings.PauseMarket = true
	node, err := NewNode(storage.NewMemDB(), settings, WithClock((&testClock{now: 1_000}).Now))
	require.NoError(t, err)
	seedNode(t, node, 2_000, 3_000)
	_, err = node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	_, err = node.AuctionList(testPublisher, 0)
	require.ErrorIs(t, err, coreerrors.ErrInvalidState)
}

func TestNewNodeValidatesSettings(t *testing.T) {
	cases := map[string]func(*MarketSettings){
		"no validator":       func(s *MarketSettings) { s.Validator = [20]byte{} },
		"no custodian":       func(s *MarketSettings) { s.Custodian = [20]byte{} },
		"validator custody":  func(s *MarketSettings) { s.Custodian = s.Validator },
		"commission too big": func(s *MarketSettings) { s.CommissionBps = 10_001 },
		"negative grace":     func(s *MarketSettings) { s.RefundGrace = -1 },
		"zero cap":           func(s *MarketSettings) { s.CurrencyCap = big.NewInt(0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			settings := testSettings()
			mutate(&settings)
			_, err := NewNode(storage.NewMemDB(), settings)
			require.Error(t, err)
		})
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	clock := &testClock{now: 1_000}
	node := newTestNode(t, db, clock, nil)
	seedNode(t, node, 2_000, 3_000)
	seq, err := node.EventSequence()
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	node = newTestNode(t, reopened, clock, nil)

	bal, err := node.CurrencyBalance(testAdvertiser)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.Int64())
	token, err := node.InventoryToken(0)
	require.NoError(t, err)
	require.Equal(t, testPublisher, token.Owner)
	resumed, err := node.EventSequence()
	require.NoError(t, err)
	require.Equal(t, seq, resumed)
}

func TestEventsSubscribe(t *testing.T) {
	clock := &testClock{now: 1_000}
	node := newTestNode(t, storage.NewMemDB(), clock, nil)
	seedNode(t, node, 2_000, 3_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, stop, backlog, err := node.EventsSubscribe(ctx, "1")
	require.NoError(t, err)
	defer stop()
	require.NotEmpty(t, backlog)
	for _, record := range backlog {
		require.Greater(t, record.Sequence, uint64(1))
	}

	_, err = node.InventoryApprove(testPublisher, testCustodian, 0)
	require.NoError(t, err)
	select {
	case record := <-updates:
		require.Equal(t, "inventory.approved", record.Type)
		require.Equal(t, int64(1_000), record.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("expected a streamed event")
	}

	stop()
	_, open := <-updates
	require.False(t, open)
}

func TestBroadcastConcurrentWithCancel(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), &testClock{now: 1}, nil)

	done := make(chan struct{})
	broadcasting := make(chan struct{})
	go func() {
		defer close(broadcasting)
		for seq := uint64(1); ; seq++ {
			select {
			case <-done:
				return
			default:
			}
			node.broadcast(types.EventRecord{Sequence: seq, Type: "stream.test"})
		}
	}()

	var subscribers sync.WaitGroup
	for i := 0; i < 4; i++ {
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			for j := 0; j < 200; j++ {
				ctx, cancel := context.WithCancel(context.Background())
				_, stop, _, err := node.EventsSubscribe(ctx, "")
				if err != nil {
					cancel()
					t.Error(err)
					return
				}
				stop()
				cancel()
			}
		}()
	}
	subscribers.Wait()
	close(done)
	<-broadcasting

	node.streamMu.Lock()
	defer node.streamMu.Unlock()
	require.Empty(t, node.streamSubs)
}

func TestGetUnknownAuction(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), &testClock{now: 1}, nil)
	_, err := node.AuctionGet(5)
	require.True(t, errors.Is(err, coreerrors.ErrNotFound))
}
