// Package rpc serves the market over JSON-RPC 2.0 and a websocket event
// stream.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"slotmarket/core"
	"slotmarket/core/types"
	"slotmarket/gateway/middleware"
	"slotmarket/indexer"
	"slotmarket/observability"
)

var errIndexUnavailable = &RPCError{Code: codeIndexUnavailable, Message: "event index not configured"}

// EventHistory answers history queries over committed events.
type EventHistory interface {
	List(ctx context.Context, q indexer.Query) ([]types.EventRecord, error)
}

// Config configures the HTTP surface.
type Config struct {
	JWTSecret         string
	JWTIssuer         string
	RequestsPerMinute float64
	Burst             int
	ReadHeaderTimeout time.Duration
	LogRequests       bool
}

type handlerFunc func(ctx context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error)

// method describes one JSON-RPC method. Authenticated methods act on behalf
// of the caller named by the JWT subject.
type method struct {
	module        string
	authenticated bool
	handle        handlerFunc
}

type Server struct {
	node    *core.Node
	history EventHistory
	logger  *slog.Logger
	cfg     Config

	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	methods map[string]method
}

// NewServer builds the server for node. history may be nil, in which case
// market_listEvents reports the index as unavailable.
func NewServer(node *core.Node, history EventHistory, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	s := &Server{
		node:    node,
		history: history,
		logger:  logger,
		cfg:     cfg,
		auth: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.JWTSecret,
			Issuer:     cfg.JWTIssuer,
		}, logger),
		limiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RequestsPerMinute,
			Burst:             cfg.Burst,
		}, logger),
		obs: middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: cfg.LogRequests}, logger),
	}
	s.methods = s.routes()
	return s
}

func (s *Server) routes() map[string]method {
	return map[string]method{
		"auction_list":   {module: "auction", authenticated: true, handle: s.handleAuctionList},
		"auction_start":  {module: "auction", authenticated: true, handle: s.handleAuctionStart},
		"auction_bid":    {module: "auction", authenticated: true, handle: s.handleAuctionBid},
		"auction_cancel": {module: "auction", authenticated: true, handle: s.handleAuctionCancel},
		"auction_get":    {module: "auction", handle: s.handleAuctionGet},
		"auction_price":  {module: "auction", handle: s.handleAuctionPrice},

		"escrow_get":              {module: "escrow", handle: s.handleEscrowGet},
		"escrow_setTokenMetadata": {module: "escrow", authenticated: true, handle: s.handleEscrowSetTokenMetadata},
		"escrow_setHashlock":      {module: "escrow", authenticated: true, handle: s.handleEscrowSetHashlock},
		"escrow_submitShare":      {module: "escrow", authenticated: true, handle: s.handleEscrowSubmitShare},
		"escrow_withdraw":         {module: "escrow", authenticated: true, handle: s.handleEscrowWithdraw},
		"escrow_refund":           {module: "escrow", authenticated: true, handle: s.handleEscrowRefund},
		"escrow_cancel":           {module: "escrow", authenticated: true, handle: s.handleEscrowCancel},

		"inventory_mint":        {module: "inventory", authenticated: true, handle: s.handleInventoryMint},
		"inventory_approve":     {module: "inventory", authenticated: true, handle: s.handleInventoryApprove},
		"inventory_get":         {module: "inventory", handle: s.handleInventoryGet},
		"inventory_setGroupURI": {module: "inventory", authenticated: true, handle: s.handleInventorySetGroupURI},
		"inventory_groupURI":    {module: "inventory", handle: s.handleInventoryGroupURI},
		"inventory_pause":       {module: "inventory", authenticated: true, handle: s.handleInventoryPause},
		"inventory_unpause":     {module: "inventory", authenticated: true, handle: s.handleInventoryUnpause},
		"inventory_paused":      {module: "inventory", handle: s.handleInventoryPaused},

		"currency_balance":   {module: "currency", handle: s.handleCurrencyBalance},
		"currency_allowance": {module: "currency", handle: s.handleCurrencyAllowance},
		"currency_approve":   {module: "currency", authenticated: true, handle: s.handleCurrencyApprove},
		"currency_transfer":  {module: "currency", authenticated: true, handle: s.handleCurrencyTransfer},
		"currency_supply":    {module: "currency", handle: s.handleCurrencySupply},

		"market_listEvents": {module: "market", handle: s.handleListEvents},
	}
}

// Router returns the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware("rpc"))
		r.With(s.obs.Middleware("rpc")).Post("/rpc", s.handle)
		r.Get("/ws/events", s.handleEventsWS)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	seq, err := s.node.EventSequence()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "eventSequence": seq})
}

// handle decodes one JSON-RPC request and dispatches it.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: "failed to read request body"})
		return
	}

	var req RPCRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "invalid request"})
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method})
		return
	}

	start := time.Now()
	caller, authenticated := middleware.CallerFromContext(r.Context())
	if m.authenticated && !authenticated {
		observability.ModuleMetrics().Observe(m.module, req.Method, codeUnauthenticated, time.Since(start))
		writeError(w, http.StatusUnauthorized, req.ID, &RPCError{Code: codeUnauthenticated, Message: "authentication required"})
		return
	}

	result, err := m.handle(r.Context(), caller, req.Params)
	if err != nil {
		rpcErr := errorFor(err)
		observability.ModuleMetrics().Observe(m.module, req.Method, rpcErr.Code, time.Since(start))
		if rpcErr.Code == codeServerError {
			s.logger.Error("rpc handler failed",
				slog.String("method", req.Method),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()))
		}
		writeError(w, http.StatusOK, req.ID, rpcErr)
		return
	}
	observability.ModuleMetrics().Observe(m.module, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}
