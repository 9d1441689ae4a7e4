package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/crypto"
	"github.com/uhyunpark/irswap/pkg/engine"
	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/nonce"
	"github.com/uhyunpark/irswap/pkg/orderbook"
	"github.com/uhyunpark/irswap/pkg/util"
)

const (
	defaultBookCapacity = 10_000
	defaultListLimit    = 50
)

var errUnauthorized = errors.New("sender signature does not match")

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *engine.Engine
	book    *orderbook.Book
	router  *mux.Router
	hub     *Hub
	logger  *zap.Logger
	metrics prometheus.Gatherer
	origins []string
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = util.OrNop(l) } }

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option { return func(s *Server) { s.metrics = g } }

func WithAllowedOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

func WithOrderBook(b *orderbook.Book) Option { return func(s *Server) { s.book = b } }

func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		router:  mux.NewRouter(),
		logger:  zap.NewNop(),
		origins: []string{"http://localhost:3000", "http://localhost:3001"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.book == nil {
		s.book = orderbook.New(defaultBookCapacity)
	}
	s.hub = NewHub(s.logger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order book
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")

	// Orders
	api.HandleFunc("/orders/hash", s.handleHashOrder).Methods("POST")
	api.HandleFunc("/orders/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{hash}/remaining", s.handleGetRemaining).Methods("GET")
	api.HandleFunc("/orders/{hash}/fills", s.handleGetFills).Methods("GET")
	api.HandleFunc("/orders/{hash}/participants/{address}", s.handleGetParticipant).Methods("GET")

	// Makers
	api.HandleFunc("/nonces/{address}", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/nonces/{address}/advance", s.handleAdvanceNonce).Methods("POST")

	// Margin model
	api.HandleFunc("/assets/{address}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/margin/quote", s.handleMarginQuote).Methods("POST")

	api.HandleFunc("/domain", s.handleGetDomain).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler is the router behind the CORS middleware.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ActionMessage is what a sender signs with crypto.Signer.SignMessage to
// authorize an action. state pins the message to the state it was made
// against, so a captured request cannot be replayed once that state moves:
// the order's remaining amount for fills, the current nonce for nonce
// bumps.
func ActionMessage(action string, subject []byte, state *big.Int) []byte {
	out := append([]byte(action), subject...)
	return append(out, calldata.Word(state)...)
}

func verifySender(sender common.Address, msg, sig []byte) error {
	if !crypto.VerifySignature(sender, ethcrypto.Keccak256(msg), sig) {
		return errUnauthorized
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decode(w, r, &req) {
		return
	}
	o := req.Order
	if o == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	if err := o.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	hash, err := s.engine.HashOrder(o)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if signer, err := s.engine.Hasher().Signer(o, req.Signature); err != nil || signer != o.Maker {
		respondError(w, http.StatusUnauthorized, "unauthorized", engine.ErrBadSignature.Error())
		return
	}
	if o.EndTimestamp.Cmp(new(big.Int).SetUint64(s.engine.Now())) <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "order expired", "")
		return
	}
	remaining, err := s.engine.RemainingFor(r.Context(), o)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	if remaining.Sign() == 0 {
		respondError(w, http.StatusUnprocessableEntity, "order is filled or cancelled", "")
		return
	}

	entry, err := s.book.Add(hash, o, req.Signature, time.Now())
	switch {
	case errors.Is(err, orderbook.ErrDuplicate):
		respondError(w, http.StatusConflict, "order already posted", "")
		return
	case errors.Is(err, orderbook.ErrFull):
		respondError(w, http.StatusServiceUnavailable, "order book full", "")
		return
	case err != nil:
		respondError(w, http.StatusUnprocessableEntity, "invalid order", err.Error())
		return
	}

	resp := bookEntry(entry, remaining)
	s.hub.BroadcastToChannel("book", EventUpdate{Type: "OrderPosted", Time: s.engine.Now(), Data: resp})
	s.logger.Info("order posted",
		zap.String("order", hash.Hex()),
		zap.String("maker", o.Maker.Hex()),
		zap.String("rate", resp.RateDecimal),
	)
	respondJSON(w, resp)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, underlying := q.Get("asset"), q.Get("underlying")
	if !common.IsHexAddress(asset) || !common.IsHexAddress(underlying) {
		respondError(w, http.StatusBadRequest, "asset and underlying required", "")
		return
	}
	fixedTaker := true
	switch q.Get("side") {
	case "", "fixed":
	case "variable":
		fixedTaker = false
	default:
		respondError(w, http.StatusBadRequest, "invalid side", q.Get("side"))
		return
	}
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}

	if n := s.book.PruneExpired(s.engine.Now()); n > 0 {
		s.logger.Debug("expired orders pruned", zap.Int("count", n))
	}
	market := orderbook.Market{Asset: common.HexToAddress(asset), UnderlyingAsset: common.HexToAddress(underlying)}
	entries := s.book.Best(market, fixedTaker, limit)
	out := make([]BookEntryResponse, 0, len(entries))
	for _, e := range entries {
		rem, err := s.engine.RemainingFor(r.Context(), e.Order)
		if err != nil {
			respondError(w, statusFor(err), "lookup failed", err.Error())
			return
		}
		out = append(out, bookEntry(e, rem))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashVar(w, r)
	if !ok {
		return
	}
	e, ok := s.book.Get(hash)
	if !ok {
		respondError(w, http.StatusNotFound, "order not in book", hash.Hex())
		return
	}
	rem, err := s.engine.RemainingFor(r.Context(), e.Order)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	respondJSON(w, bookEntry(e, rem))
}

func (s *Server) handleHashOrder(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	hash, err := s.engine.HashOrder(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	typed, err := s.engine.Hasher().ToJSON(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	respondJSON(w, OrderHashResponse{OrderHash: hash, TypedData: typed})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	hash, err := s.engine.HashOrder(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	remaining, err := s.engine.RemainingFor(r.Context(), req.Order)
	if err != nil {
		respondError(w, statusFor(err), "fill failed", err.Error())
		return
	}
	if err := verifySender(req.Sender, ActionMessage("fill", hash.Bytes(), remaining), req.SenderSignature); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	fill, err := s.engine.FillOrder(r.Context(), req.Sender, engine.FillRequest{
		Order:       req.Order,
		Signature:   req.Signature,
		MakerAmount: req.MakerAmount,
		TakerAmount: req.TakerAmount,
		Threshold:   req.Threshold,
		Target:      req.Target,
		Permit:      req.Permit,
	})
	if err != nil {
		respondError(w, statusFor(err), "fill failed", err.Error())
		return
	}
	s.logger.Info("order filled",
		zap.String("order", fill.OrderHash.Hex()),
		zap.String("taker", fill.Taker.Hex()),
		zap.Stringer("making", fill.MakerAmount),
		zap.Stringer("taking", fill.TakerAmount),
	)
	respondJSON(w, fill)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	hash, err := s.engine.HashOrder(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if err := verifySender(req.Order.Maker, ActionMessage("cancel", hash.Bytes(), new(big.Int)), req.SenderSignature); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	c, err := s.engine.CancelOrder(r.Context(), req.Order.Maker, req.Order)
	if err != nil {
		respondError(w, statusFor(err), "cancel failed", err.Error())
		return
	}
	respondJSON(w, c)
}

func (s *Server) handleGetRemaining(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashVar(w, r)
	if !ok {
		return
	}
	rem, known, err := s.engine.Remaining(r.Context(), hash)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	if rem == nil {
		rem = new(big.Int)
	}
	respondJSON(w, RemainingResponse{OrderHash: hash, Remaining: rem, Known: known})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashVar(w, r)
	if !ok {
		return
	}
	fills, err := s.engine.Fills(r.Context(), hash)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	if fills == nil {
		fills = []engine.Fill{}
	}
	respondJSON(w, fills)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashVar(w, r)
	if !ok {
		return
	}
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	p, err := s.engine.Participant(r.Context(), hash, addr)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	respondJSON(w, ParticipantResponse{
		OrderHash:      hash,
		Participant:    addr,
		FixedTokens:    p.FixedTokens,
		VariableTokens: p.VariableTokens,
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	n, err := s.engine.Nonce(r.Context(), addr)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	respondJSON(w, NonceResponse{Maker: addr, Nonce: n})
}

func (s *Server) handleAdvanceNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	var req NonceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	cur, err := s.engine.Nonce(r.Context(), addr)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	msg := ActionMessage("advanceNonce", append(addr.Bytes(), req.Amount), new(big.Int).SetUint64(cur))
	if err := verifySender(addr, msg, req.SenderSignature); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	n, err := s.engine.AdvanceNonce(r.Context(), addr, req.Amount)
	if err != nil {
		respondError(w, statusFor(err), "advance failed", err.Error())
		return
	}
	respondJSON(w, NonceResponse{Maker: addr, Nonce: n})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	p, err := s.engine.Asset(r.Context(), addr)
	if err != nil {
		respondError(w, statusFor(err), "lookup failed", err.Error())
		return
	}
	respondJSON(w, AssetResponse{
		Asset:         addr,
		Alpha:         fp.String(orZero(p.Alpha)),
		Beta:          fp.String(orZero(p.Beta)),
		Sigma:         fp.String(orZero(p.Sigma)),
		LowerBoundMul: fp.String(orZero(p.LowerBoundMul)),
		UpperBoundMul: fp.String(orZero(p.UpperBoundMul)),
		Raw:           p,
	})
}

func (s *Server) handleMarginQuote(w http.ResponseWriter, r *http.Request) {
	var req MarginQuoteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	m, err := s.engine.MarginRequirement(r.Context(), req.Order, orZero(req.MakerAmount), orZero(req.TakerAmount), req.ForFixedTaker)
	if err != nil {
		respondError(w, statusFor(err), "quote failed", err.Error())
		return
	}
	respondJSON(w, MarginQuoteResponse{Margin: m})
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	respondJSON(w, DomainResponse{
		ChainID:         cfg.ChainID,
		Address:         cfg.Address,
		DomainSeparator: s.engine.DomainSeparator(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the host)
// ==============================

// OnEvent forwards a committed event to WebSocket subscribers and drops
// orders that can no longer fill from the book. Register it with
// host.Subscribe.
func (s *Server) OnEvent(ev host.Event) {
	update := EventUpdate{Type: ev.Name, Time: ev.Time, Data: ev.Data}
	switch data := ev.Data.(type) {
	case *engine.Fill:
		s.hub.BroadcastToChannel("fills", update)
		s.hub.BroadcastToChannel("orders:"+data.OrderHash.Hex(), update)
		if data.Remaining.Sign() == 0 {
			s.unlist(data.OrderHash, ev.Time)
		}
	case *engine.Canceled:
		s.hub.BroadcastToChannel("cancels", update)
		s.hub.BroadcastToChannel("orders:"+data.OrderHash.Hex(), update)
		s.unlist(data.OrderHash, ev.Time)
	case nonce.Increased:
		s.hub.BroadcastToChannel("nonces:"+data.Maker.Hex(), update)
	case engine.AssetUpdated:
		s.hub.BroadcastToChannel("assets", update)
	}
}

func (s *Server) unlist(hash common.Hash, at uint64) {
	if s.book.Remove(hash) {
		s.hub.BroadcastToChannel("book", EventUpdate{Type: "OrderRemoved", Time: at, Data: map[string]common.Hash{"orderHash": hash}})
	}
}

// ==============================
// Helper Functions
// ==============================

func bookEntry(e orderbook.Entry, remaining *big.Int) BookEntryResponse {
	return BookEntryResponse{Entry: e, RateDecimal: fp.String(e.Rate), Remaining: remaining}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func hashVar(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", raw)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// statusFor maps engine errors onto HTTP statuses. Rejections caused by
// the request itself are 422.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
