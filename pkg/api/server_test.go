package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/irswap/pkg/crypto"
	"github.com/uhyunpark/irswap/pkg/engine"
	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/metrics"
	"github.com/uhyunpark/irswap/pkg/oracle"
	"github.com/uhyunpark/irswap/pkg/order"
	"github.com/uhyunpark/irswap/pkg/storage"
	"github.com/uhyunpark/irswap/pkg/token"
	"github.com/uhyunpark/irswap/pkg/util"
)

const day = uint64(24 * 60 * 60)

var (
	chainID    = big.NewInt(31337)
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000001a5")
	daiAddr    = common.HexToAddress("0x00000000000000000000000000000000000000da")
	cDaiAddr   = common.HexToAddress("0x000000000000000000000000000000000000cda1")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000f0")

	start = time.Unix(1_700_000_000, 0)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func mustFP(t *testing.T, num, den int64) *big.Int {
	t.Helper()
	x, err := fp.FromFraction(num, den)
	require.NoError(t, err)
	return x
}

type testServer struct {
	t      *testing.T
	ctx    context.Context
	host   *host.Host
	engine *engine.Engine
	server *Server
	http   *httptest.Server
	maker  *crypto.Signer
	taker  *crypto.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zaptest.NewLogger(t)
	h := host.New(storage.NewMemKV(), host.WithClock(util.NewManualClock(start)), host.WithLogger(logger))

	tok, err := token.New(token.Config{
		Name:     "Dai Stablecoin",
		Symbol:   "DAI",
		Decimals: 18,
		Owner:    owner,
		ChainID:  chainID,
		Address:  daiAddr,
	})
	require.NoError(t, err)
	h.Deploy(daiAddr, tok)

	history := oracle.NewHistory()
	_, err = history.Record(oracle.Pair{Asset: daiAddr, UnderlyingAsset: cDaiAddr}, uint64(start.Unix())-200*day, mustFP(t, 5, 100))
	require.NoError(t, err)

	m := metrics.New()
	eng, err := engine.New(h, oracle.NewAccessor(history, 0), engine.Config{
		ChainID:     chainID,
		Address:     engineAddr,
		Owner:       owner,
		LowerMul:    fp.FromInt(2),
		UpperMul:    fp.FromInt(2),
		APYLookback: 30 * 24 * time.Hour,
	}, engine.WithLogger(logger), engine.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, eng.SetAssetParam(ctx, owner, daiAddr, engine.ParamAlpha, mustFP(t, 5, 100)))
	require.NoError(t, eng.SetAssetParam(ctx, owner, daiAddr, engine.ParamSigma, mustFP(t, 1, 100)))

	maker, err := crypto.GenerateKey()
	require.NoError(t, err)
	taker, err := crypto.GenerateKey()
	require.NoError(t, err)
	for _, who := range []common.Address{maker.Address(), taker.Address()} {
		input, err := token.Pack("mint", who, ether(1000))
		require.NoError(t, err)
		_, err = h.Call(ctx, owner, daiAddr, input)
		require.NoError(t, err)
		input, err = token.Pack("approve", engineAddr, token.MaxAllowance())
		require.NoError(t, err)
		_, err = h.Call(ctx, who, daiAddr, input)
		require.NoError(t, err)
	}

	srv := NewServer(eng, WithLogger(logger), WithMetrics(m.Registry))
	h.Subscribe(srv.OnEvent)
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{t: t, ctx: ctx, host: h, engine: eng, server: srv, http: ts, maker: maker, taker: taker}
}

func (s *testServer) order(fixed, variable *big.Int) *order.Order {
	s.t.Helper()
	begin := uint64(start.Unix()) - 100*day
	o := &order.Order{
		Salt:            big.NewInt(7),
		Asset:           daiAddr,
		UnderlyingAsset: cDaiAddr,
		Maker:           s.maker.Address(),
		FixedTokens:     fixed,
		VariableTokens:  variable,
		IsFixedTaker:    true,
		BeginTimestamp:  new(big.Int).SetUint64(begin),
		EndTimestamp:    new(big.Int).SetUint64(begin + 365*day),
		T:               fp.One(),
	}
	makerRef, takerRef := o.ReferenceAmounts()
	var err error
	o.GetMakerAmount, err = engine.MakerAmountTemplate(makerRef, takerRef)
	require.NoError(s.t, err)
	o.GetTakerAmount, err = engine.TakerAmountTemplate(makerRef, takerRef)
	require.NoError(s.t, err)
	return o
}

func (s *testServer) hash(o *order.Order) common.Hash {
	s.t.Helper()
	h, err := s.engine.HashOrder(o)
	require.NoError(s.t, err)
	return h
}

// fillRequest builds a fill signed by signer for the order's current state.
func (s *testServer) fillRequest(o *order.Order, making *big.Int, signer *crypto.Signer) FillRequest {
	s.t.Helper()
	sig, err := s.engine.Hasher().Sign(s.maker, o)
	require.NoError(s.t, err)
	remaining, err := s.engine.RemainingFor(s.ctx, o)
	require.NoError(s.t, err)
	senderSig, err := signer.SignMessage(ActionMessage("fill", s.hash(o).Bytes(), remaining))
	require.NoError(s.t, err)
	return FillRequest{
		Order:           o,
		Signature:       sig,
		MakerAmount:     making,
		TakerAmount:     new(big.Int),
		Sender:          s.taker.Address(),
		SenderSignature: senderSig,
	}
}

func (s *testServer) do(method, path string, body any) *http.Response {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(s.ctx, method, s.http.URL+path, r)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestFillOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	hash := s.hash(o)

	resp := s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(2), s.taker))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fill := decodeBody[engine.Fill](t, resp)
	assert.Equal(t, hash, fill.OrderHash)
	assert.Equal(t, s.taker.Address(), fill.Taker)
	assert.Equal(t, ether(2), fill.MakerAmount)
	assert.Equal(t, ether(40), fill.TakerAmount)
	assert.Equal(t, ether(3), fill.Remaining)

	resp = s.do("GET", "/api/v1/orders/"+hash.Hex()+"/remaining", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rem := decodeBody[RemainingResponse](t, resp)
	assert.True(t, rem.Known)
	assert.Equal(t, ether(3), rem.Remaining)

	resp = s.do("GET", "/api/v1/orders/"+hash.Hex()+"/participants/"+s.taker.Address().Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[ParticipantResponse](t, resp)
	assert.Equal(t, ether(2), p.FixedTokens)
	assert.Equal(t, ether(40), p.VariableTokens)

	resp = s.do("GET", "/api/v1/orders/"+hash.Hex()+"/fills", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fills := decodeBody[[]engine.Fill](t, resp)
	require.Len(t, fills, 1)
	assert.Equal(t, fill.Seq, fills[0].Seq)
}

func TestFillRequiresSenderSignature(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))

	resp := s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(1), s.maker))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := s.fillRequest(o, ether(1), s.taker)
	resp = s.do("POST", "/api/v1/orders/fill", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The remaining amount moved, so the same request no longer verifies.
	resp = s.do("POST", "/api/v1/orders/fill", req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFillRejectionStatus(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))

	req := s.fillRequest(o, ether(1), s.taker)
	req.TakerAmount = ether(20)
	resp := s.do("POST", "/api/v1/orders/fill", req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := decodeBody[ErrorResponse](t, resp)
	assert.Contains(t, e.Message, engine.ErrAmbiguousFillDirection.Error())
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	hash := s.hash(o)

	sig, err := s.taker.SignMessage(ActionMessage("cancel", hash.Bytes(), new(big.Int)))
	require.NoError(t, err)
	resp := s.do("POST", "/api/v1/orders/cancel", CancelRequest{Order: o, SenderSignature: sig})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	sig, err = s.maker.SignMessage(ActionMessage("cancel", hash.Bytes(), new(big.Int)))
	require.NoError(t, err)
	resp = s.do("POST", "/api/v1/orders/cancel", CancelRequest{Order: o, SenderSignature: sig})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decodeBody[engine.Canceled](t, resp)
	assert.Equal(t, ether(5), c.RemainingBefore)

	resp = s.do("GET", "/api/v1/orders/"+hash.Hex()+"/remaining", nil)
	rem := decodeBody[RemainingResponse](t, resp)
	assert.True(t, rem.Known)
	assert.Zero(t, rem.Remaining.Sign())
}

func TestAdvanceNonce(t *testing.T) {
	s := newTestServer(t)
	maker := s.maker.Address()
	path := "/api/v1/nonces/" + maker.Hex()

	resp := s.do("GET", path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(0), decodeBody[NonceResponse](t, resp).Nonce)

	sig, err := s.maker.SignMessage(ActionMessage("advanceNonce", append(maker.Bytes(), 3), new(big.Int)))
	require.NoError(t, err)
	req := NonceRequest{Amount: 3, SenderSignature: sig}
	resp = s.do("POST", path+"/advance", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(3), decodeBody[NonceResponse](t, resp).Nonce)

	resp = s.do("POST", path+"/advance", req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do("GET", path, nil)
	assert.Equal(t, uint64(3), decodeBody[NonceResponse](t, resp).Nonce)
}

func TestGetAsset(t *testing.T) {
	s := newTestServer(t)

	resp := s.do("GET", "/api/v1/assets/"+daiAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decodeBody[AssetResponse](t, resp)
	assert.Equal(t, daiAddr, a.Asset)
	assert.Equal(t, fp.String(mustFP(t, 5, 100)), a.Alpha)
	assert.Equal(t, fp.String(mustFP(t, 1, 100)), a.Sigma)
	assert.Equal(t, fp.String(new(big.Int)), a.Beta)
}

func TestMarginQuote(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))

	want, err := s.engine.MarginRequirement(s.ctx, o, ether(5), ether(100), true)
	require.NoError(t, err)
	require.Positive(t, want.Sign())

	resp := s.do("POST", "/api/v1/margin/quote", MarginQuoteRequest{
		Order:         o,
		MakerAmount:   ether(5),
		TakerAmount:   ether(100),
		ForFixedTaker: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want, decodeBody[MarginQuoteResponse](t, resp).Margin)
}

func TestHashAndDomain(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))

	resp := s.do("POST", "/api/v1/orders/hash", HashRequest{Order: o})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decodeBody[OrderHashResponse](t, resp)
	assert.Equal(t, s.hash(o), h.OrderHash)
	assert.Contains(t, h.TypedData, order.DomainName)

	resp = s.do("GET", "/api/v1/domain", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decodeBody[DomainResponse](t, resp)
	assert.Equal(t, engineAddr, d.Address)
	assert.Equal(t, chainID, d.ChainID)
	assert.Equal(t, s.engine.DomainSeparator(), d.DomainSeparator)
}

func TestBadPathParameters(t *testing.T) {
	s := newTestServer(t)

	resp := s.do("GET", "/api/v1/orders/0x1234/remaining", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do("GET", "/api/v1/nonces/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do("POST", "/api/v1/orders/fill", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	resp := s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(5), s.taker))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["status"])

	resp = s.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "irs_fills_total")
	assert.Contains(t, string(body), "irs_margin_required")
}

func TestWebSocketReceivesFills(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	hash := s.hash(o)

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	channel := "orders:" + hash.Hex()
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{channel}}))
	require.Eventually(t, func() bool {
		s.server.hub.mu.RLock()
		defer s.server.hub.mu.RUnlock()
		for c := range s.server.hub.clients {
			if c.IsSubscribed(channel) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp := s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(5), s.taker))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update struct {
		Type string      `json:"type"`
		Data engine.Fill `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, engine.EventOrderFilled, update.Type)
	assert.Equal(t, hash, update.Data.OrderHash)
	assert.Equal(t, ether(5), update.Data.MakerAmount)
}

func TestOrderBookLifecycle(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	hash := s.hash(o)
	sig, err := s.engine.Hasher().Sign(s.maker, o)
	require.NoError(t, err)

	forged, err := s.engine.Hasher().Sign(s.taker, o)
	require.NoError(t, err)
	resp := s.do("POST", "/api/v1/orders", SubmitOrderRequest{Order: o, Signature: forged})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do("POST", "/api/v1/orders", SubmitOrderRequest{Order: o, Signature: sig})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posted := decodeBody[BookEntryResponse](t, resp)
	assert.Equal(t, hash, posted.Hash)
	assert.Equal(t, ether(5), posted.Remaining)
	assert.Equal(t, fp.String(mustFP(t, 5, 100)), posted.RateDecimal)

	resp = s.do("POST", "/api/v1/orders", SubmitOrderRequest{Order: o, Signature: sig})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	list := "/api/v1/orders?asset=" + daiAddr.Hex() + "&underlying=" + cDaiAddr.Hex()
	resp = s.do("GET", list+"&side=fixed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeBody[[]BookEntryResponse](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, hash, entries[0].Hash)

	resp = s.do("GET", list+"&side=variable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]BookEntryResponse](t, resp))

	// A partial fill keeps the order listed with less remaining.
	resp = s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(2), s.taker))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do("GET", "/api/v1/orders/"+hash.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ether(3), decodeBody[BookEntryResponse](t, resp).Remaining)

	// Filling the rest unlists it.
	resp = s.do("POST", "/api/v1/orders/fill", s.fillRequest(o, ether(3), s.taker))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do("GET", "/api/v1/orders/"+hash.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A spent order cannot be posted again.
	resp = s.do("POST", "/api/v1/orders", SubmitOrderRequest{Order: o, Signature: sig})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelUnlistsOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.order(ether(5), ether(100))
	hash := s.hash(o)
	sig, err := s.engine.Hasher().Sign(s.maker, o)
	require.NoError(t, err)

	resp := s.do("POST", "/api/v1/orders", SubmitOrderRequest{Order: o, Signature: sig})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = s.engine.CancelOrder(s.ctx, s.maker.Address(), o)
	require.NoError(t, err)
	resp = s.do("GET", "/api/v1/orders/"+hash.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do("GET", "/api/v1/orders?asset=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
