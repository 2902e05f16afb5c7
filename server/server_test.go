package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"runbridge/bridge"
	"runbridge/crypto"
	"runbridge/ledger"
	"runbridge/observability"
)

const (
	testPlayer   = "0x1234567890abcdef1234567890abcdef12345678"
	testContract = "0xfedcba0987654321fedcba0987654321fedcba09"
	adminSecret  = "server-test-admin-secret"
)

type fixture struct {
	server *Server
	store  *ledger.Store
	codec  *bridge.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := ledger.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signing, err := bridge.NewSigningContext(key)
	if err != nil {
		t.Fatalf("signing context: %v", err)
	}
	codec, err := bridge.NewCodec("server-test-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	engine, err := bridge.NewEngine(store, signing, codec, bridge.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := New(Config{
		Engine:                engine,
		Metrics:               observability.NewMetrics("bridge_test"),
		ChainID:               31337,
		ContractAddress:       testContract,
		AdminJWTSecret:        adminSecret,
		RateRequestsPerMinute: 6000,
		RateBurst:             1000,
	})
	return &fixture{server: srv, store: store, codec: codec}
}

func (f *fixture) seed(t *testing.T, wallet string, coins int64) {
	t.Helper()
	if _, err := f.store.Update(wallet, func(a *ledger.Account) error {
		a.Credit(coins)
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestSignExchangeFlow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testPlayer, 1000)

	rec := f.do(t, http.MethodPost, "/api/bridge/sign-exchange", signRequest{
		PlayerAddress:   testPlayer,
		TokenAmount:     "3",
		GameCoins:       300,
		ContractAddress: testContract,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var signed signResponse
	decodeJSON(t, rec, &signed)
	if !signed.Success || signed.Signature == "" || signed.Nonce == "" {
		t.Fatalf("response = %+v", signed)
	}
	if signed.Coins != 700 {
		t.Fatalf("coins = %d, want 700", signed.Coins)
	}

	rec = f.do(t, http.MethodPost, "/api/bridge/cancel-exchange", cancelRequest{
		PlayerAddress: testPlayer,
		TokenAmount:   "3",
		GameCoins:     300,
		Nonce:         signed.Nonce,
		Reason:        "user rejected",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d body = %s", rec.Code, rec.Body)
	}
	var cancelled cancelResponse
	decodeJSON(t, rec, &cancelled)
	if cancelled.Coins != 1000 || cancelled.RefundedCoins != 300 {
		t.Fatalf("cancel response = %+v", cancelled)
	}

	rec = f.do(t, http.MethodPost, "/api/bridge/cancel-exchange", cancelRequest{
		PlayerAddress: testPlayer,
		TokenAmount:   "3",
		GameCoins:     300,
		Nonce:         signed.Nonce,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", rec.Code)
	}
	var conflict errorResponse
	decodeJSON(t, rec, &conflict)
	if conflict.Coins == nil || *conflict.Coins != 1000 {
		t.Fatalf("conflict must carry the current balance: %+v", conflict)
	}
}

func TestSignExchangeValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/bridge/sign-exchange", signRequest{
		PlayerAddress:   "not-an-address",
		TokenAmount:     "3",
		GameCoins:       300,
		ContractAddress: testContract,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/bridge/sign-exchange", signRequest{
		PlayerAddress:   testPlayer,
		TokenAmount:     "3",
		GameCoins:       300,
		ContractAddress: testContract,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("insufficient balance status = %d, want 400", rec.Code)
	}
}

func TestRechargeFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bridge/sign-recharge", signRequest{
		PlayerAddress:   testPlayer,
		TokenAmount:     "5",
		GameCoins:       500,
		ContractAddress: testContract,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var signed signResponse
	decodeJSON(t, rec, &signed)
	if signed.Coins != 0 {
		t.Fatalf("recharge signing must not move coins, got %d", signed.Coins)
	}

	rec = f.do(t, http.MethodPost, "/api/bridge/confirm-recharge", confirmRequest{
		PlayerAddress: testPlayer,
		TokenAmount:   "5",
		GameCoins:     500,
		Nonce:         signed.Nonce,
		TxHash:        "0xdeadbeef",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d body = %s", rec.Code, rec.Body)
	}
	var confirmed confirmResponse
	decodeJSON(t, rec, &confirmed)
	if confirmed.Coins != 500 || confirmed.AddedCoins != 500 {
		t.Fatalf("confirm response = %+v", confirmed)
	}

	rec = f.do(t, http.MethodPost, "/api/bridge/confirm-recharge", confirmRequest{
		PlayerAddress: testPlayer,
		TokenAmount:   "5",
		GameCoins:     500,
		Nonce:         signed.Nonce,
		TxHash:        "0xdeadbeef",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second confirm status = %d, want 409", rec.Code)
	}
}

func TestVerifyGameData(t *testing.T) {
	f := newFixture(t)
	payload := f.codec.Generate(testPlayer, 50)

	req := verifyRequest{WalletAddress: testPlayer, GameCoins: 50, GameScore: 900}
	req.Verification.Code = payload.Code
	req.Verification.Timestamp = payload.Timestamp

	rec := f.do(t, http.MethodPost, "/api/verify-game-data", req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var verified verifyResponse
	decodeJSON(t, rec, &verified)
	if verified.Coins != 50 || verified.HighScore != 50 || verified.LastScore != 900 {
		t.Fatalf("response = %+v", verified)
	}

	// tampered coins must be rejected
	req.GameCoins = 5000
	rec = f.do(t, http.MethodPost, "/api/verify-game-data", req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("tampered status = %d, want 400", rec.Code)
	}
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testPlayer, 250)

	rec := f.do(t, http.MethodGet, "/api/user/"+testPlayer+"/coins", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coins status = %d", rec.Code)
	}
	var coins map[string]any
	decodeJSON(t, rec, &coins)
	if coins["coins"].(float64) != 250 {
		t.Fatalf("coins = %v", coins)
	}

	rec = f.do(t, http.MethodGet, "/api/user/"+testPlayer, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/user/0x9999999999999999999999999999999999999999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/user/"+testPlayer+"/exchange-history", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
}

func TestWeb3Config(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/web3-config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cfg map[string]any
	decodeJSON(t, rec, &cfg)
	if cfg["chainId"].(float64) != 31337 || cfg["contractAddress"] != testContract {
		t.Fatalf("config = %v", cfg)
	}
	if cfg["signerAddress"] == "" {
		t.Fatal("signer address missing")
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/all-recharge-history", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/admin/all-recharge-history", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rec = f.do(t, http.MethodGet, "/api/admin/all-recharge-history", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d body = %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/admin/all-withdrawal-history", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("withdrawal history status = %d", rec.Code)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Update(testPlayer, func(a *ledger.Account) error {
		a.Credit(10)
		a.BestScore = 900
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/leaderboard-data", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success     bool `json:"success"`
		Leaderboard []struct {
			Wallet    string `json:"wallet"`
			LastScore int64  `json:"lastScore"`
		} `json:"leaderboard"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Leaderboard) != 1 || body.Leaderboard[0].LastScore != 900 {
		t.Fatalf("leaderboard = %+v", body)
	}
}

func TestRateLimiting(t *testing.T) {
	store, err := ledger.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signing, err := bridge.NewSigningContext(key)
	if err != nil {
		t.Fatalf("signing context: %v", err)
	}
	codec, err := bridge.NewCodec("server-test-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	engine, err := bridge.NewEngine(store, signing, codec, bridge.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := New(Config{
		Engine:                engine,
		Metrics:               observability.NewMetrics("bridge_ratelimit_test"),
		ChainID:               31337,
		ContractAddress:       testContract,
		RateRequestsPerMinute: 60,
		RateBurst:             2,
	})

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/bridge/sign-exchange", bytes.NewBufferString("{}"))
		req.Header.Set("X-Real-IP", "203.0.113.7")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of requests from one client must hit the rate limit")
	}
}
