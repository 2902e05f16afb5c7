package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"runbridge/bridge"
	"runbridge/ledger"
)

type signRequest struct {
	PlayerAddress   string `json:"playerAddress"`
	TokenAmount     string `json:"tokenAmount"`
	GameCoins       int64  `json:"gameCoins"`
	ContractAddress string `json:"contractAddress"`
}

type signResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	Signer    string `json:"signer"`
	Coins     int64  `json:"coins"`
}

type cancelRequest struct {
	PlayerAddress string `json:"playerAddress"`
	TokenAmount   string `json:"tokenAmount"`
	GameCoins     int64  `json:"gameCoins"`
	Nonce         string `json:"nonce"`
	Reason        string `json:"reason"`
}

type cancelResponse struct {
	Success       bool  `json:"success"`
	Coins         int64 `json:"coins"`
	RefundedCoins int64 `json:"refundedCoins"`
}

type confirmRequest struct {
	PlayerAddress string `json:"playerAddress"`
	TokenAmount   string `json:"tokenAmount"`
	GameCoins     int64  `json:"gameCoins"`
	Nonce         string `json:"nonce"`
	TxHash        string `json:"txHash"`
}

type confirmResponse struct {
	Success    bool  `json:"success"`
	Coins      int64 `json:"coins"`
	AddedCoins int64 `json:"addedCoins"`
}

type verifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	GameCoins     int64  `json:"gameCoins"`
	GameScore     int64  `json:"gameScore"`
	Verification  struct {
		Code      string `json:"code"`
		Timestamp int64  `json:"timestamp"`
	} `json:"verification"`
}

type verifyResponse struct {
	Success   bool  `json:"success"`
	Coins     int64 `json:"coins"`
	HighScore int64 `json:"highScore"`
	LastScore int64 `json:"lastScore"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Coins   *int64 `json:"coins,omitempty"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) SignExchange(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeBody(s.logger, w, r, &req) {
		return
	}
	auth, err := s.engine.SignExchange(r.Context(), req.PlayerAddress, req.TokenAmount, req.GameCoins, req.ContractAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, signResponse{
		Success:   true,
		Signature: auth.Signature,
		Nonce:     auth.Nonce,
		Signer:    auth.Signer,
		Coins:     auth.Coins,
	})
}

func (s *Server) CancelExchange(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decodeBody(s.logger, w, r, &req) {
		return
	}
	result, err := s.engine.CancelExchange(r.Context(), req.PlayerAddress, req.TokenAmount, req.GameCoins, req.Nonce, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, cancelResponse{
		Success:       true,
		Coins:         result.Coins,
		RefundedCoins: result.Refunded,
	})
}

func (s *Server) SignRecharge(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeBody(s.logger, w, r, &req) {
		return
	}
	auth, err := s.engine.SignRecharge(r.Context(), req.PlayerAddress, req.TokenAmount, req.GameCoins, req.ContractAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, signResponse{
		Success:   true,
		Signature: auth.Signature,
		Nonce:     auth.Nonce,
		Signer:    auth.Signer,
		Coins:     auth.Coins,
	})
}

func (s *Server) ConfirmRecharge(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeBody(s.logger, w, r, &req) {
		return
	}
	result, err := s.engine.ConfirmRecharge(r.Context(), req.PlayerAddress, req.TokenAmount, req.GameCoins, req.Nonce, req.TxHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, confirmResponse{
		Success:    true,
		Coins:      result.Coins,
		AddedCoins: result.Added,
	})
}

func (s *Server) VerifyGameData(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(s.logger, w, r, &req) {
		return
	}
	payload := bridge.Payload{
		Code:      req.Verification.Code,
		Timestamp: req.Verification.Timestamp,
	}
	result, err := s.engine.VerifyGameData(r.Context(), req.WalletAddress, req.GameCoins, payload, req.GameScore)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, verifyResponse{
		Success:   true,
		Coins:     result.Coins,
		HighScore: result.CumulativeEarned,
		LastScore: result.BestScore,
	})
}

func (s *Server) UserAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.Account(r.Context(), chi.URLParam(r, "wallet"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(s.logger, w, http.StatusNotFound, errorResponse{Error: "account not found"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, account)
}

func (s *Server) UserCoins(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Balance(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"success":   true,
		"coins":     result.Coins,
		"highScore": result.CumulativeEarned,
		"lastScore": result.BestScore,
	})
}

func (s *Server) UserExchangeHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.ExchangeHistory(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []ledger.ExchangeRecord{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (s *Server) UserRechargeHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.RechargeHistory(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []ledger.RechargeRecord{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Leaderboard(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, map[string]any{
			"wallet":    entry.Wallet,
			"lastScore": entry.BestScore,
			"highScore": entry.CumulativeEarned,
		})
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "leaderboard": out})
}

func (s *Server) Web3Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"chainId":         s.chainID,
		"contractAddress": s.contractAddress,
		"signerAddress":   s.engine.SignerAddress(),
	})
}

func (s *Server) AllRechargeHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.AllRecharges(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "history": records})
}

func (s *Server) AllWithdrawalHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.AllWithdrawals(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "history": records})
}

// writeError maps engine errors onto HTTP statuses. Conflict-class errors
// carry the account's current balance so the caller can reconcile.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation   *bridge.ValidationError
		insufficient *bridge.InsufficientBalanceError
		conflict     *bridge.ConflictError
		expired      *bridge.WindowExpiredError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{Error: validation.Error()})
	case errors.As(err, &insufficient):
		coins := insufficient.Current
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{Error: insufficient.Error(), Coins: &coins})
	case errors.As(err, &conflict):
		coins := conflict.Coins
		writeJSON(s.logger, w, http.StatusConflict, errorResponse{Error: conflict.Reason, Coins: &coins})
	case errors.As(err, &expired):
		coins := expired.Coins
		writeJSON(s.logger, w, http.StatusConflict, errorResponse{Error: expired.Error(), Coins: &coins})
	case errors.Is(err, bridge.ErrVerificationRejected):
		writeJSON(s.logger, w, http.StatusBadRequest, errorResponse{Error: "verification failed"})
	case errors.Is(err, ledger.ErrNotFound):
		writeJSON(s.logger, w, http.StatusNotFound, errorResponse{Error: "account not found"})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(s.logger, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeBody(logger *slog.Logger, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(logger, w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return false
	}
	return true
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write response", "err", err)
	}
}
