package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"runbridge/crypto"
	"runbridge/ledger"
	"runbridge/observability"
)

const (
	// defaultCancelWindow bounds how long after issuance an exchange can be
	// cancelled and refunded.
	defaultCancelWindow = 5 * time.Minute
	// defaultSettleAfter is how long a pending exchange survives before the
	// janitor presumes it settled on-chain. Must exceed the cancel window.
	defaultSettleAfter = 24 * time.Hour
)

// Engine composes the signer, codec and ledger into the bridge API: it
// reserves and refunds coins around pending on-chain operations and credits
// verified gameplay results.
type Engine struct {
	store   *ledger.Store
	signing *SigningContext
	codec   *Codec
	logger  *slog.Logger
	metrics *observability.Metrics

	cancelWindow time.Duration
	settleAfter  time.Duration
	now          func() time.Time
}

// Options tunes engine policy; zero values fall back to defaults.
type Options struct {
	CancelWindow time.Duration
	SettleAfter  time.Duration
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// Authorization is the signed payload returned to a client for submission
// on-chain, plus the balance left after any reservation.
type Authorization struct {
	Signature string
	Nonce     string
	Signer    string
	Coins     int64
}

// CancelResult reports a successful exchange cancellation.
type CancelResult struct {
	Coins    int64
	Refunded int64
}

// ConfirmResult reports a successful recharge confirmation.
type ConfirmResult struct {
	Coins int64
	Added int64
}

// BalanceResult is the read-only account summary.
type BalanceResult struct {
	Coins            int64
	CumulativeEarned int64
	BestScore        int64
}

// LeaderboardEntry ranks an account by best confirmed run score.
type LeaderboardEntry struct {
	Wallet           string
	BestScore        int64
	CumulativeEarned int64
}

func NewEngine(store *ledger.Store, signing *SigningContext, codec *Codec, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("ledger store required")
	}
	if signing == nil {
		return nil, errors.New("signing context required")
	}
	if codec == nil {
		return nil, errors.New("verification codec required")
	}
	e := &Engine{
		store:        store,
		signing:      signing,
		codec:        codec,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		cancelWindow: opts.CancelWindow,
		settleAfter:  opts.SettleAfter,
		now:          time.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.cancelWindow <= 0 {
		e.cancelWindow = defaultCancelWindow
	}
	if e.settleAfter <= 0 {
		e.settleAfter = defaultSettleAfter
	}
	if e.settleAfter < e.cancelWindow {
		return nil, fmt.Errorf("settle-after %s must not undercut the cancel window %s", e.settleAfter, e.cancelWindow)
	}
	return e, nil
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SignerAddress exposes the trusted authorizer address for the public config
// surface.
func (e *Engine) SignerAddress() string {
	return e.signing.SignerAddress().String()
}

// SignExchange reserves gameCoins from the player's balance and issues the
// coins-to-tokens authorization. The debit happens before the player touches
// the chain so a stale or failed on-chain call can never double-spend the
// coins; cancellation refunds them.
func (e *Engine) SignExchange(ctx context.Context, playerAddr, tokenAmount string, gameCoins int64, contractAddr string) (*Authorization, error) {
	player, tokenWei, contract, err := e.validateSignInputs(playerAddr, tokenAmount, gameCoins, contractAddr)
	if err != nil {
		e.metrics.ObserveOp("sign_exchange", "rejected")
		return nil, err
	}

	nonceHex, err := NewNonce()
	if err != nil {
		return nil, err
	}
	nonce, _ := ParseNonce(nonceHex)

	// Signing is stateless and CPU-bound; run it before taking the account
	// lock. The authorization is only released once the reservation commits.
	result, err := e.signing.Sign(SignRequest{
		Kind:     OpExchange,
		Player:   player,
		TokenWei: tokenWei,
		Coins:    gameCoins,
		Nonce:    nonce,
		Contract: contract,
	})
	if err != nil {
		e.metrics.IntegrityFailure()
		e.metrics.ObserveOp("sign_exchange", "error")
		e.logger.Error("exchange signing failed", "player", player.String(), "err", err)
		return nil, err
	}

	normalizedAmount := FormatTokenAmount(tokenWei)
	record := ledger.ExchangeRecord{
		ID:              uuid.NewString(),
		Nonce:           NormalizeNonce(result.Nonce),
		PlayerAddress:   player.String(),
		TokenAmount:     normalizedAmount,
		GameCoins:       gameCoins,
		ContractAddress: contract.String(),
		Status:          ledger.StatusPending,
		CreatedAt:       e.now().UTC(),
		Signature:       result.Signature,
	}

	account, err := e.store.Update(player.String(), func(a *ledger.Account) error {
		if a.Coins < gameCoins {
			return &InsufficientBalanceError{Required: gameCoins, Current: a.Coins}
		}
		if short := a.Debit(gameCoins); short != 0 {
			e.logger.Warn("debit clamped at zero despite balance check",
				"player", player.String(), "requested", gameCoins, "shortfall", short)
		}
		record.CoinsBalanceAfter = a.Coins
		a.ExchangeHistory = append(a.ExchangeHistory, record)
		return nil
	})
	if err != nil {
		e.metrics.ObserveOp("sign_exchange", "rejected")
		return nil, err
	}

	e.metrics.ObserveOp("sign_exchange", "ok")
	e.metrics.ObserveCoins("reserved", gameCoins)
	e.logger.Info("exchange authorization issued",
		"player", player.String(), "coins", gameCoins, "tokens", normalizedAmount, "nonce", record.Nonce)
	return &Authorization{
		Signature: result.Signature,
		Nonce:     result.Nonce,
		Signer:    result.Signer,
		Coins:     account.Coins,
	}, nil
}

// CancelExchange refunds a pending exchange reservation. The record must
// match the supplied parameters exactly and still be inside the cancellation
// window; a second cancel on the same nonce is rejected with the current
// balance.
func (e *Engine) CancelExchange(ctx context.Context, playerAddr, tokenAmount string, gameCoins int64, nonceStr, reason string) (*CancelResult, error) {
	player, err := crypto.ParseAddress(playerAddr)
	if err != nil {
		return nil, invalidField("playerAddress", err.Error())
	}
	tokenWei, err := ParseTokenAmount(tokenAmount)
	if err != nil {
		return nil, invalidField("tokenAmount", err.Error())
	}
	if gameCoins <= 0 {
		return nil, invalidField("gameCoins", "must be positive")
	}
	if _, err := ParseNonce(nonceStr); err != nil {
		return nil, invalidField("nonce", err.Error())
	}
	nonce := NormalizeNonce(nonceStr)

	var refunded int64
	account, err := e.store.Update(player.String(), func(a *ledger.Account) error {
		record := a.ExchangeByNonce(nonce)
		if record == nil {
			return &ConflictError{Reason: "no exchange record matches nonce", Coins: a.Coins}
		}
		switch record.Status {
		case ledger.StatusCancelled:
			return &ConflictError{Reason: "exchange already cancelled", Coins: a.Coins}
		case ledger.StatusSettled:
			return &ConflictError{Reason: "exchange already settled", Coins: a.Coins}
		case ledger.StatusPending:
		default:
			return &ConflictError{Reason: fmt.Sprintf("exchange in unexpected state %s", record.Status), Coins: a.Coins}
		}
		recordWei, parseErr := ParseTokenAmount(record.TokenAmount)
		if parseErr != nil || recordWei.Cmp(tokenWei) != 0 || record.GameCoins != gameCoins {
			return &ConflictError{Reason: "cancellation parameters do not match the pending record", Coins: a.Coins}
		}
		if e.now().Sub(record.CreatedAt) > e.cancelWindow {
			return &WindowExpiredError{Coins: a.Coins}
		}

		a.Refund(record.GameCoins)
		refunded = record.GameCoins
		now := e.now().UTC()
		record.Status = ledger.StatusCancelled
		record.CancelReason = strings.TrimSpace(reason)
		record.CancelledAt = &now
		return nil
	})
	if err != nil {
		e.metrics.ObserveOp("cancel_exchange", "rejected")
		return nil, err
	}

	e.metrics.ObserveOp("cancel_exchange", "ok")
	e.metrics.ObserveCoins("refunded", refunded)
	e.logger.Info("exchange cancelled", "player", player.String(), "nonce", nonce, "refunded", refunded)
	return &CancelResult{Coins: account.Coins, Refunded: refunded}, nil
}

// SignRecharge issues the tokens-to-coins authorization. No coins move yet:
// the player has not proven the token transfer, so the credit waits for
// ConfirmRecharge.
func (e *Engine) SignRecharge(ctx context.Context, playerAddr, tokenAmount string, gameCoins int64, contractAddr string) (*Authorization, error) {
	player, tokenWei, contract, err := e.validateSignInputs(playerAddr, tokenAmount, gameCoins, contractAddr)
	if err != nil {
		e.metrics.ObserveOp("sign_recharge", "rejected")
		return nil, err
	}

	nonceHex, err := NewNonce()
	if err != nil {
		return nil, err
	}
	nonce, _ := ParseNonce(nonceHex)

	result, err := e.signing.Sign(SignRequest{
		Kind:     OpRecharge,
		Player:   player,
		TokenWei: tokenWei,
		Coins:    gameCoins,
		Nonce:    nonce,
		Contract: contract,
	})
	if err != nil {
		e.metrics.IntegrityFailure()
		e.metrics.ObserveOp("sign_recharge", "error")
		e.logger.Error("recharge signing failed", "player", player.String(), "err", err)
		return nil, err
	}

	record := ledger.RechargeRecord{
		ID:              uuid.NewString(),
		Nonce:           NormalizeNonce(result.Nonce),
		PlayerAddress:   player.String(),
		TokenAmount:     FormatTokenAmount(tokenWei),
		GameCoinsToGain: gameCoins,
		ContractAddress: contract.String(),
		Status:          ledger.StatusPending,
		CreatedAt:       e.now().UTC(),
	}

	account, err := e.store.Update(player.String(), func(a *ledger.Account) error {
		a.RechargeHistory = append(a.RechargeHistory, record)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveOp("sign_recharge", "ok")
	e.logger.Info("recharge authorization issued",
		"player", player.String(), "coins", gameCoins, "tokens", record.TokenAmount, "nonce", record.Nonce)
	return &Authorization{
		Signature: result.Signature,
		Nonce:     result.Nonce,
		Signer:    result.Signer,
		Coins:     account.Coins,
	}, nil
}

// ConfirmRecharge credits the coins for a pending recharge once the player
// reports the on-chain transaction. Amounts must equal the signed record:
// the check defends against parameter substitution after signing.
func (e *Engine) ConfirmRecharge(ctx context.Context, playerAddr, tokenAmount string, gameCoins int64, nonceStr, txHash string) (*ConfirmResult, error) {
	player, err := crypto.ParseAddress(playerAddr)
	if err != nil {
		return nil, invalidField("playerAddress", err.Error())
	}
	tokenWei, err := ParseTokenAmount(tokenAmount)
	if err != nil {
		return nil, invalidField("tokenAmount", err.Error())
	}
	if gameCoins <= 0 {
		return nil, invalidField("gameCoins", "must be positive")
	}
	if _, err := ParseNonce(nonceStr); err != nil {
		return nil, invalidField("nonce", err.Error())
	}
	if strings.TrimSpace(txHash) == "" {
		return nil, invalidField("txHash", "required")
	}
	nonce := NormalizeNonce(nonceStr)

	var added int64
	account, err := e.store.Update(player.String(), func(a *ledger.Account) error {
		record := a.RechargeByNonce(nonce)
		if record == nil {
			return &ConflictError{Reason: "no recharge record matches nonce", Coins: a.Coins}
		}
		if record.Status != ledger.StatusPending {
			return &ConflictError{Reason: "recharge already completed", Coins: a.Coins}
		}
		recordWei, parseErr := ParseTokenAmount(record.TokenAmount)
		if parseErr != nil || recordWei.Cmp(tokenWei) != 0 || record.GameCoinsToGain != gameCoins {
			return &ConflictError{Reason: "confirmation parameters do not match the pending record", Coins: a.Coins}
		}

		a.Credit(record.GameCoinsToGain)
		added = record.GameCoinsToGain
		now := e.now().UTC()
		record.Status = ledger.StatusCompleted
		record.TxHash = strings.TrimSpace(txHash)
		record.CompletedAt = &now
		return nil
	})
	if err != nil {
		e.metrics.ObserveOp("confirm_recharge", "rejected")
		return nil, err
	}

	e.metrics.ObserveOp("confirm_recharge", "ok")
	e.metrics.ObserveCoins("credited", added)
	e.logger.Info("recharge confirmed", "player", player.String(), "nonce", nonce, "added", added)
	return &ConfirmResult{Coins: account.Coins, Added: added}, nil
}

// VerifyGameData credits a client-reported game result after checking the
// tamper-evident verification code, and raises the best score when the run
// beats it.
func (e *Engine) VerifyGameData(ctx context.Context, walletAddr string, gameCoins int64, payload Payload, gameScore int64) (*BalanceResult, error) {
	wallet, err := crypto.ParseAddress(walletAddr)
	if err != nil {
		return nil, invalidField("walletAddress", err.Error())
	}
	if gameCoins < 0 {
		return nil, invalidField("gameCoins", "must not be negative")
	}
	if gameScore < 0 {
		return nil, invalidField("gameScore", "must not be negative")
	}

	payload.Wallet = wallet.String()
	payload.Coins = gameCoins
	if err := e.codec.Verify(payload); err != nil {
		e.metrics.IntegrityFailure()
		e.metrics.ObserveOp("verify_game_data", "rejected")
		e.logger.Warn("game data verification failed",
			"wallet", wallet.String(), "coins", gameCoins, "err", err)
		return nil, ErrVerificationRejected
	}

	account, err := e.store.Update(wallet.String(), func(a *ledger.Account) error {
		a.Credit(gameCoins)
		if gameScore > a.BestScore {
			a.BestScore = gameScore
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveOp("verify_game_data", "ok")
	e.metrics.ObserveCoins("earned", gameCoins)
	return &BalanceResult{
		Coins:            account.Coins,
		CumulativeEarned: account.CumulativeEarned,
		BestScore:        account.BestScore,
	}, nil
}

// Balance returns the account summary; a never-seen wallet reads as zeroes.
func (e *Engine) Balance(ctx context.Context, walletAddr string) (*BalanceResult, error) {
	wallet, err := crypto.ParseAddress(walletAddr)
	if err != nil {
		return nil, invalidField("walletAddress", err.Error())
	}
	account, err := e.store.Get(wallet.String())
	if errors.Is(err, ledger.ErrNotFound) {
		return &BalanceResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &BalanceResult{
		Coins:            account.Coins,
		CumulativeEarned: account.CumulativeEarned,
		BestScore:        account.BestScore,
	}, nil
}

// Account returns the full persisted document, or ledger.ErrNotFound.
func (e *Engine) Account(ctx context.Context, walletAddr string) (*ledger.Account, error) {
	wallet, err := crypto.ParseAddress(walletAddr)
	if err != nil {
		return nil, invalidField("walletAddress", err.Error())
	}
	return e.store.Get(wallet.String())
}

// ExchangeHistory lists the wallet's exchange records, newest last.
func (e *Engine) ExchangeHistory(ctx context.Context, walletAddr string) ([]ledger.ExchangeRecord, error) {
	account, err := e.Account(ctx, walletAddr)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account.ExchangeHistory, nil
}

// RechargeHistory lists the wallet's recharge records, newest last.
func (e *Engine) RechargeHistory(ctx context.Context, walletAddr string) ([]ledger.RechargeRecord, error) {
	account, err := e.Account(ctx, walletAddr)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account.RechargeHistory, nil
}

// Leaderboard ranks accounts by best score, descending, capped at limit.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	addresses, err := e.store.Addresses()
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(addresses))
	for _, addr := range addresses {
		account, err := e.store.Get(addr)
		if err != nil {
			continue
		}
		if account.BestScore == 0 && account.CumulativeEarned == 0 {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Wallet:           addr,
			BestScore:        account.BestScore,
			CumulativeEarned: account.CumulativeEarned,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BestScore != entries[j].BestScore {
			return entries[i].BestScore > entries[j].BestScore
		}
		return entries[i].CumulativeEarned > entries[j].CumulativeEarned
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AllRecharges aggregates recharge records across every account, for the
// admin surface.
func (e *Engine) AllRecharges(ctx context.Context) ([]ledger.RechargeRecord, error) {
	addresses, err := e.store.Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.RechargeRecord, 0)
	for _, addr := range addresses {
		account, err := e.store.Get(addr)
		if err != nil {
			continue
		}
		out = append(out, account.RechargeHistory...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AllWithdrawals aggregates exchange records across every account in the
// flattened admin shape.
func (e *Engine) AllWithdrawals(ctx context.Context) ([]ledger.WithdrawalRecord, error) {
	addresses, err := e.store.Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.WithdrawalRecord, 0)
	for _, addr := range addresses {
		account, err := e.store.Get(addr)
		if err != nil {
			continue
		}
		for _, record := range account.ExchangeHistory {
			out = append(out, ledger.WithdrawalRecord{
				ID:            record.ID,
				Date:          record.CreatedAt,
				PlayerAddress: record.PlayerAddress,
				TokenAmount:   record.TokenAmount,
				GameCoins:     record.GameCoins,
				Status:        string(record.Status),
				Nonce:         record.Nonce,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// validateSignInputs is shared by both signing paths.
func (e *Engine) validateSignInputs(playerAddr, tokenAmount string, gameCoins int64, contractAddr string) (crypto.Address, *big.Int, crypto.Address, error) {
	player, err := crypto.ParseAddress(playerAddr)
	if err != nil {
		return crypto.Address{}, nil, crypto.Address{}, invalidField("playerAddress", err.Error())
	}
	tokenWei, err := ParseTokenAmount(tokenAmount)
	if err != nil {
		return crypto.Address{}, nil, crypto.Address{}, invalidField("tokenAmount", err.Error())
	}
	if gameCoins <= 0 {
		return crypto.Address{}, nil, crypto.Address{}, invalidField("gameCoins", "must be positive")
	}
	contract, err := crypto.ParseAddress(contractAddr)
	if err != nil {
		return crypto.Address{}, nil, crypto.Address{}, invalidField("contractAddress", err.Error())
	}
	return player, tokenWei, contract, nil
}
