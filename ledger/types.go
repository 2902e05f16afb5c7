package ledger

import (
	"time"
)

// RecordStatus is the lifecycle state of a bridge record. A record leaves
// pending exactly once and never comes back.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusCancelled RecordStatus = "cancelled"
	// StatusSettled marks an exchange whose cancellation window lapsed with no
	// cancel report. The signature was irrevocably issued, so the reservation
	// is presumed consumed on-chain.
	StatusSettled RecordStatus = "settled"
)

// ExchangeRecord tracks one coins-to-tokens authorization from signature
// issuance to a terminal state. Identity key is the nonce.
type ExchangeRecord struct {
	ID                string       `json:"id"`
	Nonce             string       `json:"nonce"`
	PlayerAddress     string       `json:"playerAddress"`
	TokenAmount       string       `json:"tokenAmount"`
	GameCoins         int64        `json:"gameCoins"`
	ContractAddress   string       `json:"contractAddress"`
	Status            RecordStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
	Signature         string       `json:"signature"`
	CoinsBalanceAfter int64        `json:"coinsBalanceAfter"`
	CancelReason      string       `json:"cancelReason,omitempty"`
	CancelledAt       *time.Time   `json:"cancelledAt,omitempty"`
	SettledAt         *time.Time   `json:"settledAt,omitempty"`
}

// RechargeRecord tracks one tokens-to-coins authorization. Coins are only
// credited on confirmation, after the player proves the on-chain transfer.
type RechargeRecord struct {
	ID              string       `json:"id"`
	Nonce           string       `json:"nonce"`
	PlayerAddress   string       `json:"playerAddress"`
	TokenAmount     string       `json:"tokenAmount"`
	GameCoinsToGain int64        `json:"gameCoinsToGain"`
	ContractAddress string       `json:"contractAddress"`
	Status          RecordStatus `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	TxHash          string       `json:"txHash,omitempty"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}

// WithdrawalRecord is the flattened admin-facing entry appended when an
// exchange reaches a terminal settled state.
type WithdrawalRecord struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	PlayerAddress string    `json:"playerAddress"`
	TokenAmount   string    `json:"tokenAmount"`
	GameCoins     int64     `json:"gameCoins"`
	Status        string    `json:"status"`
	Nonce         string    `json:"nonce"`
	TxHash        string    `json:"txHash,omitempty"`
}

// Account is the full per-wallet document persisted as one JSON file. The
// highScore/lastScore field names are kept from the legacy on-disk schema:
// highScore holds lifetime coins credited, lastScore the best confirmed run
// score.
type Account struct {
	Coins             int64              `json:"coins"`
	CumulativeEarned  int64              `json:"highScore"`
	BestScore         int64              `json:"lastScore"`
	ExchangeHistory   []ExchangeRecord   `json:"exchangeHistory"`
	RechargeHistory   []RechargeRecord   `json:"rechargeHistory"`
	WithdrawalHistory []WithdrawalRecord `json:"withdrawalHistory"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// Credit adds freshly earned coins: both the spendable balance and the
// lifetime counter move. Refunds must use Refund instead so lifetime earnings
// stay monotone.
func (a *Account) Credit(n int64) {
	if n <= 0 {
		return
	}
	a.Coins += n
	a.CumulativeEarned += n
}

// Refund restores previously reserved coins without touching the lifetime
// counter.
func (a *Account) Refund(n int64) {
	if n <= 0 {
		return
	}
	a.Coins += n
}

// Debit removes up to n coins, clamping the balance at zero. It returns the
// shortfall (zero when the balance covered the debit) so callers can log the
// discrepancy.
func (a *Account) Debit(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if a.Coins >= n {
		a.Coins -= n
		return 0
	}
	short := n - a.Coins
	a.Coins = 0
	return short
}

// ExchangeByNonce returns a pointer into the history slice so FSM transitions
// mutate the stored record in place. Nonce comparison is exact; nonces are
// stored canonical lower-case.
func (a *Account) ExchangeByNonce(nonce string) *ExchangeRecord {
	for i := range a.ExchangeHistory {
		if a.ExchangeHistory[i].Nonce == nonce {
			return &a.ExchangeHistory[i]
		}
	}
	return nil
}

func (a *Account) RechargeByNonce(nonce string) *RechargeRecord {
	for i := range a.RechargeHistory {
		if a.RechargeHistory[i].Nonce == nonce {
			return &a.RechargeHistory[i]
		}
	}
	return nil
}

// Clone deep-copies the account so callers can hand out snapshots without
// exposing the stored slices to mutation.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ExchangeHistory = append([]ExchangeRecord(nil), a.ExchangeHistory...)
	clone.RechargeHistory = append([]RechargeRecord(nil), a.RechargeHistory...)
	clone.WithdrawalHistory = append([]WithdrawalRecord(nil), a.WithdrawalHistory...)
	return &clone
}
