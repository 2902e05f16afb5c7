package bridge

import (
	"context"
	"time"

	"runbridge/ledger"
)

// SettleExpired promotes pending exchange records older than the settle
// horizon to settled and files a withdrawal entry for each. The coins stay
// debited: the issued signature remains redeemable on-chain, so a refund
// here could be double-spent against a late redemption. It returns the
// number of records settled.
func (e *Engine) SettleExpired(ctx context.Context) (int, error) {
	addresses, err := e.store.Addresses()
	if err != nil {
		return 0, err
	}
	cutoff := e.now().Add(-e.settleAfter)

	settled := 0
	for _, addr := range addresses {
		select {
		case <-ctx.Done():
			return settled, ctx.Err()
		default:
		}
		snapshot, err := e.store.Get(addr)
		if err != nil {
			e.logger.Error("settlement sweep failed for account", "account", addr, "err", err)
			continue
		}
		if !hasStalePending(snapshot, cutoff) {
			continue
		}
		_, err = e.store.Update(addr, func(a *ledger.Account) error {
			for i := range a.ExchangeHistory {
				record := &a.ExchangeHistory[i]
				if record.Status != ledger.StatusPending || !record.CreatedAt.Before(cutoff) {
					continue
				}
				now := e.now().UTC()
				record.Status = ledger.StatusSettled
				record.SettledAt = &now
				a.WithdrawalHistory = append(a.WithdrawalHistory, ledger.WithdrawalRecord{
					ID:            record.ID,
					Date:          now,
					PlayerAddress: record.PlayerAddress,
					TokenAmount:   record.TokenAmount,
					GameCoins:     record.GameCoins,
					Status:        string(ledger.StatusSettled),
					Nonce:         record.Nonce,
				})
				settled++
				e.metrics.Settled()
				e.logger.Info("stale exchange settled",
					"player", record.PlayerAddress, "nonce", record.Nonce, "coins", record.GameCoins)
			}
			return nil
		})
		if err != nil {
			e.logger.Error("settlement sweep failed for account", "account", addr, "err", err)
		}
	}
	return settled, nil
}

// hasStalePending reports whether any pending exchange record predates the
// cutoff. Accounts with nothing to settle skip the write path entirely so a
// sweep does not rewrite their files or bump LastUpdated.
func hasStalePending(a *ledger.Account, cutoff time.Time) bool {
	for i := range a.ExchangeHistory {
		record := &a.ExchangeHistory[i]
		if record.Status == ledger.StatusPending && record.CreatedAt.Before(cutoff) {
			return true
		}
	}
	return false
}

// Janitor periodically sweeps pending exchange records past the settle
// horizon.
type Janitor struct {
	engine   *Engine
	interval time.Duration
}

func NewJanitor(engine *Engine, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{engine: engine, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then on
// every tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	count, err := j.engine.SettleExpired(ctx)
	if err != nil && ctx.Err() == nil {
		j.engine.logger.Error("settlement sweep failed", "err", err)
		return
	}
	if count > 0 {
		j.engine.logger.Info("settlement sweep complete", "settled", count)
	}
}
