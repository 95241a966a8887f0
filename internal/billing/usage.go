package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
)

// UsageMutator records metered actions.
type UsageMutator struct {
	db       *gorm.DB
	accounts *AccountStore
	limit    int
	now      func() time.Time
}

func NewUsageMutator(db *gorm.DB, accounts *AccountStore, limit int, now func() time.Time) *UsageMutator {
	return &UsageMutator{db: db, accounts: accounts, limit: limit, now: now}
}

// Consume charges one metered action to uid.
//
// The increment is a single conditional UPDATE, so concurrent calls never lose
// or duplicate an increment and never push a trial past the limit. On a pro
// account it is a no-op and charged is false. On an exhausted trial it fails
// with ErrQuotaExceeded. updated_at never moves backwards, even when this
// host's clock is behind the last writer's.
func (m *UsageMutator) Consume(ctx context.Context, uid string) (account model.Account, charged bool, err error) {
	if uid == "" {
		return model.Account{}, false, apperror.Validation("usage.consume", "uid is required")
	}

	err = runInTx(ctx, m.db, "usage.consume", func(tx *gorm.DB) error {
		now := m.now()
		res := tx.Model(&model.Account{}).
			Where("uid = ? AND plan = ? AND used_count < ?", uid, model.PlanTrial, m.limit).
			Updates(map[string]interface{}{
				"used_count":   gorm.Expr("used_count + 1"),
				"last_calc_at": now,
				"updated_at":   gorm.Expr("CASE WHEN updated_at > ? THEN updated_at ELSE ? END", now, now),
				"revision":     gorm.Expr("revision + 1"),
			})
		if res.Error != nil {
			return res.Error
		}

		current, err := m.accounts.getTx(tx, uid)
		if err != nil {
			return err
		}
		account = current

		if res.RowsAffected == 0 {
			charged = false
			if current.Plan == model.PlanPro {
				return nil
			}
			return apperror.QuotaExceeded("usage.consume", m.limit)
		}

		charged = true
		return database.Notify(tx, notify.Channel, uid)
	})
	if errors.Is(err, apperror.ErrQuotaExceeded) {
		return account, false, err
	}
	if err != nil {
		return model.Account{}, false, err
	}
	return account, charged, nil
}

// Reset zeroes the trial counter regardless of plan.
func (m *UsageMutator) Reset(ctx context.Context, uid string) (model.Account, error) {
	if uid == "" {
		return model.Account{}, apperror.Validation("usage.reset", "uid is required")
	}

	var account model.Account
	err := runInTx(ctx, m.db, "usage.reset", func(tx *gorm.DB) error {
		current, err := m.accounts.lockTx(tx, uid)
		if err != nil {
			return err
		}
		zero := 0
		if err := m.accounts.updateTx(tx, uid, accountUpdate{
			UsedCount: &zero,
			UpdatedAt: monotonic(m.now(), current.UpdatedAt),
		}); err != nil {
			return err
		}
		if account, err = m.accounts.getTx(tx, uid); err != nil {
			return err
		}
		return database.Notify(tx, notify.Channel, uid)
	})
	return account, err
}

// monotonic keeps updated_at from moving backwards when clocks disagree.
func monotonic(now, previous time.Time) time.Time {
	if now.Before(previous) {
		return previous
	}
	return now
}
