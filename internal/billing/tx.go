package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
)

const maxTxAttempts = 3

// runInTx runs fn in one transaction, replaying it when Postgres aborts it
// with a serialization failure or deadlock. fn must only touch tx.
func runInTx(ctx context.Context, db *gorm.DB, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !database.IsRetryable(err) {
			return database.Classify(op, err)
		}

		select {
		case <-ctx.Done():
			return apperror.Unavailable(op, ctx.Err())
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return apperror.Conflict(op, fmt.Errorf("gave up after %d attempts: %w", maxTxAttempts, err))
}

// forUpdate adds a row lock on dialects that support one. SQLite serializes
// writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if database.IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
