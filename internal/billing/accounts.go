package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
)

// AccountStore owns the accounts table.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Get(ctx context.Context, uid string) (model.Account, error) {
	var account model.Account
	err := s.db.WithContext(ctx).Where("uid = ?", uid).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, apperror.NotFound("accounts.get", "account %q not found", uid)
	}
	if err != nil {
		return model.Account{}, database.Classify("accounts.get", err)
	}
	return account, nil
}

// Ensure creates the account on first access and returns the stored row.
// Concurrent first accesses race on the primary key; the loser's insert is
// dropped and both read the same row.
func (s *AccountStore) Ensure(ctx context.Context, uid, email string, now time.Time) (model.Account, bool, error) {
	fresh := model.Account{
		UID:       uid,
		Email:     email,
		Plan:      model.PlanTrial,
		UsedCount: 0,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return model.Account{}, false, database.Classify("accounts.ensure", res.Error)
	}

	account, err := s.Get(ctx, uid)
	return account, res.RowsAffected == 1, err
}

func (s *AccountStore) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&accounts).Error; err != nil {
		return nil, database.Classify("accounts.list", err)
	}
	return accounts, nil
}

// accountUpdate names every column a plan or admin change may write.
// Nil fields are left untouched.
type accountUpdate struct {
	Plan      *model.Plan
	UsedCount *int
	Role      *model.Role
	UpdatedAt time.Time
}

func (u accountUpdate) columns() map[string]interface{} {
	cols := map[string]interface{}{
		"updated_at": u.UpdatedAt,
		"revision":   gorm.Expr("revision + 1"),
	}
	if u.Plan != nil {
		cols["plan"] = *u.Plan
	}
	if u.UsedCount != nil {
		cols["used_count"] = *u.UsedCount
	}
	if u.Role != nil {
		cols["role"] = *u.Role
	}
	return cols
}

func (s *AccountStore) lockTx(tx *gorm.DB, uid string) (model.Account, error) {
	var account model.Account
	err := forUpdate(tx).Where("uid = ?", uid).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, apperror.NotFound("accounts.lock", "account %q not found", uid)
	}
	return account, err
}

func (s *AccountStore) updateTx(tx *gorm.DB, uid string, update accountUpdate) error {
	res := tx.Model(&model.Account{}).Where("uid = ?", uid).Updates(update.columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("accounts.update", "account %q not found", uid)
	}
	return nil
}

func (s *AccountStore) getTx(tx *gorm.DB, uid string) (model.Account, error) {
	var account model.Account
	err := tx.Where("uid = ?", uid).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, apperror.NotFound("accounts.get", "account %q not found", uid)
	}
	return account, err
}
