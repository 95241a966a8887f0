package seed

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"metalcalc_backend/internal/model"
)

type RoleSetter interface {
	SetRole(ctx context.Context, uid string, role model.Role) (model.Account, error)
}

// PromoteAdmins grants the admin role to existing accounts whose e-mail is
// listed. Accounts that do not exist yet are picked up on the next run.
func PromoteAdmins(ctx context.Context, db *gorm.DB, roles RoleSetter, emails []string, logger zerolog.Logger) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(strings.TrimSpace(e))
	}

	var accounts []model.Account
	err := db.WithContext(ctx).
		Where("LOWER(email) IN ? AND role <> ?", lowered, model.RoleAdmin).
		Find(&accounts).Error
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, account := range accounts {
		if _, err := roles.SetRole(ctx, account.UID, model.RoleAdmin); err != nil {
			logger.Error().Err(err).Str("uid", account.UID).Msg("Error promoting admin")
			continue
		}
		promoted++
		logger.Info().Str("uid", account.UID).Str("email", account.Email).Msg("Account promoted to admin")
	}
	return promoted, nil
}
