package model

import "time"

type Plan string

const (
	PlanTrial Plan = "trial"
	PlanPro   Plan = "pro"
)

func (p Plan) Valid() bool {
	return p == PlanTrial || p == PlanPro
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account is the per-user entitlement record. Plan is the authoritative gate
// for metered actions; UsedCount only matters while Plan is trial.
type Account struct {
	UID        string     `json:"uid" gorm:"primaryKey;size:128"`
	Email      string     `json:"email" gorm:"index"`
	Plan       Plan       `json:"plan" gorm:"size:16;not null;default:trial"`
	UsedCount  int        `json:"used_count" gorm:"not null;default:0"`
	Role       Role       `json:"role" gorm:"size:16;not null;default:user"`
	Revision   int64      `json:"revision" gorm:"not null;default:0"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime:false;not null"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"autoUpdateTime:false;not null"`
	LastCalcAt *time.Time `json:"last_calc_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
