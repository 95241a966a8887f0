package model

import "time"

// Credential holds the login secret for a uid. It lives apart from Account so
// that billing code never loads password hashes.
type Credential struct {
	UID          string    `json:"uid" gorm:"primaryKey;size:64"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}
