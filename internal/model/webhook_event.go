package model

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookResult string

const (
	WebhookApplied        WebhookResult = "applied"
	WebhookIgnored        WebhookResult = "ignored"
	WebhookUnknownAccount WebhookResult = "unknown_account"
)

// WebhookEvent is the audit row for every verified provider event. The
// primary key is the provider's event id, so a redelivered event is found
// before it is applied a second time.
type WebhookEvent struct {
	ID        string         `json:"id" gorm:"primaryKey;size:255"`
	Type      string         `json:"type" gorm:"size:128;not null"`
	UID       string         `json:"uid" gorm:"size:128;index"`
	Result    WebhookResult  `json:"result" gorm:"size:32;not null"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
