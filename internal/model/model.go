package model

// Tables lists every model the service migrates, in dependency order.
func Tables() []interface{} {
	return []interface{}{
		&Credential{},
		&Account{},
		&Subscription{},
		&WebhookEvent{},
	}
}
