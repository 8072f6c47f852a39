package models

import "time"

// WebhookEvent stores one externally delivered bank notification with
// deduplication metadata for idempotent processing. Rows are immutable
// except for the processing bookkeeping columns and are never deleted.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TenantID        string     `gorm:"type:varchar(64);not null;index:ux_webhook_events_tenant_event,unique,priority:1;index" json:"tenant_id"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_tenant_event,unique,priority:2" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	RawPayload      string     `gorm:"type:longtext;not null" json:"raw_payload"`
	Signature       string     `gorm:"type:varchar(191)" json:"signature"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	CorrelationID   string     `gorm:"type:varchar(64);not null;index" json:"correlation_id"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	TerminalFailure bool       `gorm:"default:false;index" json:"terminal_failure"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
