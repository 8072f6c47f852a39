package models

import "time"

// Notification intent kinds. Delivery transports are out of scope; an
// external dispatcher polls undelivered intents.
const (
	NotifyKindInvoicePaid      = "invoice_paid"
	NotifyKindInvoiceOverdue   = "invoice_overdue"
	NotifyKindPaymentFailed    = "payment_failed"
	NotifyKindTransferFailed   = "transfer_failed"
	NotifyKindFlaggedForReview = "transaction_flagged_for_review"
)

// NotificationIntent records the decision to notify, channel-agnostic.
type NotificationIntent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Kind         string    `gorm:"type:varchar(64);not null;index" json:"kind"`
	RecipientRef string    `gorm:"type:varchar(191);not null" json:"recipient_ref"`
	TemplateData string    `gorm:"type:longtext" json:"template_data"`
	Dispatched   bool      `gorm:"default:false;index" json:"dispatched"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
