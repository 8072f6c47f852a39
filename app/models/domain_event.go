package models

import "time"

// Domain event types emitted by the engine.
const (
	DomainEventInvoicePaid              = "InvoicePaid"
	DomainEventInvoiceOverdue           = "InvoiceOverdue"
	DomainEventInvoiceCancelled         = "InvoiceCancelled"
	DomainEventPaymentFailed            = "PaymentFailed"
	DomainEventTransferFailed           = "TransferFailed"
	DomainEventTransactionRecorded      = "TransactionRecorded"
	DomainEventTransactionReconciled    = "TransactionReconciled"
	DomainEventTransactionFlaggedReview = "TransactionFlaggedForReview"
)

// DomainEvent is the append-only causal record of a state change. Rows are
// never updated or deleted.
type DomainEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	AggregateID   string    `gorm:"type:varchar(191);not null;index" json:"aggregate_id"`
	AggregateType string    `gorm:"type:varchar(64);not null;index" json:"aggregate_type"`
	EventType     string    `gorm:"type:varchar(64);not null;index" json:"event_type"`
	Payload       string    `gorm:"type:longtext" json:"payload"`
	CorrelationID string    `gorm:"type:varchar(64);index" json:"correlation_id"`
	CausationID   string    `gorm:"type:varchar(191)" json:"causation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
