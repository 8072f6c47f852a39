package models

import "time"

// ReconciliationCandidate is a scored match surfaced for operator review.
// Candidates are only persisted when a transaction is flagged for manual
// review; an auto-reconciled transaction leaves no candidate rows behind.
type ReconciliationCandidate struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	TransactionID uint      `gorm:"not null;index" json:"transaction_id"`
	InvoiceID     uint      `gorm:"not null;index" json:"invoice_id"`
	Confidence    float64   `gorm:"type:decimal(3,2);not null" json:"confidence"`
	Method        string    `gorm:"type:varchar(32);not null" json:"method"`
	Rationale     string    `gorm:"type:varchar(255)" json:"rationale"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
