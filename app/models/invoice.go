package models

import "time"

const (
	InvoiceStatusOpen      = "open"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
)

// Invoice is a receivable owned by the receivables subsystem. The engine
// mutates it only through the receivables repository. An invoice can be the
// reconciliation target of at most one transaction; the
// ReconciledTransactionID column is the guard for the conditional update
// that enforces this across concurrent workers.
type Invoice struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	TenantID                string     `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ExternalChargeID        string     `gorm:"type:varchar(191);index" json:"external_charge_id"`
	Amount                  int64      `gorm:"not null;index" json:"amount"`
	DueDate                 time.Time  `gorm:"type:date;not null;index" json:"due_date"`
	PayerName               string     `gorm:"type:varchar(191)" json:"payer_name"`
	PayerDocument           string     `gorm:"type:varchar(32)" json:"payer_document"`
	Status                  string     `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	PaidAmount              int64      `gorm:"default:0" json:"paid_amount"`
	PaidAt                  *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	EndToEndID              string     `gorm:"type:varchar(64);index" json:"end_to_end_id"`
	PixTxID                 string     `gorm:"type:varchar(64);index" json:"pix_tx_id"`
	ReconciledTransactionID *uint      `gorm:"index" json:"reconciled_transaction_id,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
