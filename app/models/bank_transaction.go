package models

import "time"

const (
	TransactionDirectionCredit = "credit"
	TransactionDirectionDebit  = "debit"
)

// Reconciliation methods recorded on a transaction once it is matched.
const (
	ReconcileMethodEndToEndID        = "end_to_end_id"
	ReconcileMethodPixTxID           = "pix_txid"
	ReconcileMethodValueDateDocument = "value_date_document"
	ReconcileMethodValueDate         = "value_date"
	ReconcileMethodApproximateValue  = "approximate_value"
	ReconcileMethodManual            = "manual"
)

// BankTransaction is a bank ledger entry. Amounts are minor currency units,
// never floating point. Once Reconciled is set the invoice link is immutable.
type BankTransaction struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	TenantID                 string    `gorm:"type:varchar(64);not null;index:ux_bank_transactions_tenant_external,unique,priority:1;index" json:"tenant_id"`
	ExternalTransactionID    string    `gorm:"type:varchar(191);not null;index:ux_bank_transactions_tenant_external,unique,priority:2" json:"external_transaction_id"`
	Direction                string    `gorm:"type:varchar(10);not null;index" json:"direction"`
	Amount                   int64     `gorm:"not null" json:"amount"`
	TransactionDate          time.Time `gorm:"type:date;not null;index" json:"transaction_date"`
	CounterpartyName         string    `gorm:"type:varchar(191)" json:"counterparty_name"`
	CounterpartyDocument     string    `gorm:"type:varchar(32)" json:"counterparty_document"`
	EndToEndID               string    `gorm:"type:varchar(64);index" json:"end_to_end_id"`
	PixTxID                  string    `gorm:"type:varchar(64);index" json:"pix_tx_id"`
	Reconciled               bool      `gorm:"default:false;index" json:"reconciled"`
	ReconciledInvoiceID      *uint     `gorm:"index" json:"reconciled_invoice_id,omitempty"`
	ReconciliationConfidence float64   `gorm:"type:decimal(3,2);default:0" json:"reconciliation_confidence"`
	ReconciliationMethod     string    `gorm:"type:varchar(32)" json:"reconciliation_method"`
	CreatedAt                time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
