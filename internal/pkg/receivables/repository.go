package receivables

import (
	"context"
	"time"

	"github.com/flowpags/payrecon/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reader is the read-only query surface consumed by the matching pipeline.
// Lookup methods only return invoices that are still payable (open or
// overdue) and not yet claimed by another transaction.
type Reader interface {
	FindInvoiceByEndToEndID(ctx context.Context, tenantID, endToEndID string) (*models.Invoice, error)
	FindInvoiceByPixTxID(ctx context.Context, tenantID, pixTxID string) (*models.Invoice, error)
	FindInvoiceByExternalChargeID(ctx context.Context, tenantID, chargeID string) (*models.Invoice, error)
	FindOpenInvoicesByAmountAndDueRange(ctx context.Context, tenantID string, amount int64, from, to time.Time) ([]models.Invoice, error)
	FindOpenInvoicesByAmountBandAndDueRange(ctx context.Context, tenantID string, minAmount, maxAmount int64, from, to time.Time) ([]models.Invoice, error)
}

// Repository is the receivables port. Transactions and invoices are owned by
// the receivables subsystem; the engine mutates them only through these
// methods, with invoice assignment protected by a conditional update.
type Repository interface {
	Reader

	GetInvoice(ctx context.Context, tenantID string, id uint) (*models.Invoice, error)
	GetTransaction(ctx context.Context, tenantID string, id uint) (*models.BankTransaction, error)
	ListUnreconciledCredits(ctx context.Context, tenantID string, limit int) ([]models.BankTransaction, error)
	CreateTransactionIfNotExists(ctx context.Context, tx *models.BankTransaction) (bool, *models.BankTransaction, error)
	MarkInvoicePaid(ctx context.Context, invoiceID uint, paidAmount int64, paidAt time.Time) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID uint, status string) error
	ReserveInvoice(ctx context.Context, invoiceID, transactionID uint, paidAmount int64, paidAt time.Time) (bool, error)
	MarkTransactionReconciled(ctx context.Context, transactionID, invoiceID uint, confidence float64, method string) (bool, error)
	ReplaceCandidates(ctx context.Context, transactionID uint, candidates []models.ReconciliationCandidate) error
	ListCandidates(ctx context.Context, tenantID string, transactionID uint) ([]models.ReconciliationCandidate, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a receivables repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// payableScope limits lookups to invoices still eligible as reconciliation
// targets.
func payableScope(db *gorm.DB, tenantID string) *gorm.DB {
	return db.
		Where("tenant_id = ?", tenantID).
		Where("status IN ?", []string{models.InvoiceStatusOpen, models.InvoiceStatusOverdue}).
		Where("reconciled_transaction_id IS NULL")
}

func (r *gormRepository) FindInvoiceByEndToEndID(ctx context.Context, tenantID, endToEndID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := payableScope(r.db.WithContext(ctx), tenantID).
		Where("end_to_end_id = ?", endToEndID).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindInvoiceByPixTxID(ctx context.Context, tenantID, pixTxID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := payableScope(r.db.WithContext(ctx), tenantID).
		Where("pix_tx_id = ?", pixTxID).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindInvoiceByExternalChargeID(ctx context.Context, tenantID, chargeID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_charge_id = ?", tenantID, chargeID).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindOpenInvoicesByAmountAndDueRange(ctx context.Context, tenantID string, amount int64, from, to time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := payableScope(r.db.WithContext(ctx), tenantID).
		Where("amount = ?", amount).
		Where("due_date BETWEEN ? AND ?", from, to).
		Order("due_date ASC, id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) FindOpenInvoicesByAmountBandAndDueRange(ctx context.Context, tenantID string, minAmount, maxAmount int64, from, to time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := payableScope(r.db.WithContext(ctx), tenantID).
		Where("amount BETWEEN ? AND ?", minAmount, maxAmount).
		Where("due_date BETWEEN ? AND ?", from, to).
		Order("due_date ASC, id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) GetInvoice(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) GetTransaction(ctx context.Context, tenantID string, id uint) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) ListUnreconciledCredits(ctx context.Context, tenantID string, limit int) ([]models.BankTransaction, error) {
	if limit <= 0 {
		limit = 500
	}
	var txs []models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND direction = ? AND reconciled = ?", tenantID, models.TransactionDirectionCredit, false).
		Order("transaction_date ASC, id ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *gormRepository) CreateTransactionIfNotExists(ctx context.Context, tx *models.BankTransaction) (bool, *models.BankTransaction, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "external_transaction_id"},
		},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		return false, nil, res.Error
	}

	created := res.RowsAffected > 0
	var stored models.BankTransaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_transaction_id = ?", tx.TenantID, tx.ExternalTransactionID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkInvoicePaid(ctx context.Context, invoiceID uint, paidAmount int64, paidAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{
			"status":      models.InvoiceStatusPaid,
			"paid_amount": paidAmount,
			"paid_at":     &paidAt,
		}).Error
}

func (r *gormRepository) UpdateInvoiceStatus(ctx context.Context, invoiceID uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Update("status", status).Error
}

// ReserveInvoice assigns an invoice to a transaction only if no other
// transaction holds it. The affected-row-count check makes concurrent
// coordinator runs safe without any lock manager: the loser sees zero rows
// and treats the attempt as a lost race.
func (r *gormRepository) ReserveInvoice(ctx context.Context, invoiceID, transactionID uint, paidAmount int64, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND reconciled_transaction_id IS NULL", invoiceID).
		Updates(map[string]interface{}{
			"reconciled_transaction_id": transactionID,
			"status":                    models.InvoiceStatusPaid,
			"paid_amount":               paidAmount,
			"paid_at":                   &paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkTransactionReconciled links a transaction to its invoice. The guard on
// reconciled = false keeps the link immutable once set.
func (r *gormRepository) MarkTransactionReconciled(ctx context.Context, transactionID, invoiceID uint, confidence float64, method string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.BankTransaction{}).
		Where("id = ? AND reconciled = ?", transactionID, false).
		Updates(map[string]interface{}{
			"reconciled":                true,
			"reconciled_invoice_id":     invoiceID,
			"reconciliation_confidence": confidence,
			"reconciliation_method":     method,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ReplaceCandidates(ctx context.Context, transactionID uint, candidates []models.ReconciliationCandidate) error {
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Delete(&models.ReconciliationCandidate{}).Error; err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&candidates).Error
}

func (r *gormRepository) ListCandidates(ctx context.Context, tenantID string, transactionID uint) ([]models.ReconciliationCandidate, error) {
	var candidates []models.ReconciliationCandidate
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenantID, transactionID).
		Order("confidence DESC, invoice_id ASC").
		Find(&candidates).Error
	return candidates, err
}
