package webhook

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/receivables"
	"github.com/flowpags/payrecon/internal/pkg/storage"
)

// memStore is an in-memory Stores implementation for tests. Transact runs
// the callback against the same store; rollback is not modeled.
type memStore struct {
	mu     sync.Mutex
	nextID uint

	markProcessedErr  error
	endToEndLookupErr error

	webhookEvents []*models.WebhookEvent
	invoices      []*models.Invoice
	transactions  []*models.BankTransaction
	domainEvents  []models.DomainEvent
	audits        []models.AuditLogEntry
	intents       []models.NotificationIntent
	candidates    []models.ReconciliationCandidate
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) Events() eventstore.Repository { return m }

func (m *memStore) Receivables() receivables.Repository { return m }

func (m *memStore) Transact(ctx context.Context, fn func(s storage.Stores) error) error {
	return fn(m)
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) addInvoice(inv models.Invoice) *models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = m.id()
	}
	if inv.Status == "" {
		inv.Status = models.InvoiceStatusOpen
	}
	stored := inv
	m.invoices = append(m.invoices, &stored)
	return &stored
}

func (m *memStore) addTransaction(tx models.BankTransaction) *models.BankTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == 0 {
		tx.ID = m.id()
	}
	stored := tx
	m.transactions = append(m.transactions, &stored)
	return &stored
}

func (m *memStore) addWebhookEvent(ev models.WebhookEvent) *models.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == 0 {
		ev.ID = m.id()
	}
	stored := ev
	m.webhookEvents = append(m.webhookEvents, &stored)
	return &stored
}

// eventstore.Repository

func (m *memStore) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.webhookEvents {
		if ev.TenantID == event.TenantID && ev.EventID == event.EventID {
			return false, ev, nil
		}
	}
	event.ID = m.id()
	event.ReceivedAt = time.Now()
	stored := *event
	m.webhookEvents = append(m.webhookEvents, &stored)
	return true, &stored, nil
}

func (m *memStore) GetWebhookEvent(ctx context.Context, tenantID string, id uint) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.webhookEvents {
		if ev.TenantID == tenantID && ev.ID == id {
			return ev, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) GetWebhookEventByEventID(ctx context.Context, tenantID, eventID string) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.webhookEvents {
		if ev.TenantID == tenantID && ev.EventID == eventID {
			return ev, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) ListWebhookEvents(ctx context.Context, tenantID string, processed *bool, limit, offset int) ([]models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WebhookEvent
	for _, ev := range m.webhookEvents {
		if ev.TenantID != tenantID {
			continue
		}
		if processed != nil && ev.Processed != *processed {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (m *memStore) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WebhookEvent
	for _, ev := range m.webhookEvents {
		if ev.Processed || ev.TerminalFailure || ev.AttemptCount >= maxAttempts {
			continue
		}
		if tenantID != "" && ev.TenantID != tenantID {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (m *memStore) MarkProcessed(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markProcessedErr != nil {
		return m.markProcessedErr
	}
	for _, ev := range m.webhookEvents {
		if ev.ID == id {
			now := time.Now()
			ev.Processed = true
			ev.ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) RecordFailure(ctx context.Context, id uint, errMsg string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.webhookEvents {
		if ev.ID == id {
			ev.AttemptCount++
			ev.LastError = errMsg
			ev.TerminalFailure = terminal
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) AppendDomainEvent(ctx context.Context, event *models.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.id()
	m.domainEvents = append(m.domainEvents, *event)
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	m.audits = append(m.audits, *entry)
	return nil
}

func (m *memStore) SaveNotificationIntent(ctx context.Context, intent *models.NotificationIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent.ID = m.id()
	m.intents = append(m.intents, *intent)
	return nil
}

// receivables.Repository

func payable(inv *models.Invoice) bool {
	if inv.ReconciledTransactionID != nil {
		return false
	}
	return inv.Status == models.InvoiceStatusOpen || inv.Status == models.InvoiceStatusOverdue
}

func (m *memStore) FindInvoiceByEndToEndID(ctx context.Context, tenantID, endToEndID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endToEndLookupErr != nil {
		return nil, m.endToEndLookupErr
	}
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.EndToEndID == endToEndID && payable(inv) {
			return inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) FindInvoiceByPixTxID(ctx context.Context, tenantID, pixTxID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.PixTxID == pixTxID && payable(inv) {
			return inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) FindInvoiceByExternalChargeID(ctx context.Context, tenantID, chargeID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.ExternalChargeID == chargeID {
			return inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func sortByDueDate(invoices []models.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].DueDate.Equal(invoices[j].DueDate) {
			return invoices[i].DueDate.Before(invoices[j].DueDate)
		}
		return invoices[i].ID < invoices[j].ID
	})
}

func (m *memStore) FindOpenInvoicesByAmountAndDueRange(ctx context.Context, tenantID string, amount int64, from, to time.Time) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID != tenantID || !payable(inv) || inv.Amount != amount {
			continue
		}
		if inv.DueDate.Before(from) || inv.DueDate.After(to) {
			continue
		}
		out = append(out, *inv)
	}
	sortByDueDate(out)
	return out, nil
}

func (m *memStore) FindOpenInvoicesByAmountBandAndDueRange(ctx context.Context, tenantID string, minAmount, maxAmount int64, from, to time.Time) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID != tenantID || !payable(inv) {
			continue
		}
		if inv.Amount < minAmount || inv.Amount > maxAmount {
			continue
		}
		if inv.DueDate.Before(from) || inv.DueDate.After(to) {
			continue
		}
		out = append(out, *inv)
	}
	sortByDueDate(out)
	return out, nil
}

func (m *memStore) GetInvoice(ctx context.Context, tenantID string, id uint) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.ID == id {
			return inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) GetTransaction(ctx context.Context, tenantID string, id uint) (*models.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.ID == id {
			return tx, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) ListUnreconciledCredits(ctx context.Context, tenantID string, limit int) ([]models.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BankTransaction
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.Direction == models.TransactionDirectionCredit && !tx.Reconciled {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (m *memStore) CreateTransactionIfNotExists(ctx context.Context, tx *models.BankTransaction) (bool, *models.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transactions {
		if existing.TenantID == tx.TenantID && existing.ExternalTransactionID == tx.ExternalTransactionID {
			return false, existing, nil
		}
	}
	tx.ID = m.id()
	stored := *tx
	m.transactions = append(m.transactions, &stored)
	return true, &stored, nil
}

func (m *memStore) MarkInvoicePaid(ctx context.Context, invoiceID uint, paidAmount int64, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID {
			inv.Status = models.InvoiceStatusPaid
			inv.PaidAmount = paidAmount
			inv.PaidAt = &paidAt
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) UpdateInvoiceStatus(ctx context.Context, invoiceID uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID {
			inv.Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) ReserveInvoice(ctx context.Context, invoiceID, transactionID uint, paidAmount int64, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == invoiceID {
			if inv.ReconciledTransactionID != nil {
				return false, nil
			}
			txID := transactionID
			inv.ReconciledTransactionID = &txID
			inv.Status = models.InvoiceStatusPaid
			inv.PaidAmount = paidAmount
			inv.PaidAt = &paidAt
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkTransactionReconciled(ctx context.Context, transactionID, invoiceID uint, confidence float64, method string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.ID == transactionID {
			if tx.Reconciled {
				return false, nil
			}
			invID := invoiceID
			tx.Reconciled = true
			tx.ReconciledInvoiceID = &invID
			tx.ReconciliationConfidence = confidence
			tx.ReconciliationMethod = method
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ReplaceCandidates(ctx context.Context, transactionID uint, candidates []models.ReconciliationCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []models.ReconciliationCandidate
	for _, c := range m.candidates {
		if c.TransactionID != transactionID {
			kept = append(kept, c)
		}
	}
	for i := range candidates {
		candidates[i].ID = m.id()
		kept = append(kept, candidates[i])
	}
	m.candidates = kept
	return nil
}

func (m *memStore) ListCandidates(ctx context.Context, tenantID string, transactionID uint) ([]models.ReconciliationCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReconciliationCandidate
	for _, c := range m.candidates {
		if c.TenantID == tenantID && c.TransactionID == transactionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].InvoiceID < out[j].InvoiceID
	})
	return out, nil
}

// recordingEnqueuer captures enqueue calls.
type recordingEnqueuer struct {
	mu         sync.Mutex
	webhookIDs []uint
	txIDs      []uint
	err        error
}

func (e *recordingEnqueuer) EnqueueWebhookProcess(tenantID string, webhookEventID uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.webhookIDs = append(e.webhookIDs, webhookEventID)
	return nil
}

func (e *recordingEnqueuer) EnqueueReconcile(tenantID string, transactionID uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.txIDs = append(e.txIDs, transactionID)
	return nil
}

// staticSecrets resolves every tenant to the same secret.
type staticSecrets string

func (s staticSecrets) WebhookSecret(tenantID string) string { return string(s) }
