package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/metrics"
	"github.com/flowpags/payrecon/internal/pkg/storage"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ReconcileEnqueuer defers reconciliation of freshly recorded transactions
// to the asynchronous workers.
type ReconcileEnqueuer interface {
	EnqueueReconcile(tenantID string, transactionID uint) error
}

// Processor interprets a persisted webhook event and applies its state
// transition exactly once. Every action runs inside a single database
// transaction covering the entity mutation, the domain event, the audit
// entry and the processed flag, so a failed or timed-out attempt leaves no
// partial mutation behind.
type Processor struct {
	stores   storage.Stores
	enqueuer ReconcileEnqueuer
}

// NewProcessor creates a Processor. enqueuer may be nil; recorded
// transactions are then only picked up by batch reconciliation runs.
func NewProcessor(stores storage.Stores, enqueuer ReconcileEnqueuer) *Processor {
	return &Processor{stores: stores, enqueuer: enqueuer}
}

// Process routes one webhook event. Safe under at-least-once invocation:
// the processed guard makes re-delivery a no-op.
func (p *Processor) Process(ctx context.Context, event *models.WebhookEvent) error {
	if event.Processed {
		return nil
	}
	if !event.SignatureValid {
		// Stored for audit only. Guards every path that can reach routing,
		// including the operator retry that bypasses the terminal flag.
		err := p.stores.Transact(ctx, func(s storage.Stores) error {
			if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
				TenantID:      event.TenantID,
				Action:        "webhook.signature_invalid",
				EntityType:    "webhook_event",
				EntityID:      event.EventID,
				Status:        models.AuditStatusFailure,
				CorrelationID: event.CorrelationID,
			}); err != nil {
				return err
			}
			return s.Events().MarkProcessed(ctx, event.ID)
		})
		if err != nil {
			return err
		}
		metrics.EventsProcessed.WithLabelValues(eventTypeLabel(event.EventType), "ignored").Inc()
		return nil
	}

	env := ParseEnvelope([]byte(event.RawPayload))

	var reconcileTxID uint
	err := p.stores.Transact(ctx, func(s storage.Stores) error {
		switch event.EventType {
		case EventInvoicePaid:
			return p.applyInvoicePaid(ctx, s, event, env.Data)
		case EventInvoiceOverdue:
			return p.applyInvoiceStatusChange(ctx, s, event, env.Data, models.InvoiceStatusOverdue)
		case EventInvoiceCancelled:
			return p.applyInvoiceStatusChange(ctx, s, event, env.Data, models.InvoiceStatusCancelled)
		case EventPixReceived:
			txID, err := p.applyPixReceived(ctx, s, event, env.Data)
			reconcileTxID = txID
			return err
		case EventPaymentFailed:
			return p.applyOperationFailed(ctx, s, event, env.Data, models.DomainEventPaymentFailed, models.NotifyKindPaymentFailed)
		case EventTransferFailed:
			return p.applyOperationFailed(ctx, s, event, env.Data, models.DomainEventTransferFailed, models.NotifyKindTransferFailed)
		default:
			return p.applyUnknown(ctx, s, event)
		}
	})
	if err != nil {
		terminal := IsTerminal(err)
		if recErr := p.stores.Events().RecordFailure(ctx, event.ID, err.Error(), terminal); recErr != nil {
			log.Errorf("[Webhook] Recording failure for event %s failed: %v", event.EventID, recErr)
		}
		metrics.EventsProcessed.WithLabelValues(eventTypeLabel(event.EventType), "failure").Inc()
		return err
	}

	metrics.EventsProcessed.WithLabelValues(eventTypeLabel(event.EventType), "success").Inc()

	if reconcileTxID != 0 && p.enqueuer != nil {
		if err := p.enqueuer.EnqueueReconcile(event.TenantID, reconcileTxID); err != nil {
			// Not fatal: batch reconciliation runs cover the transaction.
			log.Warnf("[Webhook] Enqueue reconcile for transaction %d failed: %v", reconcileTxID, err)
		}
	}
	return nil
}

// ProcessByID loads the stored event and processes it. Queue workers carry
// only the event ID in their payload.
func (p *Processor) ProcessByID(ctx context.Context, tenantID string, webhookEventID uint) error {
	event, err := p.stores.Events().GetWebhookEvent(ctx, tenantID, webhookEventID)
	if err != nil {
		return fmt.Errorf("loading webhook event %d: %w", webhookEventID, err)
	}
	return p.Process(ctx, event)
}

func (p *Processor) applyInvoicePaid(ctx context.Context, s storage.Stores, event *models.WebhookEvent, data json.RawMessage) error {
	var d InvoiceEventData
	if err := json.Unmarshal(data, &d); err != nil {
		return Terminal(fmt.Errorf("invoice.paid payload: %w", err))
	}
	if d.ExternalChargeID == "" {
		return Terminal(errors.New("invoice.paid payload missing charge_id"))
	}

	inv, err := s.Receivables().FindInvoiceByExternalChargeID(ctx, event.TenantID, d.ExternalChargeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Terminal(fmt.Errorf("invoice for charge %s not found", d.ExternalChargeID))
		}
		return err
	}
	if inv.Status == models.InvoiceStatusPaid {
		// Already settled, e.g. by the reconciliation path. Idempotent no-op.
		return s.Events().MarkProcessed(ctx, event.ID)
	}

	paidAt := time.Now()
	if d.PaidAt != nil {
		paidAt = *d.PaidAt
	}
	amount := d.Amount
	if amount == 0 {
		amount = inv.Amount
	}

	oldValues := mustJSON(map[string]interface{}{"status": inv.Status, "paid_amount": inv.PaidAmount})
	if err := s.Receivables().MarkInvoicePaid(ctx, inv.ID, amount, paidAt); err != nil {
		return err
	}

	if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
		TenantID:      event.TenantID,
		AggregateID:   itoa(inv.ID),
		AggregateType: "invoice",
		EventType:     models.DomainEventInvoicePaid,
		Payload:       mustJSON(map[string]interface{}{"invoice_id": inv.ID, "amount": amount, "paid_at": paidAt}),
		CorrelationID: event.CorrelationID,
		CausationID:   event.EventID,
	}); err != nil {
		return err
	}
	if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
		TenantID:      event.TenantID,
		Action:        "invoice.paid",
		EntityType:    "invoice",
		EntityID:      itoa(inv.ID),
		OldValues:     oldValues,
		NewValues:     mustJSON(map[string]interface{}{"status": models.InvoiceStatusPaid, "paid_amount": amount}),
		Status:        models.AuditStatusSuccess,
		CorrelationID: event.CorrelationID,
	}); err != nil {
		return err
	}
	if err := s.Events().SaveNotificationIntent(ctx, &models.NotificationIntent{
		TenantID:     event.TenantID,
		Kind:         models.NotifyKindInvoicePaid,
		RecipientRef: invoiceRecipient(inv),
		TemplateData: mustJSON(map[string]interface{}{"invoice_id": inv.ID, "amount": amount}),
	}); err != nil {
		return err
	}
	return s.Events().MarkProcessed(ctx, event.ID)
}

func (p *Processor) applyInvoiceStatusChange(ctx context.Context, s storage.Stores, event *models.WebhookEvent, data json.RawMessage, status string) error {
	var d InvoiceEventData
	if err := json.Unmarshal(data, &d); err != nil {
		return Terminal(fmt.Errorf("%s payload: %w", event.EventType, err))
	}
	if d.ExternalChargeID == "" {
		return Terminal(fmt.Errorf("%s payload missing charge_id", event.EventType))
	}

	inv, err := s.Receivables().FindInvoiceByExternalChargeID(ctx, event.TenantID, d.ExternalChargeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Terminal(fmt.Errorf("invoice for charge %s not found", d.ExternalChargeID))
		}
		return err
	}
	if inv.Status == status {
		return s.Events().MarkProcessed(ctx, event.ID)
	}

	oldValues := mustJSON(map[string]interface{}{"status": inv.Status})
	if err := s.Receivables().UpdateInvoiceStatus(ctx, inv.ID, status); err != nil {
		return err
	}

	eventType := models.DomainEventInvoiceOverdue
	if status == models.InvoiceStatusCancelled {
		eventType = models.DomainEventInvoiceCancelled
	}
	if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
		TenantID:      event.TenantID,
		AggregateID:   itoa(inv.ID),
		AggregateType: "invoice",
		EventType:     eventType,
		Payload:       mustJSON(map[string]interface{}{"invoice_id": inv.ID, "status": status}),
		CorrelationID: event.CorrelationID,
		CausationID:   event.EventID,
	}); err != nil {
		return err
	}
	if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
		TenantID:      event.TenantID,
		Action:        "invoice.status_change",
		EntityType:    "invoice",
		EntityID:      itoa(inv.ID),
		OldValues:     oldValues,
		NewValues:     mustJSON(map[string]interface{}{"status": status}),
		Status:        models.AuditStatusSuccess,
		CorrelationID: event.CorrelationID,
	}); err != nil {
		return err
	}
	if status == models.InvoiceStatusOverdue {
		if err := s.Events().SaveNotificationIntent(ctx, &models.NotificationIntent{
			TenantID:     event.TenantID,
			Kind:         models.NotifyKindInvoiceOverdue,
			RecipientRef: invoiceRecipient(inv),
			TemplateData: mustJSON(map[string]interface{}{"invoice_id": inv.ID, "due_date": inv.DueDate.Format("2006-01-02")}),
		}); err != nil {
			return err
		}
	}
	return s.Events().MarkProcessed(ctx, event.ID)
}

// applyPixReceived handles the zero-ambiguity fast path (end-to-end id or
// PIX txid referencing a known invoice charge) and otherwise records the
// transaction for the reconciliation coordinator. Returns the id of a newly
// recorded unreconciled transaction, or zero.
func (p *Processor) applyPixReceived(ctx context.Context, s storage.Stores, event *models.WebhookEvent, data json.RawMessage) (uint, error) {
	var d PixEventData
	if err := json.Unmarshal(data, &d); err != nil {
		return 0, Terminal(fmt.Errorf("pix.received payload: %w", err))
	}
	if d.ExternalTransactionID == "" {
		return 0, Terminal(errors.New("pix.received payload missing transaction_id"))
	}
	if d.Amount <= 0 {
		return 0, Terminal(errors.New("pix.received payload missing a positive amount"))
	}

	txDate := time.Now()
	if d.Date != "" {
		parsed, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			return 0, Terminal(fmt.Errorf("pix.received payload date: %w", err))
		}
		txDate = parsed
	}

	created, tx, err := s.Receivables().CreateTransactionIfNotExists(ctx, &models.BankTransaction{
		TenantID:              event.TenantID,
		ExternalTransactionID: d.ExternalTransactionID,
		Direction:             models.TransactionDirectionCredit,
		Amount:                d.Amount,
		TransactionDate:       txDate,
		CounterpartyName:      d.PayerName,
		CounterpartyDocument:  d.PayerDocument,
		EndToEndID:            d.EndToEndID,
		PixTxID:               d.PixTxID,
	})
	if err != nil {
		return 0, err
	}
	if !created && tx.Reconciled {
		// Redelivered after a successful earlier pass.
		return 0, s.Events().MarkProcessed(ctx, event.ID)
	}

	// Fast path: an invoice charge that carries the same end-to-end id or
	// PIX txid identifies its invoice unambiguously.
	inv, method, err := p.lookupChargedInvoice(ctx, s, event.TenantID, d)
	if err != nil {
		return 0, err
	}
	if inv != nil {
		reserved, err := s.Receivables().ReserveInvoice(ctx, inv.ID, tx.ID, tx.Amount, txDate)
		if err != nil {
			return 0, err
		}
		if reserved {
			if _, err := s.Receivables().MarkTransactionReconciled(ctx, tx.ID, inv.ID, 1.0, method); err != nil {
				return 0, err
			}
			if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
				TenantID:      event.TenantID,
				AggregateID:   itoa(inv.ID),
				AggregateType: "invoice",
				EventType:     models.DomainEventInvoicePaid,
				Payload:       mustJSON(map[string]interface{}{"invoice_id": inv.ID, "transaction_id": tx.ID, "method": method}),
				CorrelationID: event.CorrelationID,
				CausationID:   event.EventID,
			}); err != nil {
				return 0, err
			}
			if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
				TenantID:      event.TenantID,
				Action:        "pix.direct_settlement",
				EntityType:    "invoice",
				EntityID:      itoa(inv.ID),
				NewValues:     mustJSON(map[string]interface{}{"status": models.InvoiceStatusPaid, "transaction_id": tx.ID, "method": method}),
				Status:        models.AuditStatusSuccess,
				CorrelationID: event.CorrelationID,
			}); err != nil {
				return 0, err
			}
			if err := s.Events().SaveNotificationIntent(ctx, &models.NotificationIntent{
				TenantID:     event.TenantID,
				Kind:         models.NotifyKindInvoicePaid,
				RecipientRef: invoiceRecipient(inv),
				TemplateData: mustJSON(map[string]interface{}{"invoice_id": inv.ID, "amount": tx.Amount}),
			}); err != nil {
				return 0, err
			}
			return 0, s.Events().MarkProcessed(ctx, event.ID)
		}
		// Lost the invoice to a concurrent settlement; fall through and let
		// the coordinator look for another match.
	}

	if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
		TenantID:      event.TenantID,
		AggregateID:   itoa(tx.ID),
		AggregateType: "bank_transaction",
		EventType:     models.DomainEventTransactionRecorded,
		Payload:       mustJSON(map[string]interface{}{"transaction_id": tx.ID, "amount": tx.Amount, "external_transaction_id": tx.ExternalTransactionID}),
		CorrelationID: event.CorrelationID,
		CausationID:   event.EventID,
	}); err != nil {
		return 0, err
	}
	if err := s.Events().MarkProcessed(ctx, event.ID); err != nil {
		return 0, err
	}
	return tx.ID, nil
}

// lookupChargedInvoice treats only a missing row as "no fast path"; any
// other storage error aborts the attempt so a transient failure is retried
// instead of silently degrading to pipeline matching.
func (p *Processor) lookupChargedInvoice(ctx context.Context, s storage.Stores, tenantID string, d PixEventData) (*models.Invoice, string, error) {
	if d.EndToEndID != "" {
		inv, err := s.Receivables().FindInvoiceByEndToEndID(ctx, tenantID, d.EndToEndID)
		if err == nil {
			return inv, models.ReconcileMethodEndToEndID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
	}
	if d.PixTxID != "" {
		inv, err := s.Receivables().FindInvoiceByPixTxID(ctx, tenantID, d.PixTxID)
		if err == nil {
			return inv, models.ReconcileMethodPixTxID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
	}
	return nil, "", nil
}

// applyOperationFailed records a failed bank operation for operator
// attention. The underlying bank operation is never retried automatically;
// only the webhook processing itself is retryable.
func (p *Processor) applyOperationFailed(ctx context.Context, s storage.Stores, event *models.WebhookEvent, data json.RawMessage, domainEventType, notifyKind string) error {
	var d FailureEventData
	if err := json.Unmarshal(data, &d); err != nil {
		return Terminal(fmt.Errorf("%s payload: %w", event.EventType, err))
	}

	aggregateID := d.ExternalChargeID
	if aggregateID == "" {
		aggregateID = event.EventID
	}
	if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
		TenantID:      event.TenantID,
		AggregateID:   aggregateID,
		AggregateType: "payment_operation",
		EventType:     domainEventType,
		Payload:       mustJSON(map[string]interface{}{"charge_id": d.ExternalChargeID, "code": d.Code, "reason": d.Reason}),
		CorrelationID: event.CorrelationID,
		CausationID:   event.EventID,
	}); err != nil {
		return err
	}
	if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
		TenantID:      event.TenantID,
		Action:        event.EventType,
		EntityType:    "payment_operation",
		EntityID:      aggregateID,
		NewValues:     mustJSON(map[string]interface{}{"code": d.Code, "reason": d.Reason}),
		Status:        models.AuditStatusFailure,
		CorrelationID: event.CorrelationID,
	}); err != nil {
		return err
	}
	if err := s.Events().SaveNotificationIntent(ctx, &models.NotificationIntent{
		TenantID:     event.TenantID,
		Kind:         notifyKind,
		RecipientRef: "operator",
		TemplateData: mustJSON(map[string]interface{}{"charge_id": d.ExternalChargeID, "reason": d.Reason}),
	}); err != nil {
		return err
	}
	return s.Events().MarkProcessed(ctx, event.ID)
}

// applyUnknown records unknown event types and marks them processed without
// any state mutation, keeping forward compatibility with new bank event
// kinds.
func (p *Processor) applyUnknown(ctx context.Context, s storage.Stores, event *models.WebhookEvent) error {
	if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
		TenantID:      event.TenantID,
		Action:        "webhook.ignored",
		EntityType:    "webhook_event",
		EntityID:      event.EventID,
		NewValues:     mustJSON(map[string]interface{}{"event_type": event.EventType}),
		Status:        models.AuditStatusSuccess,
		CorrelationID: event.CorrelationID,
	}); err != nil {
		return err
	}
	return s.Events().MarkProcessed(ctx, event.ID)
}

func invoiceRecipient(inv *models.Invoice) string {
	if inv.PayerDocument != "" {
		return "payer:" + inv.PayerDocument
	}
	return "invoice:" + itoa(inv.ID)
}

func eventTypeLabel(eventType string) string {
	switch eventType {
	case EventInvoicePaid, EventInvoiceOverdue, EventInvoiceCancelled,
		EventPixReceived, EventPaymentFailed, EventTransferFailed:
		return eventType
	default:
		return "unknown"
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
