package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/env"
	"github.com/flowpags/payrecon/internal/pkg/matching"
	"github.com/flowpags/payrecon/internal/pkg/metrics"
	"github.com/flowpags/payrecon/internal/pkg/storage"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultAutoThreshold is the confidence at or above which a sole top
// candidate is reconciled without operator review.
const DefaultAutoThreshold = 0.95

// AutoThresholdFromEnv reads RECONCILE_AUTO_THRESHOLD. Values outside
// (0, 1] fall back to the default.
func AutoThresholdFromEnv() float64 {
	if v := env.GetEnv("RECONCILE_AUTO_THRESHOLD", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			return f
		}
	}
	return DefaultAutoThreshold
}

// Outcome statuses.
const (
	OutcomeReconciled = "reconciled"
	OutcomeFlagged    = "flagged_for_review"
	OutcomeNoMatch    = "no_match"
	OutcomeSkipped    = "skipped"
)

var (
	// ErrAlreadyReconciled is returned by the manual path when the
	// transaction is already linked to an invoice.
	ErrAlreadyReconciled = errors.New("transaction already reconciled")
	// ErrInvoiceTaken is returned by the manual path when the chosen invoice
	// was claimed by another transaction first.
	ErrInvoiceTaken = errors.New("invoice already assigned to another transaction")
)

// Outcome describes what one reconciliation pass decided.
type Outcome struct {
	Status        string               `json:"status"`
	TransactionID uint                 `json:"transaction_id"`
	InvoiceID     uint                 `json:"invoice_id,omitempty"`
	Confidence    float64              `json:"confidence,omitempty"`
	Method        string               `json:"method,omitempty"`
	Candidates    []matching.Candidate `json:"candidates,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	Analyzed       int `json:"analyzed"`
	AutoReconciled int `json:"auto_reconciled"`
	Flagged        int `json:"flagged_for_review"`
	NoMatch        int `json:"no_match"`
	Failed         int `json:"failed"`
}

// Coordinator orchestrates the matching pipeline per unreconciled credit
// transaction and applies the auto-reconcile/manual-review policy. All
// writes go through conditional updates inside one transaction, so any
// number of coordinator processes can run concurrently.
type Coordinator struct {
	stores        storage.Stores
	pipeline      *matching.Pipeline
	autoThreshold float64
}

// NewCoordinator creates a Coordinator. An autoThreshold <= 0 selects the
// default.
func NewCoordinator(stores storage.Stores, pipeline *matching.Pipeline, autoThreshold float64) *Coordinator {
	if autoThreshold <= 0 {
		autoThreshold = DefaultAutoThreshold
	}
	return &Coordinator{
		stores:        stores,
		pipeline:      pipeline,
		autoThreshold: autoThreshold,
	}
}

// Reconcile runs the pipeline for one transaction and applies the outcome.
// Already reconciled or non-credit transactions are skipped, not errors.
func (c *Coordinator) Reconcile(ctx context.Context, tx *models.BankTransaction) (Outcome, error) {
	if tx.Reconciled || tx.Direction != models.TransactionDirectionCredit {
		return Outcome{Status: OutcomeSkipped, TransactionID: tx.ID}, nil
	}

	candidates, err := c.pipeline.FindCandidates(ctx, tx, c.stores.Receivables())
	if err != nil {
		return Outcome{}, err
	}
	if len(candidates) == 0 {
		// Left unreconciled with no candidates recorded; stays eligible for
		// future passes as new invoices arrive.
		metrics.ReconcileOutcomes.WithLabelValues(OutcomeNoMatch).Inc()
		return Outcome{Status: OutcomeNoMatch, TransactionID: tx.ID}, nil
	}

	top := candidates[0]
	soleAtTier := len(candidates) == 1 || candidates[1].Confidence < top.Confidence
	if top.Confidence >= c.autoThreshold && soleAtTier {
		outcome, err := c.autoReconcile(ctx, tx, top)
		if err != nil {
			return Outcome{}, err
		}
		if outcome.Status == OutcomeReconciled {
			return outcome, nil
		}
		// Lost the race for the invoice; fall through to review.
	}

	if err := c.flagForReview(ctx, tx, candidates); err != nil {
		return Outcome{}, err
	}
	metrics.ReconcileOutcomes.WithLabelValues(OutcomeFlagged).Inc()
	return Outcome{Status: OutcomeFlagged, TransactionID: tx.ID, Candidates: candidates}, nil
}

// ReconcileByID loads the transaction and runs one reconciliation pass.
// Queue workers carry only the transaction ID in their payload.
func (c *Coordinator) ReconcileByID(ctx context.Context, tenantID string, transactionID uint) error {
	tx, err := c.stores.Receivables().GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return fmt.Errorf("loading transaction %d: %w", transactionID, err)
	}
	_, err = c.Reconcile(ctx, tx)
	return err
}

// autoReconcile attempts the atomic assignment. A zero-row conditional
// update means another worker claimed the invoice first; the caller then
// falls through to the review path.
func (c *Coordinator) autoReconcile(ctx context.Context, tx *models.BankTransaction, top matching.Candidate) (Outcome, error) {
	now := time.Now()
	raceLost := false
	err := c.stores.Transact(ctx, func(s storage.Stores) error {
		reserved, err := s.Receivables().ReserveInvoice(ctx, top.InvoiceID, tx.ID, tx.Amount, now)
		if err != nil {
			return err
		}
		if !reserved {
			raceLost = true
			return nil
		}
		linked, err := s.Receivables().MarkTransactionReconciled(ctx, tx.ID, top.InvoiceID, top.Confidence, top.Method)
		if err != nil {
			return err
		}
		if !linked {
			// Another worker reconciled this transaction concurrently; roll
			// back the invoice reservation.
			return fmt.Errorf("transaction %d was reconciled concurrently", tx.ID)
		}

		correlationID := uuid.New().String()
		if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
			TenantID:      tx.TenantID,
			AggregateID:   strconv.FormatUint(uint64(tx.ID), 10),
			AggregateType: "bank_transaction",
			EventType:     models.DomainEventTransactionReconciled,
			Payload:       marshal(map[string]interface{}{"transaction_id": tx.ID, "invoice_id": top.InvoiceID, "confidence": top.Confidence, "method": top.Method}),
			CorrelationID: correlationID,
		}); err != nil {
			return err
		}
		return s.Events().AppendAudit(ctx, &models.AuditLogEntry{
			TenantID:      tx.TenantID,
			Action:        "transaction.reconciled",
			EntityType:    "bank_transaction",
			EntityID:      strconv.FormatUint(uint64(tx.ID), 10),
			OldValues:     marshal(map[string]interface{}{"reconciled": false}),
			NewValues:     marshal(map[string]interface{}{"reconciled": true, "invoice_id": top.InvoiceID, "confidence": top.Confidence, "method": top.Method}),
			Status:        models.AuditStatusSuccess,
			CorrelationID: correlationID,
		})
	})
	if err != nil {
		return Outcome{}, err
	}
	if raceLost {
		metrics.ReconcileOutcomes.WithLabelValues("race_lost").Inc()
		return Outcome{Status: OutcomeFlagged, TransactionID: tx.ID}, nil
	}

	metrics.ReconcileOutcomes.WithLabelValues(OutcomeReconciled).Inc()
	metrics.MatchesByMethod.WithLabelValues(top.Method).Inc()
	return Outcome{
		Status:        OutcomeReconciled,
		TransactionID: tx.ID,
		InvoiceID:     top.InvoiceID,
		Confidence:    top.Confidence,
		Method:        top.Method,
	}, nil
}

func (c *Coordinator) flagForReview(ctx context.Context, tx *models.BankTransaction, candidates []matching.Candidate) error {
	return c.stores.Transact(ctx, func(s storage.Stores) error {
		if err := s.Receivables().ReplaceCandidates(ctx, tx.ID, matching.ToModels(tx.TenantID, tx.ID, candidates)); err != nil {
			return err
		}

		correlationID := uuid.New().String()
		if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
			TenantID:      tx.TenantID,
			AggregateID:   strconv.FormatUint(uint64(tx.ID), 10),
			AggregateType: "bank_transaction",
			EventType:     models.DomainEventTransactionFlaggedReview,
			Payload:       marshal(map[string]interface{}{"transaction_id": tx.ID, "candidates": len(candidates)}),
			CorrelationID: correlationID,
		}); err != nil {
			return err
		}
		if err := s.Events().AppendAudit(ctx, &models.AuditLogEntry{
			TenantID:      tx.TenantID,
			Action:        "transaction.flagged_for_review",
			EntityType:    "bank_transaction",
			EntityID:      strconv.FormatUint(uint64(tx.ID), 10),
			NewValues:     marshal(map[string]interface{}{"candidates": len(candidates)}),
			Status:        models.AuditStatusSuccess,
			CorrelationID: correlationID,
		}); err != nil {
			return err
		}
		return s.Events().SaveNotificationIntent(ctx, &models.NotificationIntent{
			TenantID:     tx.TenantID,
			Kind:         models.NotifyKindFlaggedForReview,
			RecipientRef: "operator",
			TemplateData: marshal(map[string]interface{}{"transaction_id": tx.ID, "amount": tx.Amount, "candidates": len(candidates)}),
		})
	})
}

// ReconcileAll iterates every unreconciled credit transaction of a tenant.
// One transaction's failure never aborts the batch; a single summary audit
// entry is appended at the end.
func (c *Coordinator) ReconcileAll(ctx context.Context, tenantID string) (Summary, error) {
	txs, err := c.stores.Receivables().ListUnreconciledCredits(ctx, tenantID, 0)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for i := range txs {
		tx := txs[i]
		outcome, err := c.Reconcile(ctx, &tx)
		if err != nil {
			summary.Failed++
			log.Warnf("[Reconcile] Transaction %d failed: %v", tx.ID, err)
			continue
		}
		summary.Analyzed++
		switch outcome.Status {
		case OutcomeReconciled:
			summary.AutoReconciled++
		case OutcomeFlagged:
			summary.Flagged++
		case OutcomeNoMatch:
			summary.NoMatch++
		}
	}

	if err := c.stores.Events().AppendAudit(ctx, &models.AuditLogEntry{
		TenantID:      tenantID,
		Action:        "reconcile.batch_run",
		EntityType:    "tenant",
		EntityID:      tenantID,
		NewValues:     marshal(summary),
		Status:        models.AuditStatusSuccess,
		CorrelationID: uuid.New().String(),
	}); err != nil {
		log.Errorf("[Reconcile] Batch summary audit failed: %v", err)
	}
	return summary, nil
}

// ReconcileManually applies an operator-chosen match under the same
// conditional guard as the automatic path.
func (c *Coordinator) ReconcileManually(ctx context.Context, tenantID string, transactionID, invoiceID uint, actorID string) (Outcome, error) {
	tx, err := c.stores.Receivables().GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return Outcome{}, err
	}
	if tx.Reconciled {
		return Outcome{}, ErrAlreadyReconciled
	}
	if _, err := c.stores.Receivables().GetInvoice(ctx, tenantID, invoiceID); err != nil {
		return Outcome{}, err
	}

	now := time.Now()
	err = c.stores.Transact(ctx, func(s storage.Stores) error {
		reserved, err := s.Receivables().ReserveInvoice(ctx, invoiceID, tx.ID, tx.Amount, now)
		if err != nil {
			return err
		}
		if !reserved {
			return ErrInvoiceTaken
		}
		linked, err := s.Receivables().MarkTransactionReconciled(ctx, tx.ID, invoiceID, 1.0, models.ReconcileMethodManual)
		if err != nil {
			return err
		}
		if !linked {
			return ErrAlreadyReconciled
		}
		if err := s.Receivables().ReplaceCandidates(ctx, tx.ID, nil); err != nil {
			return err
		}

		correlationID := uuid.New().String()
		if err := s.Events().AppendDomainEvent(ctx, &models.DomainEvent{
			TenantID:      tenantID,
			AggregateID:   strconv.FormatUint(uint64(tx.ID), 10),
			AggregateType: "bank_transaction",
			EventType:     models.DomainEventTransactionReconciled,
			Payload:       marshal(map[string]interface{}{"transaction_id": tx.ID, "invoice_id": invoiceID, "method": models.ReconcileMethodManual}),
			CorrelationID: correlationID,
		}); err != nil {
			return err
		}
		return s.Events().AppendAudit(ctx, &models.AuditLogEntry{
			TenantID:      tenantID,
			Action:        "transaction.reconciled_manually",
			EntityType:    "bank_transaction",
			EntityID:      strconv.FormatUint(uint64(tx.ID), 10),
			ActorID:       actorID,
			NewValues:     marshal(map[string]interface{}{"reconciled": true, "invoice_id": invoiceID, "method": models.ReconcileMethodManual}),
			Status:        models.AuditStatusSuccess,
			CorrelationID: correlationID,
		})
	})
	if err != nil {
		return Outcome{}, err
	}

	metrics.ReconcileOutcomes.WithLabelValues(OutcomeReconciled).Inc()
	metrics.MatchesByMethod.WithLabelValues(models.ReconcileMethodManual).Inc()
	return Outcome{
		Status:        OutcomeReconciled,
		TransactionID: tx.ID,
		InvoiceID:     invoiceID,
		Confidence:    1.0,
		Method:        models.ReconcileMethodManual,
	}, nil
}

// Suggestions returns the stored review candidates for a transaction, or
// computes them on the fly when none were persisted.
func (c *Coordinator) Suggestions(ctx context.Context, tenantID string, transactionID uint) ([]matching.Candidate, error) {
	stored, err := c.stores.Receivables().ListCandidates(ctx, tenantID, transactionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if len(stored) > 0 {
		candidates := make([]matching.Candidate, 0, len(stored))
		for _, row := range stored {
			candidates = append(candidates, matching.Candidate{
				InvoiceID:  row.InvoiceID,
				Confidence: row.Confidence,
				Method:     row.Method,
				Rationale:  row.Rationale,
			})
		}
		return candidates, nil
	}

	tx, err := c.stores.Receivables().GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	return c.pipeline.FindCandidates(ctx, tx, c.stores.Receivables())
}

func marshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
