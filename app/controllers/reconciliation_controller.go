package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/flowpags/payrecon/internal/pkg/database"
	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/jobqueue"
	"github.com/flowpags/payrecon/internal/pkg/matching"
	"github.com/flowpags/payrecon/internal/pkg/reconcile"
	"github.com/flowpags/payrecon/internal/pkg/storage"
	"github.com/flowpags/payrecon/internal/pkg/webhook"
)

const apiRequestTimeout = 30 * time.Second

// tenantFromRequest resolves the tenant for operator API calls. Query param
// wins over the header.
func tenantFromRequest(c *fiber.Ctx) string {
	if t := strings.TrimSpace(c.Query("tenant")); t != "" {
		return t
	}
	return strings.TrimSpace(c.Get("X-Tenant-ID"))
}

// jobqueueEnqueuer avoids handing a typed nil manager to the processor.
func jobqueueEnqueuer() webhook.ReconcileEnqueuer {
	if m := jobqueue.GetManager(); m != nil {
		return m
	}
	return nil
}

func newCoordinator() *reconcile.Coordinator {
	stores := storage.New(database.GetDB())
	return reconcile.NewCoordinator(stores, matching.NewPipeline(), reconcile.AutoThresholdFromEnv())
}

// HandleListWebhookEvents lists stored webhook events for a tenant, newest
// first. The processed query param filters by processing state.
func HandleListWebhookEvents(c *fiber.Ctx) error {
	tenantID := tenantFromRequest(c)
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}

	var processed *bool
	if v := c.Query("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_processed_filter"})
		}
		processed = &b
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()

	events, err := eventstore.NewRepository(database.GetDB()).ListWebhookEvents(ctx, tenantID, processed, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_list_failed"})
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// HandleRetryWebhookEvent lets an operator re-run one failed event. Bypasses
// the terminal flag and the attempt limit.
func HandleRetryWebhookEvent(c *fiber.Ctx) error {
	tenantID := tenantFromRequest(c)
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}
	eventID := strings.TrimSpace(c.Params("eventId"))
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_event_id"})
	}

	stores := storage.New(database.GetDB())
	processor := webhook.NewProcessor(stores, jobqueueEnqueuer())
	supervisor := webhook.NewSupervisor(stores.Events(), processor, 0)

	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()

	if err := supervisor.RetryOne(ctx, tenantID, eventID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_found"})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "retry_failed", "detail": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "event_id": eventID})
}

// HandleTransactionSuggestions returns the match candidates for one
// transaction, stored ones if the transaction was flagged, otherwise a
// fresh pipeline run.
func HandleTransactionSuggestions(c *fiber.Ctx) error {
	tenantID := tenantFromRequest(c)
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}
	txID, err := c.ParamsInt("id")
	if err != nil || txID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_transaction_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()

	candidates, err := newCoordinator().Suggestions(ctx, tenantID, uint(txID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "transaction_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "suggestion_lookup_failed"})
	}
	return c.JSON(fiber.Map{"transaction_id": txID, "candidates": candidates})
}

// ManualReconcileRequest is the body for operator-confirmed matches.
type ManualReconcileRequest struct {
	InvoiceID uint   `json:"invoice_id" validate:"required,gt=0"`
	ActorID   string `json:"actor_id" validate:"required,min=1,max=120"`
}

// HandleManualReconcile links a transaction to an operator-chosen invoice.
func HandleManualReconcile(c *fiber.Ctx) error {
	tenantID := tenantFromRequest(c)
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}
	txID, err := c.ParamsInt("id")
	if err != nil || txID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_transaction_id"})
	}

	var req ManualReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "detail": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()

	outcome, err := newCoordinator().ReconcileManually(ctx, tenantID, uint(txID), req.InvoiceID, req.ActorID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		case errors.Is(err, reconcile.ErrAlreadyReconciled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "transaction_already_reconciled"})
		case errors.Is(err, reconcile.ErrInvoiceTaken):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_already_assigned"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
		}
	}
	return c.JSON(outcome)
}

// HandleReconcileRun triggers a batch reconciliation pass over all
// unreconciled credit transactions of the tenant.
func HandleReconcileRun(c *fiber.Ctx) error {
	tenantID := tenantFromRequest(c)
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	summary, err := newCoordinator().ReconcileAll(ctx, tenantID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "batch_run_failed"})
	}
	return c.JSON(summary)
}
