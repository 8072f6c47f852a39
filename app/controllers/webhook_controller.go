package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/flowpags/payrecon/internal/pkg/database"
	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/jobqueue"
	"github.com/flowpags/payrecon/internal/pkg/secrets"
	"github.com/flowpags/payrecon/internal/pkg/webhook"
)

const webhookIngestTimeout = 15 * time.Second

// HandleBankWebhook receives bank payment provider deliveries. The request
// path only validates, deduplicates and persists; routing happens on the
// job queue workers.
func HandleBankWebhook(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Params("tenant"))
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_tenant"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Signature"))

	ingestor := webhook.NewIngestor(
		eventstore.NewRepository(database.GetDB()),
		jobqueue.GetManager(),
		secrets.FromEnv(),
		webhook.StrictFromEnv(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), webhookIngestTimeout)
	defer cancel()

	result, err := ingestor.Ingest(ctx, tenantID, rawBody, signature)
	if err != nil {
		// Sender retries on 5xx; the insert is idempotent so redelivery is safe.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true, "event_id": result.EventID})
	}
	if result.Rejected {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if !result.SignatureValid {
		// Non-strict mode: stored for audit, never processed.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true, "event_id": result.EventID})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "event_id": result.EventID})
}
