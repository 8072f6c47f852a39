package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/env"
	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/metrics"
	"github.com/flowpags/payrecon/internal/pkg/secrets"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Enqueuer hands persisted events to the asynchronous workers. Processing
// never happens in the request path.
type Enqueuer interface {
	EnqueueWebhookProcess(tenantID string, webhookEventID uint) error
}

// StrictFromEnv reads the signature enforcement mode. Strict unless
// WEBHOOK_STRICT_SIGNATURE is explicitly "false".
func StrictFromEnv() bool {
	return env.GetEnv("WEBHOOK_STRICT_SIGNATURE", "true") != "false"
}

// IngestResult reports what happened to one delivery.
type IngestResult struct {
	Accepted       bool
	Duplicate      bool
	Rejected       bool // strict mode, invalid signature
	SignatureValid bool
	EventID        string
	WebhookEventID uint
}

// Ingestor validates, deduplicates and persists raw webhook deliveries.
type Ingestor struct {
	events   eventstore.Repository
	enqueuer Enqueuer
	secrets  secrets.Source
	strict   bool
}

// NewIngestor creates an Ingestor. In strict mode an invalid signature is
// surfaced to the caller for rejection; otherwise the event is recorded for
// audit but never acted upon.
func NewIngestor(events eventstore.Repository, enqueuer Enqueuer, secretSource secrets.Source, strict bool) *Ingestor {
	return &Ingestor{
		events:   events,
		enqueuer: enqueuer,
		secrets:  secretSource,
		strict:   strict,
	}
}

// Ingest performs the minimal parse, signature check and idempotent insert
// for one delivery. The only error return is a persistence failure, which
// the transport layer maps to a retryable response so the sender redelivers.
func (i *Ingestor) Ingest(ctx context.Context, tenantID string, rawBody []byte, signatureHeader string) (IngestResult, error) {
	env := ParseEnvelope(rawBody)
	eventID := env.ID
	if eventID == "" {
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	secret := i.secrets.WebhookSecret(tenantID)
	signatureValid := VerifySignature(rawBody, signatureHeader, secret)

	event := &models.WebhookEvent{
		TenantID:       tenantID,
		EventID:        eventID,
		EventType:      env.Type,
		RawPayload:     string(rawBody),
		Signature:      signatureHeader,
		SignatureValid: signatureValid,
		CorrelationID:  uuid.New().String(),
	}
	created, stored, err := i.events.CreateWebhookEventIfNotExists(ctx, event)
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		metrics.EventsDuplicate.Inc()
		return IngestResult{Duplicate: true, SignatureValid: signatureValid, EventID: eventID, WebhookEventID: stored.ID}, nil
	}

	result := IngestResult{
		Accepted:       true,
		SignatureValid: signatureValid,
		EventID:        eventID,
		WebhookEventID: stored.ID,
	}

	if !signatureValid {
		metrics.EventsRejected.Inc()
		if i.strict {
			// Recorded for audit, excluded from processing and retry.
			if err := i.events.RecordFailure(ctx, stored.ID, "invalid webhook signature", true); err != nil {
				return IngestResult{}, err
			}
			result.Accepted = false
			result.Rejected = true
			return result, nil
		}
		// Non-strict mode: keep the row for audit but never act on it. A
		// failed bookkeeping write surfaces as a persistence error so the
		// sender redelivers; the processor's own signature guard covers the
		// row in the meantime.
		if err := i.events.AppendAudit(ctx, &models.AuditLogEntry{
			TenantID:      tenantID,
			Action:        "webhook.signature_invalid",
			EntityType:    "webhook_event",
			EntityID:      eventID,
			Status:        models.AuditStatusFailure,
			CorrelationID: stored.CorrelationID,
		}); err != nil {
			return IngestResult{}, err
		}
		if err := i.events.MarkProcessed(ctx, stored.ID); err != nil {
			return IngestResult{}, err
		}
		return result, nil
	}

	metrics.EventsIngested.Inc()
	if err := i.enqueuer.EnqueueWebhookProcess(tenantID, stored.ID); err != nil {
		// The event row is durable; the retry sweep picks it up later.
		log.Warnf("[Webhook] Enqueue failed for event %s: %v", eventID, err)
	}
	return result, nil
}
