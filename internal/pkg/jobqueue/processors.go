package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpags/payrecon/internal/pkg/webhook"
)

// jobProcessTimeout bounds a single job attempt so a hung database call
// cannot pin a worker forever.
const jobProcessTimeout = 2 * time.Minute

// WebhookJobProcessor routes one persisted webhook event.
type WebhookJobProcessor interface {
	ProcessByID(ctx context.Context, tenantID string, webhookEventID uint) error
}

// ReconcileJobProcessor runs one reconciliation pass for a transaction.
type ReconcileJobProcessor interface {
	ReconcileByID(ctx context.Context, tenantID string, transactionID uint) error
}

// processWebhookJob handles webhook routing jobs
func (q *Queue) processWebhookJob(ctx context.Context, job *Job) error {
	payload, err := WebhookProcessPayloadFromMap(job.Payload)
	if err != nil {
		return webhook.Terminal(fmt.Errorf("invalid webhook job payload: %w", err))
	}
	if q.processor == nil {
		return fmt.Errorf("no webhook processor configured")
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobProcessTimeout)
	defer cancel()

	return q.processor.ProcessByID(jobCtx, payload.TenantID, payload.WebhookEventID)
}

// processReconcileJob handles reconciliation jobs
func (q *Queue) processReconcileJob(ctx context.Context, job *Job) error {
	payload, err := ReconcilePayloadFromMap(job.Payload)
	if err != nil {
		return webhook.Terminal(fmt.Errorf("invalid reconcile job payload: %w", err))
	}
	if q.coordinator == nil {
		return fmt.Errorf("no reconcile coordinator configured")
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobProcessTimeout)
	defer cancel()

	return q.coordinator.ReconcileByID(jobCtx, payload.TenantID, payload.TransactionID)
}

// isTerminalJobError reports whether retrying the job cannot succeed.
// Terminal webhook failures (malformed payloads, unknown references) are
// already recorded against the event itself.
func isTerminalJobError(err error) bool {
	return webhook.IsTerminal(err)
}
