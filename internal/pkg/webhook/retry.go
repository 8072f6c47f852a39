package webhook

import (
	"context"
	"time"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/eventstore"
	"github.com/flowpags/payrecon/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
)

type eventProcessor interface {
	Process(ctx context.Context, event *models.WebhookEvent) error
}

// RetrySummary reports one retry sweep.
type RetrySummary struct {
	Scanned   int
	Succeeded int
	Failed    int
	Terminal  int
}

// Supervisor re-attempts failed webhook processing. Transient failures are
// retried until the attempt budget is exhausted; terminal failures are left
// for the explicit operator retry path.
type Supervisor struct {
	events         eventstore.Repository
	processor      eventProcessor
	maxAttempts    int
	attemptTimeout time.Duration
}

// NewSupervisor creates a Supervisor. maxAttempts <= 0 selects the default.
func NewSupervisor(events eventstore.Repository, processor eventProcessor, maxAttempts int) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{
		events:         events,
		processor:      processor,
		maxAttempts:    maxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
	}
}

// RetryFailed processes every unprocessed event still inside the attempt
// budget. An empty tenantID sweeps all tenants. One event's failure never
// aborts the sweep.
func (s *Supervisor) RetryFailed(ctx context.Context, tenantID string) (RetrySummary, error) {
	events, err := s.events.ListRetryable(ctx, tenantID, s.maxAttempts, 0)
	if err != nil {
		return RetrySummary{}, err
	}

	summary := RetrySummary{Scanned: len(events)}
	for i := range events {
		event := events[i]
		if err := s.processOne(ctx, &event); err != nil {
			if IsTerminal(err) {
				summary.Terminal++
			} else {
				summary.Failed++
			}
			log.Warnf("[Retry] Event %s attempt %d failed: %v", event.EventID, event.AttemptCount+1, err)
			continue
		}
		summary.Succeeded++
	}
	metrics.RetrySweeps.Inc()
	return summary, nil
}

// RetryOne re-runs a single event on operator request, bypassing both the
// attempt budget and the terminal-failure exclusion.
func (s *Supervisor) RetryOne(ctx context.Context, tenantID, eventID string) error {
	event, err := s.events.GetWebhookEventByEventID(ctx, tenantID, eventID)
	if err != nil {
		return err
	}
	if event.Processed {
		return nil
	}
	return s.processOne(ctx, event)
}

// Run periodically sweeps retryable events until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	log.Infof("[Retry] Supervisor running (interval=%s, maxAttempts=%d)", interval, s.maxAttempts)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[Retry] Supervisor stopping")
			return
		case <-ticker.C:
			summary, err := s.RetryFailed(ctx, "")
			if err != nil {
				log.Errorf("[Retry] Sweep failed: %v", err)
				continue
			}
			if summary.Scanned > 0 {
				log.Infof("[Retry] Sweep done: scanned=%d succeeded=%d failed=%d terminal=%d",
					summary.Scanned, summary.Succeeded, summary.Failed, summary.Terminal)
			}
		}
	}
}

// processOne bounds each attempt with a timeout so a hung attempt counts as
// a failure instead of lingering; the processor's transactional wrapping
// guarantees a timed-out attempt leaves no partial mutation.
func (s *Supervisor) processOne(ctx context.Context, event *models.WebhookEvent) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	return s.processor.Process(attemptCtx, event)
}
