package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowpags/payrecon/app/models"
)

// scriptedProcessor returns a fixed error per event id.
type scriptedProcessor struct {
	results map[string]error
	calls   []string
}

func (s *scriptedProcessor) Process(ctx context.Context, event *models.WebhookEvent) error {
	s.calls = append(s.calls, event.EventID)
	return s.results[event.EventID]
}

func TestRetryFailed_Classification(t *testing.T) {
	store := newMemStore()
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "ok"})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "transient"})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "terminal"})

	proc := &scriptedProcessor{results: map[string]error{
		"transient": errors.New("db timeout"),
		"terminal":  Terminal(errors.New("invoice not found")),
	}}
	sup := NewSupervisor(store, proc, 0)

	summary, err := sup.RetryFailed(context.Background(), "acme")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Scanned != 3 || summary.Succeeded != 1 || summary.Failed != 1 || summary.Terminal != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRetryFailed_SkipsExhaustedAndTerminal(t *testing.T) {
	store := newMemStore()
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "fresh"})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "exhausted", AttemptCount: DefaultMaxAttempts})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "poisoned", TerminalFailure: true})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "done", Processed: true})

	proc := &scriptedProcessor{results: map[string]error{}}
	sup := NewSupervisor(store, proc, 0)

	summary, err := sup.RetryFailed(context.Background(), "acme")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Scanned != 1 {
		t.Fatalf("only the fresh event is eligible, scanned %d", summary.Scanned)
	}
	if len(proc.calls) != 1 || proc.calls[0] != "fresh" {
		t.Fatalf("unexpected calls: %v", proc.calls)
	}
}

func TestRetryFailed_AllTenantsWhenEmpty(t *testing.T) {
	store := newMemStore()
	store.addWebhookEvent(models.WebhookEvent{TenantID: "tenant-a", EventID: "a1"})
	store.addWebhookEvent(models.WebhookEvent{TenantID: "tenant-b", EventID: "b1"})

	proc := &scriptedProcessor{results: map[string]error{}}
	sup := NewSupervisor(store, proc, 0)

	summary, err := sup.RetryFailed(context.Background(), "")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Scanned != 2 {
		t.Fatalf("empty tenant must sweep all tenants, scanned %d", summary.Scanned)
	}
}

func TestRetryOne_BypassesGuards(t *testing.T) {
	store := newMemStore()
	store.addWebhookEvent(models.WebhookEvent{
		TenantID:        "acme",
		EventID:         "poisoned",
		TerminalFailure: true,
		AttemptCount:    DefaultMaxAttempts + 2,
	})

	proc := &scriptedProcessor{results: map[string]error{}}
	sup := NewSupervisor(store, proc, 0)

	if err := sup.RetryOne(context.Background(), "acme", "poisoned"); err != nil {
		t.Fatalf("operator retry: %v", err)
	}
	if len(proc.calls) != 1 || proc.calls[0] != "poisoned" {
		t.Fatalf("operator retry must re-run the event, calls %v", proc.calls)
	}
}

func TestRetryOne_ProcessedIsNoop(t *testing.T) {
	store := newMemStore()
	store.addWebhookEvent(models.WebhookEvent{TenantID: "acme", EventID: "done", Processed: true})

	proc := &scriptedProcessor{results: map[string]error{}}
	sup := NewSupervisor(store, proc, 0)

	if err := sup.RetryOne(context.Background(), "acme", "done"); err != nil {
		t.Fatalf("retry of processed event: %v", err)
	}
	if len(proc.calls) != 0 {
		t.Fatalf("processed event must not be re-run")
	}
}

func TestRetryOne_UnknownEvent(t *testing.T) {
	store := newMemStore()
	sup := NewSupervisor(store, &scriptedProcessor{}, 0)
	if err := sup.RetryOne(context.Background(), "acme", "nope"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

// End-to-end: a terminal processing failure flips the event out of the
// automatic retry set, and the operator path still reaches it.
func TestRetry_TerminalFlowWithRealProcessor(t *testing.T) {
	store := newMemStore()
	event := store.addWebhookEvent(models.WebhookEvent{
		TenantID:       "acme",
		EventID:        "evt_term",
		EventType:      EventInvoicePaid,
		RawPayload:     `{"type":"invoice.paid","id":"evt_term","data":{"charge_id":"ch_missing"}}`,
		SignatureValid: true,
	})

	proc := NewProcessor(store, nil)
	sup := NewSupervisor(store, proc, 0)

	summary, err := sup.RetryFailed(context.Background(), "acme")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Terminal != 1 {
		t.Fatalf("expected one terminal failure, got %+v", summary)
	}

	stored, _ := store.GetWebhookEvent(context.Background(), "acme", event.ID)
	if !stored.TerminalFailure || stored.AttemptCount != 1 {
		t.Fatalf("failure bookkeeping missing: %+v", stored)
	}

	// Next sweep skips it entirely.
	summary, _ = sup.RetryFailed(context.Background(), "acme")
	if summary.Scanned != 0 {
		t.Fatalf("terminal event must be excluded from sweeps, scanned %d", summary.Scanned)
	}

	// Operator bypass still processes it, and succeeds once the invoice exists.
	store.addInvoice(models.Invoice{TenantID: "acme", ExternalChargeID: "ch_missing", Amount: 100, DueDate: stored.ReceivedAt})
	if err := sup.RetryOne(context.Background(), "acme", "evt_term"); err != nil {
		t.Fatalf("operator retry after fix: %v", err)
	}
	stored, _ = store.GetWebhookEvent(context.Background(), "acme", event.ID)
	if !stored.Processed {
		t.Fatalf("event must be processed after successful operator retry")
	}
}

func TestRetryOne_ForgedEventIsNotApplied(t *testing.T) {
	store := newMemStore()
	inv := store.addInvoice(models.Invoice{
		TenantID:         "acme",
		ExternalChargeID: "ch_1",
		Amount:           10000,
		DueDate:          time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	store.addWebhookEvent(models.WebhookEvent{
		TenantID:        "acme",
		EventID:         "evt_forged",
		EventType:       EventInvoicePaid,
		RawPayload:      `{"type":"invoice.paid","id":"evt_forged","data":{"charge_id":"ch_1","amount":10000}}`,
		SignatureValid:  false,
		TerminalFailure: true,
		AttemptCount:    1,
	})

	proc := NewProcessor(store, nil)
	sup := NewSupervisor(store, proc, 0)

	// The operator bypass skips the terminal guard but not the signature one.
	if err := sup.RetryOne(context.Background(), "acme", "evt_forged"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := store.GetInvoice(context.Background(), "acme", inv.ID)
	if got.Status != models.InvoiceStatusOpen {
		t.Fatalf("forged webhook must never settle an invoice: %+v", got)
	}
	if len(store.domainEvents) != 0 || len(store.intents) != 0 {
		t.Fatalf("forged webhook must not emit events or intents")
	}
	stored, _ := store.GetWebhookEventByEventID(context.Background(), "acme", "evt_forged")
	if !stored.Processed {
		t.Fatalf("forged event must end up processed, not retryable: %+v", stored)
	}
}
