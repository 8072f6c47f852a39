package constants

// Static route constants
const (
	BankWebhookRoute = "/webhooks/bank/:tenant"
	HealthRoute      = "/healthz"

	APIRoute   = "/api"
	APIv1Route = "/v1"

	WebhookEventsRoute      = "/webhook-events"
	WebhookEventRetryRoute  = "/webhook-events/:eventId/retry"
	TransactionSuggestRoute = "/transactions/:id/suggestions"
	ManualReconcileRoute    = "/transactions/:id/reconcile"
	ReconcileRunRoute       = "/reconcile/run"
)
