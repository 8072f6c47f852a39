package webhook

import (
	"encoding/json"
	"strings"
	"time"
)

// Bank event types the router understands. Unknown types are recorded and
// marked processed without state mutation, so new bank event kinds never
// crash the pipeline.
const (
	EventInvoicePaid      = "invoice.paid"
	EventInvoiceOverdue   = "invoice.overdue"
	EventInvoiceCancelled = "invoice.cancelled"
	EventPixReceived      = "pix.received"
	EventPaymentFailed    = "payment.failed"
	EventTransferFailed   = "transfer.failed"
)

// Envelope is the minimal shape parsed at ingestion: just enough to key the
// event and route it later. The data document is kept opaque so schema drift
// on the bank side never loses events.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope extracts type and id from a raw payload. Parse failures
// return a zero envelope rather than an error; ingestion falls back to a
// payload hash for deduplication in that case.
func ParseEnvelope(raw []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}
	}
	env.Type = strings.TrimSpace(env.Type)
	env.ID = strings.TrimSpace(env.ID)
	return env
}

// InvoiceEventData is the data document of invoice.* events.
type InvoiceEventData struct {
	ExternalChargeID string     `json:"charge_id"`
	Amount           int64      `json:"amount"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// PixEventData is the data document of pix.received events.
type PixEventData struct {
	ExternalTransactionID string `json:"transaction_id"`
	EndToEndID            string `json:"end_to_end_id,omitempty"`
	PixTxID               string `json:"tx_id,omitempty"`
	Amount                int64  `json:"amount"`
	Date                  string `json:"date"` // YYYY-MM-DD
	PayerName             string `json:"payer_name,omitempty"`
	PayerDocument         string `json:"payer_document,omitempty"`
}

// FailureEventData is the data document of payment.failed / transfer.failed.
type FailureEventData struct {
	ExternalChargeID string `json:"charge_id,omitempty"`
	Code             string `json:"code,omitempty"`
	Reason           string `json:"reason"`
}
