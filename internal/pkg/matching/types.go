package matching

import "github.com/flowpags/payrecon/app/models"

// Candidate is a scored potential invoice match for one transaction.
type Candidate struct {
	InvoiceID  uint
	Confidence float64
	Method     string
	Rationale  string
}

// AutoMatchConfidence is the tier treated as unambiguous: a strategy that
// yields exactly one candidate at or above it short-circuits the pipeline.
const AutoMatchConfidence = 0.95

// Confidence tiers per strategy.
const (
	confidenceExact          = 1.00
	confidenceDocumentSingle = 0.95
	confidenceWindowAmbig    = 0.70
	confidenceWideSingle     = 0.70
	confidenceWideAmbig      = 0.50
	confidenceApproximate    = 0.60
)

func (c Candidate) toModel(tenantID string, transactionID uint) models.ReconciliationCandidate {
	return models.ReconciliationCandidate{
		TenantID:      tenantID,
		TransactionID: transactionID,
		InvoiceID:     c.InvoiceID,
		Confidence:    c.Confidence,
		Method:        c.Method,
		Rationale:     c.Rationale,
	}
}

// ToModels converts candidates into persistable review rows.
func ToModels(tenantID string, transactionID uint, candidates []Candidate) []models.ReconciliationCandidate {
	rows := make([]models.ReconciliationCandidate, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, c.toModel(tenantID, transactionID))
	}
	return rows
}
