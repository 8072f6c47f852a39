package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/flowpags/payrecon/app/models"
	"github.com/flowpags/payrecon/internal/pkg/receivables"
	"gorm.io/gorm"
)

// Date windows, in days around the transaction date, inclusive on both ends.
const (
	narrowWindowDays = 3
	wideWindowDays   = 7
)

// Strategy produces scored candidates for one transaction. Strategies are
// pure queries; they never mutate state.
type Strategy func(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error)

// Pipeline runs a fixed, ordered set of matching strategies. The order is
// static; there is no runtime registration.
type Pipeline struct {
	strategies []Strategy
}

// NewPipeline creates the default pipeline: end-to-end id, PIX txid,
// value+date+document, value+date, approximate value.
func NewPipeline() *Pipeline {
	return &Pipeline{
		strategies: []Strategy{
			matchEndToEndID,
			matchPixTxID,
			matchValueDateDocument,
			matchValueDate,
			matchApproximateValue,
		},
	}
}

// FindCandidates returns candidates ordered by confidence (highest first,
// invoice id as the deterministic tie break). The pipeline short-circuits on
// the first strategy that yields exactly one candidate at or above the
// unambiguous tier; otherwise results from all strategies are merged,
// keeping the best confidence per invoice.
func (p *Pipeline) FindCandidates(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	best := make(map[uint]Candidate)
	for _, strategy := range p.strategies {
		candidates, err := strategy(ctx, tx, repo)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 1 && candidates[0].Confidence >= AutoMatchConfidence {
			return candidates, nil
		}
		for _, c := range candidates {
			if existing, ok := best[c.InvoiceID]; !ok || c.Confidence > existing.Confidence {
				best[c.InvoiceID] = c
			}
		}
	}

	merged := make([]Candidate, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].InvoiceID < merged[j].InvoiceID
	})
	return merged, nil
}

func matchEndToEndID(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	if tx.EndToEndID == "" {
		return nil, nil
	}
	inv, err := repo.FindInvoiceByEndToEndID(ctx, tx.TenantID, tx.EndToEndID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Candidate{{
		InvoiceID:  inv.ID,
		Confidence: confidenceExact,
		Method:     models.ReconcileMethodEndToEndID,
		Rationale:  fmt.Sprintf("end-to-end id %s matches invoice charge", tx.EndToEndID),
	}}, nil
}

func matchPixTxID(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	if tx.PixTxID == "" {
		return nil, nil
	}
	inv, err := repo.FindInvoiceByPixTxID(ctx, tx.TenantID, tx.PixTxID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Candidate{{
		InvoiceID:  inv.ID,
		Confidence: confidenceExact,
		Method:     models.ReconcileMethodPixTxID,
		Rationale:  fmt.Sprintf("pix txid %s matches invoice charge", tx.PixTxID),
	}}, nil
}

// matchValueDateDocument matches on exact amount and a narrow due date
// window. A single invoice whose payer document equals the counterparty
// document is the unambiguous case; when documents cannot disambiguate, all
// window matches are surfaced at review confidence.
func matchValueDateDocument(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	from := tx.TransactionDate.AddDate(0, 0, -narrowWindowDays)
	to := tx.TransactionDate.AddDate(0, 0, narrowWindowDays)
	invoices, err := repo.FindOpenInvoicesByAmountAndDueRange(ctx, tx.TenantID, tx.Amount, from, to)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	txDoc := NormalizeDocument(tx.CounterpartyDocument)
	var docMatches []models.Invoice
	if txDoc != "" {
		for _, inv := range invoices {
			if NormalizeDocument(inv.PayerDocument) == txDoc {
				docMatches = append(docMatches, inv)
			}
		}
	}

	if len(docMatches) == 1 {
		return []Candidate{{
			InvoiceID:  docMatches[0].ID,
			Confidence: confidenceDocumentSingle,
			Method:     models.ReconcileMethodValueDateDocument,
			Rationale:  fmt.Sprintf("exact amount, due date within %d days, payer document matches", narrowWindowDays),
		}}, nil
	}

	pool := invoices
	rationale := fmt.Sprintf("exact amount and due date within %d days", narrowWindowDays)
	if len(docMatches) > 1 {
		pool = docMatches
		rationale = fmt.Sprintf("exact amount, due date within %d days, payer document matches", narrowWindowDays)
	}
	candidates := make([]Candidate, 0, len(pool))
	for _, inv := range pool {
		candidates = append(candidates, Candidate{
			InvoiceID:  inv.ID,
			Confidence: confidenceWindowAmbig,
			Method:     models.ReconcileMethodValueDateDocument,
			Rationale:  rationale,
		})
	}
	return candidates, nil
}

func matchValueDate(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	from := tx.TransactionDate.AddDate(0, 0, -wideWindowDays)
	to := tx.TransactionDate.AddDate(0, 0, wideWindowDays)
	invoices, err := repo.FindOpenInvoicesByAmountAndDueRange(ctx, tx.TenantID, tx.Amount, from, to)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	confidence := confidenceWideSingle
	if len(invoices) > 1 {
		confidence = confidenceWideAmbig
	}
	candidates := make([]Candidate, 0, len(invoices))
	for _, inv := range invoices {
		candidates = append(candidates, Candidate{
			InvoiceID:  inv.ID,
			Confidence: confidence,
			Method:     models.ReconcileMethodValueDate,
			Rationale:  fmt.Sprintf("exact amount and due date within %d days", wideWindowDays),
		})
	}
	return candidates, nil
}

// matchApproximateValue tolerates a ±1% amount difference, computed in
// integer minor units rounding down. Its candidates are review-only and
// never auto-matched.
func matchApproximateValue(ctx context.Context, tx *models.BankTransaction, repo receivables.Reader) ([]Candidate, error) {
	tolerance := tx.Amount / 100
	from := tx.TransactionDate.AddDate(0, 0, -narrowWindowDays)
	to := tx.TransactionDate.AddDate(0, 0, narrowWindowDays)
	invoices, err := repo.FindOpenInvoicesByAmountBandAndDueRange(ctx, tx.TenantID, tx.Amount-tolerance, tx.Amount+tolerance, from, to)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(invoices))
	for _, inv := range invoices {
		candidates = append(candidates, Candidate{
			InvoiceID:  inv.ID,
			Confidence: confidenceApproximate,
			Method:     models.ReconcileMethodApproximateValue,
			Rationale:  fmt.Sprintf("amount within 1%% and due date within %d days", narrowWindowDays),
		})
	}
	return candidates, nil
}
