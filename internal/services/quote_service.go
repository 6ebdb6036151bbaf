package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cast"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

const QuotesCollection = "quotes"

// Quote statuses.
const (
	QuoteDraft    = "draft"
	QuoteSent     = "sent"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
	QuoteExpired  = "expired"
)

// QuoteItem is one priced line of a quote.
type QuoteItem struct {
	Description string  `json:"description"`
	Tooth       string  `json:"tooth,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Quote is the typed view of a quote document.
type Quote struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	PatientID  string      `json:"patientId"`
	DoctorID   string      `json:"doctorId,omitempty"`
	Number     string      `json:"number,omitempty"`
	Items      []QuoteItem `json:"items,omitempty"`
	Discount   float64     `json:"discount,omitempty"`
	Total      float64     `json:"total"`
	Status     string      `json:"status"`
	ValidUntil string      `json:"validUntil,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// QuoteSchema validates quote documents.
func QuoteSchema() *validator.Schema {
	return validator.NewSchema(validator.Rules{
		"patientId":  "required,min=1",
		"doctorId":   "omitempty,min=1",
		"number":     "omitempty,max=32",
		"discount":   "omitempty,gte=0",
		"total":      "omitempty,gte=0",
		"status":     "omitempty,oneof=draft sent accepted rejected expired",
		"validUntil": "omitempty,datetime=2006-01-02",
	})
}

// ItemsTotal sums quantity times unit price less discount, never below zero.
func ItemsTotal(items []QuoteItem, discount float64) float64 {
	total := 0.0
	for _, item := range items {
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		total += qty * item.UnitPrice
	}
	total -= discount
	if total < 0 {
		total = 0
	}
	return round2(total)
}

// StatusTotals is a count and amount for one quote status.
type StatusTotals struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// QuoteStats summarises an owner's quotes.
type QuoteStats struct {
	Total          int                     `json:"total"`
	TotalAmount    float64                 `json:"totalAmount"`
	ByStatus       map[string]StatusTotals `json:"byStatus"`
	AcceptanceRate float64                 `json:"acceptanceRate"`
}

// QuoteService adds per-patient listing, statistics and export on top of
// the quotes repository.
type QuoteService struct {
	repo *repository.Repository
}

// NewQuoteService wraps repo.
func NewQuoteService(repo *repository.Repository) (*QuoteService, error) {
	if repo == nil {
		return nil, fmt.Errorf("quote service: %w", errRepositoryRequired)
	}
	return &QuoteService{repo: repo}, nil
}

func (s *QuoteService) Repository() *repository.Repository {
	return s.repo
}

// ListByPatient returns a patient's quotes, newest first.
func (s *QuoteService) ListByPatient(ctx context.Context, owner, patientID string) ([]docstore.Document, error) {
	return s.repo.FindAll(ensureContext(ctx), owner,
		repository.Equals{Field: "patientId", Value: patientID},
		repository.Sort{Field: docstore.FieldCreatedAt},
	)
}

// Stats counts quotes and sums their totals per status. The acceptance rate
// is accepted over decided (accepted plus rejected) quotes.
func (s *QuoteService) Stats(ctx context.Context, owner string) (QuoteStats, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner)
	if err != nil {
		return QuoteStats{}, err
	}

	stats := QuoteStats{Total: len(docs), ByStatus: map[string]StatusTotals{}}
	for _, doc := range docs {
		status, _ := doc["status"].(string)
		if status == "" {
			status = QuoteDraft
		}
		amount := quoteAmount(doc)

		totals := stats.ByStatus[status]
		totals.Count++
		totals.Amount = round2(totals.Amount + amount)
		stats.ByStatus[status] = totals
		stats.TotalAmount = round2(stats.TotalAmount + amount)
	}

	accepted := stats.ByStatus[QuoteAccepted].Count
	if decided := accepted + stats.ByStatus[QuoteRejected].Count; decided > 0 {
		stats.AcceptanceRate = round2(float64(accepted) / float64(decided))
	}
	return stats, nil
}

var quoteColumns = []string{"id", "number", "patientId", "doctorId", "status", "total", "validUntil", "createdAt"}

// ExportCSV writes every quote of owner, newest first.
func (s *QuoteService) ExportCSV(ctx context.Context, owner string, w io.Writer) error {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner, repository.Sort{Field: docstore.FieldCreatedAt})
	if err != nil {
		return err
	}
	return writeCSV(w, quoteColumns, docs)
}

// quoteAmount prefers the stored total and falls back to the line items.
func quoteAmount(doc docstore.Document) float64 {
	if total, ok := doc["total"]; ok && total != nil {
		return cast.ToFloat64(total)
	}
	quote, err := decode[Quote](doc)
	if err != nil {
		return 0
	}
	return ItemsTotal(quote.Items, quote.Discount)
}
