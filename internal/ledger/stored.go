package ledger

import (
	"time"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// DefaultOwner is used when no authenticated user is known
const DefaultOwner = "default"

// StoredInvoice is a persisted canonical record. The flattened columns hold
// the record's standard values as text, empty when absent.
type StoredInvoice struct {
	ID            string         `json:"id"`
	Owner         string         `json:"owner"`
	InvoiceNumber string         `json:"invoice_number"`
	Supplier      string         `json:"supplier"`
	NIT           string         `json:"nit"`
	Date          string         `json:"date"`
	Subtotal      string         `json:"subtotal"`
	Tax           string         `json:"tax"`
	Total         string         `json:"total"`
	Data          invoice.Record `json:"data"`
	RawText       string         `json:"raw_text_ocr"`
	Source        string         `json:"source"`
	Filename      string         `json:"filename,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewStoredInvoice flattens record into a StoredInvoice
func NewStoredInvoice(id, owner string, record invoice.Record, rawText string, createdAt time.Time) *StoredInvoice {
	return &StoredInvoice{
		ID:            id,
		Owner:         owner,
		InvoiceNumber: text(record.InvoiceNumber),
		Supplier:      text(record.Supplier),
		NIT:           text(record.NIT),
		Date:          text(record.Date),
		Subtotal:      amount(record.Subtotal),
		Tax:           amount(record.Tax),
		Total:         amount(record.Total),
		Data:          record,
		RawText:       rawText,
		CreatedAt:     createdAt,
	}
}

// HistoryEntry returns the read-only history view. A record stored without
// raw_text gets the stored OCR text.
func (s *StoredInvoice) HistoryEntry() invoice.HistoryEntry {
	data := s.Data.Clone()
	if data.RawText == "" {
		data.RawText = s.RawText
	}
	return invoice.HistoryEntry{
		ID:            s.ID,
		InvoiceNumber: s.InvoiceNumber,
		Supplier:      s.Supplier,
		Date:          s.Date,
		Data:          data,
		RawText:       s.RawText,
		CreatedAt:     s.CreatedAt,
	}
}

func text(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func amount(a *invoice.Amount) string {
	if a == nil {
		return ""
	}
	return a.String()
}
