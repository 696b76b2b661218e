package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// JSON keys of the standard invoice fields
const (
	KeyInvoiceNumber = "invoice_number"
	KeyDate          = "date"
	KeySupplier      = "supplier"
	KeyNIT           = "nit"
	KeySubtotal      = "subtotal"
	KeyTax           = "tax"
	KeyTotal         = "total"
	KeyCurrency      = "currency"
	KeyPaymentTerms  = "payment_terms"
	KeyDocumentTitle = "document_title"
	KeyRawText       = "raw_text"
)

// StandardKeys lists the standard fields in their serialized order.
var StandardKeys = []string{
	KeyInvoiceNumber,
	KeyDate,
	KeySupplier,
	KeyNIT,
	KeySubtotal,
	KeyTax,
	KeyTotal,
	KeyCurrency,
	KeyPaymentTerms,
	KeyDocumentTitle,
	KeyRawText,
}

// Record is the structured data extracted from a single invoice.
//
// A nil field means the value was not extracted; a pointer to an empty string
// means it was extracted as empty. Extra holds additional keys appended by the
// AI extraction path and is nil for closed records.
type Record struct {
	InvoiceNumber *string
	Date          *string
	Supplier      *string
	NIT           *string
	Subtotal      *Amount
	Tax           *Amount
	Total         *Amount
	Currency      *string
	PaymentTerms  *string
	DocumentTitle *string
	RawText       string

	Extra map[string]json.RawMessage
}

// HistoryEntry is a read-only view of a previously stored invoice
type HistoryEntry struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	Supplier      string    `json:"supplier"`
	Date          string    `json:"date"`
	Data          Record    `json:"data"`
	RawText       string    `json:"raw_text_ocr"`
	CreatedAt     time.Time `json:"created_at"`
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// IsStandardKey reports whether key names one of the standard fields
func IsStandardKey(key string) bool {
	return slices.Contains(StandardKeys, key)
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := r
	out.InvoiceNumber = cloneText(r.InvoiceNumber)
	out.Date = cloneText(r.Date)
	out.Supplier = cloneText(r.Supplier)
	out.NIT = cloneText(r.NIT)
	out.Subtotal = cloneAmount(r.Subtotal)
	out.Tax = cloneAmount(r.Tax)
	out.Total = cloneAmount(r.Total)
	out.Currency = cloneText(r.Currency)
	out.PaymentTerms = cloneText(r.PaymentTerms)
	out.DocumentTitle = cloneText(r.DocumentTitle)
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

// Closed returns a copy of the record without extension fields or a document title.
func (r Record) Closed() Record {
	out := r.Clone()
	out.DocumentTitle = nil
	out.Extra = nil
	return out
}

// Fields returns the record as a generic map, the shape sent to the oracle as
// context. Numbers are kept as json.Number.
func (r Record) Fields() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// MarshalJSON writes the standard fields in a fixed order followed by the
// extension fields sorted by key. The core fields are always present (null
// when absent); currency, payment_terms and document_title are omitted when absent.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeRaw := func(key string, encoded []byte) error {
		k, err := encodeJSON(key)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}
	write := func(key string, value any) error {
		encoded, err := encodeJSON(value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		return writeRaw(key, encoded)
	}

	fields := []struct {
		key      string
		value    any
		optional bool
		absent   bool
	}{
		{KeyInvoiceNumber, r.InvoiceNumber, false, r.InvoiceNumber == nil},
		{KeyDate, r.Date, false, r.Date == nil},
		{KeySupplier, r.Supplier, false, r.Supplier == nil},
		{KeyNIT, r.NIT, false, r.NIT == nil},
		{KeySubtotal, r.Subtotal, false, r.Subtotal == nil},
		{KeyTax, r.Tax, false, r.Tax == nil},
		{KeyTotal, r.Total, false, r.Total == nil},
		{KeyCurrency, r.Currency, true, r.Currency == nil},
		{KeyPaymentTerms, r.PaymentTerms, true, r.PaymentTerms == nil},
		{KeyDocumentTitle, r.DocumentTitle, true, r.DocumentTitle == nil},
	}
	for _, f := range fields {
		if f.optional && f.absent {
			continue
		}
		if f.absent {
			f.value = nil
		}
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}
	if err := write(KeyRawText, r.RawText); err != nil {
		return nil, err
	}

	for _, key := range slices.Sorted(maps.Keys(r.Extra)) {
		if IsStandardKey(key) {
			continue
		}
		raw := r.Extra[key]
		if !json.Valid(raw) {
			return nil, fmt.Errorf("encoding %s: invalid JSON value", key)
		}
		if err := writeRaw(key, raw); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeJSON marshals v without HTML escaping.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON routes the standard keys to their fields and keeps every other
// key verbatim in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Record
	var err error
	for key, raw := range fields {
		switch key {
		case KeyInvoiceNumber:
			out.InvoiceNumber, err = decodeText(key, raw)
		case KeyDate:
			out.Date, err = decodeText(key, raw)
		case KeySupplier:
			out.Supplier, err = decodeText(key, raw)
		case KeyNIT:
			out.NIT, err = decodeText(key, raw)
		case KeySubtotal:
			out.Subtotal, err = decodeAmount(key, raw)
		case KeyTax:
			out.Tax, err = decodeAmount(key, raw)
		case KeyTotal:
			out.Total, err = decodeAmount(key, raw)
		case KeyCurrency:
			out.Currency, err = decodeText(key, raw)
		case KeyPaymentTerms:
			out.PaymentTerms, err = decodeText(key, raw)
		case KeyDocumentTitle:
			out.DocumentTitle, err = decodeText(key, raw)
		case KeyRawText:
			var text *string
			text, err = decodeText(key, raw)
			if text != nil {
				out.RawText = *text
			}
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = slices.Clone(raw)
		}
		if err != nil {
			return err
		}
	}

	*r = out
	return nil
}

// decodeText accepts a JSON string, null, or a scalar literal kept as text.
func decodeText(key string, raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	switch kind(raw) {
	case kindNull:
		return nil, nil
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		return &s, nil
	case kindScalar:
		s := string(raw)
		return &s, nil
	default:
		return nil, fmt.Errorf("decoding %s: expected string, got %s", key, string(raw))
	}
}

func decodeAmount(key string, raw json.RawMessage) (*Amount, error) {
	raw = bytes.TrimSpace(raw)
	if kind(raw) == kindNull {
		return nil, nil
	}
	var a Amount
	if err := a.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &a, nil
}

type jsonKind int

const (
	kindNull jsonKind = iota
	kindString
	kindScalar
	kindComposite
)

func kind(raw []byte) jsonKind {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return kindNull
	}
	switch raw[0] {
	case '"':
		return kindString
	case '{', '[':
		return kindComposite
	default:
		return kindScalar
	}
}

func cloneText(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAmount(p *Amount) *Amount {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
