package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// ErrNoResponder is returned by Ask when the pipeline has no AI assistant.
var ErrNoResponder = errors.New("no question responder configured")

// Responder answers questions about an invoice context
type Responder interface {
	Answer(ctx context.Context, rawText string, data map[string]any, question string, history []invoice.HistoryEntry) (string, error)
}

// AskContext is the invoice context a question is answered from
type AskContext struct {
	RawText string
	Data    map[string]any
}

const (
	historyContextEntries = 3
	historySeparator      = "\n\n---\n\n"
	noHistoryText         = "Sin texto OCR disponible en el historial."
	historyMessage        = "El usuario está preguntando sobre sus facturas anteriores."
)

// HistoryContext synthesizes a context from the most recent history entries
// when no current invoice is available. ok is false when history is empty.
func HistoryContext(history []invoice.HistoryEntry) (AskContext, bool) {
	if len(history) == 0 {
		return AskContext{}, false
	}

	recent := history
	if len(recent) > historyContextEntries {
		recent = recent[:historyContextEntries]
	}

	var texts []string
	data := make([]any, 0, len(recent))
	for _, h := range recent {
		raw := h.RawText
		if raw == "" {
			raw = h.Data.RawText
		}
		if raw != "" {
			texts = append(texts, fmt.Sprintf("Factura %s (%s):\n%s", orNA(h.InvoiceNumber), orNA(h.Supplier), raw))
		}
		fields, err := h.Data.Fields()
		if err != nil {
			fields = map[string]any{}
		}
		data = append(data, fields)
	}

	rawText := noHistoryText
	if len(texts) > 0 {
		rawText = strings.Join(texts, historySeparator)
	}

	return AskContext{
		RawText: rawText,
		Data: map[string]any{
			"historial_facturas": data,
			"total_facturas":     len(history),
			"mensaje":            historyMessage,
		},
	}, true
}

// Ask answers question from c. The history is passed along as extra grounding.
func (p *Pipeline) Ask(ctx context.Context, question string, c AskContext, history []invoice.HistoryEntry) (string, error) {
	if p.responder == nil {
		return "", ErrNoResponder
	}
	return p.responder.Answer(ctx, c.RawText, c.Data, question, history)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
