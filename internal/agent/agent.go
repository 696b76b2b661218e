// Package agent drives the language model oracle for invoice work: direct field
// extraction, refinement of a pattern-based extraction, and questions about an
// invoice.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/oracle"
)

// Sampling settings per task
const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 1000
	refinementTemperature = 0.1
	refinementMaxTokens   = 800
	answerTemperature     = 0.2
	answerMaxTokens       = 512
)

// Agent runs invoice tasks against an oracle. It holds no mutable state.
type Agent struct {
	oracle oracle.Oracle
	log    *slog.Logger
}

// New creates an Agent
func New(o oracle.Oracle, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{oracle: o, log: logger}
}

// Extract asks the oracle for the full field set of the invoice in rawText.
// The result is an open record: keys beyond the standard fields are kept in
// Extra. RawText is filled from rawText when the reply leaves it empty.
func (a *Agent) Extract(ctx context.Context, rawText string, history []invoice.HistoryEntry) (invoice.Record, error) {
	reply, err := a.oracle.Chat(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: extractionSystemPrompt},
		{Role: oracle.RoleUser, Content: buildExtractionPrompt(rawText, history)},
	}, extractionTemperature, extractionMaxTokens)
	if err != nil {
		return invoice.Record{}, fmt.Errorf("extracting with oracle: %w", err)
	}

	record, err := parseReply(reply)
	if err != nil {
		return invoice.Record{}, err
	}

	if record.RawText == "" {
		record.RawText = rawText
	}
	if record.InvoiceNumber != nil && isDescriptiveTitle(*record.InvoiceNumber) {
		a.log.Warn("Moving descriptive invoice number out of invoice_number", "value", *record.InvoiceNumber)
		switch {
		case record.DocumentTitle == nil:
			record.DocumentTitle = record.InvoiceNumber
		case *record.DocumentTitle != *record.InvoiceNumber:
			if err := keepExtra(&record, descriptiveNumberKey, *record.InvoiceNumber); err != nil {
				return invoice.Record{}, err
			}
		}
		record.InvoiceNumber = nil
	}

	a.log.Info("Extracted invoice with oracle", "extra_fields", len(record.Extra), "history", len(history))
	return record, nil
}

// Refine asks the oracle to correct and complete initial. The result is
// restricted to the closed field set; extra keys in the reply are discarded.
func (a *Agent) Refine(ctx context.Context, rawText string, initial invoice.Record) (invoice.Record, error) {
	prompt, err := buildRefinementPrompt(rawText, initial)
	if err != nil {
		return invoice.Record{}, err
	}

	reply, err := a.oracle.Chat(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: refinementSystemPrompt},
		{Role: oracle.RoleUser, Content: prompt},
	}, refinementTemperature, refinementMaxTokens)
	if err != nil {
		return invoice.Record{}, fmt.Errorf("refining with oracle: %w", err)
	}

	parsed, err := parseReply(reply)
	if err != nil {
		return invoice.Record{}, err
	}

	record := parsed.Closed()
	if record.RawText == "" {
		record.RawText = rawText
	}
	return record, nil
}

// Answer replies to question using only the given invoice context. The reply
// is returned trimmed, without further parsing.
func (a *Agent) Answer(ctx context.Context, rawText string, data map[string]any, question string, history []invoice.HistoryEntry) (string, error) {
	prompt, err := buildAnswerPrompt(rawText, data, question, history)
	if err != nil {
		return "", err
	}

	reply, err := a.oracle.Chat(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: answerSystemPrompt},
		{Role: oracle.RoleUser, Content: prompt},
	}, answerTemperature, answerMaxTokens)
	if err != nil {
		return "", fmt.Errorf("answering with oracle: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// descriptiveNumberKey holds a descriptive invoice number when the reply
// already carries a different document title.
const descriptiveNumberKey = "descriptive_invoice_number"

func keepExtra(record *invoice.Record, key, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if record.Extra == nil {
		record.Extra = make(map[string]json.RawMessage)
	}
	if _, ok := record.Extra[key]; !ok {
		record.Extra[key] = encoded
	}
	return nil
}

// isDescriptiveTitle reports whether an invoice number candidate is a phrase
// (several words, no digits) rather than an identifier.
func isDescriptiveTitle(s string) bool {
	s = strings.TrimSpace(s)
	if len(strings.Fields(s)) < 2 {
		return false
	}
	return strings.IndexFunc(s, unicode.IsDigit) == -1
}
