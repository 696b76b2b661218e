// Package pipeline turns raw OCR text into a canonical invoice record. The
// pattern baseline is always computed; AI strategies are then tried in a fixed
// priority order and the first success becomes canonical.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// Baseline is the pattern extractor
type Baseline interface {
	Extract(text string) invoice.Record
}

// Assistant is the full set of AI capabilities
type Assistant interface {
	Extractor
	Refiner
	Responder
}

// Result is the outcome of processing one document
type Result struct {
	RawText string          `json:"raw_text"`
	Initial invoice.Record  `json:"data_initial"`
	Refined *invoice.Record `json:"data_refined"`
	Source  string          `json:"source"`
	// Failures holds the error of every strategy that was tried and failed.
	Failures map[string]error `json:"-"`
}

// Canonical returns the record chosen by the resolution policy
func (r Result) Canonical() invoice.Record {
	if r.Refined != nil {
		return *r.Refined
	}
	return r.Initial
}

// Pipeline runs the resolution policy
type Pipeline struct {
	baseline   Baseline
	responder  Responder
	strategies map[Mode][]Strategy
	log        *slog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStrategies replaces the strategy list for a mode
func WithStrategies(mode Mode, strategies ...Strategy) Option {
	return func(p *Pipeline) {
		p.strategies[mode] = strategies
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = logger
	}
}

// New creates a Pipeline. With a nil assistant every mode degrades to the
// pattern baseline and Ask fails with ErrNoResponder.
func New(baseline Baseline, assistant Assistant, opts ...Option) *Pipeline {
	p := &Pipeline{
		baseline:   baseline,
		strategies: map[Mode][]Strategy{ModePattern: nil},
		log:        slog.Default(),
	}
	if assistant != nil {
		p.responder = assistant
		p.strategies[ModeAI] = []Strategy{AIExtraction(assistant)}
		p.strategies[ModeRefine] = []Strategy{AIExtraction(assistant), AIRefinement(assistant)}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strategies returns the ordered strategy list of mode
func (p *Pipeline) Strategies(mode Mode) []Strategy {
	return p.strategies[mode]
}

// Process never fails: when every strategy fails the baseline is canonical.
func (p *Pipeline) Process(ctx context.Context, text string, mode Mode, history []invoice.HistoryEntry) Result {
	baseline := p.baseline.Extract(text)
	result := Result{
		RawText: text,
		Initial: baseline,
		Source:  SourcePattern,
	}

	doc := Document{RawText: text, History: history, Baseline: baseline}
	for _, s := range p.strategies[mode] {
		record, err := s.Run(ctx, doc)
		if err != nil {
			p.log.Warn("Strategy failed, trying next", "strategy", s.Name(), "mode", mode, "error", err)
			if result.Failures == nil {
				result.Failures = make(map[string]error)
			}
			result.Failures[s.Name()] = err
			continue
		}
		result.Refined = &record
		result.Source = s.Name()
		break
	}

	p.log.Info("Processed document", "mode", mode, "source", result.Source, "text_len", len(text))
	return result
}
