package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// Mode selects which AI strategies run after the pattern baseline
type Mode string

const (
	// ModePattern uses the pattern extractor only
	ModePattern Mode = "pattern"
	// ModeAI tries AI extraction, then falls back to the baseline
	ModeAI Mode = "ai"
	// ModeRefine tries AI extraction, then AI refinement of the baseline, then the baseline
	ModeRefine Mode = "refine"
)

// ParseMode validates a mode name. An empty name selects ModeRefine.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeRefine, nil
	case ModePattern:
		return ModePattern, nil
	case ModeAI:
		return ModeAI, nil
	case ModeRefine:
		return ModeRefine, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want pattern, ai or refine)", s)
	}
}

// Document is the input every strategy sees
type Document struct {
	RawText  string
	History  []invoice.HistoryEntry
	Baseline invoice.Record
}

// Strategy produces a candidate canonical record. An error means the strategy
// yields nothing and the next one is tried.
type Strategy interface {
	Name() string
	Run(ctx context.Context, doc Document) (invoice.Record, error)
}

// Strategy names as reported in Result.Source
const (
	SourcePattern      = "pattern"
	SourceAIExtraction = "ai_extraction"
	SourceAIRefinement = "ai_refinement"
)

// Extractor is the AI extraction capability
type Extractor interface {
	Extract(ctx context.Context, rawText string, history []invoice.HistoryEntry) (invoice.Record, error)
}

// Refiner is the AI refinement capability
type Refiner interface {
	Refine(ctx context.Context, rawText string, initial invoice.Record) (invoice.Record, error)
}

type strategyFunc struct {
	name string
	run  func(ctx context.Context, doc Document) (invoice.Record, error)
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Run(ctx context.Context, doc Document) (invoice.Record, error) {
	return s.run(ctx, doc)
}

// AIExtraction derives the record directly from the raw text and history.
func AIExtraction(e Extractor) Strategy {
	return strategyFunc{
		name: SourceAIExtraction,
		run: func(ctx context.Context, doc Document) (invoice.Record, error) {
			return e.Extract(ctx, doc.RawText, doc.History)
		},
	}
}

// AIRefinement corrects a copy of the pattern baseline.
func AIRefinement(r Refiner) Strategy {
	return strategyFunc{
		name: SourceAIRefinement,
		run: func(ctx context.Context, doc Document) (invoice.Record, error) {
			return r.Refine(ctx, doc.RawText, doc.Baseline.Clone())
		},
	}
}
