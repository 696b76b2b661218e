package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pipeline"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

// NoHistoryAnswer is returned by Ask when the owner has no processed invoices
const NoHistoryAnswer = "No tienes facturas procesadas aún. Por favor, sube y procesa una factura primero para poder hacer preguntas."

// FallbackNotice tells the user an AI mode fell back to the pattern baseline
const FallbackNotice = "No se pudo refinar con IA; se muestran los datos extraídos por patrones."

// DefaultHistoryLimit is the number of recent invoices loaded as AI context
const DefaultHistoryLimit = 5

// Processor runs the extraction pipeline and answers questions
type Processor interface {
	Process(ctx context.Context, text string, mode pipeline.Mode, history []invoice.HistoryEntry) pipeline.Result
	Ask(ctx context.Context, question string, c pipeline.AskContext, history []invoice.HistoryEntry) (string, error)
}

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// ProcessResult is the outcome of processing one document
type ProcessResult struct {
	ID          string          `json:"id,omitempty"`
	Mode        pipeline.Mode   `json:"mode"`
	Source      string          `json:"source"`
	RawText     string          `json:"raw_text"`
	DataInitial invoice.Record  `json:"data_initial"`
	DataRefined *invoice.Record `json:"data_refined"`
	SavedToDB   bool            `json:"saved_to_db"`
	Notice      string          `json:"notice,omitempty"`
}

// Canonical returns the AI record when there is one, else the baseline
func (p *ProcessResult) Canonical() invoice.Record {
	if p.DataRefined != nil {
		return *p.DataRefined
	}
	return p.DataInitial
}

// FellBack reports whether an AI mode was requested but the baseline won
func (p *ProcessResult) FellBack() bool {
	return p.Mode != pipeline.ModePattern && p.DataRefined == nil
}

// Service handles invoice operations
type Service struct {
	db           DB
	producer     scanning.TextProducer
	processor    Processor
	storage      Storage
	idGenerator  IDGenerator
	timeSource   TimeSource
	historyLimit int
}

// NewService creates a Service with UUID identifiers and the system clock
func NewService(db DB, producer scanning.TextProducer, processor Processor, storage Storage, historyLimit int) *Service {
	return NewServiceWithDeps(db, producer, processor, storage, historyLimit, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, producer scanning.TextProducer, processor Processor, storage Storage, historyLimit int, idGen IDGenerator, timeSrc TimeSource) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{
		db:           db,
		producer:     producer,
		processor:    processor,
		storage:      storage,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		historyLimit: historyLimit,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters from phone-generated names and truncates them
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	base = strings.ReplaceAll(base, " ", "_")
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

func ownerOrDefault(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return DefaultOwner
	}
	return owner
}

// ProcessUpload archives an uploaded document, reads its text and runs the
// pipeline. When save is set the canonical record is persisted; a persistence
// failure is reported as SavedToDB=false rather than an error.
func (s *Service) ProcessUpload(ctx context.Context, owner, filename string, data []byte, contentType string, mode pipeline.Mode, save bool) (*ProcessResult, error) {
	owner = ownerOrDefault(owner)
	id := s.idGenerator.Generate()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	text, err := s.producer.ProduceText(ctx, s.storage.Path(savedPath))
	if err != nil {
		slog.Error("Failed to read invoice",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("reading invoice text: %w", err)
	}

	result := s.process(ctx, owner, id, text, mode, save, savedPath, contentType)
	if !result.SavedToDB {
		s.removeFile(savedPath)
	}
	return result, nil
}

// ProcessFile reads the document at path without archiving it and runs the pipeline
func (s *Service) ProcessFile(ctx context.Context, owner, path string, mode pipeline.Mode, save bool) (*ProcessResult, error) {
	text, err := s.producer.ProduceText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading invoice text: %w", err)
	}
	return s.process(ctx, ownerOrDefault(owner), s.idGenerator.Generate(), text, mode, save, "", ""), nil
}

// ProcessText runs the pipeline over already extracted text
func (s *Service) ProcessText(ctx context.Context, owner, text string, mode pipeline.Mode, save bool) *ProcessResult {
	return s.process(ctx, ownerOrDefault(owner), s.idGenerator.Generate(), text, mode, save, "", "")
}

func (s *Service) process(ctx context.Context, owner, id, text string, mode pipeline.Mode, save bool, filename, contentType string) *ProcessResult {
	var history []invoice.HistoryEntry
	if mode != pipeline.ModePattern {
		var err error
		history, err = s.History(ctx, owner)
		if err != nil {
			slog.Warn("Failed to load invoice history", "owner", owner, "error", err)
		}
	}

	res := s.processor.Process(ctx, text, mode, history)
	result := &ProcessResult{
		Mode:        mode,
		Source:      res.Source,
		RawText:     res.RawText,
		DataInitial: res.Initial,
		DataRefined: res.Refined,
	}
	if !save {
		return result
	}

	stored := NewStoredInvoice(id, owner, result.Canonical(), text, s.timeSource.Now())
	stored.Source = res.Source
	stored.Filename = filename
	stored.ContentType = contentType
	if err := s.db.SaveInvoice(stored); err != nil {
		slog.Error("Failed to save invoice", "owner", owner, "id", id, "error", err)
		return result
	}

	result.ID = id
	result.SavedToDB = true
	return result
}

// History returns the owner's most recent invoices as AI context, newest first
func (s *Service) History(ctx context.Context, owner string) ([]invoice.HistoryEntry, error) {
	stored, err := s.db.ListRecent(ownerOrDefault(owner), s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("listing recent invoices: %w", err)
	}
	history := make([]invoice.HistoryEntry, 0, len(stored))
	for _, inv := range stored {
		history = append(history, inv.HistoryEntry())
	}
	return history, nil
}

// Ask answers a question about the current invoice, or about the owner's
// history when current is nil or incomplete.
func (s *Service) Ask(ctx context.Context, owner, question string, current *pipeline.AskContext) (string, error) {
	owner = ownerOrDefault(owner)
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question is required")
	}

	history, err := s.History(ctx, owner)
	if err != nil {
		slog.Warn("Failed to load invoice history", "owner", owner, "error", err)
		history = nil
	}

	var askCtx pipeline.AskContext
	if current != nil && current.RawText != "" && len(current.Data) > 0 {
		askCtx = *current
	} else {
		var ok bool
		askCtx, ok = pipeline.HistoryContext(history)
		if !ok {
			return NoHistoryAnswer, nil
		}
	}

	answer, err := s.processor.Ask(ctx, fmt.Sprintf("[Usuario: %s] %s", owner, question), askCtx, history)
	if err != nil {
		return "", fmt.Errorf("answering question: %w", err)
	}
	return answer, nil
}

// Get retrieves an invoice by ID
func (s *Service) Get(owner, id string) (*StoredInvoice, error) {
	inv, err := s.db.GetInvoice(ownerOrDefault(owner), id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return inv, nil
}

// List returns up to limit invoices of owner, newest first. Zero lists all.
func (s *Service) List(owner string, limit int) ([]*StoredInvoice, error) {
	invoices, err := s.db.ListRecent(ownerOrDefault(owner), limit)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// Delete removes an invoice and its archived file
func (s *Service) Delete(owner, id string) error {
	owner = ownerOrDefault(owner)
	inv, err := s.db.GetInvoice(owner, id)
	if err != nil {
		return fmt.Errorf("getting invoice for deletion: %w", err)
	}

	if inv.Filename != "" {
		s.removeFile(inv.Filename)
	}

	if err := s.db.DeleteInvoice(owner, id); err != nil {
		return fmt.Errorf("deleting invoice from database: %w", err)
	}
	return nil
}

// GetInvoiceFile returns the archived document of an invoice
func (s *Service) GetInvoiceFile(owner, id string) ([]byte, string, error) {
	inv, err := s.db.GetInvoice(ownerOrDefault(owner), id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}
	if inv.Filename == "" {
		return nil, "", fmt.Errorf("%w: invoice %s has no archived file", ErrNotFound, id)
	}

	data, err := s.storage.Get(inv.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	contentType := inv.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (s *Service) removeFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}
