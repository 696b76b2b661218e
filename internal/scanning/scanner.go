package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned for files that are neither a PDF nor a supported image
var ErrUnsupportedFormat = errors.New("unsupported document format")

// pageSeparator joins the text of consecutive pages
const pageSeparator = "\n\n"

// TextProducer turns a document file into raw OCR text
type TextProducer interface {
	// ProduceText reads the file at path and returns its text. Any failure is
	// fatal for that document.
	ProduceText(ctx context.Context, path string) (string, error)
}

// Config configures the tesseract text producer
type Config struct {
	// Tesseract is the binary name or absolute path
	Tesseract string
	// Lang is passed to tesseract -l
	Lang string
	// TempDir holds intermediate PNG renders; empty uses the system default
	TempDir string
}

// Tesseract produces text with the tesseract CLI. PDFs use their embedded
// text when a page has any and are rendered to PNG otherwise. HEIC photos are
// converted to PNG first.
type Tesseract struct {
	cfg    Config
	runner Runner
	log    *slog.Logger
}

// Option configures a Tesseract
type Option func(*Tesseract)

// WithRunner replaces the command runner
func WithRunner(r Runner) Option {
	return func(t *Tesseract) {
		t.runner = r
	}
}

// NewTesseract creates a Tesseract text producer
func NewTesseract(cfg Config, logger *slog.Logger, opts ...Option) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "spa+eng"
	}
	t := &Tesseract{cfg: cfg, runner: execRunner{log: logger}, log: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ProduceText implements TextProducer
func (t *Tesseract) ProduceText(ctx context.Context, path string) (string, error) {
	start := time.Now()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch {
	case ext == ".pdf":
		text, err = t.pdfText(ctx, path)
	case isHEICExt(ext):
		text, err = t.heicText(ctx, path)
	case isImageExt(ext):
		text, err = t.ocr(ctx, path)
	default:
		// Extensionless uploads may still be HEIC photos
		if heic, _ := fileIsHEIC(path); heic {
			text, err = t.heicText(ctx, path)
		} else {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
	}
	if err != nil {
		t.log.Error("Failed to produce text", "path", path, "error", err)
		return "", err
	}

	t.log.Info("Produced document text", "path", path, "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

// ocr runs tesseract on one image file
func (t *Tesseract) ocr(ctx context.Context, imagePath string) (string, error) {
	out, stderr, err := t.runner.Run(ctx, t.cfg.Tesseract, imagePath, "stdout", "-l", t.cfg.Lang)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg != "" {
			return "", fmt.Errorf("running tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return string(out), nil
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return true
	}
	return false
}

func isHEICExt(ext string) bool {
	return ext == ".heic" || ext == ".heif"
}
