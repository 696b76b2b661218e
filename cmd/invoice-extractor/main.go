package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-extractor/internal/agent"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/ledger"
	"github.com/zombor/invoice-extractor/internal/oracle"
	"github.com/zombor/invoice-extractor/internal/pipeline"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	oracleKind    *string
	oracleURL     *string
	oracleKey     *string
	oracleModel   *string
	oracleTimeout *time.Duration
	geminiKey     *string
	geminiModel   *string
	dbPath        *string
	storagePath   *string
	tesseract     *string
	ocrLang       *string
	historyLimit  *int
	owner         *string
	debug         *bool
	showVersion   *bool
}

func main() {
	// A missing .env file is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := &rootConfig{stdout: stdout, stderr: stderr}

	fs := ff.NewFlagSet("invoice-extractor")
	cfg.oracleKind = fs.StringLong("oracle", "openai", "Oracle backend: 'openai' (any OpenAI-compatible chat endpoint) or 'gemini'")
	cfg.oracleURL = fs.StringLong("oracle-url", oracle.DefaultBaseURL, "Base URL of the OpenAI-compatible endpoint")
	cfg.oracleKey = fs.StringLong("oracle-key", oracle.DefaultAPIKey, "API key of the OpenAI-compatible endpoint")
	cfg.oracleModel = fs.StringLong("oracle-model", oracle.DefaultModel, "Model name of the OpenAI-compatible endpoint")
	cfg.oracleTimeout = fs.DurationLong("oracle-timeout", oracle.DefaultTimeout, "Timeout of one oracle call")
	cfg.geminiKey = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	cfg.geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	cfg.dbPath = fs.StringLong("db", "invoices.db", "Database file path")
	cfg.storagePath = fs.StringLong("storage", "./invoices", "Directory for uploaded documents")
	cfg.tesseract = fs.StringLong("tesseract", "tesseract", "Tesseract binary")
	cfg.ocrLang = fs.StringLong("ocr-lang", "spa+eng", "Tesseract language")
	cfg.historyLimit = fs.IntLong("history-limit", ledger.DefaultHistoryLimit, "Recent invoices used as AI context")
	cfg.owner = fs.StringLong("owner", ledger.DefaultOwner, "Owner of the invoices processed from the command line")
	cfg.debug = fs.BoolLong("debug", "Enable debug logging")
	cfg.showVersion = fs.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "invoice-extractor",
		Usage:     "invoice-extractor [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract structured fields from invoice scans",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *cfg.showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrNoExec
		},
		Subcommands: []*ff.Command{
			newExtractCommand(cfg, fs),
			newAskCommand(cfg, fs),
			newHistoryCommand(cfg, fs),
			newServeCommand(cfg, fs),
		},
	}

	if err := root.Parse(args, ff.WithEnvVarPrefix("INVOICE_EXTRACTOR")); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		if errors.Is(err, ff.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if *cfg.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			return nil
		}
		return err
	}
	return nil
}

// openOracle builds the configured oracle backend
func (c *rootConfig) openOracle() (oracle.Oracle, error) {
	logger := slog.Default()
	switch *c.oracleKind {
	case "openai":
		slog.Info("Using OpenAI-compatible oracle", "url", *c.oracleURL, "model", *c.oracleModel)
		return oracle.NewClient(oracle.Config{
			BaseURL: *c.oracleURL,
			APIKey:  *c.oracleKey,
			Model:   *c.oracleModel,
			Timeout: *c.oracleTimeout,
		}, logger), nil
	case "gemini":
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Using Gemini oracle", "model", *c.geminiModel)
		return oracle.NewGemini(apiKey, *c.geminiModel, *c.oracleTimeout, logger)
	default:
		return nil, fmt.Errorf("invalid oracle %q: want openai or gemini", *c.oracleKind)
	}
}

// openService wires the text producer, pipeline, store and archive. The
// returned close function releases the oracle and the database.
func (c *rootConfig) openService(withOracle bool) (*ledger.Service, func(), error) {
	var (
		assistant pipeline.Assistant
		closers   []func() error
	)
	if withOracle {
		o, err := c.openOracle()
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, o.Close)
		assistant = agent.New(o, slog.Default())
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("Error closing resource", "error", err)
			}
		}
	}

	db, err := ledger.NewBoltDB(*c.dbPath)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	closers = append(closers, db.Close)

	store, err := ledger.NewLocalStorage(*c.storagePath)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	producer := scanning.NewTesseract(scanning.Config{
		Tesseract: *c.tesseract,
		Lang:      *c.ocrLang,
	}, slog.Default())
	p := pipeline.New(extraction.New(), assistant, pipeline.WithLogger(slog.Default()))

	return ledger.NewService(db, producer, p, store, *c.historyLimit), closeAll, nil
}
