package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-extractor/internal/ledger"
	"github.com/zombor/invoice-extractor/internal/pipeline"
)

func newExtractCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	var (
		mode    = fs.StringLong("mode", string(pipeline.ModeRefine), "Extraction mode: pattern, ai or refine")
		saveDB  = fs.BoolLong("save-db", "Save the result to the database")
		output  = fs.StringLong("output", "", "Write the JSON result to this file instead of stdout")
		verbose = fs.BoolLong("verbose", "Print the OCR text to stderr")
	)

	return &ff.Command{
		Name:      "extract",
		Usage:     "invoice-extractor extract [FLAGS] <FILE>",
		ShortHelp: "extract fields from an invoice image or PDF",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("extract requires exactly one file")
			}
			m, err := pipeline.ParseMode(*mode)
			if err != nil {
				return err
			}

			svc, closeAll, err := cfg.openService(m != pipeline.ModePattern)
			if err != nil {
				return err
			}
			defer closeAll()

			result, err := svc.ProcessFile(ctx, *cfg.owner, args[0], m, *saveDB)
			if err != nil {
				return err
			}
			if result.FellBack() {
				result.Notice = ledger.FallbackNotice
			}
			if *verbose {
				fmt.Fprintf(cfg.stderr, "--- OCR ---\n%s\n--- END OCR ---\n", result.RawText)
			}

			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			if *output != "" {
				if err := os.WriteFile(*output, append(data, '\n'), 0644); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
				fmt.Fprintf(cfg.stderr, "Result written to %s\n", *output)
				return nil
			}
			fmt.Fprintln(cfg.stdout, string(data))
			return nil
		},
	}
}

func newAskCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("ask").SetParent(parent)

	return &ff.Command{
		Name:      "ask",
		Usage:     "invoice-extractor ask [FLAGS] <QUESTION>",
		ShortHelp: "ask a question about previously processed invoices",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("ask requires a question")
			}

			svc, closeAll, err := cfg.openService(true)
			if err != nil {
				return err
			}
			defer closeAll()

			answer, err := svc.Ask(ctx, *cfg.owner, question, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cfg.stdout, answer)
			return nil
		},
	}
}

func newHistoryCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("history").SetParent(parent)
	limit := fs.IntLong("limit", 10, "Number of invoices to list, 0 for all")

	return &ff.Command{
		Name:      "history",
		Usage:     "invoice-extractor history [FLAGS]",
		ShortHelp: "list recently processed invoices",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			svc, closeAll, err := cfg.openService(false)
			if err != nil {
				return err
			}
			defer closeAll()

			invoices, err := svc.List(*cfg.owner, *limit)
			if err != nil {
				return err
			}
			if len(invoices) == 0 {
				fmt.Fprintln(cfg.stdout, "No invoices processed yet.")
				return nil
			}

			table := tablewriter.NewWriter(cfg.stdout)
			table.SetHeader([]string{"ID", "Processed", "Number", "Supplier", "Date", "Total", "Source"})
			for _, inv := range invoices {
				table.Append([]string{
					inv.ID,
					humanize.Time(inv.CreatedAt),
					inv.InvoiceNumber,
					inv.Supplier,
					inv.Date,
					inv.Total,
					inv.Source,
				})
			}
			table.Render()
			return nil
		},
	}
}

func newServeCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username, also the owner of uploaded invoices (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-extractor serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			svc, closeAll, err := cfg.openService(true)
			if err != nil {
				return err
			}
			defer closeAll()

			server := ledger.NewServer(svc, ledger.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})
			if *authUser != "" || *authPass != "" {
				fmt.Fprintf(cfg.stderr, "Basic auth enabled for user %s\n", *authUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}
