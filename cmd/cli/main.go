package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/canon"
	"github.com/dvloznov/pdf2ofx/internal/extract"
	"github.com/dvloznov/pdf2ofx/internal/gcs"
	"github.com/dvloznov/pdf2ofx/internal/jobs"
	"github.com/dvloznov/pdf2ofx/internal/jobs/inmemory"
	"github.com/dvloznov/pdf2ofx/internal/logger"
	"github.com/dvloznov/pdf2ofx/internal/ofx"
	"github.com/dvloznov/pdf2ofx/internal/pipeline"
	"github.com/dvloznov/pdf2ofx/internal/statement"
)

func main() {
	log := logger.NewWithLevel(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		runConvert(log)
	case "batch":
		runBatch(log)
	case "extract":
		runExtract(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pdf2ofx CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  convert   Convert one extraction payload (or edited statement) to OFX")
	fmt.Println("  batch     Convert every payload in a directory")
	fmt.Println("  extract   Run OCR extraction on a statement PDF")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// accountFlags binds the shared account-default flags onto a FlagSet.
func accountFlags(fs *flag.FlagSet) *canon.AccountDefaults {
	d := &canon.AccountDefaults{}
	fs.StringVar(&d.AccountID, "account-id", "", "Account ID fallback when the payload has none")
	fs.StringVar(&d.BankID, "bank-id", "", "Bank ID (sort code / routing number) fallback")
	fs.StringVar(&d.AccountType, "account-type", "CHECKING", "Account type (CHECKING, SAVINGS, ...)")
	fs.StringVar(&d.Currency, "currency", "", "Currency fallback (ISO 4217)")
	return d
}

func parseBalance(log zerolog.Logger, name, val string) *decimal.Decimal {
	if val == "" {
		return nil
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		log.Fatal().Str("flag", name).Str("value", val).Msg("Balance is not a number")
	}
	return &d
}

func runConvert(log zerolog.Logger) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "Input payload JSON (local path or gs:// URI)")
	out := fs.String("out", "", "Output OFX path (defaults to input with .ofx extension)")
	format := fs.String("format", "OFX2", "OFX variant: OFX2 (XML) or OFX1 (SGML)")
	fromStatement := fs.Bool("statement", false, "Treat input as an edited canonical statement, not a vendor payload")
	fromPDF := fs.Bool("from-pdf", false, "Treat input as a statement PDF and run extraction first")
	saveStatement := fs.String("save-statement", "", "Also write the canonical statement JSON to this path")
	startBal := fs.String("start-bal", "", "Starting balance override")
	endBal := fs.String("end-bal", "", "Ending balance override")
	lowConfidence := fs.Bool("low-confidence", false, "Mark the extraction as low confidence")
	defaults := accountFlags(fs)
	fs.Parse(os.Args[2:])

	if *in == "" {
		log.Fatal().Msg("Error: --in is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := gcs.NewStore()
	data, err := store.Fetch(ctx, *in)
	if err != nil {
		log.Fatal().Err(err).Str("in", *in).Msg("Could not read input")
	}

	opts := pipeline.Options{
		Defaults:      *defaults,
		Format:        ofx.Format(strings.ToUpper(*format)),
		StartingBal:   parseBalance(log, "start-bal", *startBal),
		EndingBal:     parseBalance(log, "end-bal", *endBal),
		PDFName:       gcs.ObjectName(*in),
		LowConfidence: *lowConfidence,
	}

	var result *pipeline.Result
	switch {
	case *fromStatement:
		var st statement.Statement
		if err := json.Unmarshal(data, &st); err != nil {
			log.Fatal().Err(err).Msg("Input is not a canonical statement")
		}
		result, err = pipeline.RunStatement(ctx, &st, nil, opts)
	case *fromPDF:
		result, err = pipeline.RunDocument(ctx, extract.NewGemini(""), data, opts)
	default:
		var raw map[string]any
		raw, err = pipeline.DecodePayload(data)
		if err != nil {
			log.Fatal().Err(err).Msg("Input is not a JSON payload")
		}
		result, err = pipeline.Run(ctx, raw, opts)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Conversion failed")
	}

	dest := *out
	if dest == "" {
		dest = replaceExt(*in, ".ofx")
	}
	if err := store.Upload(ctx, dest, result.Document); err != nil {
		log.Fatal().Err(err).Str("out", dest).Msg("Could not write OFX document")
	}

	if *saveStatement != "" {
		stJSON, err := json.MarshalIndent(result.Statement, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("Could not marshal statement")
		}
		if err := store.Upload(ctx, *saveStatement, stJSON); err != nil {
			log.Fatal().Err(err).Str("out", *saveStatement).Msg("Could not write statement JSON")
		}
	}

	fmt.Printf("Wrote %s (%d transactions, recon %s, quality %d %s)\n",
		dest, result.Sanity.KeptCount, result.Sanity.ReconStatus,
		result.Sanity.QualityScore, result.Sanity.QualityLabel)

	for _, w := range result.Sanity.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func runBatch(log zerolog.Logger) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in-dir", "", "Directory of payload JSON files")
	outDir := fs.String("out-dir", "", "Directory for OFX output (defaults to in-dir)")
	format := fs.String("format", "OFX2", "OFX variant: OFX2 (XML) or OFX1 (SGML)")
	workers := fs.Int("workers", 4, "Concurrent conversions")
	defaults := accountFlags(fs)
	fs.Parse(os.Args[2:])

	if *inDir == "" {
		log.Fatal().Msg("Error: --in-dir is required")
	}
	if *outDir == "" {
		*outDir = *inDir
	}

	entries, err := os.ReadDir(*inDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *inDir).Msg("Could not read input directory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := gcs.NewStore()
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(len(entries)+1, *workers, jobStore)

	handler := func(ctx context.Context, j jobs.Job) error {
		job, ok := j.(*jobs.ConvertStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", j)
		}

		data, err := store.Fetch(ctx, job.SourceURI)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", job.SourceURI, err)
		}
		raw, err := pipeline.DecodePayload(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", job.SourceURI, err)
		}

		result, err := pipeline.Run(ctx, raw, pipeline.Options{
			Defaults: *defaults,
			Format:   ofx.Format(job.Format),
			PDFName:  gcs.ObjectName(job.SourceURI),
		})
		if err != nil {
			return err
		}
		return store.Upload(ctx, job.OutputURI, result.Document)
	}

	if err := queue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Could not start workers")
	}

	var jobIDs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		job := &jobs.ConvertStatementJob{
			SourceURI:  filepath.Join(*inDir, e.Name()),
			OutputURI:  filepath.Join(*outDir, replaceExt(e.Name(), ".ofx")),
			Format:     strings.ToUpper(*format),
			MaxRetries: 1,
		}
		if err := queue.PublishConvertStatement(ctx, job); err != nil {
			log.Fatal().Err(err).Str("file", e.Name()).Msg("Could not enqueue job")
		}
		jobIDs = append(jobIDs, job.JobID)
	}

	if len(jobIDs) == 0 {
		log.Fatal().Str("dir", *inDir).Msg("No payload files found")
	}

	failed := waitForJobs(ctx, jobStore, jobIDs, log)

	if err := queue.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping queue")
	}

	fmt.Printf("Converted %d/%d statements\n", len(jobIDs)-failed, len(jobIDs))
	if failed > 0 {
		os.Exit(1)
	}
}

// waitForJobs blocks until all jobs are completed or failed and returns
// the failure count.
func waitForJobs(ctx context.Context, store jobs.JobStore, jobIDs []string, log zerolog.Logger) int {
	pending := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = struct{}{}
	}

	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			log.Error().Int("remaining", len(pending)).Msg("Timed out waiting for jobs")
			return failed + len(pending)
		case <-time.After(100 * time.Millisecond):
		}

		for id := range pending {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				continue
			}
			switch job.Status {
			case jobs.JobStatusCompleted:
				delete(pending, id)
			case jobs.JobStatusFailed:
				log.Error().Str("source", job.SourceURI).Str("error", job.Error).Msg("Conversion failed")
				failed++
				delete(pending, id)
			}
		}
	}
	return failed
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	pdf := fs.String("pdf", "", "Statement PDF (local path or gs:// URI)")
	out := fs.String("out", "", "Output payload path (defaults to PDF with .json extension)")
	model := fs.String("model", extract.DefaultModel, "Gemini model to use")
	fs.Parse(os.Args[2:])

	if *pdf == "" {
		log.Fatal().Msg("Error: --pdf is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := gcs.NewStore()
	data, err := store.Fetch(ctx, *pdf)
	if err != nil {
		log.Fatal().Err(err).Str("pdf", *pdf).Msg("Could not read PDF")
	}

	payload, err := extract.NewGemini(*model).Extract(ctx, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Could not marshal payload")
	}

	dest := *out
	if dest == "" {
		dest = replaceExt(*pdf, ".json")
	}
	if err := store.Upload(ctx, dest, encoded); err != nil {
		log.Fatal().Err(err).Str("out", dest).Msg("Could not write payload")
	}

	fmt.Printf("Wrote %s\n", dest)
}

// replaceExt swaps the file extension of a path or URI.
func replaceExt(path, ext string) string {
	old := filepath.Ext(path)
	if old == "" {
		return path + ext
	}
	return strings.TrimSuffix(path, old) + ext
}
