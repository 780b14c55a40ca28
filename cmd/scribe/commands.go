package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openscribe/console/internal/analysis"
	"github.com/openscribe/console/internal/config"
	"github.com/openscribe/console/internal/history"
	"github.com/openscribe/console/internal/jobclient"
	"github.com/openscribe/console/internal/upload"
	"github.com/openscribe/console/internal/workflow"
)

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
}

func newJobClient(cfg config.Config) *jobclient.Client {
	if cfg.API.Token == "" {
		printWarning("no API token configured; set SCRIBE_API_TOKEN if the service requires one")
	}
	return jobclient.New(cfg.API.BaseURL, jobclient.StaticToken(cfg.API.Token))
}

// historyRecorder persists workflow lifecycle events to the local submission
// log. Failures are logged and swallowed; history must never break an
// analysis.
type historyRecorder struct {
	store *history.Store
}

func (r *historyRecorder) SubmissionStarted(jobID, fileName, documentType string) {
	err := r.store.SaveSubmission(history.Submission{
		ID:           uuid.NewString(),
		JobID:        jobID,
		FileName:     fileName,
		DocumentType: documentType,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("recording submission failed", "job_id", jobID, "error", err)
	}
}

func (r *historyRecorder) SubmissionFinished(jobID string, phase workflow.Phase, errMsg string) {
	if err := r.store.FinishSubmission(jobID, string(phase), errMsg); err != nil && !errors.Is(err, history.ErrNotFound) {
		slog.Warn("recording submission outcome failed", "job_id", jobID, "error", err)
	}
}

func openRecorder(cfg config.Config) (*historyRecorder, func()) {
	store, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		printWarning("submission history unavailable: %v", err)
		return nil, func() {}
	}
	return &historyRecorder{store: store}, func() { store.Close() }
}

func loadCandidate(path string) (upload.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return upload.Candidate{}, fmt.Errorf("reading file: %w", err)
	}
	return upload.Candidate{
		FileName: filepath.Base(path),
		MIMEType: upload.DetectMIMEType(path),
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file> [file...]",
	Short: "Submit transcript files for analysis and wait for the results",
	Long: `Submit transcript files for analysis and wait for the results.

Examples:
  scribe analyze visit.pdf
  scribe analyze visit.pdf --document-type visit_note --output result.json
  scribe analyze scans/*.png --concurrency 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentType, _ := cmd.Flags().GetString("document-type")
		output, _ := cmd.Flags().GetString("output")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency < 1 {
			concurrency = 1
		}
		if output != "" && len(args) > 1 {
			return fmt.Errorf("--output only applies to a single file")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		client := newJobClient(cfg)
		recorder, closeHistory := openRecorder(cfg)
		defer closeHistory()

		if len(args) == 1 {
			st, err := analyzeFile(cmd.Context(), client, cfg, recorder, args[0], documentType, true)
			if err != nil {
				return err
			}
			return reportResult(args[0], st, output)
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(concurrency)
		states := make([]workflow.State, len(args))
		for i, path := range args {
			g.Go(func() error {
				st, err := analyzeFile(ctx, client, cfg, recorder, path, documentType, false)
				states[i] = st
				return err
			})
		}
		err = g.Wait()
		for i, path := range args {
			reportResult(path, states[i], "")
		}
		return err
	},
}

func init() {
	analyzeCmd.Flags().String("document-type", "", "document type hint passed to the service")
	analyzeCmd.Flags().String("output", "", "write the full result JSON to this file")
	analyzeCmd.Flags().Int("concurrency", 2, "maximum analyses to run at once")
}

func analyzeFile(ctx context.Context, client *jobclient.Client, cfg config.Config, recorder *historyRecorder, path, documentType string, verbose bool) (workflow.State, error) {
	cand, err := loadCandidate(path)
	if err != nil {
		return workflow.State{}, err
	}

	opts := []workflow.Option{}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}
	if verbose {
		lastProgress, lastRetry := -1, 0
		opts = append(opts, workflow.WithOnChange(func(st workflow.State) {
			if st.Phase != workflow.PhaseProcessing {
				return
			}
			if st.Retry > lastRetry {
				lastRetry = st.Retry
				printWarning("status check failed, retrying (%d/%d)", st.Retry, st.MaxRetries)
				return
			}
			if st.Progress > lastProgress {
				lastProgress = st.Progress
				printStep("processing %s... %d%%", filepath.Base(path), st.Progress)
			}
		}))
	}

	ctrl := workflow.New(client, cfg.PollSettings(), opts...)
	defer ctrl.Close()

	if err := ctrl.Submit(ctx, cand, documentType); err != nil {
		st := ctrl.State()
		if st.Err != "" {
			return st, fmt.Errorf("%s: %s", path, st.Err)
		}
		return st, err
	}
	st, err := ctrl.WaitTerminal(ctx)
	if err != nil {
		return st, err
	}
	if st.Phase == workflow.PhaseCompleted {
		st = awaitMetadata(ctrl, 3*time.Second)
	}
	return st, nil
}

// awaitMetadata gives the best-effort details fetch a moment to land after
// the terminal transition.
func awaitMetadata(ctrl *workflow.Controller, timeout time.Duration) workflow.State {
	deadline := time.Now().Add(timeout)
	for {
		st := ctrl.State()
		if st.Metadata != nil || time.Now().After(deadline) {
			return st
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func reportResult(path string, st workflow.State, output string) error {
	switch st.Phase {
	case workflow.PhaseCompleted:
		printSuccess("%s: analysis complete (job %s)", path, st.JobID)
	case workflow.PhaseFailed:
		printError("%s: %s", path, st.Err)
		return nil
	default:
		return nil
	}

	if st.Result == nil {
		return nil
	}

	if output != "" {
		payload := map[string]any{
			"job_id":     st.JobID,
			"first_pass": st.Result.FirstPass.Visible(),
			"final_pass": st.Result.FinalPass.Visible(),
		}
		if st.Metadata != nil {
			payload["processing_metadata"] = st.Metadata
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		printSuccess("Result written to %s", output)
		return nil
	}

	for _, section := range st.Result.FinalPass.SectionNames() {
		printStatus(section, "%s", formatSection(st.Result.FinalPass[section]))
	}
	if st.Metadata != nil && st.Metadata.FinalPassConfidence != nil {
		printStatus("Confidence", "%.2f", *st.Metadata.FinalPassConfidence)
	}
	return nil
}

func formatSection(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current state of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		client := newJobClient(cfg)

		job, err := client.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		if len(job.Documents) == 0 {
			return nil
		}
		doc := job.Documents[0]
		if doc.Status == analysis.StatusFailed {
			printError("%s", analysis.Classify(errCode(doc), errMessage(doc)))
			return nil
		}
		if doc.Status != analysis.StatusCompleted {
			return nil
		}

		result := analysis.Normalize(doc)
		for _, section := range result.FinalPass.SectionNames() {
			printStatus(section, "%s", formatSection(result.FinalPass[section]))
		}
		if meta, err := client.Details(cmd.Context(), job.ID); err == nil && meta != nil {
			if meta.FinalPassConfidence != nil {
				printStatus("Confidence", "%.2f", *meta.FinalPassConfidence)
			}
			for _, w := range meta.Warnings {
				printWarning("%s", w)
			}
		}
		return nil
	},
}

func errCode(doc analysis.Document) string {
	if doc.Error == nil {
		return ""
	}
	return doc.Error.Code
}

func errMessage(doc analysis.Document) string {
	if doc.Error == nil {
		return ""
	}
	return doc.Error.Message
}

// --- inspect ---

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Check a file against the upload policy without submitting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cand, err := loadCandidate(args[0])
		if err != nil {
			return err
		}

		printStatus("File", "%s", cand.FileName)
		printStatus("Type", "%s", orUnknown(cand.MIMEType))
		printStatus("Size", "%d bytes (limit %d)", cand.Size, int64(upload.MaxSizeBytes))

		if err := upload.Validate(cand); err != nil {
			var ve *upload.ValidationError
			if errors.As(err, &ve) {
				printError("%s", analysis.Classify(ve.Code, ""))
				return nil
			}
			return err
		}

		if cand.MIMEType == "application/pdf" {
			info, err := upload.PreflightPDF(cand.Data)
			if err != nil {
				printWarning("file does not parse as a PDF: %v", err)
				return nil
			}
			printStatus("Pages", "%d", info.Pages)
		}

		printSuccess("File is accepted for upload")
		return nil
	},
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent analysis submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := history.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening submission history: %w", err)
		}
		defer store.Close()

		subs, err := store.RecentSubmissions(limit)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Println("No submissions recorded.")
			return nil
		}

		for _, sub := range subs {
			line := fmt.Sprintf("%s  %-10s  %s  (job %s)",
				sub.CreatedAt.Format(time.RFC3339), sub.Phase, sub.FileName, sub.JobID)
			switch sub.Phase {
			case "failed":
				fmt.Println(colorize(ansiRed, line))
			case "completed":
				fmt.Println(colorize(ansiGreen, line))
			default:
				fmt.Println(line)
			}
			if sub.Error != "" {
				fmt.Printf("    %s\n", sub.Error)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of submissions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
