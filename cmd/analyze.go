package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/report"
)

var (
	analyzeFiles   []string
	analyzeFormat  string
	analyzeWorkers int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the relevance check and summary on exported conversations",
	Long: `Runs both LLM stages over conversations exported as JSON arrays of messages,
without the approval workflow or rate limits. The summary stage only runs when
the relevance check passes. Useful for tuning prompts and the threshold.

Each message object has the fields id, author_id, author_name, content and
timestamp (RFC 3339), plus optional bot, system, attachments and embeds.

Exit codes:
  0  Success
  1  One or more files failed
  3  Configuration error`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requireValidConfig()
		if len(analyzeFiles) == 0 {
			return fmt.Errorf("at least one --file is required")
		}
		if err := checkFormat(analyzeFormat); err != nil {
			return err
		}

		logger := newLogger(cfg.Verbose)
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		results := make([]*pipeline.AnalyzeResult, len(analyzeFiles))
		errs := make([]error, len(analyzeFiles))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(analyzeWorkers, 1))
		for i, path := range analyzeFiles {
			g.Go(func() error {
				msgs, err := loadFixture(path)
				if err != nil {
					errs[i] = err
					return nil
				}
				p, err := pipeline.New(cfg, s, collector.StaticSource(msgs), nil, logger)
				if err != nil {
					// Provider setup fails the same way for every file.
					return err
				}
				defer p.Close()
				results[i], errs[i] = p.Analyze(gctx, filepath.Base(path))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		md := report.NewMarkdownGenerator("", cfg.Location())
		var failed int
		for i, path := range analyzeFiles {
			if errs[i] != nil {
				failed++
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, errs[i])
				continue
			}
			if analyzeFormat == "json" {
				data, err := json.MarshalIndent(results[i], "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling result: %w", err)
				}
				fmt.Fprintln(out, string(data))
				continue
			}
			fmt.Fprintln(out, md.RenderAnalysis(filepath.Base(path), results[i]))
		}
		if analyzeFormat == "markdown" {
			printUsage(cmd, s)
		}

		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d file(s) failed\n", failed, len(analyzeFiles))
			os.Exit(1)
		}
		return nil
	},
}

// loadFixture reads an exported conversation.
func loadFixture(path string) ([]collector.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var msgs []collector.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return msgs, nil
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeFiles, "file", nil, "Conversation export to analyze (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "markdown", "Output format: markdown, json")
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 4, "Files analyzed concurrently")
	rootCmd.AddCommand(analyzeCmd)
}
