package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/report"
	"github.com/gordyrad/chat-pulse/internal/store"
)

var (
	pendingFormat    string
	pendingOutputDir string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect summaries in the approval workflow",
	Long: `Reads the persisted workflow state from the local database and prints the
summaries that are awaiting an admin decision, failed to generate, or were
recently decided. Safe to run while the bot is serving.`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(pendingFormat); err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ps, err := pipeline.LoadPending(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("loading workflow state: %w", err)
		}

		out := cmd.OutOrStdout()
		if pendingFormat == "json" {
			data, err := report.NewJSONGenerator(pendingOutputDir).RenderList(ps)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprint(out, report.NewMarkdownGenerator(pendingOutputDir, cfg.Location()).RenderList(ps))
		printUsage(cmd, s)
		return nil
	},
}

var pendingShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one pending summary in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(pendingFormat); err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ps, err := pipeline.LoadPending(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("loading workflow state: %w", err)
		}
		var found *pipeline.PendingSummary
		for _, p := range ps {
			if p.ID == args[0] {
				found = p
				break
			}
		}
		if found == nil {
			return fmt.Errorf("no pending summary with id %q", args[0])
		}

		out := cmd.OutOrStdout()
		if pendingFormat == "json" {
			g := report.NewJSONGenerator(pendingOutputDir)
			if pendingOutputDir != "" {
				path, err := g.WritePending(found)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Written to %s\n", path)
				return nil
			}
			data, err := g.Render(found)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		g := report.NewMarkdownGenerator(pendingOutputDir, cfg.Location())
		if pendingOutputDir != "" {
			path, err := g.WritePending(found)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Written to %s\n", path)
			return nil
		}
		fmt.Fprint(out, g.Render(found))
		return nil
	},
}

func checkFormat(f string) error {
	switch f {
	case "markdown", "json":
		return nil
	}
	return fmt.Errorf("unsupported format %q (use markdown or json)", f)
}

// printUsage appends the LLM usage of the last 24 hours.
func printUsage(cmd *cobra.Command, s *store.Store) {
	u, err := s.UsageSince(cmd.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		return
	}
	writeUsage(cmd.OutOrStdout(), u)
}

func writeUsage(w io.Writer, u store.Usage) {
	fmt.Fprintf(w, "\nLLM usage (24h): %d calls, %d cache hits, %d tokens\n", u.Calls, u.CacheHits, u.Tokens)
}

func init() {
	pendingCmd.PersistentFlags().StringVar(&pendingFormat, "format", "markdown", "Output format: markdown, json")
	pendingCmd.PersistentFlags().StringVar(&pendingOutputDir, "output-dir", "", "Write the summary to this directory instead of stdout (show only)")
	pendingCmd.AddCommand(pendingListCmd, pendingShowCmd)
	rootCmd.AddCommand(pendingCmd)
}
