package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gordyrad/chat-pulse/internal/analysis"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the configured LLM provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		requireValidConfig()

		provider, err := analysis.NewProvider(cfg.LLM)
		if err != nil {
			return err
		}
		lister, ok := provider.(analysis.ModelLister)
		if !ok {
			return fmt.Errorf("%s does not support listing models", provider.Name())
		}
		ids, err := lister.ListModels(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Models for %s (%d):\n", provider.Name(), len(ids))
		for _, id := range ids {
			marker := "  "
			if id == cfg.LLM.RelevanceModel || id == cfg.LLM.SummaryModel {
				marker = "* "
			}
			fmt.Fprintf(out, "%s%s\n", marker, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
