package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags rootFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "particle-agent",
		Short:         "Capture and upload frames for particle detection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to a .env file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "", "Ingestion upload URL (overrides API_ENDPOINT)")
	rootCmd.PersistentFlags().StringVar(&flags.resultsURL, "results-url", "", "Detection results base URL (overrides RESULTS_BASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(newCaptureCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newResultsCommand(ctx))
	rootCmd.AddCommand(newSummaryCommand(ctx))

	return rootCmd
}
