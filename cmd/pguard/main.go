package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amerfu/pguard/cmd/pguard/commands"
)

var (
	cfgFile    string
	apiURL     string
	apiKey     string
	outputJSON bool
	verbose    bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pguard",
		Short: "Guardrail validation CLI",
		Long: `Validate and enforce guardrails against records, render guardrail
documentation and manage service tokens. Guardrails are loaded from the
local configuration, or evaluated by a running server when --api-url is set.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			commands.SetAPIConfig(apiURL, apiKey)
			commands.SetOutputJSON(outputJSON)
			commands.SetVerbose(verbose)
			return commands.LoadConfig(cfgFile)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file or directory (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "server base URL for remote evaluation")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key or token for remote evaluation")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	commands.AddCommands(rootCmd)
	return rootCmd
}
