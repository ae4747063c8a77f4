package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build every guardrail",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLocal()
			if err != nil {
				return err
			}

			source := viper.ConfigFileUsed()
			if source == "" {
				source = "defaults and environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (%s): %d guardrails, %d policy files, audit sink %s, review backend %s\n",
				source, l.registry.Len(), len(cfg.Guardrails.PolicyFiles), cfg.Audit.Sink, cfg.Review.Backend)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			if shown.Auth.MasterKey != "" {
				shown.Auth.MasterKey = "****"
			}
			if shown.Auth.JWT.SecretKey != "" {
				shown.Auth.JWT.SecretKey = "****"
			}
			OutputJSON(cmd.OutOrStdout(), shown)
			return nil
		},
	})

	return cmd
}
