package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amerfu/pguard/internal/auth"
)

func NewTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token signed with auth.jwt.secret_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Auth.JWT.SecretKey == "" {
				return fmt.Errorf("auth.jwt.secret_key is not configured")
			}
			if role != auth.RoleAdmin && role != auth.RoleValidator {
				return fmt.Errorf("role must be %q or %q", auth.RoleAdmin, auth.RoleValidator)
			}

			token, err := auth.NewTokenService(cfg.Auth.JWT.SecretKey, cfg.Auth.JWT.Issuer).Issue(subject, role, ttl)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(cmd.OutOrStdout(), map[string]string{
					"token":      token,
					"subject":    subject,
					"role":       role,
					"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the calling service")
	cmd.Flags().StringVar(&role, "role", auth.RoleValidator, "admin or validator")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
