package commands

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func NewDocumentCommand() *cobra.Command {
	var (
		version string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "document <guardrail>",
		Short: "Render a guardrail as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc string
			if IsAPIAccess() {
				endpoint := "/v1/guardrails/" + url.PathEscape(args[0]) + "/document"
				if version != "" {
					endpoint += "?version=" + url.QueryEscape(version)
				}
				resp, err := APIRequest(http.MethodGet, endpoint, nil)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("server returned %d", resp.StatusCode)
				}
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					return err
				}
				doc = string(body)
			} else {
				l, err := newLocal()
				if err != nil {
					return err
				}
				guardrail, err := l.registry.Lookup(args[0], version)
				if err != nil {
					return err
				}
				doc = l.validator.Document(guardrail)
			}

			if output != "" {
				return os.WriteFile(output, []byte(doc), 0o644)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), doc)
			return err
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "guardrail version (default: latest)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
