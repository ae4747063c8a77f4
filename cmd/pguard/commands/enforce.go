package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/amerfu/pguard/internal/services/guardrails"
)

func NewEnforceCommand() *cobra.Command {
	var (
		input   string
		version string
	)

	cmd := &cobra.Command{
		Use:   "enforce <guardrail>",
		Short: "Validate a record and apply the guardrail's failure action",
		Long: `Enforce a guardrail on one JSON record. FIX prints the corrected record,
REJECT and RETRY exit non-zero. Escalated records are only queued when
evaluated by a server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			records, batch, err := parseRecords(data)
			if err != nil {
				return err
			}
			if batch {
				return fmt.Errorf("enforce takes a single record")
			}

			var decision *guardrails.Decision
			if IsAPIAccess() {
				decision, err = enforceRemote(args[0], version, records[0])
			} else {
				decision, err = enforceLocal(cmd, args[0], version, records[0])
			}
			if decision != nil {
				printDecision(cmd.OutOrStdout(), decision)
			}
			if err != nil {
				return err
			}
			if decision.Retry {
				return fmt.Errorf("guardrail asks for the output to be regenerated")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON file with the record (- for stdin)")
	cmd.Flags().StringVar(&version, "version", "", "guardrail version (default: latest)")
	return cmd
}

func enforceLocal(cmd *cobra.Command, name, version string, record guardrails.Record) (*guardrails.Decision, error) {
	l, err := newLocal()
	if err != nil {
		return nil, err
	}
	guardrail, err := l.registry.Lookup(name, version)
	if err != nil {
		return nil, err
	}
	return l.validator.Enforce(cmd.Context(), record, guardrail)
}

func enforceRemote(name, version string, record guardrails.Record) (*guardrails.Decision, error) {
	endpoint := "/v1/guardrails/" + url.PathEscape(name) + "/enforce"
	resp, err := APIRequest(http.MethodPost, endpoint, map[string]interface{}{"record": record, "version": version})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var rejected struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			Decision *guardrails.Decision `json:"decision"`
		}
		if err := decodeAPIResponse(resp, &rejected, http.StatusUnprocessableEntity); err != nil {
			return nil, err
		}
		return rejected.Decision, errors.New(rejected.Error.Message)
	}

	var decision guardrails.Decision
	if err := decodeAPIResponse(resp, &decision, http.StatusOK); err != nil {
		return nil, err
	}
	return &decision, nil
}

func printDecision(w io.Writer, decision *guardrails.Decision) {
	if outputJSON {
		OutputJSON(w, decision)
		return
	}

	fmt.Fprintf(w, "action: %s\n", decision.Action)
	if decision.Corrected {
		fmt.Fprintf(w, "corrected by: %v\n", decision.Applied)
	}
	if decision.Escalated {
		fmt.Fprintf(w, "queued for review: %s\n", decision.ReviewID)
	}
	if decision.Result != nil {
		fmt.Fprintf(w, "failed constraints: %d\n", len(decision.Result.Failed()))
	}
	if decision.Output != nil {
		OutputJSON(w, decision.Output)
	}
}
