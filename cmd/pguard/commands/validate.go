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

// ErrInvalid is returned when at least one record fails validation
var ErrInvalid = errors.New("validation failed")

func NewValidateCommand() *cobra.Command {
	var (
		input   string
		version string
	)

	cmd := &cobra.Command{
		Use:   "validate <guardrail>",
		Short: "Validate records against a guardrail",
		Long: `Validate one JSON record, or a JSON array of records, against a guardrail.
The command exits non-zero when any record is invalid.`,
		Example: `  pguard validate support-reply --input reply.json
  echo '{"output":"hi"}' | pguard validate support-reply`,
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

			var results []*guardrails.ValidationResult
			if IsAPIAccess() {
				results, err = validateRemote(args[0], version, records, batch)
			} else {
				results, err = validateLocal(cmd, args[0], version, records)
			}
			if err != nil {
				return err
			}

			printResults(cmd.OutOrStdout(), results, batch)
			for _, result := range results {
				if !result.IsValid {
					return ErrInvalid
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON file with a record or an array of records (- for stdin)")
	cmd.Flags().StringVar(&version, "version", "", "guardrail version (default: latest)")
	return cmd
}

func validateLocal(cmd *cobra.Command, name, version string, records []guardrails.Record) ([]*guardrails.ValidationResult, error) {
	l, err := newLocal()
	if err != nil {
		return nil, err
	}
	guardrail, err := l.registry.Lookup(name, version)
	if err != nil {
		return nil, err
	}
	return l.validator.ValidateBatch(cmd.Context(), records, guardrail)
}

func validateRemote(name, version string, records []guardrails.Record, batch bool) ([]*guardrails.ValidationResult, error) {
	endpoint := "/v1/guardrails/" + url.PathEscape(name) + "/validate"
	if !batch {
		resp, err := APIRequest(http.MethodPost, endpoint, map[string]interface{}{"record": records[0], "version": version})
		if err != nil {
			return nil, err
		}
		var result guardrails.ValidationResult
		if err := decodeAPIResponse(resp, &result, http.StatusOK); err != nil {
			return nil, err
		}
		return []*guardrails.ValidationResult{&result}, nil
	}

	resp, err := APIRequest(http.MethodPost, endpoint+"/batch", map[string]interface{}{"records": records, "version": version})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []*guardrails.ValidationResult `json:"results"`
	}
	if err := decodeAPIResponse(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func printResults(w io.Writer, results []*guardrails.ValidationResult, batch bool) {
	if outputJSON {
		if batch {
			OutputJSON(w, results)
		} else {
			OutputJSON(w, results[0])
		}
		return
	}

	for i, result := range results {
		if batch {
			fmt.Fprintf(w, "record %d: ", i)
		}
		fmt.Fprintf(w, "%s@%s valid=%t action=%s errors=%d warnings=%d (%.2fms)\n",
			result.GuardrailName, result.GuardrailVersion, result.IsValid, result.ActionTaken,
			result.TotalErrors, result.TotalWarnings, result.ValidationTimeMs)

		rows := make([][]string, 0, len(result.Entries))
		for _, entry := range result.Entries {
			status := "PASS"
			if !entry.Passed {
				status = "FAIL"
			}
			rows = append(rows, []string{entry.ConstraintName, string(entry.Severity), status, entry.Message})
		}
		OutputTable(w, []string{"CONSTRAINT", "SEVERITY", "STATUS", "MESSAGE"}, rows)
		if batch && i < len(results)-1 {
			fmt.Fprintln(w)
		}
	}
}
