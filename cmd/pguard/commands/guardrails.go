package commands

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

type guardrailRow struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	OnFail      string `json:"on_fail"`
	Constraints int    `json:"constraints"`
	Description string `json:"description,omitempty"`
}

func NewGuardrailsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "guardrails",
		Aliases: []string{"list"},
		Short:   "List the configured guardrails",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := listGuardrails()
			if err != nil {
				return err
			}

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Name, r.Version, r.OnFail, strconv.Itoa(r.Constraints), r.Description})
			}
			OutputTable(cmd.OutOrStdout(), []string{"NAME", "VERSION", "ON_FAIL", "CONSTRAINTS", "DESCRIPTION"}, table)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "checks",
		Short: "List the check types guardrail definitions can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLocal()
			if err != nil {
				return err
			}
			var rows [][]string
			for _, name := range l.factory.Catalog().Names() {
				rows = append(rows, []string{name})
			}
			OutputTable(cmd.OutOrStdout(), []string{"CHECK"}, rows)
			return nil
		},
	})

	return cmd
}

func listGuardrails() ([]guardrailRow, error) {
	if IsAPIAccess() {
		resp, err := APIRequest(http.MethodGet, "/v1/guardrails", nil)
		if err != nil {
			return nil, err
		}
		var out struct {
			Data []guardrailRow `json:"data"`
		}
		if err := decodeAPIResponse(resp, &out, http.StatusOK); err != nil {
			return nil, err
		}
		return out.Data, nil
	}

	l, err := newLocal()
	if err != nil {
		return nil, err
	}
	var rows []guardrailRow
	for _, g := range l.registry.List() {
		rows = append(rows, guardrailRow{
			Name:        g.Name(),
			Version:     g.Version(),
			OnFail:      g.OnFail().String(),
			Constraints: g.Len(),
			Description: g.Description(),
		})
	}
	return rows, nil
}
