package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/guardrails"
)

var (
	cfg        *config.Config
	apiURL     string
	apiKey     string
	outputJSON bool
	verbose    bool
)

// AddCommands registers every subcommand on root
func AddCommands(root *cobra.Command) {
	root.AddCommand(NewValidateCommand())
	root.AddCommand(NewEnforceCommand())
	root.AddCommand(NewDocumentCommand())
	root.AddCommand(NewGuardrailsCommand())
	root.AddCommand(NewConfigCommand())
	root.AddCommand(NewTokenCommand())
}

// LoadConfig reads and validates the configuration
func LoadConfig(path string) error {
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// SetAPIConfig sets the API configuration for remote access
func SetAPIConfig(url, key string) {
	apiURL = url
	apiKey = key
}

// SetOutputJSON sets the output format preference
func SetOutputJSON(json bool) {
	outputJSON = json
}

// SetVerbose sets verbose output
func SetVerbose(v bool) {
	verbose = v
}

// IsAPIAccess returns true if remote evaluation is configured
func IsAPIAccess() bool {
	return apiURL != ""
}

// HTTPClient is a configured HTTP client for API calls
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// APIRequest makes a request to the pguard server
func APIRequest(method, endpoint string, body interface{}) (*http.Response, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("API URL required for remote operations")
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, apiURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	if verbose {
		fmt.Fprintf(os.Stderr, "Making %s request to: %s\n", method, apiURL+endpoint)
	}

	return HTTPClient.Do(req)
}

// decodeAPIResponse decodes the body into out when the status is one of ok
func decodeAPIResponse(resp *http.Response, out interface{}, ok ...int) error {
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			return json.NewDecoder(resp.Body).Decode(out)
		}
	}

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// local holds the validator and registry built from the loaded config. The
// CLI never connects to audit or review backends.
type local struct {
	factory   *guardrails.Factory
	registry  *guardrails.Registry
	validator *guardrails.Validator
}

func newLocal() (*local, error) {
	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}

	factory, err := guardrails.NewFactoryFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := factory.CreateRegistry(&cfg.Guardrails)
	if err != nil {
		return nil, err
	}

	validator := guardrails.NewValidator(logger, guardrails.Options{
		StopOnFirstError: cfg.Validator.StopOnFirstError,
		ExcerptLength:    cfg.Validator.ExcerptLength,
		CheckTimeout:     cfg.Validator.CheckTimeout,
		Workers:          cfg.Validator.Workers,
		Correctors:       factory.Correctors(),
	})
	return &local{factory: factory, registry: registry, validator: validator}, nil
}

// readInput reads path, or stdin when path is "-" or empty
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// parseRecords accepts one JSON object or an array of objects
func parseRecords(data []byte) ([]guardrails.Record, bool, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("input is not valid JSON: %w", err)
	}

	list, isBatch := value.([]interface{})
	if !isBatch {
		record, err := guardrails.RecordFrom(value)
		if err != nil {
			return nil, false, err
		}
		return []guardrails.Record{record}, false, nil
	}

	records := make([]guardrails.Record, len(list))
	for i, item := range list {
		record, err := guardrails.RecordFrom(item)
		if err != nil {
			return nil, true, fmt.Errorf("record %d: %w", i, err)
		}
		records[i] = record
	}
	return records, true, nil
}

// OutputTable outputs data in table format
func OutputTable(w io.Writer, headers []string, rows [][]string) {
	if outputJSON {
		// Convert table to JSON structure
		jsonRows := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			jsonRow := make(map[string]string)
			for i, cell := range row {
				if i < len(headers) {
					jsonRow[headers[i]] = cell
				}
			}
			jsonRows = append(jsonRows, jsonRow)
		}
		OutputJSON(w, jsonRows)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for i, header := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(tw, "\t")
		}
		_, _ = fmt.Fprint(tw, header)
	}
	_, _ = fmt.Fprintln(tw)

	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				_, _ = fmt.Fprint(tw, "\t")
			}
			_, _ = fmt.Fprint(tw, cell)
		}
		_, _ = fmt.Fprintln(tw)
	}

	_ = tw.Flush()
}

// OutputJSON outputs data in JSON format
func OutputJSON(w io.Writer, data interface{}) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
