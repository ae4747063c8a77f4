package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
	"github.com/amerfu/pguard/pkg/circuitbreaker"
)

const (
	// CheckPresidioPII is the catalog name of the Presidio-backed PII check
	CheckPresidioPII = "presidio_pii"
	// CorrectorPresidioAnonymize is the registry name of the Presidio corrector
	CorrectorPresidioAnonymize = "presidio_anonymize"
)

// Presidio is a client for the Presidio analyzer and anonymizer services
type Presidio struct {
	config     *config.PresidioConfig
	logger     *zap.Logger
	httpClient *http.Client

	// one breaker per endpoint path, so a failing anonymizer does not stop
	// analysis
	breakers *circuitbreaker.Manager

	language       string
	entityTypes    []string
	scoreThreshold float64
}

// PresidioAnalyzeRequest represents the request to Presidio Analyzer
type PresidioAnalyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	EntityTypes    []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

// PresidioEntity represents a detected PII entity. Start and End are
// character offsets.
type PresidioEntity struct {
	EntityType          string      `json:"entity_type"`
	Start               int         `json:"start"`
	End                 int         `json:"end"`
	Score               float64     `json:"score"`
	RecognitionMetadata interface{} `json:"recognition_metadata,omitempty"`
}

// PresidioAnonymizeRequest represents the request to Presidio Anonymizer
type PresidioAnonymizeRequest struct {
	Text      string                    `json:"text"`
	Analyzer  []PresidioEntity          `json:"analyzer_results"`
	Operators map[string]OperatorConfig `json:"operators"`
}

// PresidioAnonymizeResponse represents the response from Presidio Anonymizer
type PresidioAnonymizeResponse struct {
	Text  string           `json:"text"`
	Items []AnonymizedItem `json:"items"`
}

// OperatorConfig defines how to anonymize specific entity types
type OperatorConfig struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// AnonymizedItem represents an anonymized entity
type AnonymizedItem struct {
	EntityType string `json:"entity_type"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	Operator   string `json:"operator"`
}

// NewPresidio creates a Presidio client. Calls are bounded by cfg.Timeout and
// by the caller's context, whichever ends first.
func NewPresidio(cfg *config.PresidioConfig, logger *zap.Logger) *Presidio {
	threshold := cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = 0.35
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &Presidio{
		config:         cfg,
		logger:         logger.Named("presidio"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		breakers:       circuitbreaker.NewManager(cfg.BreakerThreshold, cfg.BreakerCooldown),
		language:       language,
		entityTypes:    cfg.Entities,
		scoreThreshold: threshold,
	}
}

// Checker returns a check that fails when the analyzer finds any entity in
// the record's text. entities and threshold override the client defaults
// when set.
func (p *Presidio) Checker(entities []string, threshold float64) types.ContextChecker {
	if len(entities) == 0 {
		entities = p.entityTypes
	}
	if threshold <= 0 {
		threshold = p.scoreThreshold
	}
	return &presidioChecker{client: p, entities: entities, threshold: threshold}
}

// Constructor adapts Checker to the builtin catalog. Recognized params:
// entities (list of strings) and score_threshold (number).
func (p *Presidio) Constructor() func(params map[string]any) (types.Checker, error) {
	return func(params map[string]any) (types.Checker, error) {
		var entities []string
		switch v := params["entities"].(type) {
		case nil:
		case []string:
			entities = v
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("parameter %q must be a list of strings", "entities")
				}
				entities = append(entities, s)
			}
		default:
			return nil, fmt.Errorf("parameter %q must be a list of strings", "entities")
		}

		var threshold float64
		switch v := params["score_threshold"].(type) {
		case nil:
		case float64:
			threshold = v
		case int:
			threshold = float64(v)
		default:
			return nil, fmt.Errorf("parameter %q must be a number", "score_threshold")
		}
		if threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("parameter %q must be within [0, 1]", "score_threshold")
		}

		return p.Checker(entities, threshold), nil
	}
}

type presidioChecker struct {
	client    *Presidio
	entities  []string
	threshold float64
}

// Check runs without a deadline. The validator always calls CheckContext.
func (c *presidioChecker) Check(record types.Record) (types.CheckResult, error) {
	return c.CheckContext(context.Background(), record)
}

func (c *presidioChecker) CheckContext(ctx context.Context, record types.Record) (types.CheckResult, error) {
	text := record.Text()
	found, err := c.client.analyze(ctx, text, c.entities, c.threshold)
	if err != nil {
		return types.CheckResult{}, err
	}

	excerpt := maskEntities(text, found)
	if len(found) == 0 {
		return types.Pass("no PII detected by presidio", excerpt), nil
	}
	return types.Fail("PII detected by presidio: "+strings.Join(entityTypes(found), ", "), excerpt), nil
}

// Corrector returns a corrector that anonymizes every string value of the
// record through the anonymizer service
func (p *Presidio) Corrector() types.Corrector {
	return types.CorrectorFunc(func(ctx context.Context, record types.Record) (types.Record, error) {
		out := record.Clone()
		for k, v := range out {
			fixed, err := p.anonymizeValue(ctx, v)
			if err != nil {
				return nil, err
			}
			out[k] = fixed
		}
		return out, nil
	})
}

func (p *Presidio) anonymizeValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		entities, err := p.analyze(ctx, val, p.entityTypes, p.scoreThreshold)
		if err != nil {
			return nil, err
		}
		return p.anonymize(ctx, val, entities)
	case map[string]any:
		for k, item := range val {
			fixed, err := p.anonymizeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			val[k] = fixed
		}
		return val, nil
	case []any:
		for i, item := range val {
			fixed, err := p.anonymizeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			val[i] = fixed
		}
		return val, nil
	case []string:
		for i, item := range val {
			fixed, err := p.anonymizeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			val[i] = fixed.(string)
		}
		return val, nil
	default:
		return v, nil
	}
}

// analyze calls Presidio Analyzer to detect PII entities
func (p *Presidio) analyze(ctx context.Context, text string, entities []string, threshold float64) ([]PresidioEntity, error) {
	if strings.TrimSpace(text) == "" {
		return []PresidioEntity{}, nil
	}

	request := PresidioAnalyzeRequest{
		Text:           text,
		Language:       p.language,
		EntityTypes:    entities,
		ScoreThreshold: threshold,
	}

	var found []PresidioEntity
	if err := p.post(ctx, p.config.AnalyzerURL, "/analyze", request, &found); err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	return found, nil
}

// anonymize calls Presidio Anonymizer to mask PII entities
func (p *Presidio) anonymize(ctx context.Context, text string, entities []PresidioEntity) (string, error) {
	if len(entities) == 0 {
		return text, nil
	}

	request := PresidioAnonymizeRequest{
		Text:      text,
		Analyzer:  entities,
		Operators: defaultOperators(),
	}

	var resp PresidioAnonymizeResponse
	if err := p.post(ctx, p.config.AnonymizerURL, "/anonymize", request, &resp); err != nil {
		return "", fmt.Errorf("anonymizer: %w", err)
	}
	return resp.Text, nil
}

func (p *Presidio) post(ctx context.Context, base, path string, body, out interface{}) error {
	err := p.breakers.Do(path, func() error {
		return p.doPost(ctx, base, path, body, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("presidio %s unavailable: %w", path, err)
	}
	return err
}

func (p *Presidio) doPost(ctx context.Context, base, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(base, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Presidio returned an error status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck checks both Presidio services
// BreakerStates reports the circuit state of each endpoint called so far
func (p *Presidio) BreakerStates() map[string]map[string]interface{} {
	return p.breakers.GetAllStates()
}

func (p *Presidio) HealthCheck(ctx context.Context) error {
	analyzerURL := strings.TrimSuffix(p.config.AnalyzerURL, "/") + "/health"
	if err := p.checkEndpoint(ctx, analyzerURL); err != nil {
		return fmt.Errorf("analyzer health check failed: %w", err)
	}

	anonymizerURL := strings.TrimSuffix(p.config.AnonymizerURL, "/") + "/health"
	if err := p.checkEndpoint(ctx, anonymizerURL); err != nil {
		return fmt.Errorf("anonymizer health check failed: %w", err)
	}

	return nil
}

func (p *Presidio) checkEndpoint(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// defaultOperators replace entities with the same placeholders the local
// pattern library uses
func defaultOperators() map[string]OperatorConfig {
	replace := func(value string) OperatorConfig {
		return OperatorConfig{Type: "replace", Params: map[string]interface{}{"new_value": value}}
	}
	return map[string]OperatorConfig{
		"DEFAULT":       replace("[REDACTED]"),
		"PERSON":        replace("[PERSON REDACTED]"),
		"EMAIL_ADDRESS": replace("[EMAIL REDACTED]"),
		"PHONE_NUMBER":  replace("[PHONE REDACTED]"),
		"CREDIT_CARD":   replace("[CREDIT_CARD REDACTED]"),
		"US_SSN":        replace("[SSN REDACTED]"),
		"IP_ADDRESS":    replace("[IP_ADDRESS REDACTED]"),
	}
}

// entityTypes returns the distinct detected types, sorted
func entityTypes(found []PresidioEntity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range found {
		if !seen[e.EntityType] {
			seen[e.EntityType] = true
			out = append(out, e.EntityType)
		}
	}
	sort.Strings(out)
	return out
}

// maskEntities replaces detected spans with <TYPE> so excerpts never carry
// the detected values. Overlapping or out-of-range spans are skipped.
func maskEntities(text string, found []PresidioEntity) string {
	if len(found) == 0 {
		return text
	}
	spans := make([]PresidioEntity, len(found))
	copy(spans, found)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	runes := []rune(text)
	var b strings.Builder
	pos := 0
	for _, e := range spans {
		if e.Start < pos || e.End > len(runes) || e.Start >= e.End {
			continue
		}
		b.WriteString(string(runes[pos:e.Start]))
		b.WriteString("<" + e.EntityType + ">")
		pos = e.End
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}
