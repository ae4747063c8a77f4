package guardrails

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/providers"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// defaultCorrectors pairs checks with the corrector FIX uses when a
// definition does not name one
var defaultCorrectors = map[string]string{
	builtin.CheckNoPII:         builtin.CorrectorRedactPII,
	providers.CheckPresidioPII: providers.CorrectorPresidioAnonymize,
}

// Factory turns declared guardrail definitions into GuardRail values
type Factory struct {
	catalog    *builtin.Catalog
	correctors *CorrectorRegistry
	presidio   *providers.Presidio
	logger     *zap.Logger
}

// NewFactory creates a factory over an existing catalog and corrector
// registry
func NewFactory(catalog *builtin.Catalog, correctors *CorrectorRegistry, logger *zap.Logger) *Factory {
	if correctors == nil {
		correctors = NewCorrectorRegistry()
	}
	return &Factory{
		catalog:    catalog,
		correctors: correctors,
		logger:     logger.Named("guardrails_factory"),
	}
}

// NewFactoryFromConfig builds the default catalog and correctors, adding the
// Presidio check and corrector when Presidio is enabled
func NewFactoryFromConfig(cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	lib := patterns.Default()
	f := NewFactory(builtin.DefaultCatalog(lib), DefaultCorrectors(lib), logger)

	if cfg == nil || !cfg.Presidio.Enabled {
		return f, nil
	}

	f.presidio = providers.NewPresidio(&cfg.Presidio, logger)
	if err := f.catalog.Register(providers.CheckPresidioPII, f.presidio.Constructor()); err != nil {
		return nil, fmt.Errorf("failed to register presidio check: %w", err)
	}
	if err := f.correctors.Register(providers.CorrectorPresidioAnonymize, f.presidio.Corrector()); err != nil {
		return nil, fmt.Errorf("failed to register presidio corrector: %w", err)
	}
	f.logger.Info("Presidio checks enabled",
		zap.String("analyzer_url", cfg.Presidio.AnalyzerURL),
		zap.String("anonymizer_url", cfg.Presidio.AnonymizerURL))

	return f, nil
}

func (f *Factory) Catalog() *builtin.Catalog { return f.catalog }
func (f *Factory) Correctors() *CorrectorRegistry { return f.correctors }
func (f *Factory) Presidio() *providers.Presidio { return f.presidio }

// Build creates one guardrail from its definition. Every problem is a
// *types.ConfigError naming the guardrail.
func (f *Factory) Build(def config.GuardrailDefinition) (*types.GuardRail, error) {
	onFail, err := types.ParseFailAction(def.OnFail)
	if err != nil {
		return nil, &types.ConfigError{Op: "build guardrail", Subject: def.Name, Reason: "invalid on_fail", Err: err}
	}

	constraints := make([]types.Constraint, 0, len(def.Constraints))
	for i, cd := range def.Constraints {
		c, err := f.buildConstraint(cd)
		if err != nil {
			return nil, &types.ConfigError{
				Op:      "build guardrail",
				Subject: def.Name,
				Reason:  fmt.Sprintf("constraint %d (%s)", i, constraintLabel(cd)),
				Err:     err,
			}
		}
		constraints = append(constraints, c)
	}

	spec := types.GuardRailSpec{
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Constraints: constraints,
		OnFail:      onFail,
	}
	if def.Prompt != nil {
		spec.Prompt = &types.PromptTemplate{Name: def.Prompt.Name, Template: def.Prompt.Template}
	}

	g, err := types.NewGuardRail(spec)
	if err != nil {
		return nil, err
	}
	f.warnMissingCorrectors(g)
	return g, nil
}

func (f *Factory) buildConstraint(cd config.ConstraintDefinition) (types.Constraint, error) {
	if cd.Check == "" {
		return types.Constraint{}, fmt.Errorf("check is required")
	}

	severity, err := types.ParseSeverity(cd.Severity)
	if err != nil {
		return types.Constraint{}, err
	}
	action, err := types.ParseFailAction(cd.FailAction)
	if err != nil {
		return types.Constraint{}, err
	}

	checker, err := f.catalog.Build(cd.Check, cd.Params)
	if err != nil {
		return types.Constraint{}, err
	}

	corrector := cd.Corrector
	if corrector == "" {
		corrector = defaultCorrectors[cd.Check]
	}

	name := cd.Name
	if name == "" {
		name = cd.Check
	}

	return types.Constraint{
		Name:        name,
		Description: cd.Description,
		Check:       checker,
		Params:      cd.Params,
		Severity:    severity,
		FailAction:  action,
		Corrector:   corrector,
	}, nil
}

// warnMissingCorrectors flags FIX constraints that will degrade to REJECT
func (f *Factory) warnMissingCorrectors(g *types.GuardRail) {
	for _, c := range g.Constraints() {
		if c.EffectiveAction(g.OnFail()) != types.ActionFix {
			continue
		}
		if _, ok := f.correctors.Get(c.Corrector); !ok {
			f.logger.Warn("FIX constraint has no registered corrector and will be rejected instead",
				zap.String("guardrail", g.Key()),
				zap.String("constraint", c.Name),
				zap.String("corrector", c.Corrector))
		}
	}
}

// BuildAll builds every definition, stopping at the first error
func (f *Factory) BuildAll(defs []config.GuardrailDefinition) ([]*types.GuardRail, error) {
	out := make([]*types.GuardRail, 0, len(defs))
	for _, def := range defs {
		g, err := f.Build(def)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// CreateRegistry builds the inline definitions and every policy file into a
// registry. Policy files are loaded after inline definitions.
func (f *Factory) CreateRegistry(cfg *config.GuardrailsConfig) (*Registry, error) {
	registry := NewRegistry(f.logger)
	if cfg == nil {
		return registry, nil
	}

	defs := make([]config.GuardrailDefinition, 0, len(cfg.Definitions))
	defs = append(defs, cfg.Definitions...)
	for _, path := range cfg.PolicyFiles {
		loaded, err := LoadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}

	guardrails, err := f.BuildAll(defs)
	if err != nil {
		return nil, err
	}
	for _, g := range guardrails {
		if err := registry.Register(g); err != nil {
			return nil, err
		}
	}

	f.logger.Info("Guardrails loaded",
		zap.Int("count", len(guardrails)),
		zap.Int("policy_files", len(cfg.PolicyFiles)))
	return registry, nil
}

func constraintLabel(cd config.ConstraintDefinition) string {
	if cd.Name != "" {
		return cd.Name
	}
	return cd.Check
}
