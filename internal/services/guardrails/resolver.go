package guardrails

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amerfu/pguard/internal/services/guardrails/builtin"
	"github.com/amerfu/pguard/internal/services/guardrails/patterns"
	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// DegradedFixNote is appended to an entry whose FIX action had no corrector
const DegradedFixNote = "FIX degraded to REJECT: no corrector registered"

// CorrectorRegistry maps corrector names to correctors. Each validator gets
// its own registry, so isolated validators never share correction behavior.
type CorrectorRegistry struct {
	mu         sync.RWMutex
	correctors map[string]types.Corrector
}

// NewCorrectorRegistry returns an empty registry
func NewCorrectorRegistry() *CorrectorRegistry {
	return &CorrectorRegistry{correctors: make(map[string]types.Corrector)}
}

// DefaultCorrectors returns a registry holding redact_pii over lib
func DefaultCorrectors(lib *patterns.Library) *CorrectorRegistry {
	r := NewCorrectorRegistry()
	r.correctors[builtin.CorrectorRedactPII] = builtin.RedactPII(lib)
	return r
}

// Register adds a corrector under name
func (r *CorrectorRegistry) Register(name string, corrector types.Corrector) error {
	if name == "" || corrector == nil {
		return fmt.Errorf("corrector name and implementation are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.correctors[name]; exists {
		return fmt.Errorf("corrector %s already registered", name)
	}
	r.correctors[name] = corrector
	return nil
}

// Get looks up a corrector. A nil registry has no correctors.
func (r *CorrectorRegistry) Get(name string) (types.Corrector, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.correctors[name]
	return c, ok
}

// Names returns the registered corrector names, sorted
func (r *CorrectorRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.correctors))
	for name := range r.correctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolution is the outcome of resolving a set of entries
type Resolution struct {
	Action types.FailAction
	// Entries are the input entries, with degradation notes appended
	Entries []types.ValidationEntry
	// Degraded lists constraints whose FIX was degraded to REJECT
	Degraded []string
}

// Resolve picks the single action for a set of entries.
//
// Each failed ERROR or WARNING entry contributes its constraint's override,
// or the guardrail default. INFO failures never act. The most restrictive
// contribution wins; with none, the action is LOG.
func Resolve(guardrail *types.GuardRail, entries []types.ValidationEntry, correctors *CorrectorRegistry) Resolution {
	res := Resolution{
		Action:  types.ActionLog,
		Entries: make([]types.ValidationEntry, len(entries)),
	}
	copy(res.Entries, entries)

	for i, entry := range res.Entries {
		if entry.Passed || entry.Severity == types.SeverityInfo {
			continue
		}

		action := guardrail.OnFail()
		constraint, ok := guardrail.Constraint(entry.ConstraintName)
		if ok {
			action = constraint.EffectiveAction(guardrail.OnFail())
		}

		if action == types.ActionFix {
			if _, registered := correctors.Get(constraint.Corrector); !ok || !registered {
				action = types.ActionReject
				res.Entries[i].Message = entry.Message + " (" + DegradedFixNote + ")"
				res.Degraded = append(res.Degraded, entry.ConstraintName)
			}
		}

		res.Action = types.MostRestrictive(res.Action, action)
	}

	return res
}

// correctorsFor returns, in constraint order and without repeats, the
// correctors of failed entries that resolved to FIX
func correctorsFor(guardrail *types.GuardRail, result *types.ValidationResult, registry *CorrectorRegistry) []namedCorrector {
	failed := make(map[string]bool)
	for _, entry := range result.Entries {
		if !entry.Passed && entry.Severity != types.SeverityInfo {
			failed[entry.ConstraintName] = true
		}
	}

	seen := make(map[string]bool)
	var out []namedCorrector
	for _, c := range guardrail.Constraints() {
		if !failed[c.Name] || c.EffectiveAction(guardrail.OnFail()) != types.ActionFix || seen[c.Corrector] {
			continue
		}
		corrector, ok := registry.Get(c.Corrector)
		if !ok {
			continue
		}
		seen[c.Corrector] = true
		out = append(out, namedCorrector{name: c.Corrector, corrector: corrector})
	}
	return out
}

type namedCorrector struct {
	name      string
	corrector types.Corrector
}
