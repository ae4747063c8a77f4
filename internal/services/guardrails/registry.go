package guardrails

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// ErrGuardrailNotFound is returned by Lookup for unknown guardrails
var ErrGuardrailNotFound = errors.New("guardrail not found")

// Registry holds the published guardrails. Several versions of the same
// guardrail may be registered; lookups by name return the highest version.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger

	// versions of each guardrail, ascending by semver
	byName map[string][]*types.GuardRail
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("guardrails_registry"),
		byName: make(map[string][]*types.GuardRail),
	}
}

// Register publishes a guardrail. Registering the same name@version twice is
// an error; a release is never replaced.
func (r *Registry) Register(g *types.GuardRail) error {
	if g == nil {
		return fmt.Errorf("guardrail is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.byName[g.Name()]
	for _, existing := range versions {
		if existing.SemVer().Equal(g.SemVer()) {
			return fmt.Errorf("guardrail %s already registered", g.Key())
		}
	}

	versions = append(versions, g)
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].SemVer().LessThan(versions[j].SemVer())
	})
	r.byName[g.Name()] = versions

	r.logger.Info("Registered guardrail",
		zap.String("name", g.Name()),
		zap.String("version", g.Version()),
		zap.Int("constraints", g.Len()))

	return nil
}

// Get returns the highest registered version of name
func (r *Registry) Get(name string) (*types.GuardRail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byName[name]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// GetVersion returns an exact release
func (r *Registry) GetVersion(name, version string) (*types.GuardRail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range r.byName[name] {
		if g.Version() == version {
			return g, true
		}
	}
	return nil, false
}

// Lookup resolves name, or name@version when version is set
func (r *Registry) Lookup(name, version string) (*types.GuardRail, error) {
	var (
		g  *types.GuardRail
		ok bool
	)
	if version == "" {
		g, ok = r.Get(name)
	} else {
		g, ok = r.GetVersion(name, version)
	}
	if !ok {
		if version != "" {
			name += "@" + version
		}
		return nil, fmt.Errorf("%w: %s", ErrGuardrailNotFound, name)
	}
	return g, nil
}

// List returns every registered release ordered by name, then version
func (r *Registry) List() []*types.GuardRail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*types.GuardRail
	for _, name := range names {
		out = append(out, r.byName[name]...)
	}
	return out
}

// Len returns the number of registered releases
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, versions := range r.byName {
		n += len(versions)
	}
	return n
}
