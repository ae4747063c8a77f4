// Package patterns holds the named detectors used to find sensitive data
// (PII) and well-known formats in validated output.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Built-in detector names
const (
	SSN        = "ssn"
	CreditCard = "credit_card"
	Email      = "email"
	Phone      = "phone"
	IPAddress  = "ip_address"
)

// builtins is ordered: when two detectors match the same span, the earlier
// one claims it.
var builtins = []struct {
	name    string
	pattern string
}{
	{SSN, `\b\d{3}-\d{2}-\d{4}\b`},
	{CreditCard, `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`},
	{Email, `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`},
	// international numbers with a leading +, then national 3-3-4 groups
	{Phone, `\+\d{1,3}[-.\s]?(?:\(\d{1,4}\)|\d{1,4})(?:[-.\s]?\d{2,4}){2,3}\b|(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`},
	{IPAddress, `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`},
}

// Match is one detected occurrence
type Match struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

type detector struct {
	name    string
	pattern *regexp.Regexp
}

// Library is an ordered catalog of named detectors. It is safe for
// concurrent use; Register only ever adds entries.
type Library struct {
	mu        sync.RWMutex
	detectors []detector
}

// NewLibrary returns an empty catalog
func NewLibrary() *Library {
	return &Library{}
}

// Default returns a new catalog holding the built-in detectors
func Default() *Library {
	lib := NewLibrary()
	for _, b := range builtins {
		lib.detectors = append(lib.detectors, detector{
			name:    b.name,
			pattern: regexp.MustCompile(b.pattern),
		})
	}
	return lib
}

// Register adds a detector at the end of the catalog
func (l *Library) Register(name, pattern string) error {
	if name == "" {
		return fmt.Errorf("detector name is required")
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern for detector %q: %w", name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, d := range l.detectors {
		if d.name == name {
			return fmt.Errorf("detector %q already registered", name)
		}
	}
	l.detectors = append(l.detectors, detector{name: name, pattern: compiled})
	return nil
}

// Names returns detector names in catalog order
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, len(l.detectors))
	for i, d := range l.detectors {
		names[i] = d.name
	}
	return names
}

// Detect returns all matches in text ordered by position. A span claimed by
// an earlier detector is never reported again by a later one.
func (l *Library) Detect(text string) []Match {
	if text == "" {
		return nil
	}

	l.mu.RLock()
	detectors := make([]detector, len(l.detectors))
	copy(detectors, l.detectors)
	l.mu.RUnlock()

	var matches []Match
	for _, d := range detectors {
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] || overlaps(matches, loc[0], loc[1]) {
				continue
			}
			matches = append(matches, Match{
				Type:  d.name,
				Start: loc[0],
				End:   loc[1],
				Text:  text[loc[0]:loc[1]],
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// Types returns the distinct detector names that matched text, in catalog order
func (l *Library) Types(text string) []string {
	matches := l.Detect(text)
	if len(matches) == 0 {
		return nil
	}

	found := make(map[string]bool, len(matches))
	for _, m := range matches {
		found[m.Type] = true
	}

	var types []string
	for _, name := range l.Names() {
		if found[name] {
			types = append(types, name)
		}
	}
	return types
}

// Redact replaces every match with its placeholder, e.g. "[SSN REDACTED]"
func (l *Library) Redact(text string) string {
	matches := l.Detect(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString(Placeholder(m.Type))
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Placeholder is the redaction marker for a detector name
func Placeholder(name string) string {
	return "[" + strings.ToUpper(name) + " REDACTED]"
}

func overlaps(matches []Match, start, end int) bool {
	for _, m := range matches {
		if start < m.End && m.Start < end {
			return true
		}
	}
	return false
}
