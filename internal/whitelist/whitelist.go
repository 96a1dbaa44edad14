// Package whitelist holds the closed grammar of commands the gateway will
// run: per service type, a fixed token prefix followed by one verb from a
// closed set. A Table is built once and never changes.
package whitelist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Service types known to the default table.
const (
	Nextcloud  = "nextcloud"
	PhotoPrism = "photoprism"
)

// ForbiddenChars are rejected anywhere in any token.
const ForbiddenChars = ";|&$`"

// Rule is the grammar for one service type.
type Rule struct {
	ServiceType string
	Prefix      []string
	Verbs       []string
}

// Table is an immutable set of rules keyed by service type. It is safe for
// concurrent use without locking.
type Table struct {
	rules map[string]compiledRule
}

type compiledRule struct {
	serviceType string
	prefix      []string
	verbs       map[string]struct{}
}

// Errors returned by NewTable.
var (
	ErrNoRules       = errors.New("whitelist has no rules")
	ErrDuplicateRule = errors.New("duplicate service type")
	ErrInvalidRule   = errors.New("invalid rule")
)

// NewTable validates and copies rules into a Table.
func NewTable(rules ...Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	t := &Table{rules: make(map[string]compiledRule, len(rules))}
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, r.ServiceType, err)
		}
		if _, dup := t.rules[r.ServiceType]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRule, r.ServiceType)
		}

		cr := compiledRule{
			serviceType: r.ServiceType,
			prefix:      append([]string(nil), r.Prefix...),
			verbs:       make(map[string]struct{}, len(r.Verbs)),
		}
		for _, v := range r.Verbs {
			cr.verbs[v] = struct{}{}
		}
		t.rules[r.ServiceType] = cr
	}
	return t, nil
}

func validateRule(r Rule) error {
	if r.ServiceType == "" || strings.ContainsAny(r.ServiceType, " \t\n") {
		return fmt.Errorf("%w: service type must be a single non-empty word", ErrInvalidRule)
	}
	if len(r.Verbs) == 0 {
		return fmt.Errorf("%w: at least one verb is required", ErrInvalidRule)
	}
	for _, tok := range append(append([]string(nil), r.Prefix...), r.Verbs...) {
		if tok == "" || len(strings.Fields(tok)) != 1 || tok != strings.TrimSpace(tok) {
			return fmt.Errorf("%w: token %q must be a single word", ErrInvalidRule, tok)
		}
		if ContainsForbidden(tok) {
			return fmt.Errorf("%w: token %q contains a forbidden character", ErrInvalidRule, tok)
		}
	}
	return nil
}

// MustNewTable is like NewTable but panics on error.
func MustNewTable(rules ...Rule) *Table {
	t, err := NewTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultRules returns the stock Nextcloud and PhotoPrism grammar.
func DefaultRules() []Rule {
	return []Rule{
		{
			ServiceType: Nextcloud,
			Prefix:      []string{"php", "occ"},
			Verbs: []string{
				"files:scan",
				"files:cleanup",
				"memories:index",
				"preview:generate-all",
				"preview:pre-generate",
				"status",
			},
		},
		{
			ServiceType: PhotoPrism,
			Prefix:      []string{"photoprism"},
			Verbs:       []string{"index", "import", "status", "faces", "thumbs"},
		},
	}
}

// Default returns a Table built from DefaultRules.
func Default() *Table {
	return MustNewTable(DefaultRules()...)
}

// Has reports whether serviceType has a rule.
func (t *Table) Has(serviceType string) bool {
	_, ok := t.rules[serviceType]
	return ok
}

// Rule returns a copy of the rule for serviceType.
func (t *Table) Rule(serviceType string) (Rule, bool) {
	cr, ok := t.rules[serviceType]
	if !ok {
		return Rule{}, false
	}
	verbs := make([]string, 0, len(cr.verbs))
	for v := range cr.verbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return Rule{
		ServiceType: cr.serviceType,
		Prefix:      append([]string(nil), cr.prefix...),
		Verbs:       verbs,
	}, true
}

// ServiceTypes returns the known service types, sorted.
func (t *Table) ServiceTypes() []string {
	types := make([]string, 0, len(t.rules))
	for st := range t.rules {
		types = append(types, st)
	}
	sort.Strings(types)
	return types
}

// Match reports whether tokens begin with the rule's prefix followed by an
// allowed verb. Trailing arguments are not inspected here. ok is false when
// serviceType is unknown.
func (t *Table) Match(serviceType string, tokens []string) (matched, ok bool) {
	cr, ok := t.rules[serviceType]
	if !ok {
		return false, false
	}
	if len(tokens) < len(cr.prefix)+1 {
		return false, true
	}
	for i, p := range cr.prefix {
		if tokens[i] != p {
			return false, true
		}
	}
	_, allowed := cr.verbs[tokens[len(cr.prefix)]]
	return allowed, true
}

// Tokenize splits a raw command line on whitespace. There is no quoting:
// an argument cannot contain whitespace.
func Tokenize(raw string) []string {
	return strings.Fields(raw)
}

// ContainsForbidden reports whether tok contains any ForbiddenChars.
func ContainsForbidden(tok string) bool {
	return strings.ContainsAny(tok, ForbiddenChars)
}

// FirstForbidden returns the index of the first token containing a
// forbidden character, or -1.
func FirstForbidden(tokens []string) int {
	for i, tok := range tokens {
		if ContainsForbidden(tok) {
			return i
		}
	}
	return -1
}
