package license

import (
	"maps"
	"slices"
)

// Mapping is one provider's native license values.
type Mapping struct {
	Provider string
	Native   map[Code]string
	Version  string
}

// Table resolves canonical codes to provider native values and back. It is
// immutable after NewTable.
type Table struct {
	byProvider map[string]Mapping
	reverse    map[string]map[string]Code
}

// NewTable builds a table from provider mappings. A later mapping for the
// same provider replaces an earlier one.
func NewTable(mappings ...Mapping) *Table {
	t := &Table{
		byProvider: make(map[string]Mapping, len(mappings)),
		reverse:    make(map[string]map[string]Code, len(mappings)),
	}
	for _, m := range mappings {
		native := maps.Clone(m.Native)
		if native == nil {
			native = map[Code]string{}
		}
		rev := make(map[string]Code, len(native))
		for code, value := range native {
			rev[value] = code
		}
		t.byProvider[m.Provider] = Mapping{Provider: m.Provider, Native: native, Version: m.Version}
		t.reverse[m.Provider] = rev
	}
	return t
}

// Native returns a copy of the provider's code to native value map.
func (t *Table) Native(provider string) map[Code]string {
	return maps.Clone(t.byProvider[provider].Native)
}

// Lookup maps a native value back to its canonical code.
func (t *Table) Lookup(provider, native string) (Code, bool) {
	c, ok := t.reverse[provider][native]
	return c, ok
}

// Version returns the license version the provider publishes under.
func (t *Table) Version(provider string) string {
	return t.byProvider[provider].Version
}

// Match is MatchLicenses against the provider's native values.
func (t *Table) Match(provider string, selected []string) (string, bool) {
	return MatchLicenses(selected, t.byProvider[provider].Native)
}

// Providers returns the providers with a mapping, sorted.
func (t *Table) Providers() []string {
	return slices.Sorted(maps.Keys(t.byProvider))
}
