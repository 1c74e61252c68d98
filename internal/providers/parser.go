package providers

import "strings"

// ProviderRef names one entry of the fallback chain, e.g. "openai:backup"
// selects the openai provider with the key stored under the "backup" alias.
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderList reads a "|" or "," separated chain in preference order.
// Names are lower-cased and a repeated entry is kept once. An empty chain
// falls back to the mock provider.
func ParseProviderList(raw string) []ProviderRef {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' })
	seen := make(map[string]bool, len(fields))
	out := make([]ProviderRef, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		name, alias, _ := strings.Cut(f, ":")
		ref := ProviderRef{
			Raw:      f,
			Name:     strings.ToLower(strings.TrimSpace(name)),
			KeyAlias: strings.TrimSpace(alias),
		}
		key := ref.Name + ":" + ref.KeyAlias
		if ref.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}
