// Package i18n implements the Localizer narrow interface backed by
// embedded en/ja YAML bundles, used to render report.md and CLI status
// strings in the user's configured language (SPEC_FULL.md §4.1/§6). Bundle
// format and embedding mirror the teacher's embedded-asset pattern; value
// substitution reuses tmpl's {key} placeholder grammar for consistency
// with movement instruction rendering.
package i18n

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed bundles/*.yaml
var bundleFS embed.FS

// Localizer renders a named string from a language bundle, substituting
// {key} placeholders from vars.
type Localizer interface {
	Render(bundle, key string, vars map[string]string) string
}

// DefaultLanguage is used when Resolved.Language is empty or unknown.
const DefaultLanguage = "en"

// Bundles loads and caches every embedded language bundle keyed by
// language code (the file's base name without extension).
type Bundles struct {
	strings map[string]map[string]string
}

// Load parses every embedded bundles/*.yaml file. It panics on a malformed
// embedded bundle: that is a packaging defect, not a runtime condition.
func Load() *Bundles {
	entries, err := bundleFS.ReadDir("bundles")
	if err != nil {
		panic(fmt.Errorf("i18n: read embedded bundles: %w", err))
	}
	b := &Bundles{strings: map[string]map[string]string{}}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ".yaml")
		data, err := bundleFS.ReadFile("bundles/" + entry.Name())
		if err != nil {
			panic(fmt.Errorf("i18n: read bundle %s: %w", entry.Name(), err))
		}
		var strs map[string]string
		if err := yaml.Unmarshal(data, &strs); err != nil {
			panic(fmt.Errorf("i18n: parse bundle %s: %w", entry.Name(), err))
		}
		b.strings[lang] = strs
	}
	return b
}

// Localizer returns a Localizer fixed to the given language, falling back
// to DefaultLanguage for any key the chosen language's bundle is missing,
// and finally to the literal "<bundle>.<key>" if no bundle knows it.
func (b *Bundles) Localizer(language string) Localizer {
	return &boundLocalizer{bundles: b, language: language}
}

type boundLocalizer struct {
	bundles  *Bundles
	language string
}

// Render looks up key in the configured language's bundle (falling back to
// DefaultLanguage), then substitutes every {name} placeholder in vars.
func (l *boundLocalizer) Render(bundle, key string, vars map[string]string) string {
	template, ok := l.lookup(key)
	if !ok {
		return fmt.Sprintf("%s.%s", bundle, key)
	}
	return substitute(template, vars)
}

func (l *boundLocalizer) lookup(key string) (string, bool) {
	if strs, ok := l.bundles.strings[l.language]; ok {
		if v, ok := strs[key]; ok {
			return v, true
		}
	}
	if strs, ok := l.bundles.strings[DefaultLanguage]; ok {
		if v, ok := strs[key]; ok {
			return v, true
		}
	}
	return "", false
}

func substitute(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	replacements := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		replacements = append(replacements, "{"+k+"}", v)
	}
	return strings.NewReplacer(replacements...).Replace(template)
}
