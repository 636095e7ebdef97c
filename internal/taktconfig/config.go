// Package taktconfig implements the layered configuration resolver: env
// overrides merged over project config, merged over global config, merged
// over built-in defaults.
package taktconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ConfigError reports a malformed configuration value or file, naming the
// offending source and key so the CLI can print an actionable message.
type ConfigError struct {
	Source string // file path or "env"
	Key    string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s (%s): %v", e.Key, e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProviderOptions holds provider-specific sub-configuration, e.g.
// provider_options.codex.network_access.
type ProviderOptions map[string]map[string]any

// PersonaOverride pins a persona to a specific provider/model pair.
type PersonaOverride struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
}

// ResolvedConfig is the immutable result of merging all configuration
// layers. Callers never mutate a ResolvedConfig; Resolver.Resolve returns a
// fresh value (or a cached one) on each call.
type ResolvedConfig struct {
	Language              string                     `yaml:"language" json:"language"`
	DefaultProvider        string                     `yaml:"default_provider" json:"default_provider"`
	DefaultModel           string                     `yaml:"default_model" json:"default_model"`
	ProviderOptions        ProviderOptions            `yaml:"provider_options" json:"provider_options"`
	Concurrency             int                        `yaml:"concurrency" json:"concurrency"`
	TaskPollIntervalMs      int                        `yaml:"task_poll_interval_ms" json:"task_poll_interval_ms"`
	BaseBranch              string                     `yaml:"base_branch" json:"base_branch"`
	NotificationsEnabled    bool                       `yaml:"notifications_enabled" json:"notifications_enabled"`
	InteractivePreviewCount int                        `yaml:"interactive_preview_count" json:"interactive_preview_count"`
	BranchNameStrategy      string                     `yaml:"branch_name_strategy" json:"branch_name_strategy"` // romaji|ai
	PersonaOverrides        map[string]PersonaOverride `yaml:"persona_overrides" json:"persona_overrides"`
	RuntimePrepare          []string                   `yaml:"runtime_prepare" json:"runtime_prepare"`
	DisabledBuiltins        []string                   `yaml:"disabled_builtins" json:"disabled_builtins"`
}

// Defaults returns the built-in, lowest-precedence configuration layer.
func Defaults() ResolvedConfig {
	return ResolvedConfig{
		Language:                "en",
		DefaultProvider:         "mock",
		DefaultModel:            "default",
		ProviderOptions:         ProviderOptions{},
		Concurrency:             1,
		TaskPollIntervalMs:      1000,
		BaseBranch:              "main",
		NotificationsEnabled:    false,
		InteractivePreviewCount: 3,
		BranchNameStrategy:      "romaji",
		PersonaOverrides:        map[string]PersonaOverride{},
		RuntimePrepare:          nil,
		DisabledBuiltins:        nil,
	}
}

// merge overlays non-zero fields of override onto base and returns the
// result, matching the "defaults -> global -> project -> env" precedence
// order used throughout the resolver. This mirrors the additive-overlay
// shape of a layered config manager: each layer only replaces what it
// explicitly sets.
func merge(base, override ResolvedConfig) ResolvedConfig {
	out := base
	if override.Language != "" {
		out.Language = override.Language
	}
	if override.DefaultProvider != "" {
		out.DefaultProvider = override.DefaultProvider
	}
	if override.DefaultModel != "" {
		out.DefaultModel = override.DefaultModel
	}
	for provider, opts := range override.ProviderOptions {
		if out.ProviderOptions == nil {
			out.ProviderOptions = ProviderOptions{}
		}
		merged := map[string]any{}
		for k, v := range out.ProviderOptions[provider] {
			merged[k] = v
		}
		for k, v := range opts {
			merged[k] = v
		}
		out.ProviderOptions[provider] = merged
	}
	if override.Concurrency != 0 {
		out.Concurrency = override.Concurrency
	}
	if override.TaskPollIntervalMs != 0 {
		out.TaskPollIntervalMs = override.TaskPollIntervalMs
	}
	if override.BaseBranch != "" {
		out.BaseBranch = override.BaseBranch
	}
	if override.NotificationsEnabled {
		out.NotificationsEnabled = true
	}
	if override.InteractivePreviewCount != 0 {
		out.InteractivePreviewCount = override.InteractivePreviewCount
	}
	if override.BranchNameStrategy != "" {
		out.BranchNameStrategy = override.BranchNameStrategy
	}
	for persona, ov := range override.PersonaOverrides {
		if out.PersonaOverrides == nil {
			out.PersonaOverrides = map[string]PersonaOverride{}
		}
		out.PersonaOverrides[persona] = ov
	}
	if len(override.RuntimePrepare) > 0 {
		out.RuntimePrepare = override.RuntimePrepare
	}
	if len(override.DisabledBuiltins) > 0 {
		out.DisabledBuiltins = override.DisabledBuiltins
	}
	return out
}

// Validate enforces the numeric-range invariants named in SPEC_FULL.md
// §4.1/§4.9 (concurrency in [1,10], poll interval in [100,5000]).
func (c ResolvedConfig) Validate() error {
	if c.Concurrency < 1 || c.Concurrency > 10 {
		return &ConfigError{Source: "resolved", Key: "concurrency", Err: fmt.Errorf("must be in [1,10], got %d", c.Concurrency)}
	}
	if c.TaskPollIntervalMs < 100 || c.TaskPollIntervalMs > 5000 {
		return &ConfigError{Source: "resolved", Key: "task_poll_interval_ms", Err: fmt.Errorf("must be in [100,5000], got %d", c.TaskPollIntervalMs)}
	}
	if c.BranchNameStrategy != "romaji" && c.BranchNameStrategy != "ai" {
		return &ConfigError{Source: "resolved", Key: "branch_name_strategy", Err: fmt.Errorf("must be romaji or ai, got %q", c.BranchNameStrategy)}
	}
	if c.InteractivePreviewCount < 0 || c.InteractivePreviewCount > 10 {
		return &ConfigError{Source: "resolved", Key: "interactive_preview_count", Err: fmt.Errorf("must be in [0,10], got %d", c.InteractivePreviewCount)}
	}
	return nil
}

// EnvLookup abstracts os.LookupEnv so tests can inject a fixed map instead
// of touching the real process environment — the same closure-over-a-map
// shape the teacher uses for its runtime environment overrides.
type EnvLookup func(key string) (string, bool)

// EnvKey renders the TAKT_<PATH> form of a dotted config path: path
// segments are split on '.', camelCase boundaries are split into words, and
// every word is upper-cased and joined with underscores.
//
// "provider_options.codex.network_access" -> "TAKT_PROVIDER_OPTIONS_CODEX_NETWORK_ACCESS"
// "baseBranch" -> "TAKT_BASE_BRANCH"
func EnvKey(path string) string {
	var words []string
	for _, segment := range strings.Split(path, ".") {
		words = append(words, splitCamel(segment)...)
	}
	return "TAKT_" + strings.ToUpper(strings.Join(words, "_"))
}

func splitCamel(s string) []string {
	var words []string
	var current strings.Builder
	for _, r := range s {
		if r == '_' || r == '-' {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 && isUpper(r) && !isUpper(rune(current.String()[current.Len()-1])) {
			words = append(words, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

// envOverrides builds a ResolvedConfig populated solely from whichever
// TAKT_<PATH> variables are present, leaving every other field at its zero
// value so merge() treats them as "not set".
func envOverrides(lookup EnvLookup) (ResolvedConfig, error) {
	var out ResolvedConfig

	if v, ok := lookup(EnvKey("language")); ok {
		out.Language = v
	}
	if v, ok := lookup(EnvKey("default_provider")); ok {
		out.DefaultProvider = v
	}
	if v, ok := lookup(EnvKey("default_model")); ok {
		out.DefaultModel = v
	}
	if v, ok := lookup(EnvKey("base_branch")); ok {
		out.BaseBranch = v
	}
	if v, ok := lookup(EnvKey("branch_name_strategy")); ok {
		out.BranchNameStrategy = v
	}
	if v, ok := lookup(EnvKey("concurrency")); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return out, &ConfigError{Source: "env", Key: EnvKey("concurrency"), Err: err}
		}
		out.Concurrency = n
	}
	if v, ok := lookup(EnvKey("task_poll_interval_ms")); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return out, &ConfigError{Source: "env", Key: EnvKey("task_poll_interval_ms"), Err: err}
		}
		out.TaskPollIntervalMs = n
	}
	if v, ok := lookup(EnvKey("notifications_enabled")); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return out, &ConfigError{Source: "env", Key: EnvKey("notifications_enabled"), Err: err}
		}
		out.NotificationsEnabled = b
	}
	if v, ok := lookup(EnvKey("interactive_preview_count")); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return out, &ConfigError{Source: "env", Key: EnvKey("interactive_preview_count"), Err: err}
		}
		out.InteractivePreviewCount = n
	}
	if v, ok := lookup(EnvKey("provider_options")); ok {
		var opts ProviderOptions
		if err := json.Unmarshal([]byte(v), &opts); err != nil {
			return out, &ConfigError{Source: "env", Key: EnvKey("provider_options"), Err: err}
		}
		out.ProviderOptions = opts
	}
	return out, nil
}
