package taktconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Resolver loads and caches the merged configuration for a project. Global
// and project files are discovered with viper's search-path idiom; the
// documents themselves are decoded with yaml.v3 into ResolvedConfig so the
// typed fields and validation stay in one place.
type Resolver struct {
	ProjectDir string
	GlobalDir  string // defaults to $TAKT_CONFIG_DIR or ~/.takt
	Lookup     EnvLookup

	mu     sync.Mutex
	cached *ResolvedConfig
}

// NewResolver builds a Resolver rooted at projectDir, using os.LookupEnv
// unless overridden (tests inject a fixed map).
func NewResolver(projectDir string) *Resolver {
	return &Resolver{
		ProjectDir: projectDir,
		Lookup:     os.LookupEnv,
	}
}

func (r *Resolver) globalDir() string {
	if r.GlobalDir != "" {
		return r.GlobalDir
	}
	if dir, ok := r.Lookup("TAKT_CONFIG_DIR"); ok && dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".takt")
	}
	return ".takt"
}

// Invalidate clears the cached resolution; call after writing a new config
// file via the CLI's `config` sub-command.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// Resolve returns the merged configuration, loading and validating it on
// first call and serving the cached value thereafter.
func (r *Resolver) Resolve() (ResolvedConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached, nil
	}

	cfg := Defaults()

	global, err := r.loadLayer(r.globalDir(), "config")
	if err != nil {
		return ResolvedConfig{}, err
	}
	cfg = merge(cfg, global)

	project, err := r.loadLayer(filepath.Join(r.ProjectDir, ".takt"), "config")
	if err != nil {
		return ResolvedConfig{}, err
	}
	cfg = merge(cfg, project)

	env, err := envOverrides(r.Lookup)
	if err != nil {
		return ResolvedConfig{}, err
	}
	cfg = merge(cfg, env)

	if err := cfg.Validate(); err != nil {
		return ResolvedConfig{}, err
	}

	r.cached = &cfg
	return cfg, nil
}

// loadLayer uses viper purely for config-file discovery (name + search
// path), then decodes the located file's raw bytes with yaml.v3 so typed
// validation and error wrapping stay consistent across layers.
func (r *Resolver) loadLayer(dir, name string) (ResolvedConfig, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return ResolvedConfig{}, nil
		}
		return ResolvedConfig{}, &ConfigError{Source: dir, Key: name, Err: err}
	}

	raw, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return ResolvedConfig{}, &ConfigError{Source: v.ConfigFileUsed(), Key: name, Err: err}
	}

	var layer ResolvedConfig
	if err := yaml.Unmarshal(raw, &layer); err != nil {
		return ResolvedConfig{}, &ConfigError{Source: v.ConfigFileUsed(), Key: name, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	return layer, nil
}
