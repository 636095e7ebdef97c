package piece

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// ResolutionError reports that a piece identifier could not be located in
// any of the four search layers.
type ResolutionError struct {
	Identifier string
	Searched   []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("piece %q not found; searched: %s", e.Identifier, strings.Join(e.Searched, ", "))
}

// Loader resolves piece identifiers through the four-layer search order
// (package-local, project, user-global, built-in bundle) and resolves
// facet references the same way. It owns a compiled-tag-regex cache shared
// across all loaded pieces.
type Loader struct {
	PackageDir string // current repertoire package's pieces/ dir, if any
	ProjectDir string // <project>/.takt/pieces
	GlobalDir  string // <home>/.takt/pieces or built-ins root
	BuiltinDir string // embedded/installed built-in bundle root

	DisabledBuiltins map[string]bool

	tagCache *lru.Cache[string, *regexp.Regexp]
}

// NewLoader constructs a Loader with a bounded LRU for compiled tag
// regexes, sized to comfortably hold every movement of a handful of
// concurrently active pieces.
func NewLoader(projectDir, globalDir, builtinDir string) (*Loader, error) {
	cache, err := lru.New[string, *regexp.Regexp](256)
	if err != nil {
		return nil, fmt.Errorf("init tag cache: %w", err)
	}
	return &Loader{
		ProjectDir: projectDir,
		GlobalDir:  globalDir,
		BuiltinDir: builtinDir,
		tagCache:   cache,
	}, nil
}

// searchDirs returns the ordered list of piece-file directories to probe
// for a bare or category/name identifier.
func (l *Loader) searchDirs() []string {
	var dirs []string
	if l.PackageDir != "" {
		dirs = append(dirs, l.PackageDir)
	}
	if l.ProjectDir != "" {
		dirs = append(dirs, l.ProjectDir)
	}
	if l.GlobalDir != "" {
		dirs = append(dirs, l.GlobalDir)
	}
	if l.BuiltinDir != "" {
		dirs = append(dirs, l.BuiltinDir)
	}
	return dirs
}

// Load resolves identifier, parses its YAML, inlines every facet
// reference, and validates the resulting graph.
func (l *Loader) Load(identifier string) (*Piece, error) {
	path, err := l.resolvePath(identifier)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read piece %q: %w", identifier, err)
	}

	var p Piece
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse piece %q: %w", identifier, err)
	}
	if p.Name == "" {
		p.Name = identifier
	}

	if err := l.resolveFacets(&p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// resolvePath implements the identifier grammar: absolute/relative/~ paths
// read directly; "@owner/repo/name" resolves under the repertoire root
// (GlobalDir/repertoire/owner/repo/pieces/name.yaml); everything else is a
// bare or category/name search across the four layers.
func (l *Loader) resolvePath(identifier string) (string, error) {
	switch {
	case strings.HasPrefix(identifier, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve ~: %w", err)
		}
		return filepath.Join(home, identifier[2:]), nil
	case filepath.IsAbs(identifier) || strings.HasPrefix(identifier, "./") || strings.HasPrefix(identifier, "../"):
		if _, err := os.Stat(identifier); err != nil {
			return "", fmt.Errorf("read piece path %q: %w", identifier, err)
		}
		return identifier, nil
	case strings.HasPrefix(identifier, "@"):
		parts := strings.SplitN(strings.TrimPrefix(identifier, "@"), "/", 3)
		if len(parts) != 3 {
			return "", fmt.Errorf("scoped piece reference %q must be @owner/repo/name", identifier)
		}
		owner, repo, name := parts[0], parts[1], parts[2]
		return l.tryExtensions(filepath.Join(l.GlobalDir, "repertoire", owner, repo, "pieces", name))
	default:
		var searched []string
		for _, dir := range l.searchDirs() {
			if path, err := l.tryExtensions(filepath.Join(dir, identifier)); err == nil {
				if l.isDisabledBuiltin(dir, identifier) {
					continue
				}
				return path, nil
			}
			searched = append(searched, dir)
		}
		return "", &ResolutionError{Identifier: identifier, Searched: searched}
	}
}

func (l *Loader) isDisabledBuiltin(dir, identifier string) bool {
	if dir != l.BuiltinDir || len(l.DisabledBuiltins) == 0 {
		return false
	}
	return l.DisabledBuiltins[identifier]
}

func (l *Loader) tryExtensions(base string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := base + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no piece file at %s(.yaml|.yml)", base)
}

// resolveFacets inlines any facet reference in the piece's maps
// (personas/policies/knowledge/instructions/report_formats): a value that
// is already multi-line content (contains a newline) is used verbatim;
// otherwise it names a facet searched as facets/<kind>/<name>.md across the
// same layered search path, unless it starts with "./" or "../" or is
// absolute, in which case it is read directly from that path. Relative
// paths resolve against the process working directory, not the piece
// file's directory.
func (l *Loader) resolveFacets(p *Piece) error {
	kinds := map[string]map[string]string{
		"personas":      p.Personas,
		"policies":      p.Policies,
		"knowledge":     p.Knowledge,
		"instructions":  p.Instructions,
		"report_formats": p.ReportFormats,
	}
	for kind, facets := range kinds {
		for name, ref := range facets {
			resolved, err := l.resolveFacetRef(kind, ref)
			if err != nil {
				return fmt.Errorf("piece %q: facet %s/%s: %w", p.Name, kind, name, err)
			}
			facets[name] = resolved
		}
	}
	return nil
}

func (l *Loader) resolveFacetRef(kind, ref string) (string, error) {
	if strings.Contains(ref, "\n") {
		return ref, nil
	}
	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || filepath.IsAbs(ref) {
		content, err := os.ReadFile(ref)
		if err != nil {
			return "", err
		}
		return string(content), nil
	}
	var lastErr error
	for _, dir := range l.searchDirs() {
		path := filepath.Join(dir, "facets", kind, ref+".md")
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no search directories configured")
	}
	return "", fmt.Errorf("facet %s/%s not found: %w", kind, ref, lastErr)
}

// TagRegex returns the compiled, anchor-stripped regex matching the literal
// tag `[NAME:N]` derived from condition, caching the compiled pattern per
// piece+movement+condition so repeated evaluation across iterations and across
// Supervisor ticks avoids recompiling.
func (l *Loader) TagRegex(pieceName, movementName, condition string) (*regexp.Regexp, error) {
	key := pieceName + "/" + movementName + "/" + condition
	if re, ok := l.tagCache.Get(key); ok {
		return re, nil
	}
	re, err := regexp.Compile(regexp.QuoteMeta(condition))
	if err != nil {
		return nil, fmt.Errorf("compile tag regex for %q: %w", condition, err)
	}
	l.tagCache.Add(key, re)
	return re, nil
}
