// Package repertoire implements the narrow RepertoireClient contract and
// the .takt-repertoire-lock.yaml reader/writer used when a piece's
// "package" identifier resolves to an external @owner/repo/name source
// (per SPEC_FULL.md §4.10/§6). Lock file persistence follows the teacher's
// layered yaml.v3 config shape in internal/taktconfig; correlation ids use
// google/uuid the same way the teacher stamps run/session ids.
package repertoire

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Client is the narrow contract the Piece Loader consumes when a package
// identifier names an external repertoire source.
type Client interface {
	Fetch(ctx context.Context, source, ref string) (localPath, commit string, err error)
}

// LockEntry records one imported package in .takt-repertoire-lock.yaml.
type LockEntry struct {
	Source     string    `yaml:"source"`
	Ref        string    `yaml:"ref"`
	Commit     string    `yaml:"commit"`
	ImportedAt time.Time `yaml:"imported_at"`
	ImportID   string    `yaml:"import_id"`
}

// Lock is the parsed contents of .takt-repertoire-lock.yaml, keyed by
// package source string (e.g. "@owner/repo/name").
type Lock struct {
	Packages map[string]LockEntry `yaml:"packages"`
}

// LockFileName is the name the lock file is read/written under, relative
// to the project root.
const LockFileName = ".takt-repertoire-lock.yaml"

// ReadLock loads the lock file at root/.takt-repertoire-lock.yaml. A
// missing file is not an error: it returns an empty Lock, and callers
// should treat an absent entry's ref as "HEAD" per SPEC_FULL.md §6.
func ReadLock(root string) (*Lock, error) {
	path := filepath.Join(root, LockFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Lock{Packages: map[string]LockEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read repertoire lock: %w", err)
	}
	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse repertoire lock: %w", err)
	}
	if lock.Packages == nil {
		lock.Packages = map[string]LockEntry{}
	}
	return &lock, nil
}

// Write persists the lock file at root/.takt-repertoire-lock.yaml.
func (l *Lock) Write(root string) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal repertoire lock: %w", err)
	}
	path := filepath.Join(root, LockFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write repertoire lock: %w", err)
	}
	return nil
}

// RefFor returns the recorded ref for source, defaulting to "HEAD" when
// the package has no lock entry.
func (l *Lock) RefFor(source string) string {
	if l == nil {
		return "HEAD"
	}
	if entry, ok := l.Packages[source]; ok && entry.Ref != "" {
		return entry.Ref
	}
	return "HEAD"
}

// Record upserts a lock entry for source, stamping a fresh import id and
// timestamp if one was not already tracked.
func (l *Lock) Record(source, ref, commit string, now time.Time) LockEntry {
	entry := l.Packages[source]
	if entry.ImportID == "" {
		entry.ImportID = uuid.NewString()
	}
	entry.Source = source
	entry.Ref = ref
	entry.Commit = commit
	entry.ImportedAt = now
	l.Packages[source] = entry
	return entry
}

// GitClient fetches repertoire packages by shallow-cloning (or reusing a
// cached clone of) the source repository into root/.takt/repertoire/.
// Grounded on vcsclient's os/exec git adapter: no package-registry SDK
// appears in the example corpus, so a git-backed fetch is the documented
// stdlib choice here (see DESIGN.md).
type GitClient struct {
	Root string
	exec CommandRunner
}

// CommandRunner abstracts process execution so tests can substitute a
// fake without shelling out to a real git binary.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGitClient constructs a GitClient rooted at root, using runner to
// execute git subcommands. A nil runner defaults to ExecRunner, which
// shells out to the system git binary the same way vcsclient does.
func NewGitClient(root string, runner CommandRunner) *GitClient {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &GitClient{Root: root, exec: runner}
}

// ExecRunner is the production CommandRunner: it shells out to the system
// git binary, mirroring vcsclient's os/exec.CommandContext adapter.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// Fetch clones source at ref into .takt/repertoire/<owner>/<repo>,
// reusing an existing checkout if one is already present, records the
// resolved commit in the lock file, and returns the package directory
// <owner>/<repo>/<name> inside that checkout.
func (g *GitClient) Fetch(ctx context.Context, source, ref string) (string, string, error) {
	owner, repo, pkg, err := ParseSource(source)
	if err != nil {
		return "", "", err
	}
	if ref == "" {
		ref = "HEAD"
	}

	dest := filepath.Join(g.Root, ".takt", "repertoire", owner, repo)
	if _, statErr := os.Stat(dest); os.IsNotExist(statErr) {
		url := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
		if _, err := g.exec.Run(ctx, g.Root, "clone", "--depth", "1", "--branch", ref, url, dest); err != nil {
			return "", "", fmt.Errorf("clone repertoire source %s: %w", source, err)
		}
	} else {
		if _, err := g.exec.Run(ctx, dest, "fetch", "--depth", "1", "origin", ref); err != nil {
			return "", "", fmt.Errorf("fetch repertoire source %s: %w", source, err)
		}
		if _, err := g.exec.Run(ctx, dest, "checkout", "FETCH_HEAD"); err != nil {
			return "", "", fmt.Errorf("checkout repertoire ref %s: %w", ref, err)
		}
	}

	commit, err := g.exec.Run(ctx, dest, "rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("resolve repertoire commit for %s: %w", source, err)
	}
	commit = strings.TrimSpace(commit)

	lock, err := ReadLock(g.Root)
	if err != nil {
		return "", "", err
	}
	lock.Record(source, ref, commit, lockTimestamp())
	if err := lock.Write(g.Root); err != nil {
		return "", "", err
	}

	localPath := filepath.Join(dest, pkg)
	return localPath, commit, nil
}

// lockTimestamp is a seam so tests can stub "now" without Date.now-style
// nondeterminism leaking into lock file assertions.
var lockTimestamp = time.Now

// ParseSource splits an "@owner/repo/name" package identifier into its
// owner, repo, and package-name components.
func ParseSource(source string) (owner, repo, pkg string, err error) {
	trimmed := strings.TrimPrefix(source, "@")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("repertoire source %q must be @owner/repo/name", source)
	}
	return parts[0], parts[1], parts[2], nil
}
