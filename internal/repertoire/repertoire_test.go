package repertoire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSourceSplitsOwnerRepoPackage(t *testing.T) {
	owner, repo, pkg, err := ParseSource("@acme/widgets/reviewer")
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.Equal(t, "widgets", repo)
	require.Equal(t, "reviewer", pkg)
}

func TestParseSourceRejectsMalformedInput(t *testing.T) {
	_, _, _, err := ParseSource("@acme/widgets")
	require.Error(t, err)
}

func TestReadLockReturnsEmptyWhenFileAbsent(t *testing.T) {
	lock, err := ReadLock(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, lock.Packages)
	require.Equal(t, "HEAD", lock.RefFor("@acme/widgets/reviewer"))
}

func TestLockRecordAndWriteRoundTrips(t *testing.T) {
	root := t.TempDir()
	lock, err := ReadLock(root)
	require.NoError(t, err)

	lock.Record("@acme/widgets/reviewer", "v1.2.0", "deadbeef", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, lock.Write(root))

	require.FileExists(t, filepath.Join(root, LockFileName))

	reread, err := ReadLock(root)
	require.NoError(t, err)
	entry, ok := reread.Packages["@acme/widgets/reviewer"]
	require.True(t, ok)
	require.Equal(t, "v1.2.0", entry.Ref)
	require.Equal(t, "deadbeef", entry.Commit)
	require.NotEmpty(t, entry.ImportID)
}

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if len(args) > 0 && args[0] == "clone" {
		dest := args[len(args)-1]
		return "", os.MkdirAll(dest, 0o755)
	}
	if len(args) > 0 && args[0] == "rev-parse" {
		return "cafef00d\n", nil
	}
	return "", nil
}

func TestGitClientFetchClonesAndRecordsLock(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	client := NewGitClient(root, runner)

	localPath, commit, err := client.Fetch(context.Background(), "@acme/widgets/reviewer", "v1.2.0")
	require.NoError(t, err)
	require.Equal(t, "cafef00d", commit)
	require.Equal(t, filepath.Join(root, ".takt", "repertoire", "acme", "widgets", "reviewer"), localPath)

	lock, err := ReadLock(root)
	require.NoError(t, err)
	entry := lock.Packages["@acme/widgets/reviewer"]
	require.Equal(t, "cafef00d", entry.Commit)
	require.Equal(t, "v1.2.0", entry.Ref)
}

func TestGitClientFetchReusesExistingCheckout(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	client := NewGitClient(root, runner)

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".takt", "repertoire", "acme", "widgets"), 0o755))

	_, _, err := client.Fetch(context.Background(), "@acme/widgets/reviewer", "main")
	require.NoError(t, err)

	var sawFetch bool
	for _, call := range runner.calls {
		if len(call) > 0 && call[0] == "fetch" {
			sawFetch = true
		}
		require.NotEqual(t, "clone", call[0], fmt.Sprintf("should not re-clone an existing checkout: %v", call))
	}
	require.True(t, sawFetch)
}
