package vcsclient

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	run("config", "user.email", "takt@example.com")
	run("config", "user.name", "takt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	run("checkout", "-q", "-b", "main")
	return dir
}

func TestGitClientPreparesWorktree(t *testing.T) {
	repo := initRepo(t)
	client := New(repo)

	dir, err := client.PrepareWorktree(context.Background(), "takt/feature-x")
	require.NoError(t, err)
	require.DirExists(t, dir)
}

func TestGitClientAutoCommitAndPushSkipsCleanTree(t *testing.T) {
	repo := initRepo(t)
	client := New(repo)

	err := client.AutoCommitAndPush(context.Background(), repo, "should be a no-op")
	require.NoError(t, err)
}

func TestGitClientPrepareWorktreeRequiresBranchName(t *testing.T) {
	repo := initRepo(t)
	client := New(repo)

	_, err := client.PrepareWorktree(context.Background(), "")
	require.Error(t, err)
}
