// Package ghissue implements the narrow IssueClient contract used to
// resolve `#N` task references to issue title/body, and to post a
// completion comment back. Per SPEC_FULL.md §6 this is framed as an
// external collaborator with a thin adapter; only a documented stub ships
// in this repository until wired to a real GitHub token.
package ghissue

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Client is the narrow contract the CLI and Task Supervisor consume.
type Client interface {
	FetchIssue(ctx context.Context, ref string) (title, body string, err error)
	PostComment(ctx context.Context, ref, body string) error
}

// issueRefPattern matches a bare "#123" or "owner/repo#123" reference.
var issueRefPattern = regexp.MustCompile(`^(?:([\w.-]+/[\w.-]+))?#(\d+)$`)

// ParseRef splits a task reference into its optional owner/repo and issue
// number, returning ok=false if ref does not match the `#N` grammar.
func ParseRef(ref string) (repo string, number int, ok bool) {
	ref = strings.TrimSpace(ref)
	m := issueRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// NotConfiguredError reports that no real GitHub adapter has been wired.
type NotConfiguredError struct{}

func (e *NotConfiguredError) Error() string {
	return "github issue client is not configured"
}

// stubClient is the documented placeholder; real wiring needs a token and
// an HTTP client, out of scope for this repository per SPEC_FULL.md §6.
type stubClient struct{}

func (stubClient) FetchIssue(ctx context.Context, ref string) (string, string, error) {
	if _, _, ok := ParseRef(ref); !ok {
		return "", "", fmt.Errorf("fetch issue: %q is not a valid issue reference", ref)
	}
	return "", "", &NotConfiguredError{}
}

func (stubClient) PostComment(ctx context.Context, ref, body string) error {
	return &NotConfiguredError{}
}

// NewStub returns the documented placeholder adapter.
func NewStub() Client { return stubClient{} }
