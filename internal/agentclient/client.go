// Package agentclient defines the narrow AgentClient contract the Phase
// Runner drives, plus a deterministic mock implementation used by engine
// tests and the CLI's dry-run mode.
package agentclient

import "context"

// Status mirrors the agent-response statuses named in SPEC_FULL.md §3.
type Status string

const (
	StatusDone        Status = "done"
	StatusBlocked     Status = "blocked"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusCancelled   Status = "cancelled"
	StatusAnswer      Status = "answer"
)

// StreamEventKind discriminates the chunk types an agent call may emit on
// its streaming callback.
type StreamEventKind string

const (
	StreamInit       StreamEventKind = "init"
	StreamText       StreamEventKind = "text"
	StreamThinking   StreamEventKind = "thinking"
	StreamToolUse    StreamEventKind = "tool_use"
	StreamToolResult StreamEventKind = "tool_result"
	StreamToolOutput StreamEventKind = "tool_output"
	StreamResult     StreamEventKind = "result"
	StreamError      StreamEventKind = "error"
)

// StreamEvent is one chunk of a call's streaming output.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
}

// StreamCallback receives stream events as they arrive; nil is legal and
// means "no streaming consumer".
type StreamCallback func(StreamEvent)

// PermissionRequest is raised by a provider mid-call when a tool
// invocation needs interactive approval; narrow by design, since
// interactive approval UX lives outside the core per spec §6.
type PermissionRequest struct {
	Tool   string
	Detail string
}

// CallOptions configures a single Phase 1/2/3 invocation.
type CallOptions struct {
	Cwd                string
	SessionID          string
	AllowedTools       []string
	MCPServers         map[string]string
	Model              string
	MaxTurns           int
	SystemPrompt       string
	PermissionMode     string
	BypassPermissions  bool
	OutputSchema       string
	OnStream           StreamCallback
	OnPermissionRequest func(PermissionRequest) bool
}

// Response is the result of a single agent call.
type Response struct {
	Status           Status
	Content          string
	SessionID        string
	StructuredOutput map[string]any
	Err              error
}

// Client is the narrow contract the Phase Runner consumes. Persona is the
// rendered persona+policy+knowledge system content for this call; prompt
// is the rendered instruction.
type Client interface {
	Call(ctx context.Context, persona, prompt string, opts CallOptions) (Response, error)
}

// Provider names the four documented collaborator adapters.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderCodex    Provider = "codex"
	ProviderOpencode Provider = "opencode"
	ProviderMock     Provider = "mock"
)

// ErrProviderNotConfigured is returned by the claude/codex/opencode stub
// adapters until they are wired to a real SDK; only the mock provider has
// a functioning implementation in this repository.
var ErrProviderNotConfigured = &NotConfiguredError{}

// NotConfiguredError reports that a real provider adapter has not been
// wired in this build.
type NotConfiguredError struct{ Provider string }

func (e *NotConfiguredError) Error() string {
	if e.Provider == "" {
		return "agent provider is not configured"
	}
	return "agent provider " + e.Provider + " is not configured"
}

// Is makes errors.Is(err, ErrProviderNotConfigured) hold for every
// NotConfiguredError, whichever provider it names.
func (e *NotConfiguredError) Is(target error) bool {
	_, ok := target.(*NotConfiguredError)
	return ok
}

// stubClient implements Client for the three unimplemented providers.
type stubClient struct{ provider string }

func (s stubClient) Call(ctx context.Context, persona, prompt string, opts CallOptions) (Response, error) {
	return Response{}, &NotConfiguredError{Provider: s.provider}
}

// NewStub returns the documented placeholder adapter for a named provider.
func NewStub(provider Provider) Client {
	return stubClient{provider: string(provider)}
}
