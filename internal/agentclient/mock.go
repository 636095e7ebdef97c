package agentclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockScript lets a test script a sequence of canned responses per persona,
// returned in order on successive calls. It is the only Client with a real
// implementation in this repository — claude/codex/opencode are narrow
// documented stubs per SPEC_FULL.md §6.
type MockScript struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     []CallRecord
}

// CallRecord captures one Call invocation for test assertions.
type CallRecord struct {
	Persona string
	Prompt  string
	Opts    CallOptions
}

// NewMockScript builds a mock client with a fixed per-persona response
// queue; when a persona's queue is exhausted, Call returns a final "done"
// response so long-running test pieces terminate instead of blocking.
func NewMockScript(responses map[string][]Response) *MockScript {
	copied := make(map[string][]Response, len(responses))
	for persona, rs := range responses {
		copied[persona] = append([]Response(nil), rs...)
	}
	return &MockScript{responses: copied}
}

func (m *MockScript) Call(ctx context.Context, persona, prompt string, opts CallOptions) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CallRecord{Persona: persona, Prompt: prompt, Opts: opts})

	select {
	case <-ctx.Done():
		return Response{Status: StatusInterrupted}, ctx.Err()
	default:
	}

	queue := m.responses[persona]
	if len(queue) == 0 {
		return Response{Status: StatusDone, Content: fmt.Sprintf("%s: no more scripted responses", persona), SessionID: newSessionID(opts)}, nil
	}
	next := queue[0]
	m.responses[persona] = queue[1:]
	if next.SessionID == "" {
		next.SessionID = newSessionID(opts)
	}
	if opts.OnStream != nil {
		opts.OnStream(StreamEvent{Kind: StreamText, Text: next.Content})
		opts.OnStream(StreamEvent{Kind: StreamResult, Text: string(next.Status)})
	}
	return next, next.Err
}

// Calls returns the calls observed so far, in order.
func (m *MockScript) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.calls...)
}

func newSessionID(opts CallOptions) string {
	if opts.SessionID != "" {
		return opts.SessionID
	}
	return uuid.NewString()
}
