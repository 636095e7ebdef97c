package agentclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockScriptReturnsQueuedResponsesInOrder(t *testing.T) {
	mock := NewMockScript(map[string][]Response{
		"implementer": {
			{Status: StatusDone, Content: "first"},
			{Status: StatusDone, Content: "second"},
		},
	})

	first, err := mock.Call(context.Background(), "implementer", "go", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "first", first.Content)
	require.NotEmpty(t, first.SessionID)

	second, err := mock.Call(context.Background(), "implementer", "go again", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "second", second.Content)

	require.Len(t, mock.Calls(), 2)
}

func TestMockScriptFallsBackWhenExhausted(t *testing.T) {
	mock := NewMockScript(map[string][]Response{"reviewer": {{Status: StatusDone, Content: "only"}}})
	_, err := mock.Call(context.Background(), "reviewer", "p", CallOptions{})
	require.NoError(t, err)

	resp, err := mock.Call(context.Background(), "reviewer", "p", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusDone, resp.Status)
}
