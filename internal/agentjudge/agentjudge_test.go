package agentjudge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/takt/internal/agentclient"
)

func TestSelectRuleParsesStructuredOutput(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		Persona: {{Status: agentclient.StatusAnswer, StructuredOutput: map[string]any{"selected_index": float64(1)}}},
	})
	j := New(client, "")

	idx, err := j.SelectRule(context.Background(), "looks good to me", []string{"needs changes", "approved"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestSelectRuleRepairsMalformedJSON(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		Persona: {{Status: agentclient.StatusAnswer, Content: "Sure thing, here you go: {selected_index: 0,} thanks!"}},
	})
	j := New(client, "")

	idx, err := j.SelectRule(context.Background(), "some response", []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestSelectRuleClampsOutOfRangeIndex(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		Persona: {{Status: agentclient.StatusAnswer, Content: `{"selected_index": 7}`}},
	})
	j := New(client, "")

	idx, err := j.SelectRule(context.Background(), "resp", []string{"only-one"})
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestSelectRuleRequiresClient(t *testing.T) {
	j := New(nil, "")
	_, err := j.SelectRule(context.Background(), "resp", []string{"a"})
	assert.Error(t, err)
}
