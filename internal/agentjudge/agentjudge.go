// Package agentjudge implements ruleeval.Judge by asking an AgentClient
// persona to pick a rule condition from a short numbered list, per
// SPEC_FULL.md §4.4's "AI-judge" rule-matching strategy (the fourth and
// last strategy tried, after tag/aggregate/textual matching all miss).
package agentjudge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/cklxx/takt/internal/agentclient"
)

// Persona is the fixed system prompt for the judge call: terse, forces
// single-line JSON so the repair pass below has a small surface.
const Persona = `You are a routing judge. Given an agent's response and a numbered ` +
	`list of candidate conditions, choose the single condition the response ` +
	`best satisfies. Reply with exactly one line of JSON: {"selected_index": N} ` +
	`where N is the 0-based index, or -1 if none apply.`

// Judge asks client to select one of a movement's rule conditions.
type Judge struct {
	Client agentclient.Client
	Model  string
}

// New builds a Judge over client; model may be empty to use the client's
// default.
func New(client agentclient.Client, model string) *Judge {
	return &Judge{Client: client, Model: model}
}

type selection struct {
	SelectedIndex int `json:"selected_index"`
}

// SelectRule satisfies ruleeval.Judge.
func (j *Judge) SelectRule(ctx context.Context, response string, candidates []string) (int, error) {
	if j.Client == nil {
		return -1, fmt.Errorf("agentjudge: no AgentClient configured")
	}
	prompt := buildPrompt(response, candidates)

	result, err := j.Client.Call(ctx, Persona, prompt, agentclient.CallOptions{
		Model:        j.Model,
		OutputSchema: `{"type":"object","properties":{"selected_index":{"type":"integer"}}}`,
	})
	if err != nil {
		return -1, fmt.Errorf("agentjudge: call judge: %w", err)
	}
	if result.StructuredOutput != nil {
		if idx, ok := indexFromMap(result.StructuredOutput); ok {
			return clampIndex(idx, len(candidates)), nil
		}
	}

	idx, err := parseSelection(result.Content)
	if err != nil {
		return -1, fmt.Errorf("agentjudge: parse judge reply: %w", err)
	}
	return clampIndex(idx, len(candidates)), nil
}

func buildPrompt(response string, candidates []string) string {
	var b strings.Builder
	b.WriteString("Response:\n")
	b.WriteString(response)
	b.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(". ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}

func indexFromMap(m map[string]any) (int, bool) {
	raw, ok := m["selected_index"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// parseSelection extracts {"selected_index": N} from content, repairing
// the JSON first since agent replies routinely include trailing prose,
// unbalanced braces, or single quotes that encoding/json won't tolerate.
func parseSelection(content string) (int, error) {
	candidate := extractJSONObject(content)
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return -1, fmt.Errorf("repair judge JSON: %w", err)
	}

	var sel selection
	if err := json.Unmarshal([]byte(repaired), &sel); err != nil {
		return -1, fmt.Errorf("unmarshal repaired judge JSON: %w", err)
	}
	return sel.SelectedIndex, nil
}

// extractJSONObject narrows content to its first {...} span, or returns
// content unchanged if no braces are present.
func extractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

func clampIndex(idx, n int) int {
	if idx < 0 || idx >= n {
		return -1
	}
	return idx
}
