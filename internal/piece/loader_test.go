package piece

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderResolvesProjectOverGlobal(t *testing.T) {
	projectDir := t.TempDir()
	globalDir := t.TempDir()

	writeFile(t, filepath.Join(globalDir, "review.yaml"), `
name: review
movements:
  - name: start
    persona: reviewer
    instruction_template: "review {task}"
    rules:
      - condition: done
        next: COMPLETE
`)
	writeFile(t, filepath.Join(projectDir, "review.yaml"), `
name: review-project
movements:
  - name: start
    persona: reviewer
    instruction_template: "review {task} in project"
    rules:
      - condition: done
        next: COMPLETE
`)

	l, err := NewLoader(projectDir, globalDir, "")
	require.NoError(t, err)

	p, err := l.Load("review")
	require.NoError(t, err)
	require.Equal(t, "review-project", p.Name, "project layer must shadow global layer")
}

func TestLoaderValidatesUnknownRuleTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), `
name: broken
movements:
  - name: start
    persona: x
    instruction_template: "go"
    rules:
      - condition: done
        next: nowhere
`)
	l, err := NewLoader(dir, "", "")
	require.NoError(t, err)

	_, err = l.Load("broken")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoaderResolvesFacetFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "facets", "personas", "reviewer.md"), "You are a meticulous reviewer.")
	writeFile(t, filepath.Join(dir, "withfacet.yaml"), `
name: withfacet
personas:
  reviewer: reviewer
movements:
  - name: start
    persona: reviewer
    instruction_template: "go"
    rules:
      - condition: done
        next: COMPLETE
`)

	l, err := NewLoader(dir, "", "")
	require.NoError(t, err)

	p, err := l.Load("withfacet")
	require.NoError(t, err)
	require.Equal(t, "You are a meticulous reviewer.", p.Personas["reviewer"])
}

func TestLoaderParsesAggregateConditionSyntax(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fanout.yaml"), `
name: fanout
movements:
  - name: start
    persona: x
    instruction_template: go
    parallel: ["a", "b"]
    rules:
      - condition: "all(ok)"
        next: COMPLETE
      - condition: "any(ok)"
        next: retry
      - condition: done
        next: retry
  - name: a
    persona: x
    instruction_template: go
    rules: [{condition: done, next: COMPLETE}]
  - name: b
    persona: x
    instruction_template: go
    rules: [{condition: done, next: COMPLETE}]
  - name: retry
    persona: x
    instruction_template: go
    rules: [{condition: done, next: COMPLETE}]
`)
	l, err := NewLoader(dir, "", "")
	require.NoError(t, err)

	p, err := l.Load("fanout")
	require.NoError(t, err)

	start, ok := p.Movement("start")
	require.True(t, ok)
	require.Equal(t, "all", start.Rules[0].AggregateType)
	require.Equal(t, "ok", start.Rules[0].AggregateConditionText)
	require.Equal(t, "any", start.Rules[1].AggregateType)
	require.Equal(t, "ok", start.Rules[1].AggregateConditionText)
	require.Empty(t, start.Rules[2].AggregateType, "a non-aggregate condition must not be parsed as one")
}

func TestLoaderRejectsAmbiguousCombinators(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), `
name: bad
movements:
  - name: start
    persona: x
    instruction_template: "go"
    parallel: ["a", "b"]
    arpeggio:
      source: data.csv
      batch_size: 1
      concurrency: 1
      merge_strategy: concat
    rules:
      - condition: done
        next: COMPLETE
  - name: a
    persona: x
    instruction_template: go
    rules: [{condition: done, next: COMPLETE}]
  - name: b
    persona: x
    instruction_template: go
    rules: [{condition: done, next: COMPLETE}]
`)
	l, err := NewLoader(dir, "", "")
	require.NoError(t, err)
	_, err = l.Load("bad")
	require.Error(t, err)
}
