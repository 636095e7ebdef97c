// Package parallelrun implements the Parallel Runner: fan-out execution of
// a movement's sub-movements (the plain `parallel`, `teamLeader`, and
// `arpeggio` variants), per SPEC_FULL.md §4.7. It wraps movement.Executor
// per sub-movement and is itself an engine.MovementRunner, so the engine
// dispatches every movement through this package without needing to know
// whether it fans out.
package parallelrun

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/movement"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
)

// palette is the round-robin prefix color set, matching the teacher's
// status-coloring stack (github.com/fatih/color).
var palette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgYellow),
	color.New(color.FgGreen),
	color.New(color.FgBlue),
}

// Runner dispatches plain movements to Executor and fans out parallel
// containers into concurrent sub-movement runs.
type Runner struct {
	Piece     *piece.Piece
	Executor  *movement.Executor
	Evaluator *ruleeval.Evaluator
	Sink      func(text string) // parent stream sink for prefixed sub output; nil is legal
}

// subResult captures one sub-movement's outcome for merge/aggregate logic.
type subResult struct {
	name      string
	result    engine.MovementResult
	condition string
	err       error
}

// RunMovement satisfies engine.MovementRunner.
func (r *Runner) RunMovement(ctx context.Context, st *engine.State, m piece.Movement) (engine.MovementResult, error) {
	switch {
	case len(m.Parallel) > 0:
		return r.runPlainParallel(ctx, st, m)
	case m.TeamLeader != nil:
		return r.runTeamLeader(ctx, st, m)
	case m.Arpeggio != nil:
		return r.runArpeggio(ctx, st, m)
	default:
		return r.Executor.RunMovement(ctx, st, m)
	}
}

func (r *Runner) runPlainParallel(ctx context.Context, st *engine.State, m piece.Movement) (engine.MovementResult, error) {
	subs := make([]piece.Movement, 0, len(m.Parallel))
	for _, name := range m.Parallel {
		sub, ok := r.Piece.Movement(name)
		if !ok {
			return engine.MovementResult{}, fmt.Errorf("movement %q: parallel sub-movement %q not declared", m.Name, name)
		}
		subs = append(subs, sub)
	}
	return r.fanOut(ctx, st, m, subs)
}

// fanOut runs subs concurrently through dedicated Executor copies whose
// stream output is line-buffered and tagged with a padded, colored "[name]"
// prefix before reaching the parent sink.
func (r *Runner) fanOut(ctx context.Context, st *engine.State, parent piece.Movement, subs []piece.Movement) (engine.MovementResult, error) {
	width := 0
	for _, s := range subs {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}

	results := make([]subResult, len(subs))
	group, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		col := palette[i%len(palette)]
		group.Go(func() error {
			buf := &lineBuffer{prefix: padName(sub.Name, width), color: col, sink: r.Sink}
			ex := *r.Executor
			ex.OnStream = buf.forward
			res, err := ex.RunMovement(gctx, st, sub)
			condition := ""
			if err == nil && res.MatchedRuleIndex >= 0 && res.MatchedRuleIndex < len(sub.Rules) {
				condition = sub.Rules[res.MatchedRuleIndex].Condition
			}
			buf.flush()
			results[i] = subResult{name: sub.Name, result: res, condition: condition, err: err}
			return nil // partial failures are reconciled after Wait, not propagated as a group error
		})
	}
	_ = group.Wait()

	return r.mergeResults(parent, results)
}

func (r *Runner) mergeResults(parent piece.Movement, results []subResult) (engine.MovementResult, error) {
	var sections []string
	var conditions []string
	var reports []engine.ReportFile
	succeeded := 0

	for _, res := range results {
		if res.err != nil {
			sections = append(sections, fmt.Sprintf("## %s\n\n[ERROR] %s", res.name, res.err.Error()))
			continue
		}
		succeeded++
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", res.name, res.result.Content))
		conditions = append(conditions, res.condition)
		reports = append(reports, res.result.ReportFiles...)
	}

	if succeeded == 0 {
		return engine.MovementResult{}, fmt.Errorf("movement %q: every sub-movement failed", parent.Name)
	}

	content := strings.Join(sections, "\n\n---\n\n")
	evalResult := engine.MovementResult{
		Status:        string(agentclient.StatusDone),
		Content:       content,
		ReportFiles:   reports,
		SubConditions: conditions,
	}

	match, ok, err := r.Evaluator.Evaluate(context.Background(), parent.Rules, ruleeval.EvalInput{
		PieceName:     r.Piece.Name,
		MovementName:  parent.Name,
		Phase1Content: content,
		SubConditions: conditions,
	})
	if err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: evaluate rules: %w", parent.Name, err)
	}
	if !ok {
		evalResult.MatchedRuleIndex = -1
		return evalResult, nil
	}
	evalResult.MatchedRuleIndex = match.Index
	evalResult.MatchedRuleMethod = match.Method
	return evalResult, nil
}

func padName(name string, width int) string {
	if len(name) >= width {
		return name
	}
	return name + strings.Repeat(" ", width-len(name))
}

// lineBuffer accumulates streamed text until a newline, then flushes a
// single "[prefix] line" to the parent sink; non-text stream events are
// dropped and never reach the parent sink.
type lineBuffer struct {
	prefix string
	color  *color.Color
	sink   func(string)
	buf    strings.Builder
	mu     sync.Mutex
}

func (b *lineBuffer) forward(ev agentclient.StreamEvent) {
	if ev.Kind != agentclient.StreamText {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(ev.Text)
	for {
		s := b.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx == -1 {
			break
		}
		b.emit(s[:idx])
		b.buf.Reset()
		b.buf.WriteString(s[idx+1:])
	}
}

func (b *lineBuffer) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 0 {
		b.emit(b.buf.String())
		b.buf.Reset()
	}
}

func (b *lineBuffer) emit(line string) {
	if b.sink == nil {
		return
	}
	b.sink(b.color.Sprintf("[%s]", b.prefix) + " " + line)
}

// partSpec is one team-leader-assigned sub-task.
type partSpec struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
}

func (r *Runner) runTeamLeader(ctx context.Context, st *engine.State, m piece.Movement) (engine.MovementResult, error) {
	spec := m.TeamLeader
	maxParts := spec.MaxParts
	if maxParts <= 0 || maxParts > 3 {
		maxParts = 3
	}

	planResult, err := r.Executor.RunMovement(ctx, st, stripContainer(m))
	if err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: team leader planning call: %w", m.Name, err)
	}
	if planResult.Status != string(agentclient.StatusDone) {
		return planResult, nil
	}

	parts, err := parsePartSpecs(planResult.Content, maxParts)
	if err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: parse team leader plan: %w", m.Name, err)
	}

	subs := make([]piece.Movement, len(parts))
	timeout := time.Duration(spec.PartTimeoutSec) * time.Second
	for i, part := range parts {
		sub := m
		sub.Name = part.ID
		sub.InstructionTemplate = part.Instruction
		sub.Parallel = nil
		sub.TeamLeader = nil
		subs[i] = sub
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.fanOut(runCtx, st, m, subs)
}

func stripContainer(m piece.Movement) piece.Movement {
	m.Parallel = nil
	m.TeamLeader = nil
	m.Arpeggio = nil
	return m
}

func parsePartSpecs(content string, maxParts int) ([]partSpec, error) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in team leader response")
	}
	var parts []partSpec
	if err := json.Unmarshal([]byte(content[start:end+1]), &parts); err != nil {
		return nil, err
	}
	if len(parts) > maxParts {
		parts = parts[:maxParts]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("team leader plan contained zero parts")
	}
	return parts, nil
}

func (r *Runner) runArpeggio(ctx context.Context, st *engine.State, m piece.Movement) (engine.MovementResult, error) {
	spec := m.Arpeggio
	rows, err := readCSVRows(spec.Source)
	if err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: read arpeggio source: %w", m.Name, err)
	}

	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batches := batchRows(rows, batchSize)

	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	outputs := make([]string, len(batches))
	sem := make(chan struct{}, concurrency)
	group, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			sub := m
			sub.Name = fmt.Sprintf("%s-batch-%d", m.Name, i)
			sub.InstructionTemplate = renderBatch(m.InstructionTemplate, batch)
			sub.Parallel = nil
			sub.Arpeggio = nil

			content, err := r.runWithRetry(gctx, st, sub, spec.MaxRetries, time.Duration(spec.RetryDelayMs)*time.Millisecond)
			if err != nil {
				content = fmt.Sprintf("[ERROR] %s", err.Error())
			}
			outputs[i] = content
			return nil
		})
	}
	_ = group.Wait()

	merged := mergeArpeggioOutputs(outputs, spec)
	return engine.MovementResult{Status: string(agentclient.StatusDone), Content: merged, MatchedRuleIndex: -1}, nil
}

func (r *Runner) runWithRetry(ctx context.Context, st *engine.State, sub piece.Movement, maxRetries int, delay time.Duration) (string, error) {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		res, err := r.Executor.RunMovement(ctx, st, sub)
		if err == nil && res.Status == string(agentclient.StatusDone) {
			return res.Content, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("batch %q ended with status %s", sub.Name, res.Status)
		}
	}
	return "", lastErr
}

func mergeArpeggioOutputs(outputs []string, spec *piece.ArpeggioSpec) string {
	sep := spec.MergeSeparator
	if sep == "" {
		sep = "\n\n"
	}
	// "custom" merge scripts are a documented Non-goal for this build (no
	// sandboxed script host in this repository); fall back to concat and
	// let the caller know via the merged text.
	merged := strings.Join(outputs, sep)
	if spec.MergeStrategy == "custom" {
		merged = "[note: custom merge_script not executed; concatenated instead]\n\n" + merged
	}
	return merged
}

func renderBatch(template string, batch [][]string) string {
	var rows []string
	for _, row := range batch {
		rows = append(rows, strings.Join(row, ","))
	}
	return strings.ReplaceAll(template, "{batch}", strings.Join(rows, "\n"))
}

func batchRows(rows [][]string, batchSize int) [][][]string {
	var batches [][][]string
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[i:end])
	}
	return batches
}

func readCSVRows(source string) ([][]string, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		rows = rows[1:] // drop header row
	}
	return rows, nil
}
