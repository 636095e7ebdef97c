package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// supportedExts are the task-file extensions listed by listTasks; any
// other file (notably a TASK-FORMAT documentation file) is skipped.
var supportedExts = map[string]bool{".yaml": true, ".yml": true, ".md": true}

// Localizer renders a localized status string, satisfied by
// (*i18n.Bundles).Localizer(lang). Left nil, report.md falls back to the
// plain English template.
type Localizer interface {
	Render(bundle, key string, vars map[string]string) string
}

// Store is the filesystem-backed Task Store rooted at <projectDir>/.takt/.
type Store struct {
	Root      string // <projectDir>/.takt
	Claims    *ClaimSet
	Metrics   *Metrics
	Localizer Localizer
	now       func() time.Time
}

// NewStore builds a Store rooted at filepath.Join(projectDir, ".takt").
func NewStore(projectDir string, metrics *Metrics) *Store {
	return &Store{
		Root:    filepath.Join(projectDir, ".takt"),
		Claims:  NewClaimSet(),
		Metrics: metrics,
		now:     time.Now,
	}
}

func (s *Store) tasksDir() string     { return filepath.Join(s.Root, "tasks") }
func (s *Store) completedDir() string { return filepath.Join(s.Root, "completed") }
func (s *Store) failedDir() string    { return filepath.Join(s.Root, "failed") }

// EnsureDirs creates tasks/, completed/, failed/ if missing.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.tasksDir(), s.completedDir(), s.failedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &Error{Op: "ensureDirs", Name: dir, Err: err}
		}
	}
	return nil
}

// ListTasks returns the supported-extension entries of tasks/, sorted
// lexicographically by base name.
func (s *Store) ListTasks() ([]string, error) {
	entries, err := os.ReadDir(s.tasksDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "listTasks", Name: s.tasksDir(), Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !supportedExts[filepath.Ext(e.Name())] {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	s.reportDepth()
	return names, nil
}

// GetTask reads and parses a single task by base name, trying .yaml, .yml,
// then .md.
func (s *Store) GetTask(name string) (Task, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.tasksDir(), name+ext)
		if _, err := os.Stat(path); err == nil {
			return s.parseYAMLTask(name, path)
		}
	}
	path := filepath.Join(s.tasksDir(), name+".md")
	if content, err := os.ReadFile(path); err == nil {
		return Task{Name: name, Path: path, IsMarkdown: true, MarkdownBody: string(content)}, nil
	}
	return Task{}, &Error{Op: "getTask", Name: name, Err: fmt.Errorf("no task file found")}
}

func (s *Store) parseYAMLTask(name, path string) (Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Task{}, &Error{Op: "getTask", Name: name, Err: err}
	}
	var t Task
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Task{}, &Error{Op: "getTask", Name: name, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	t.Name = name
	t.Path = path
	return t, nil
}

// GetNextTask returns the lexicographically first task, regardless of
// claims.
func (s *Store) GetNextTask() (Task, bool, error) {
	names, err := s.ListTasks()
	if err != nil {
		return Task{}, false, err
	}
	if len(names) == 0 {
		return Task{}, false, nil
	}
	t, err := s.GetTask(names[0])
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

// ClaimNextTasks returns up to k unclaimed tasks, in lexicographic order,
// inserting their names into the Store's ClaimSet.
func (s *Store) ClaimNextTasks(k int) ([]Task, error) {
	names, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var claimed []Task
	for _, name := range names {
		if len(claimed) >= k {
			break
		}
		if !s.Claims.TryClaim(name) {
			continue
		}
		t, err := s.GetTask(name)
		if err != nil {
			s.Claims.Release(name)
			return claimed, err
		}
		claimed = append(claimed, t)
	}
	return claimed, nil
}

// CompleteTask moves the task file into
// completed/<timestamp>_<name>/, writes report.md and log.json, and
// releases the claim.
func (s *Store) CompleteTask(result Result) error {
	if !result.Success {
		return &InvalidResultKindError{Expected: true, Got: false}
	}
	return s.finishTask(result, s.completedDir())
}

// FailTask moves the task file into failed/<timestamp>_<name>/ and
// releases the claim. Failed tasks never appear under completed/.
func (s *Store) FailTask(result Result) error {
	if result.Success {
		return &InvalidResultKindError{Expected: false, Got: true}
	}
	return s.finishTask(result, s.failedDir())
}

func (s *Store) finishTask(result Result, destRoot string) error {
	task := result.Record.Task
	dirName := fmt.Sprintf("%s_%s", isoHyphenated(s.now()), task.Name)
	destDir := filepath.Join(destRoot, dirName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &Error{Op: "finishTask", Name: task.Name, Err: err}
	}

	if task.Path != "" {
		destFile := filepath.Join(destDir, filepath.Base(task.Path))
		if err := os.Rename(task.Path, destFile); err != nil {
			return &Error{Op: "finishTask", Name: task.Name, Err: err}
		}
	}

	if err := os.WriteFile(filepath.Join(destDir, "report.md"), []byte(s.renderReport(result.Record)), 0o644); err != nil {
		return &Error{Op: "finishTask", Name: task.Name, Err: err}
	}
	logJSON, err := marshalLog(result.Record)
	if err != nil {
		return &Error{Op: "finishTask", Name: task.Name, Err: err}
	}
	if err := os.WriteFile(filepath.Join(destDir, "log.json"), logJSON, 0o644); err != nil {
		return &Error{Op: "finishTask", Name: task.Name, Err: err}
	}

	s.Claims.Release(task.Name)
	s.reportDepth()
	return nil
}

// startMovementLine matches an existing "start_movement: ..." line so
// RequeueFailedTask can replace it in place.
var startMovementLine = regexp.MustCompile(`(?m)^start_movement:.*$`)
var retryNoteLine = regexp.MustCompile(`(?m)^retry_note:.*$`)

// RequeueFailedTask copies the task file from failed/<dir>/ back into
// tasks/, injecting start_movement/retry_note for YAML tasks; Markdown
// tasks are copied verbatim and the two parameters are ignored. The
// original failed directory is preserved.
func (s *Store) RequeueFailedTask(dir, startMovement, retryNote string) error {
	srcDir := filepath.Join(s.failedDir(), dir)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return &Error{Op: "requeueFailedTask", Name: dir, Err: err}
	}

	for _, e := range entries {
		if e.IsDir() || !supportedExts[filepath.Ext(e.Name())] {
			continue
		}
		srcPath := filepath.Join(srcDir, e.Name())
		content, err := os.ReadFile(srcPath)
		if err != nil {
			return &Error{Op: "requeueFailedTask", Name: dir, Err: err}
		}

		if filepath.Ext(e.Name()) != ".md" {
			content = injectYAMLField(content, "start_movement", startMovement, startMovementLine)
			content = injectYAMLField(content, "retry_note", retryNote, retryNoteLine)
		}

		destPath := filepath.Join(s.tasksDir(), e.Name())
		if err := os.WriteFile(destPath, content, 0o644); err != nil {
			return &Error{Op: "requeueFailedTask", Name: dir, Err: err}
		}
		return nil
	}
	return &Error{Op: "requeueFailedTask", Name: dir, Err: fmt.Errorf("no task file in %s", srcDir)}
}

func injectYAMLField(content []byte, field, value string, pattern *regexp.Regexp) []byte {
	if value == "" {
		return content
	}
	line := field + ": \"" + escapeYAMLString(value) + "\""
	if pattern.Match(content) {
		return pattern.ReplaceAll(content, []byte(line))
	}
	s := string(content)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return []byte(s + line + "\n")
}

func escapeYAMLString(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// StartReExecution pops a task from either completed/ or failed/ back into
// tasks/, returning the resulting Task.
func (s *Store) StartReExecution(name string, fromCompleted bool) (Task, error) {
	root := s.failedDir()
	if fromCompleted {
		root = s.completedDir()
	}
	srcDir := filepath.Join(root, name)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return Task{}, &Error{Op: "startReExecution", Name: name, Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || !supportedExts[filepath.Ext(e.Name())] {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(s.tasksDir(), e.Name())
		content, err := os.ReadFile(src)
		if err != nil {
			return Task{}, &Error{Op: "startReExecution", Name: name, Err: err}
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return Task{}, &Error{Op: "startReExecution", Name: name, Err: err}
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		return s.GetTask(base)
	}
	return Task{}, &Error{Op: "startReExecution", Name: name, Err: fmt.Errorf("no task file in %s", srcDir)}
}

func (s *Store) reportDepth() {
	if s.Metrics == nil {
		return
	}
	for label, dir := range map[string]string{"tasks": s.tasksDir(), "completed": s.completedDir(), "failed": s.failedDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		s.Metrics.setDepth(label, len(entries))
	}
}

func isoHyphenated(t time.Time) string {
	return t.UTC().Format("2006-01-02T15-04-05.000")
}

// renderReport builds report.md, localized via s.Localizer when set
// (nil falls back to the plain English strings baked in below, which
// match the "en" bundle except for the outcome line: "Outcome: completed" /
// "Outcome: failed" here, "Completed successfully" / "Failed" in the bundle).
func (s *Store) renderReport(r RunRecord) string {
	duration := r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	title := fmt.Sprintf("Task report: %s", r.Task.Name)
	outcome := "Outcome: failed"
	if r.Success {
		outcome = "Outcome: completed"
	}
	durationLine := fmt.Sprintf("Duration: %s", duration)
	executionLogHeading := "Execution log"
	responseHeading := "Response"

	if s.Localizer != nil {
		title = s.Localizer.Render("report", "report_title", map[string]string{"task": r.Task.Name})
		if r.Success {
			outcome = s.Localizer.Render("report", "report_outcome_success", nil)
		} else {
			outcome = s.Localizer.Render("report", "report_outcome_failure", nil)
		}
		durationLine = s.Localizer.Render("report", "report_duration", map[string]string{"duration": duration})
		executionLogHeading = s.Localizer.Render("report", "report_execution_log", nil)
		responseHeading = s.Localizer.Render("report", "report_response", nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "%s\n", outcome)
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", durationLine)
	if len(r.ExecutionLog) > 0 {
		fmt.Fprintf(&b, "## %s\n\n", executionLogHeading)
		for _, line := range r.ExecutionLog {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## %s\n\n", responseHeading)
	b.WriteString(r.Response)
	b.WriteString("\n")
	return b.String()
}

func marshalLog(r RunRecord) ([]byte, error) {
	type logDoc struct {
		Task         string    `json:"task"`
		Success      bool      `json:"success"`
		StartedAt    time.Time `json:"started_at"`
		CompletedAt  time.Time `json:"completed_at"`
		ExecutionLog []string  `json:"execution_log"`
		Response     string    `json:"response"`
	}
	doc := logDoc{
		Task:         r.Task.Name,
		Success:      r.Success,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ExecutionLog: r.ExecutionLog,
		Response:     r.Response,
	}
	return json.MarshalIndent(doc, "", "  ")
}
