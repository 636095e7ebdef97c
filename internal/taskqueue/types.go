// Package taskqueue implements the filesystem-backed Task Store: the
// on-disk queue under .takt/{tasks,completed,failed}/ that feeds work into
// the Task Supervisor.
package taskqueue

import "time"

// Task is a parsed unit of work. Markdown tasks set only Name, Path,
// IsMarkdown and MarkdownBody; YAML tasks populate the structured fields.
type Task struct {
	Name          string
	Path          string
	IsMarkdown    bool
	MarkdownBody  string
	TaskText      string `yaml:"task"`
	Piece         string `yaml:"piece,omitempty"`
	Worktree      bool   `yaml:"worktree,omitempty"`
	Branch        string `yaml:"branch,omitempty"`
	StartMovement string `yaml:"start_movement,omitempty"`
	RetryNote     string `yaml:"retry_note,omitempty"`
}

// Text returns the content that seeds a piece's {task} placeholder,
// regardless of source format.
func (t Task) Text() string {
	if t.IsMarkdown {
		return t.MarkdownBody
	}
	return t.TaskText
}

// RunRecord is an immutable snapshot produced after executing a task.
type RunRecord struct {
	Task          Task
	Success       bool
	Response      string
	ExecutionLog  []string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Result is passed to CompleteTask/FailTask.
type Result struct {
	Record  RunRecord
	Success bool
}

// InvalidResultKindError reports that CompleteTask was called with a
// failing result, or FailTask with a succeeding one.
type InvalidResultKindError struct {
	Expected bool
	Got      bool
}

func (e *InvalidResultKindError) Error() string {
	if e.Expected {
		return "completeTask requires a successful result"
	}
	return "failTask requires a failed result"
}

// Error reports a Task Store operation failure (missing file, unreadable
// directory, malformed task).
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return "task store: " + e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
