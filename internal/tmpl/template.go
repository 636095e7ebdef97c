// Package tmpl substitutes the fixed placeholder set used by movement
// instruction templates and escapes runtime values against
// placeholder-injection on downstream passes.
package tmpl

import (
	"strconv"
	"strings"
)

// Vars carries the values available for substitution in a single movement
// invocation. Zero-value string fields render as empty strings, matching
// the spec's "empty when absent" rule for {previous_response}; zero-value
// integer fields render as "0".
type Vars struct {
	Task                string
	Iteration           int
	MaxMovements         int
	MovementIteration    int
	PreviousResponse     string
	UserInputs           []string
	ReportDir            string
	Cwd                  string
	ReportFile           func(fileName string) string
}

// fullWidthEscape rewrites ASCII '{' and '}' to their full-width Unicode
// counterparts so that substituted runtime content (task text, prior agent
// output) cannot introduce new placeholders when the rendered instruction
// is itself re-scanned downstream.
func fullWidthEscape(s string) string {
	r := strings.NewReplacer("{", "｛", "}", "｝")
	return r.Replace(s)
}

// Render substitutes every recognized placeholder in template with the
// corresponding (escaped) value from vars. Unrecognized placeholders and
// `{report:<name>}` forms not handled by the simple map are left literal,
// except {report:<name>} which always expands via vars.ReportFile.
func Render(template string, vars Vars) string {
	replacements := []string{
		"{task}", fullWidthEscape(vars.Task),
		"{iteration}", strconv.Itoa(vars.Iteration),
		"{max_movements}", strconv.Itoa(vars.MaxMovements),
		"{movement_iteration}", strconv.Itoa(vars.MovementIteration),
		"{previous_response}", fullWidthEscape(vars.PreviousResponse),
		"{user_inputs}", fullWidthEscape(strings.Join(vars.UserInputs, "\n")),
		"{report_dir}", vars.ReportDir,
		"{cwd}", vars.Cwd,
	}
	out := strings.NewReplacer(replacements...).Replace(template)
	out = expandReportRefs(out, vars)
	return out
}

// expandReportRefs rewrites every `{report:<fileName>}` occurrence to
// `<reportDir>/<fileName>` using vars.ReportFile, which defaults to a plain
// join when unset.
func expandReportRefs(s string, vars Vars) string {
	reportFile := vars.ReportFile
	if reportFile == nil {
		reportFile = func(name string) string {
			if vars.ReportDir == "" {
				return name
			}
			return vars.ReportDir + "/" + name
		}
	}

	var b strings.Builder
	for {
		start := strings.Index(s, "{report:")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		name := s[start+len("{report:") : end]
		b.WriteString(reportFile(name))
		s = s[end+1:]
	}
	return b.String()
}
