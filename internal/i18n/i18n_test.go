package i18n

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesPlaceholdersInEnglish(t *testing.T) {
	loc := Load().Localizer("en")
	out := loc.Render("report", "task_completed", map[string]string{"task": "fix the bug", "duration": "12s"})
	require.Equal(t, `Task "fix the bug" completed in 12s.`, out)
}

func TestRenderSubstitutesPlaceholdersInJapanese(t *testing.T) {
	loc := Load().Localizer("ja")
	out := loc.Render("report", "task_completed", map[string]string{"task": "バグ修正", "duration": "12秒"})
	require.Contains(t, out, "バグ修正")
	require.Contains(t, out, "12秒")
}

func TestRenderFallsBackToEnglishForUnknownLanguage(t *testing.T) {
	loc := Load().Localizer("fr")
	out := loc.Render("report", "report_outcome_success", nil)
	require.Equal(t, "Completed successfully", out)
}

func TestRenderFallsBackToLiteralForUnknownKey(t *testing.T) {
	loc := Load().Localizer("en")
	out := loc.Render("report", "no_such_key", nil)
	require.Equal(t, "report.no_such_key", out)
}
