package main

import (
	"fmt"

	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/i18n"
)

// newEventPrinter renders engine events to stderr-style status lines,
// localized via loc where a bundle string applies. Grounded on the
// teacher's deepCodingStreamCallback switch-on-chunk-type idiom.
func newEventPrinter(loc i18n.Localizer) engine.EventSink {
	return func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventMovementStart:
			fmt.Printf("%s %s %s\n", cyan("▸"), ev.Movement, gray(fmt.Sprintf("(iteration %d)", ev.Iteration)))
		case engine.EventMovementComplete:
			fmt.Printf("%s %s\n", green("✓"), ev.Movement)
		case engine.EventMovementBlocked:
			prompt := ""
			if ev.Response != nil {
				prompt = ev.Response.Content
			}
			msg := loc.Render("status", "movement_blocked", map[string]string{"movement": ev.Movement, "prompt": prompt})
			fmt.Printf("%s %s\n", yellow("⏸"), msg)
		case engine.EventMovementReport:
			fmt.Printf("%s %s -> %s\n", gray("·"), ev.Movement, ev.ReportPath)
		case engine.EventMovementLoopDetected:
			msg := loc.Render("status", "loop_detected", map[string]string{"cycle": ev.Movement})
			fmt.Printf("%s %s\n", red("↻"), msg)
		case engine.EventIterationLimit:
			msg := loc.Render("status", "iteration_limit_reached", map[string]string{"piece": ev.State.PieceName, "max": fmt.Sprintf("%d", ev.Iteration)})
			fmt.Printf("%s %s\n", yellow("⚠"), msg)
		case engine.EventWorkflowComplete:
			fmt.Printf("%s workflow complete\n", green("✔"))
		case engine.EventWorkflowAbort:
			fmt.Printf("%s workflow aborted: %s\n", red("✘"), ev.Reason)
		}
	}
}
