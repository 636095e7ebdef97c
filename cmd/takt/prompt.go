package main

import (
	"context"

	"github.com/manifoldco/promptui"
)

// interactiveUserInput prompts on stdin/stdout with promptui whenever a
// movement blocks waiting for a human reply; used only by the synchronous
// `run` command. The unattended `watch` worker pool never sets this —
// a blocked movement there aborts the run, which is the correct behavior
// for a background supervisor with no one to ask.
func interactiveUserInput(ctx context.Context, question string) (string, bool) {
	prompt := promptui.Prompt{
		Label: question,
	}
	reply, err := prompt.Run()
	if err != nil {
		return "", false
	}
	return reply, true
}
