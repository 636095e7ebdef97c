package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newEjectCommand(app **App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eject <piece identifier>",
		Short: "Copy a built-in piece into the project's .takt/pieces directory for local customization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ejectPiece(*app, args[0])
		},
	}
	return cmd
}

// ejectPiece locates identifier in the loader's built-in bundle and copies
// it verbatim under the project pieces directory, where subsequent loads
// will shadow the built-in (ProjectDir is searched before BuiltinDir).
func ejectPiece(app *App, identifier string) error {
	loader := app.Loader
	if loader.BuiltinDir == "" {
		return fmt.Errorf("no built-in pieces directory configured")
	}

	var src string
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(loader.BuiltinDir, identifier+ext)
		if _, err := os.Stat(candidate); err == nil {
			src = candidate
			break
		}
	}
	if src == "" {
		return fmt.Errorf("no built-in piece named %q", identifier)
	}

	if loader.ProjectDir == "" {
		return fmt.Errorf("no project pieces directory configured")
	}
	dest := filepath.Join(loader.ProjectDir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%s already exists; remove it first to re-eject", dest)
	}
	if err := os.MkdirAll(loader.ProjectDir, 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", identifier, err)
	}
	fmt.Printf("%s ejected %s -> %s\n", green("✓"), identifier, dest)
	return nil
}
