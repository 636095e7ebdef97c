package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cklxx/takt/internal/taktconfig"
)

func newSwitchCommand(app **App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <provider> [model]",
		Short: "Switch the default agent provider (and optionally model) for this project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			provider := args[0]
			model := ""
			if len(args) > 1 {
				model = args[1]
			}
			return switchProvider(a, provider, model)
		},
	}
	return cmd
}

func switchProvider(app *App, provider, model string) error {
	dir := filepath.Join(app.ProjectDir, ".takt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")

	cfg := taktconfig.ResolvedConfig{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parse existing project config: %w", err)
		}
	}
	cfg.DefaultProvider = provider
	if model != "" {
		cfg.DefaultModel = model
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal project config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}

	app.Resolver.Invalidate()
	fmt.Printf("%s default provider set to %s", green("✓"), provider)
	if model != "" {
		fmt.Printf(" (%s)", model)
	}
	fmt.Println()
	return nil
}
