package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cklxx/takt/internal/taktconfig"
)

func newConfigCommand(app **App) *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the resolved project configuration",
	}
	root.AddCommand(newConfigShowCommand(app))
	root.AddCommand(newConfigSetCommand(app))
	return root
}

func newConfigShowCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration (env > project > global > defaults)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			raw, err := yaml.Marshal(a.Config)
			if err != nil {
				return err
			}
			fmt.Print(string(raw))
			return nil
		},
	}
}

// configSettable lists the project-config keys editable via "config set",
// mirroring taktconfig.ResolvedConfig's scalar fields.
var configSettable = map[string]func(cfg *taktconfig.ResolvedConfig, value string) error{
	"language": func(cfg *taktconfig.ResolvedConfig, value string) error {
		cfg.Language = value
		return nil
	},
	"default_provider": func(cfg *taktconfig.ResolvedConfig, value string) error {
		cfg.DefaultProvider = value
		return nil
	},
	"default_model": func(cfg *taktconfig.ResolvedConfig, value string) error {
		cfg.DefaultModel = value
		return nil
	},
	"base_branch": func(cfg *taktconfig.ResolvedConfig, value string) error {
		cfg.BaseBranch = value
		return nil
	},
	"branch_name_strategy": func(cfg *taktconfig.ResolvedConfig, value string) error {
		cfg.BranchNameStrategy = value
		return nil
	},
	"concurrency": func(cfg *taktconfig.ResolvedConfig, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("concurrency must be an integer: %w", err)
		}
		cfg.Concurrency = n
		return nil
	},
	"task_poll_interval_ms": func(cfg *taktconfig.ResolvedConfig, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("task_poll_interval_ms must be an integer: %w", err)
		}
		cfg.TaskPollIntervalMs = n
		return nil
	},
	"notifications_enabled": func(cfg *taktconfig.ResolvedConfig, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("notifications_enabled must be a bool: %w", err)
		}
		cfg.NotificationsEnabled = b
		return nil
	},
}

func newConfigSetCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a project-level configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			setter, ok := configSettable[key]
			if !ok {
				return fmt.Errorf("unknown config key %q", key)
			}
			a := *app
			dir := filepath.Join(a.ProjectDir, ".takt")
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
			if err := setter(&cfg, value); err != nil {
				return err
			}
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return err
			}
			a.Resolver.Invalidate()
			fmt.Printf("%s %s = %s\n", green("✓"), key, value)
			return nil
		},
	}
}
