package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cexll/agentcore/pkg/config"
)

const starterConfig = `# agentcore project settings. Layers, lowest first: ~/.agentcore/config.yaml,
# this file, config.local.yaml next to it, then --config.
default_target: claude-sonnet-4-5@anthropic

routing:
  routes:
    search: claude-3-5-haiku-latest@anthropic

permissions:
  mode: default
  allow:
    - Bash(go test:*)
  deny:
    - Read(.env)

max_turns: 12
`

func newConfigCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialise configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(g, streams),
		newConfigValidateCmd(g, streams),
		newConfigInitCmd(g, streams),
	)
	return cmd
}

func newConfigShowCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the merged settings with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings(g)
			if err != nil {
				return err
			}
			return writeSettings(streams.out, redact(settings), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of YAML")
	return cmd
}

func newConfigValidateCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every layer and report the files used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings(g)
			if err != nil {
				return err
			}
			if len(settings.Sources) == 0 {
				fmt.Fprintln(streams.out, "ok (built-in defaults only)")
				return nil
			}
			fmt.Fprintln(streams.out, "ok")
			for _, src := range settings.Sources {
				fmt.Fprintf(streams.out, "  %s\n", src)
			}
			return nil
		},
	}
}

func newConfigInitCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter .agentcore/config.yaml in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(g.root)
			if err != nil {
				return err
			}
			path := filepath.Join(root, config.DirName, "config.yaml")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(streams.out, "created %s\n", path)
			return nil
		},
	}
}

// redact returns a copy of s with inline API keys masked.
func redact(s *config.Settings) *config.Settings {
	out := *s
	out.Backends = make(map[string]config.BackendConfig, len(s.Backends))
	for name, b := range s.Backends {
		if b.APIKey != "" {
			b.APIKey = "****"
		}
		out.Backends[name] = b
	}
	return &out
}

func writeSettings(w io.Writer, s *config.Settings, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
