package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cexll/agentcore/pkg/config"
	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/subagents"
)

func newAgentsCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents [name]",
		Aliases: []string{"agent"},
		Short:   "List subagents, or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, err := loadSettings(g)
			if err != nil {
				return err
			}
			catalog := subagents.NewCatalog(subagents.DefaultSources(loader.Root(), loader.Home()))
			if err := catalog.Load(); err != nil {
				fmt.Fprintln(streams.err, color.YellowString("warning:"), err)
			}
			if len(args) == 0 {
				writeAgents(streams.out, catalog.List())
				return nil
			}
			spec, err := catalog.Get(args[0])
			if err != nil {
				return err
			}
			writeAgent(streams.out, spec)
			return nil
		},
	}
	return cmd
}

func newSkillsCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "skills [name]",
		Aliases: []string{"skill"},
		Short:   "List skills, or print one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, err := loadSettings(g)
			if err != nil {
				return err
			}
			index := skills.NewIndex(skills.DefaultSources(loader.Root(), loader.Home()))
			if err := index.Load(); err != nil {
				fmt.Fprintln(streams.err, color.YellowString("warning:"), err)
			}
			if len(args) == 0 {
				writeSkills(streams.out, index.List(), nil)
				return nil
			}
			spec, ok := index.Get(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found under %s", args[0], config.DirName+"/skills")
			}
			fmt.Fprintf(streams.out, "%s (%s)\n", color.CyanString(spec.Name), spec.Scope)
			fmt.Fprintf(streams.out, "tools: %s\n\n", toolList(spec.AllowedTools, spec.Restricted()))
			fmt.Fprintln(streams.out, strings.TrimSpace(spec.Body))
			return nil
		},
	}
	return cmd
}

func writeAgents(w io.Writer, specs []subagents.AgentSpec) {
	if len(specs) == 0 {
		fmt.Fprintln(w, "no agents found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tMODE\tTOOLS\tDESCRIPTION")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Scope, s.Mode, strings.Join(s.AllowedTools, ","), s.Description)
	}
	_ = tw.Flush()
}

func writeAgent(w io.Writer, s subagents.AgentSpec) {
	fmt.Fprintf(w, "%s (%s)\n", color.CyanString(s.Name), s.Scope)
	fmt.Fprintf(w, "description: %s\n", s.Description)
	fmt.Fprintf(w, "mode:        %s\n", s.Mode)
	fmt.Fprintf(w, "max turns:   %d\n", s.MaxTurns)
	fmt.Fprintf(w, "tools:       %s\n", strings.Join(s.AllowedTools, ", "))
	if s.Target != nil {
		fmt.Fprintf(w, "target:      %s\n", s.Target)
	}
	if s.Skill != "" {
		fmt.Fprintf(w, "skill:       %s\n", s.Skill)
	}
	if s.Path != "" {
		fmt.Fprintf(w, "file:        %s\n", s.Path)
	}
}

// writeSkills prints the index; names in active are starred.
func writeSkills(w io.Writer, specs []skills.Spec, active []string) {
	if len(specs) == 0 {
		fmt.Fprintln(w, "no skills found")
		return
	}
	on := make(map[string]bool, len(active))
	for _, name := range active {
		on[name] = true
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tTOOLS\tDESCRIPTION")
	for _, s := range specs {
		name := s.Name
		if on[name] {
			name = "*" + name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, s.Scope, toolList(s.AllowedTools, s.Restricted()), s.Description)
	}
	_ = tw.Flush()
}

func toolList(tools []string, restricted bool) string {
	switch {
	case !restricted:
		return "(unrestricted)"
	case len(tools) == 0:
		return "(none)"
	default:
		return strings.Join(tools, ",")
	}
}
