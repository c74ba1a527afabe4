// Command agentctl drives an agentcore session from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes. Only a fatal conversation or an explicitly requested tool
// failure produce a non-zero status.
const (
	exitOK          = 0
	exitFatal       = 1
	exitToolFailure = 2
)

// ioStreams wires stdin/stdout/stderr for commands and becomes injectable in tests.
type ioStreams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	// Ctrl-C is left to each command: run stops, the REPL cancels one prompt.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	streams := ioStreams{in: os.Stdin, out: os.Stdout, err: os.Stderr}
	code := execute(ctx, os.Args[1:], streams)
	cancel()
	os.Exit(code)
}

func execute(ctx context.Context, argv []string, streams ioStreams) int {
	root := newRootCmd(streams)
	root.SetArgs(argv)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(streams.err, color.RedString("error:"), err)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func newRootCmd(streams ioStreams) *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Coding agent with sandboxed tools, skills and subagents",
		Long: `agentctl runs a coding agent against the current project.

Tools are confined to the project root and checked against the permission
rules in .agentcore/config.yaml. Subagents live in .agentcore/agents and
skills in .agentcore/skills, under the project and under your home.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}
	root.SetIn(streams.in)
	root.SetOut(streams.out)
	root.SetErr(streams.err)
	g.bind(root)

	root.AddCommand(
		newRunCmd(g, streams),
		newReplCmd(g, streams),
		newAgentsCmd(g, streams),
		newSkillsCmd(g, streams),
		newConfigCmd(g, streams),
	)
	return root
}
