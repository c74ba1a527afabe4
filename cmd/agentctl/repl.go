package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cexll/agentcore/pkg/agent"
	"github.com/cexll/agentcore/pkg/commands"
	"github.com/cexll/agentcore/pkg/config"
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/plan"
	"github.com/cexll/agentcore/pkg/security"
)

const replHelp = `Commands:
  /help               Show this help
  /mode [name]        Show or change the permission mode (starts a new conversation)
  /plan <goal>        Draft a plan with read-only tools, then review it
  /plan [show]        Show the plan phase and the current plan
  /plan run           Execute the reviewed plan in a fresh conversation
  /plan save          Save the plan under .agentcore/plans
  /plan list          List saved plans
  /plan load <name>   Load a saved plan for review
  /plan exit          Leave plan mode
  /skills             List skills and mark the active ones
  /agents             List subagents
  /cost               Show token usage and spend so far
  /exit               Leave
Ctrl-C stops the prompt being answered. Anything else is sent to the agent.`

// interrupts delivers Ctrl-C to the REPL. Tests replace it.
var interrupts = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch, func() { signal.Stop(ch) }
}

func newReplCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:     "repl",
		Aliases: []string{"chat"},
		Short:   "Start an interactive session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, streams)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.input == nil {
				return errors.New("repl needs stdin")
			}
			if watch {
				watchCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := a.skills.Watch(watchCtx, nil); err != nil {
						a.logger.Warn("skill watcher stopped", "error", err)
					}
				}()
			}
			return a.repl(ctx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch-skills", true, "Reload skills when SKILL.md files change")
	return cmd
}

// inflight holds the cancel func of the prompt being answered.
type inflight struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (f *inflight) start(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	return ctx, func() {
		f.mu.Lock()
		f.cancel = nil
		f.mu.Unlock()
		cancel()
	}
}

// interrupt cancels the prompt in flight and reports whether there was one.
func (f *inflight) interrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel == nil {
		return false
	}
	f.cancel()
	return true
}

func (a *app) repl(ctx context.Context) error {
	errOut := a.streams.err
	fmt.Fprintf(errOut, "%s session %s in %s (mode %s). /help for commands.\n",
		color.CyanString("agentctl"), a.session.ID(), a.loader.Root(), a.session.Mode())

	f := &inflight{}
	sigs, stop := interrupts()
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigs:
				if !f.interrupt() {
					fmt.Fprintln(errOut, "\nuse /exit or Ctrl-D to leave")
				}
			}
		}
	}()

	for {
		fmt.Fprint(errOut, color.CyanString("> "))
		line, err := a.input.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)

		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			if quit := a.replCommand(ctx, f, line); quit {
				return nil
			}
		default:
			a.ask(ctx, f, func(ctx context.Context) (*agent.Outcome, error) {
				return a.session.Run(ctx, line)
			})
		}
		if eof || ctx.Err() != nil {
			return nil
		}
	}
}

// ask runs one prompt under its own cancellable context and prints the
// outcome. An interrupted prompt leaves the REPL running.
func (a *app) ask(ctx context.Context, f *inflight, run func(context.Context) (*agent.Outcome, error)) {
	promptCtx, finish := f.start(ctx)
	o, err := run(promptCtx)
	finish()
	if o != nil {
		writeOutcome(a.streams.out, a.streams.err, o)
		a.warnCost(o)
	}
	if err != nil && o == nil && ctx.Err() == nil {
		fmt.Fprintln(a.streams.err, color.RedString("error:"), err)
	}
}

// replCommand handles a slash command and reports whether to quit.
func (a *app) replCommand(ctx context.Context, f *inflight, line string) bool {
	errOut := a.streams.err
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(errOut, replHelp)
		writeCommands(errOut, a.commands.List())
	case "/mode":
		if len(fields) == 1 {
			fmt.Fprintf(errOut, "mode: %s\n", a.session.Mode())
			return false
		}
		m, err := security.ParseMode(fields[1])
		if err != nil {
			fmt.Fprintln(errOut, color.RedString("error:"), err)
			return false
		}
		a.session.SetMode(m)
		fmt.Fprintf(errOut, "mode set to %s; starting a new conversation\n", m)
	case "/plan":
		a.planCommand(ctx, f, strings.TrimSpace(strings.TrimPrefix(line, "/plan")))
	case "/skills":
		writeSkills(errOut, a.skills.List(), a.session.Skills().ListActive())
	case "/agents":
		writeAgents(errOut, a.agents.List())
	case "/cost":
		writeCost(errOut, a.session.Ledger().Summary())
	default:
		cmd, ok := a.commands.Get(strings.TrimPrefix(fields[0], "/"))
		if !ok {
			fmt.Fprintf(errOut, "unknown command %s; /help lists commands\n", fields[0])
			return false
		}
		a.runCommand(ctx, f, cmd, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	}
	return false
}

// runCommand sends an expanded custom command. Its allowed tools narrow
// this one prompt only.
func (a *app) runCommand(ctx context.Context, f *inflight, cmd commands.Command, args string) {
	prompt := cmd.Expand(args)
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintf(a.streams.err, "command /%s expands to an empty prompt\n", cmd.Name)
		return
	}
	var opts []agent.RunOption
	if cmd.AllowedTools != nil {
		opts = append(opts, agent.LimitTools(cmd.AllowedTools...))
	}
	a.ask(ctx, f, func(ctx context.Context) (*agent.Outcome, error) {
		return a.session.Run(ctx, prompt, opts...)
	})
}

func (a *app) planStore() *plan.Store {
	return plan.NewStore(filepath.Join(a.loader.Root(), config.DirName, "plans"))
}

func (a *app) planCommand(ctx context.Context, f *inflight, rest string) {
	errOut := a.streams.err
	verb, arg, _ := strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)
	switch verb {
	case "", "show":
		phase, p := a.session.PlanState()
		fmt.Fprintf(errOut, "plan mode: %s\n", phase)
		if p != nil {
			fmt.Fprintln(errOut, p.Format())
		}
	case "run":
		a.ask(ctx, f, a.session.ExecutePlan)
		if _, p := a.session.PlanState(); p != nil {
			fmt.Fprintf(errOut, "plan %s: %s (%d/%d steps)\n", p.Name, p.Status, p.CompletedCount(), len(p.Steps))
		}
	case "save":
		_, p := a.session.PlanState()
		if p == nil {
			fmt.Fprintln(errOut, "no plan to save")
			return
		}
		path, err := a.planStore().Save(p)
		if err != nil {
			fmt.Fprintln(errOut, color.RedString("error:"), err)
			return
		}
		fmt.Fprintf(errOut, "plan saved to %s\n", path)
	case "list":
		metas, err := a.planStore().List()
		if err != nil {
			fmt.Fprintln(errOut, color.RedString("error:"), err)
			return
		}
		if len(metas) == 0 {
			fmt.Fprintln(errOut, "no saved plans")
		}
		for _, m := range metas {
			fmt.Fprintf(errOut, "  %-40s %-10s %d step(s)  %s\n", m.Name, m.Status, m.Steps, m.Goal)
		}
	case "load":
		p, err := a.planStore().Load(arg)
		if err != nil {
			fmt.Fprintln(errOut, color.RedString("error:"), err)
			return
		}
		a.session.LoadPlan(p)
		fmt.Fprintln(errOut, p.Format())
	case "exit":
		a.session.ExitPlan()
		fmt.Fprintln(errOut, "left plan mode")
	default:
		if err := a.session.BeginPlan(rest); err != nil {
			fmt.Fprintln(errOut, color.RedString("error:"), err)
			return
		}
		fmt.Fprintln(errOut, "plan mode: exploring with read-only tools")
		a.ask(ctx, f, func(ctx context.Context) (*agent.Outcome, error) {
			return a.session.Run(ctx, rest)
		})
		phase, p := a.session.PlanState()
		if phase == plan.PhaseReview && p != nil {
			fmt.Fprintln(errOut, p.Format())
			fmt.Fprintln(errOut, "/plan run executes it, /plan save keeps it")
			return
		}
		fmt.Fprintln(errOut, "no plan yet; reply to keep planning or /plan exit")
	}
}

func writeCommands(w io.Writer, list []commands.Command) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(w, "Custom commands:")
	for _, c := range list {
		fmt.Fprintf(w, "  /%-18s %s\n", c.Name, c.Description)
	}
}

func writeCost(w io.Writer, s cost.Summary) {
	fmt.Fprintf(w, "tokens: %d in, %d out · spend %s\n", s.InputTokens, s.OutputTokens, cost.Format(s.CostUSD))
	for _, m := range s.ByModel {
		fmt.Fprintf(w, "  %-32s %8d tokens  %s\n", m.Model, m.Tokens, cost.Format(m.CostUSD))
	}
}
