package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cexll/agentcore/pkg/agent"
	"github.com/cexll/agentcore/pkg/cost"
)

func newRunCmd(g *globalOptions, streams ioStreams) *cobra.Command {
	var (
		jsonOut         bool
		failOnToolError bool
	)
	cmd := &cobra.Command{
		Use:   `run [flags] "task description"`,
		Short: "Run one prompt to a terminal status",
		Long: `Run sends a single prompt and drives the conversation until the model
stops calling tools, the turn limit is hit, or a fatal error occurs.
Pass "-" to read the prompt from stdin.`,
		Example: `  agentctl run "fix the failing test in pkg/route"
  agentctl run --mode acceptEdits --target gpt-4o@openai "add a README"
  git diff | agentctl run -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, streams.in)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			a, err := newApp(ctx, g, streams)
			if err != nil {
				return err
			}
			defer a.Close()

			out, runErr := a.session.Run(ctx, prompt)
			if out != nil {
				if jsonOut {
					if err := writeJSONOutcome(streams.out, out); err != nil {
						return err
					}
				} else {
					writeOutcome(streams.out, streams.err, out)
				}
				a.warnCost(out)
			}
			if runErr != nil {
				return &exitError{code: exitFatal, err: runErr}
			}
			if failOnToolError && out.LastToolError != nil {
				f := out.LastToolError
				return &exitError{code: exitToolFailure, err: fmt.Errorf("tool %s failed (%s): %s", f.Tool, f.Kind, firstLine(f.Message))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the outcome as JSON")
	cmd.Flags().BoolVar(&failOnToolError, "fail-on-tool-error", false, "Exit with status 2 when any tool call failed")
	return cmd
}

func readPrompt(args []string, in io.Reader) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "-" {
		if in == nil {
			return "", errors.New("no stdin to read the prompt from")
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("run requires a task description")
	}
	return prompt, nil
}

// writeOutcome prints the final text on out and a status block on errOut,
// keeping stdout clean for piping.
func writeOutcome(out, errOut io.Writer, o *agent.Outcome) {
	if text := strings.TrimSpace(o.Text); text != "" {
		fmt.Fprintln(out, text)
	}
	fmt.Fprintln(errOut, statusLine(o))
	if len(o.FilesReferenced) > 0 {
		fmt.Fprintf(errOut, "  files: %s\n", strings.Join(o.FilesReferenced, ", "))
	}
	if f := o.LastToolError; f != nil {
		fmt.Fprintf(errOut, "  last tool error: %s (%s): %s\n", f.Tool, f.Kind, firstLine(f.Message))
	}
	if o.Status != agent.StatusCompleted && o.Reason != "" {
		fmt.Fprintf(errOut, "  reason: %s\n", o.Reason)
	}
}

func statusLine(o *agent.Outcome) string {
	paint := color.New(color.FgGreen).SprintFunc()
	switch o.Status {
	case agent.StatusTurnLimitExceeded, agent.StatusAwaitingApproval:
		paint = color.New(color.FgYellow).SprintFunc()
	case agent.StatusFatal:
		paint = color.New(color.FgRed, color.Bold).SprintFunc()
	}
	parts := []string{fmt.Sprintf("%d turn(s)", o.Turns)}
	if !o.Target.IsZero() {
		parts = append(parts, o.Target.String())
	}
	if tokens := o.Cost.TotalTokens(); tokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", tokens), cost.Format(o.Cost.CostUSD))
	}
	return fmt.Sprintf("%s %s", paint("["+string(o.Status)+"]"), color.HiBlackString(strings.Join(parts, " · ")))
}

type jsonOutcome struct {
	Status          agent.Status       `json:"status"`
	Text            string             `json:"text"`
	Reason          string             `json:"reason,omitempty"`
	Turns           int                `json:"turns"`
	Target          string             `json:"target,omitempty"`
	FilesReferenced []string           `json:"files_referenced,omitempty"`
	LastToolError   *agent.ToolFailure `json:"last_tool_error,omitempty"`
	Cost            cost.Summary       `json:"cost"`
}

func writeJSONOutcome(out io.Writer, o *agent.Outcome) error {
	payload := jsonOutcome{
		Status:          o.Status,
		Text:            o.Text,
		Reason:          o.Reason,
		Turns:           o.Turns,
		FilesReferenced: o.FilesReferenced,
		LastToolError:   o.LastToolError,
		Cost:            o.Cost,
	}
	if !o.Target.IsZero() {
		payload.Target = o.Target.String()
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// warnCost logs once the session spend crosses cost.warn_threshold_usd.
func (a *app) warnCost(o *agent.Outcome) {
	limit := a.settings.Cost.WarnThresholdUSD
	if !a.settings.Cost.TrackingEnabled() || limit <= 0 || o.Cost.CostUSD < limit {
		return
	}
	fmt.Fprintln(a.streams.err, color.YellowString("cost warning: session spend %s exceeds %s", cost.Format(o.Cost.CostUSD), cost.Format(limit)))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
