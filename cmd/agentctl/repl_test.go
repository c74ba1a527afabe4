package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/model"
)

func TestReplRunsPromptsAndCommands(t *testing.T) {
	root := newProject(t)
	backend := &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say("first answer"), say("second answer")}}
	useBackend(t, backend)

	stdin := "hello\n/mode acceptEdits\n/mode\n/cost\n/bogus\nagain\n/exit\nnever sent\n"
	res := runCLI(t, stdin, "--root", root, "--target", testTarget, "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "first answer")
	require.Contains(t, res.stdout, "second answer")
	require.Contains(t, res.stderr, "mode set to acceptEdits")
	require.Contains(t, res.stderr, "mode: acceptEdits")
	require.Contains(t, res.stderr, "tokens: 10 in, 5 out")
	require.Contains(t, res.stderr, "unknown command /bogus")
	require.Equal(t, "again", backend.lastUserMessage())
	require.Len(t, backend.requests, 2)
}

func TestReplKeepsGoingAfterFatal(t *testing.T) {
	root := newProject(t)
	useBackend(t, &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say("unused")}})

	res := runCLI(t, "hi\nstill here\n", "--root", root, "--target", "gpt-4o@nowhere", "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code)
	require.Equal(t, 2, strings.Count(res.stderr, "[fatal]"))
}

func TestReplEndsAtEOF(t *testing.T) {
	root := newProject(t)
	backend := &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say("bye")}}
	useBackend(t, backend)

	res := runCLI(t, "last prompt without newline", "--root", root, "--target", testTarget, "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "bye")
	require.Equal(t, "last prompt without newline", backend.lastUserMessage())
}

// stallingBackend blocks its first request until the context ends, then
// answers like its script.
type stallingBackend struct {
	*scriptedBackend
	once    sync.Once
	started chan struct{}
}

func (b *stallingBackend) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	stall := false
	b.once.Do(func() { stall = true })
	if stall {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.scriptedBackend.Send(ctx, req)
}

func TestReplInterruptCancelsOnlyThePrompt(t *testing.T) {
	root := newProject(t)
	backend := &stallingBackend{
		scriptedBackend: &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say("second answer")}},
		started:         make(chan struct{}),
	}
	useBackend(t, backend)

	sigs := make(chan os.Signal, 1)
	original := interrupts
	interrupts = func() (<-chan os.Signal, func()) { return sigs, func() {} }
	t.Cleanup(func() { interrupts = original })
	go func() {
		<-backend.started
		sigs <- os.Interrupt
	}()

	res := runCLI(t, "first question\nnext question\n/exit\n", "--root", root, "--target", testTarget, "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stderr, "[fatal]")
	require.Contains(t, res.stderr, "reason: interrupted")
	require.Contains(t, res.stdout, "second answer")
	require.Equal(t, "next question", backend.lastUserMessage())
}

const replPlan = "```plan\n" +
	"SUMMARY: add a verbose flag\n" +
	"STEP 1: Parse the flag\n" +
	"FILES: main.go\n" +
	"STEP 2: Use it\n" +
	"```"

func TestReplPlanDraftSaveAndRun(t *testing.T) {
	root := newProject(t)
	backend := &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say(replPlan), say("executed")}}
	useBackend(t, backend)

	stdin := "/plan run\n/plan add a verbose flag\n/plan show\n/plan save\n/plan list\n/plan run\n/plan exit\n/plan\n"
	res := runCLI(t, stdin, "--root", root, "--target", testTarget, "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stderr, "no plan to execute")
	require.Contains(t, res.stderr, "plan mode: review")
	require.Contains(t, res.stderr, "[ ] **Step 1:** Parse the flag")
	require.Contains(t, res.stderr, "plan saved to ")
	require.Contains(t, res.stderr, "2 step(s)")
	require.Contains(t, res.stdout, "executed")
	require.Contains(t, res.stderr, "completed (2/2 steps)")
	require.Contains(t, res.stderr, "plan mode: inactive")

	saved, err := filepath.Glob(filepath.Join(root, ".agentcore", "plans", "add-a-verbose-flag-*.yaml"))
	require.NoError(t, err)
	require.Len(t, saved, 1)

	require.Len(t, backend.requests, 2)
	require.True(t, strings.HasPrefix(backend.requests[0].System, "You are in PLAN MODE"))
	require.Contains(t, backend.lastUserMessage(), "STEP 1: Parse the flag")
}

func TestReplRunsCustomCommands(t *testing.T) {
	root := newProject(t)
	writeProjectFile(t, root, ".agentcore/commands/review.md",
		"---\ndescription: Review a path\nallowed-tools: Read, Grep\n---\nReview $ARGUMENTS for bugs.")
	backend := &scriptedBackend{replies: []func(model.Request) (*model.Response, error){say("looks fine"), say("free again")}}
	useBackend(t, backend)

	res := runCLI(t, "/help\n/review pkg/route\nanything\n", "--root", root, "--target", testTarget, "repl", "--watch-skills=false")

	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stderr, "/review")
	require.Contains(t, res.stderr, "Review a path")
	require.Contains(t, res.stdout, "looks fine")
	require.Len(t, backend.requests, 2)

	first := backend.requests[0]
	require.Equal(t, "Review pkg/route for bugs.", first.Messages[len(first.Messages)-1].Content)
	var names []string
	for _, def := range first.Tools {
		names = append(names, def.Name)
	}
	require.ElementsMatch(t, []string{"Read", "Grep"}, names)

	var later []string
	for _, def := range backend.requests[1].Tools {
		later = append(later, def.Name)
	}
	require.Contains(t, later, "Write")
}
