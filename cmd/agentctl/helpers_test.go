package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/config"
	"github.com/cexll/agentcore/pkg/model"
)

const testTarget = "fake-model@fake"

// scriptedBackend replays canned responses; the last one repeats.
type scriptedBackend struct {
	mu       sync.Mutex
	replies  []func(model.Request) (*model.Response, error)
	requests []model.Request
}

func (b *scriptedBackend) Name() string { return "fake" }

func (b *scriptedBackend) Send(_ context.Context, req model.Request) (*model.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	next := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return next(req)
}

func (b *scriptedBackend) lastUserMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return ""
	}
	msgs := b.requests[len(b.requests)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func say(text string) func(model.Request) (*model.Response, error) {
	return func(model.Request) (*model.Response, error) {
		return &model.Response{
			Message: model.Message{Role: model.RoleAssistant, Content: text},
			Usage:   model.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

func use(name string, args map[string]any) func(model.Request) (*model.Response, error) {
	return func(model.Request) (*model.Response, error) {
		return &model.Response{
			Message: model.Message{
				Role:      model.RoleAssistant,
				ToolCalls: []model.ToolCall{{ID: "call-" + name, Name: name, Arguments: args}},
			},
			Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

func fail(err error) func(model.Request) (*model.Response, error) {
	return func(model.Request) (*model.Response, error) { return nil, err }
}

// useBackend swaps the backend factory for one that serves b as "fake".
func useBackend(t *testing.T, b model.Backend) {
	t.Helper()
	original := backendFactory
	backendFactory = func(*config.Settings, *slog.Logger) (*model.Registry, error) {
		reg := model.NewRegistry()
		if err := reg.Register(b); err != nil {
			return nil, err
		}
		return reg, nil
	}
	t.Cleanup(func() { backendFactory = original })
}

// newProject returns an isolated project root with HOME pointed elsewhere.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	color.NoColor = true
	return t.TempDir()
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	var in io.Reader = strings.NewReader(stdin)
	code := execute(context.Background(), args, ioStreams{in: in, out: &out, err: &errOut})
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
