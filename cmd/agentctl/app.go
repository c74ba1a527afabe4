package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cexll/agentcore/pkg/agent"
	"github.com/cexll/agentcore/pkg/commands"
	"github.com/cexll/agentcore/pkg/config"
	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/mcp"
	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/model/anthropic"
	"github.com/cexll/agentcore/pkg/model/openai"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/subagents"
	"github.com/cexll/agentcore/pkg/telemetry"
	toolbuiltin "github.com/cexll/agentcore/pkg/tool/builtin"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	root        string
	logLevel    string
	noColor     bool
	mode        string
	target      string
	sessionID   string
	autoApprove bool
	transcript  string
}

func (g *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "Extra config file merged on top of the user and project layers")
	f.StringVarP(&g.root, "root", "C", ".", "Project root; every tool path is confined to it")
	f.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.BoolVar(&g.noColor, "no-color", false, "Disable coloured output")
	f.StringVar(&g.mode, "mode", "", "Permission mode: default, acceptEdits or bypassPermissions")
	f.StringVar(&g.target, "target", "", `Model target "model@backend" overriding routing`)
	f.StringVar(&g.sessionID, "session", "", "Session ID recorded in the transcript")
	f.BoolVar(&g.autoApprove, "yes", false, "Approve every tool call that would ask")
	f.StringVar(&g.transcript, "transcript", "", "Transcript file (JSON lines); overrides transcript.path")
}

// backendFactory builds the model registry. Tests replace it with scripted backends.
var backendFactory = buildBackends

func buildBackends(settings *config.Settings, logger *slog.Logger) (*model.Registry, error) {
	reg := model.NewRegistry()
	names := make([]string, 0, len(settings.Backends))
	for name := range settings.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := newBackend(name, settings.Backends[name])
		if err != nil {
			// Missing credentials only matter once a target names the backend.
			logger.Debug("backend unavailable", "backend", name, "error", err)
			continue
		}
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newBackend(name string, cfg config.BackendConfig) (model.Backend, error) {
	var b model.Backend
	switch cfg.Kind {
	case config.KindAnthropic:
		ab, err := anthropic.New(anthropic.Config{
			APIKey:    cfg.ResolveAPIKey(),
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		b = ab
	case config.KindOpenAI:
		ob, err := openai.New(openai.Config{
			Name:      name,
			APIKey:    cfg.ResolveAPIKey(),
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		b = ob
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
	if b.Name() != name {
		b = model.BackendFunc{ID: name, Fn: b.Send}
	}
	return b, nil
}

func newLogger(level string, streams ioStreams) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(streams.err, &slog.HandlerOptions{Level: lvl})), nil
}

func loadSettings(g *globalOptions) (*config.Settings, *config.Loader, error) {
	var opts []config.LoaderOption
	if strings.TrimSpace(g.configPath) != "" {
		opts = append(opts, config.WithFile(g.configPath))
	}
	loader, err := config.NewLoader(g.root, opts...)
	if err != nil {
		return nil, nil, err
	}
	settings, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return settings, loader, nil
}

// app is one fully wired session plus the resources it owns.
type app struct {
	settings   *config.Settings
	loader     *config.Loader
	session    *agent.Session
	skills     *skills.Index
	agents     *subagents.Catalog
	commands   *commands.Index
	transcript *event.FileSink
	tracing    *telemetry.Manager
	logger     *slog.Logger
	input      *bufio.Reader
	streams    ioStreams
}

func newApp(ctx context.Context, g *globalOptions, streams ioStreams) (_ *app, err error) {
	logger, err := newLogger(g.logLevel, streams)
	if err != nil {
		return nil, err
	}
	settings, loader, err := loadSettings(g)
	if err != nil {
		return nil, err
	}
	a := &app{settings: settings, loader: loader, logger: logger, streams: streams}
	if streams.in != nil {
		a.input = bufio.NewReader(streams.in)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	modeName := settings.Permissions.Mode
	if g.mode != "" {
		modeName = g.mode
	}
	mode, err := security.ParseMode(modeName)
	if err != nil {
		return nil, err
	}
	rules, err := security.CompileRules(settings.RuleConfig())
	if err != nil {
		return nil, err
	}
	var target *route.Target
	if g.target != "" {
		t, err := route.ParseTarget(g.target)
		if err != nil {
			return nil, err
		}
		target = &t
	}

	if a.tracing, err = telemetry.NewManager(settings.Telemetry); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	telemetry.SetDefault(a.tracing)

	backends, err := backendFactory(settings, logger)
	if err != nil {
		return nil, err
	}
	lifecycle, err := hooks.FromDefinitions(settings.Hooks, hooks.WithWorkDir(loader.Root()), hooks.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.skills = skills.NewIndex(skills.DefaultSources(loader.Root(), loader.Home()), skills.WithLogger(logger))
	if err := a.skills.Load(); err != nil {
		logger.Warn("some skills failed to load", "error", err)
	}
	a.agents = subagents.NewCatalog(subagents.DefaultSources(loader.Root(), loader.Home()), subagents.WithCatalogLogger(logger))
	if err := a.agents.Load(); err != nil {
		logger.Warn("some agents failed to load", "error", err)
	}
	a.commands = commands.NewIndex(commands.DefaultSources(loader.Root(), loader.Home()), logger)
	if err := a.commands.Load(); err != nil {
		logger.Warn("some commands failed to load", "error", err)
	}

	sessionID := g.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var sink event.Sink
	if path := a.transcriptPath(g, sessionID); path != "" {
		if a.transcript, err = event.NewFileSink(path); err != nil {
			return nil, err
		}
		sink = a.transcript
	}

	autoApprove := g.autoApprove || settings.Permissions.AutoApprove
	a.session, err = agent.NewSession(agent.Options{
		SessionID:   sessionID,
		ProjectRoot: loader.Root(),
		Backends:    backends,
		Builtins: toolbuiltin.Options{
			Bash: toolbuiltin.BashOptions{Timeout: settings.Bash.Timeout(), OutputLimit: settings.Bash.MaxOutputBytes},
		},
		Skills:      a.skills,
		Agents:      a.agents,
		Routes:      settings.RouteTable(),
		Target:      target,
		Rules:       rules,
		Mode:        mode,
		Approver:    a.approver(autoApprove),
		AutoApprove: autoApprove,
		MaxTurns:    settings.MaxTurns,
		Compaction: agent.Compaction{
			Enabled:   settings.Context.CompactionEnabled(),
			MaxChars:  settings.Context.MaxChars,
			Threshold: settings.Context.AutoCompactThreshold,
			KeepLast:  settings.Context.KeepLastTurns,
		},
		Retry: agent.Retry{
			MaxRetries: settings.Retry.MaxRetries,
			BaseDelay:  settings.Retry.BaseDelay(),
			MaxDelay:   settings.Retry.MaxDelay(),
		},
		Hooks:     lifecycle,
		Sink:      sink,
		CostTable: settings.Cost.Table(),
		MCP:       mcp.NewManager(mcp.WithLogger(logger)),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := a.session.ConnectMCP(ctx, settings.MCP.ServerSpecs()); err != nil {
		logger.Warn("some MCP servers are unavailable", "error", err)
	}
	return a, nil
}

func (a *app) transcriptPath(g *globalOptions, sessionID string) string {
	path := g.transcript
	if path == "" {
		if a.settings.Transcript.Disabled {
			return ""
		}
		path = a.settings.Transcript.Path
	}
	if path == "" {
		path = filepath.Join(config.DirName, "transcripts", sessionID+".jsonl")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.loader.Root(), path)
	}
	return path
}

// approver prompts on an interactive terminal and denies otherwise, so a
// piped run never blocks on a question nobody can answer.
func (a *app) approver(auto bool) security.Approver {
	if auto {
		return security.AutoApprover{}
	}
	if f, ok := a.streams.in.(*os.File); ok && a.input != nil && term.IsTerminal(int(f.Fd())) {
		return security.NewPromptApprover(a.input, a.streams.err)
	}
	return security.DenyApprover{Reason: "no terminal to ask for approval; rerun with --yes or add an allow rule"}
}

func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.transcript != nil {
		errs = append(errs, a.transcript.Close())
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tracing.Shutdown(ctx))
		cancel()
	}
	return errors.Join(errs...)
}
