// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the tool registry under the mcp.<server>.<tool> namespace.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/agentcore/pkg/core/failure"
)

const (
	clientName    = "agentcore"
	clientVersion = "dev"

	// DefaultTimeout bounds each tool call unless the server spec says otherwise.
	DefaultTimeout = 30 * time.Second

	// ToolPrefix namespaces every remote tool name.
	ToolPrefix = "mcp."
)

// Transport kinds accepted in ServerSpec.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ServerSpec describes one server from configuration.
type ServerSpec struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	TimeoutMS int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Timeout returns the per-call timeout.
func (s ServerSpec) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Validate checks the fields the chosen transport needs.
func (s ServerSpec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return errors.New("mcp: server name is required")
	}
	if strings.ContainsAny(name, ". \t") {
		return fmt.Errorf("mcp: server name %q must not contain dots or spaces", name)
	}
	switch s.transport() {
	case TransportStdio:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("mcp: server %s: command is required for stdio", name)
		}
	case TransportSSE, TransportHTTP:
		if _, err := normalizeHTTPURL(s.URL); err != nil {
			return fmt.Errorf("mcp: server %s: %w", name, err)
		}
	default:
		return fmt.Errorf("mcp: server %s: unsupported transport %q", name, s.Transport)
	}
	return nil
}

func (s ServerSpec) transport() string {
	t := strings.ToLower(strings.TrimSpace(s.Transport))
	if t == "" {
		return TransportStdio
	}
	if t == "streamable" || t == "streamable-http" {
		return TransportHTTP
	}
	return t
}

// TransportFactory builds the SDK transport for a server.
type TransportFactory func(ctx context.Context, spec ServerSpec) (mcpsdk.Transport, error)

// Handle is a live connection to one server.
type Handle struct {
	spec    ServerSpec
	session *mcpsdk.ClientSession
	cancel  context.CancelFunc
}

// Name returns the server name.
func (h *Handle) Name() string { return h.spec.Name }

// Spec returns the server spec the handle was opened with.
func (h *Handle) Spec() ServerSpec { return h.spec }

// ToolInfo describes a remote tool.
type ToolInfo struct {
	Server      string
	Name        string
	FullName    string
	Description string
	InputSchema map[string]any
}

// Manager owns every open server connection.
type Manager struct {
	mu        sync.Mutex
	handles   map[string]*Handle
	transport TransportFactory
	logger    *slog.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTransportFactory replaces the transport builder.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.transport = f
		}
	}
}

// NewManager builds a Manager with no connections.
func NewManager(opts ...Option) *Manager {
	m := &Manager{handles: map[string]*Handle{}, transport: BuildTransport, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials spec and completes the MCP handshake. Connecting a name that
// is already open returns the existing handle.
func (m *Manager) Connect(ctx context.Context, spec ServerSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if h, ok := m.handles[spec.Name]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	transport, err := m.transport(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("mcp: build transport for %s: %w", spec.Name, err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, &mcpsdk.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcpsdk.ToolListChangedRequest) {
			m.logger.Info("mcp tools changed", "server", spec.Name)
		},
	})
	connectCtx, stop := context.WithTimeout(ctx, max(spec.Timeout(), DefaultTimeout))
	defer stop()
	// The session outlives ctx; only an abandoned handshake cancels it.
	dialCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		select {
		case <-connectCtx.Done():
			cancel()
		case <-done:
		}
	}()
	session, err := client.Connect(dialCtx, transport, nil)
	close(done)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mcp: connect %s: %w", spec.Name, err)
	}

	h := &Handle{spec: spec, session: session, cancel: cancel}
	m.mu.Lock()
	if existing, ok := m.handles[spec.Name]; ok {
		m.mu.Unlock()
		_ = session.Close()
		cancel()
		return existing, nil
	}
	m.handles[spec.Name] = h
	m.mu.Unlock()
	m.logger.Info("mcp server connected", "server", spec.Name, "transport", spec.transport())
	return h, nil
}

// Get returns the open handle for server.
func (m *Manager) Get(server string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[server]
	return h, ok
}

// Servers lists open connections sorted by name.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for name := range m.handles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ListTools returns the server's tools with namespaced names.
func (m *Manager) ListTools(ctx context.Context, h *Handle) ([]ToolInfo, error) {
	if h == nil || h.session == nil {
		return nil, errors.New("mcp: handle is closed")
	}
	ctx, cancel := context.WithTimeout(ctx, h.spec.Timeout())
	defer cancel()
	var out []ToolInfo
	for t, err := range h.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools on %s: %w", h.spec.Name, err)
		}
		if t == nil {
			continue
		}
		out = append(out, ToolInfo{
			Server:      h.spec.Name,
			Name:        t.Name,
			FullName:    ToolName(h.spec.Name, t.Name),
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallResult is a decoded tool call response.
type CallResult struct {
	Text    string
	IsError bool
}

// CallTool invokes name (the server-local tool name) bounded by the server
// timeout.
func (m *Manager) CallTool(ctx context.Context, h *Handle, name string, args map[string]any) (*CallResult, error) {
	if h == nil || h.session == nil {
		return nil, errors.New("mcp: handle is closed")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("mcp: tool name is empty")
	}
	if args == nil {
		args = map[string]any{}
	}
	timeout := h.spec.Timeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := h.session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, failure.New(failure.KindTimeout, "mcp tool %s on %s timed out after %s", name, h.spec.Name, timeout)
		}
		return nil, fmt.Errorf("mcp: call %s on %s: %w", name, h.spec.Name, err)
	}
	if res == nil {
		return nil, fmt.Errorf("mcp: call %s on %s returned no result", name, h.spec.Name)
	}
	return &CallResult{Text: renderContent(res), IsError: res.IsError}, nil
}

// Disconnect closes h and forgets it.
func (m *Manager) Disconnect(h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	if cur, ok := m.handles[h.spec.Name]; ok && cur == h {
		delete(m.handles, h.spec.Name)
	}
	m.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Close()
	if h.cancel != nil {
		h.cancel()
	}
	m.logger.Info("mcp server disconnected", "server", h.spec.Name)
	return err
}

// Close disconnects every server.
func (m *Manager) Close() error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	var errs []error
	for _, h := range handles {
		if err := m.Disconnect(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToolName namespaces a server tool.
func ToolName(server, tool string) string {
	return ToolPrefix + server + "." + tool
}

// SplitToolName reverses ToolName.
func SplitToolName(full string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(full, ToolPrefix)
	if !found {
		return "", "", false
	}
	server, tool, ok = strings.Cut(rest, ".")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// BuildTransport is the default TransportFactory.
func BuildTransport(ctx context.Context, spec ServerSpec) (mcpsdk.Transport, error) {
	switch spec.transport() {
	case TransportStdio:
		cmd := exec.Command(spec.Command, spec.Args...) // #nosec G204
		if len(spec.Env) > 0 {
			cmd.Env = os.Environ()
			keys := make([]string, 0, len(spec.Env))
			for k := range spec.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Env = append(cmd.Env, k+"="+spec.Env[k])
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		endpoint, err := normalizeHTTPURL(spec.URL)
		if err != nil {
			return nil, err
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint, HTTPClient: headerClient(spec.Headers)}, nil
	case TransportHTTP:
		endpoint, err := normalizeHTTPURL(spec.URL)
		if err != nil {
			return nil, err
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint, HTTPClient: headerClient(spec.Headers)}, nil
	}
	return nil, fmt.Errorf("unsupported transport %q", spec.Transport)
}

func normalizeHTTPURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, os.ExpandEnv(v))
	}
	return t.base.RoundTrip(clone)
}

func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return nil
	}
	return &http.Client{Transport: headerTransport{headers: headers, base: http.DefaultTransport}}
}
