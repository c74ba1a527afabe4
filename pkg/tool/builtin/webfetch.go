package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"

	"github.com/cexll/agentcore/pkg/tool"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultFetchMaxBytes = 2 << 20
	fetchUserAgent       = "agentcore-webfetch/1.0"
	webFetchDescription  = `Fetches a URL with HTTP GET and returns its text. HTML is converted to plain text with headings and list items kept on their own lines.`
)

var webFetchSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"url": tool.Prop("string", "http or https URL"),
	},
	Required: []string{"url"},
}

// WebFetchOptions configures fetching.
type WebFetchOptions struct {
	Client      *http.Client
	Timeout     time.Duration
	MaxBytes    int64
	OutputLimit int
	// AllowPrivate permits loopback and private network hosts.
	AllowPrivate bool
}

// WebFetchTool retrieves web pages. It is policed as an execution tool.
type WebFetchTool struct {
	client *http.Client
	opts   WebFetchOptions
}

// NewWebFetchTool builds a WebFetchTool.
func NewWebFetchTool(opts WebFetchOptions) *WebFetchTool {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultFetchMaxBytes
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = tool.DefaultOutputLimit
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &WebFetchTool{client: client, opts: opts}
}

func (w *WebFetchTool) Name() string             { return "WebFetch" }
func (w *WebFetchTool) Description() string      { return webFetchDescription }
func (w *WebFetchTool) Schema() *tool.JSONSchema { return webFetchSchema }

func (w *WebFetchTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	raw, err := tool.String(params, "url")
	if err != nil {
		return nil, err
	}
	target, err := w.normalise(raw)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.opts.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	text := string(body)
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		text = htmlToText(text)
	}
	text, truncated := tool.Truncate(text, w.opts.OutputLimit)
	return &tool.ToolResult{
		Success:   resp.StatusCode < 400,
		Output:    fmt.Sprintf("%s (status %d)\n\n%s", resp.Request.URL, resp.StatusCode, text),
		Truncated: truncated,
		Data:      map[string]any{"url": resp.Request.URL.String(), "status": resp.StatusCode, "bytes": len(body)},
	}, nil
}

func (w *WebFetchTool) normalise(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url host is required")
	}
	if !w.opts.AllowPrivate && isPrivateHost(u.Hostname()) {
		return "", fmt.Errorf("host %s is on a private network", u.Hostname())
	}
	u.User = nil
	u.Fragment = ""
	return u.String(), nil
}

func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "header": true, "footer": true,
}

// htmlToText flattens a document to readable text, dropping scripts and
// styles.
func htmlToText(doc string) string {
	root, err := xhtml.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}
	var b strings.Builder
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == xhtml.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if last := lastByte(&b); last != 0 && last != '\n' && last != ' ' {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		block := n.Type == xhtml.ElementNode && blockElements[n.Data]
		if block && b.Len() > 0 && lastByte(&b) != '\n' {
			b.WriteByte('\n')
		}
		if n.Type == xhtml.ElementNode && n.Data == "li" {
			b.WriteString("- ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block && b.Len() > 0 && lastByte(&b) != '\n' {
			b.WriteByte('\n')
		}
	}
	walk(root)
	return strings.TrimSpace(b.String())
}

func lastByte(b *strings.Builder) byte {
	s := b.String()
	if s == "" {
		return 0
	}
	return s[len(s)-1]
}
