package toolbuiltin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html><html><head><title>t</title><style>body{}</style></head>
<body><h1>Title</h1><script>alert(1)</script><p>First   paragraph.</p><ul><li>one</li><li>two</li></ul></body></html>`

func TestWebFetchConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fetchUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	wf := NewWebFetchTool(WebFetchOptions{Client: srv.Client(), AllowPrivate: true})
	res, err := wf.Execute(context.Background(), map[string]any{"url": srv.URL + "/page#frag"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, res.Output, "Title\nFirst paragraph.\n- one\n- two")
	require.NotContains(t, res.Output, "alert")
	require.NotContains(t, res.Output, "body{}")
	require.Equal(t, http.StatusOK, res.Data.(map[string]any)["status"])
}

func TestWebFetchPlainTextAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	wf := NewWebFetchTool(WebFetchOptions{Client: srv.Client(), AllowPrivate: true, OutputLimit: 10})
	res, err := wf.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	require.True(t, res.Truncated)

	res, err = wf.Execute(context.Background(), map[string]any{"url": srv.URL + "/missing"})
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestWebFetchRejectsURLs(t *testing.T) {
	wf := NewWebFetchTool(WebFetchOptions{})
	for _, raw := range []string{"file:///etc/passwd", "ftp://example.com", "http://", "http://127.0.0.1:8080/", "http://localhost/x"} {
		_, err := wf.Execute(context.Background(), map[string]any{"url": raw})
		require.Error(t, err, raw)
	}
}

func TestHTMLToTextFallsBackOnPlain(t *testing.T) {
	require.Equal(t, "just text", htmlToText("just text"))
}
