// Package toolbuiltin holds the built-in tools: file access, search, shell,
// web fetch, delegation and skill switching.
package toolbuiltin

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const defaultMaxFileBytes = 1 << 20

// fileAccess is shared by the file tools. Paths are resolved again here so
// the tools stay safe when called without the executor.
type fileAccess struct {
	sandbox  *security.Sandbox
	maxBytes int64
}

func newFileAccess(sb *security.Sandbox) fileAccess {
	return fileAccess{sandbox: sb, maxBytes: defaultMaxFileBytes}
}

func (f fileAccess) resolve(params map[string]any, key string) (string, error) {
	if f.sandbox == nil {
		return "", errors.New("file tool is not initialised")
	}
	raw, err := tool.String(params, key)
	if err != nil {
		return "", err
	}
	return f.sandbox.Resolve(raw)
}

func (f fileAccess) readText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", f.sandbox.Rel(path), err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", f.sandbox.Rel(path))
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return "", fmt.Errorf("%s exceeds the %d byte read limit", f.sandbox.Rel(path), f.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.sandbox.Rel(path), err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s looks like a binary file", f.sandbox.Rel(path))
	}
	return string(data), nil
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
