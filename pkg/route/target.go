// Package route resolves which model and backend serve a conversation turn.
package route

import (
	"fmt"
	"strings"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// Target is a model served by a named backend, written model@backend.
type Target struct {
	Model   string `json:"model"`
	Backend string `json:"backend"`
}

// ParseTarget splits raw on its last "@" so model names may contain one.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, "@")
	if idx <= 0 || idx == len(raw)-1 {
		return Target{}, failure.New(failure.KindInvalidArgument, "target %q must look like model@backend", raw)
	}
	return Target{Model: strings.TrimSpace(raw[:idx]), Backend: strings.TrimSpace(raw[idx+1:])}, nil
}

// MustParseTarget is ParseTarget for literals.
func MustParseTarget(raw string) Target {
	t, err := ParseTarget(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Target) String() string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s@%s", t.Model, t.Backend)
}

// IsZero reports whether t is unset.
func (t Target) IsZero() bool { return t.Model == "" && t.Backend == "" }

// MarshalText encodes t as model@backend.
func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes model@backend; empty input leaves t zero.
func (t *Target) UnmarshalText(data []byte) error {
	if strings.TrimSpace(string(data)) == "" {
		*t = Target{}
		return nil
	}
	parsed, err := ParseTarget(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
