package security

import (
	"fmt"
	"strings"
)

// Mode is the permission mode. Modes are totally ordered so a child can be
// clamped with Min.
type Mode int

const (
	ModeDefault Mode = iota
	ModeAcceptEdits
	ModeBypassPermissions
)

// ParseMode accepts the canonical names plus the dashed, underscored and
// short aliases used in configuration files.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return ModeDefault, nil
	case "acceptedits", "accept-edits", "accept_edits":
		return ModeAcceptEdits, nil
	case "bypasspermissions", "bypass-permissions", "bypass_permissions", "bypass":
		return ModeBypassPermissions, nil
	default:
		return ModeDefault, fmt.Errorf("security: unknown permission mode %q", raw)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeAcceptEdits:
		return "acceptEdits"
	case ModeBypassPermissions:
		return "bypassPermissions"
	default:
		return "default"
	}
}

// MinMode returns the less permissive of a and b.
func MinMode(a, b Mode) Mode {
	if a < b {
		return a
	}
	return b
}

// Category groups tools for the mode fallback table.
type Category int

const (
	CategoryRead Category = iota
	CategoryMutate
	CategoryShell
)

func (c Category) String() string {
	switch c {
	case CategoryRead:
		return "read"
	case CategoryMutate:
		return "mutate"
	default:
		return "shell"
	}
}

// Tool names with a fixed category. Anything else, including delegation and
// every provider-supplied tool, falls into CategoryShell: a subagent can do
// whatever its clamped tool set allows, so it is approved like a command.
var toolCategories = map[string]Category{
	"Read":            CategoryRead,
	"Grep":            CategoryRead,
	"Glob":            CategoryRead,
	"ActivateSkill":   CategoryRead,
	"DeactivateSkill": CategoryRead,
	"Write":           CategoryMutate,
	"Edit":            CategoryMutate,
	"Bash":            CategoryShell,
}

// CategoryOf classifies a tool by name.
func CategoryOf(tool string) Category {
	if cat, ok := toolCategories[tool]; ok {
		return cat
	}
	return CategoryShell
}

func modeDefault(mode Mode, cat Category) Action {
	switch mode {
	case ModeBypassPermissions:
		return ActionAllow
	case ModeAcceptEdits:
		if cat == CategoryShell {
			return ActionAsk
		}
		return ActionAllow
	default:
		if cat == CategoryRead {
			return ActionAllow
		}
		return ActionAsk
	}
}
