package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/tool"
)

// SkillSetProvider returns the active skill set of the calling conversation.
type SkillSetProvider func(context.Context) *skills.ActiveSet

var skillSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"name": tool.Prop("string", "Skill name"),
	},
	Required: []string{"name"},
}

// ActivateSkillTool switches a skill on and returns its instructions.
type ActivateSkillTool struct {
	provider SkillSetProvider
}

// NewActivateSkillTool builds the ActivateSkill tool.
func NewActivateSkillTool(provider SkillSetProvider) *ActivateSkillTool {
	return &ActivateSkillTool{provider: provider}
}

func (a *ActivateSkillTool) Name() string { return skills.ActivateTool }

func (a *ActivateSkillTool) Description() string {
	var b strings.Builder
	b.WriteString("Activates a skill pack. Its instructions are returned and, if it lists allowed tools, the tool set narrows to them until it is deactivated.\n")
	if a.provider == nil {
		return b.String()
	}
	set := a.provider(context.Background())
	if set == nil {
		return b.String()
	}
	specs := set.Index().List()
	if len(specs) == 0 {
		return b.String()
	}
	b.WriteString("\nAvailable skills:\n")
	for _, spec := range specs {
		desc := spec.Description
		if desc == "" {
			desc = "No description provided."
		}
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, desc)
	}
	return b.String()
}

func (a *ActivateSkillTool) Schema() *tool.JSONSchema { return skillSchema }

func (a *ActivateSkillTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	set, name, err := skillTarget(ctx, a.provider, params)
	if err != nil {
		return nil, err
	}
	changed, err := set.Activate(name)
	if err != nil {
		return nil, err
	}
	spec, _ := set.Index().Get(name)
	var out strings.Builder
	if changed {
		fmt.Fprintf(&out, "Skill %q activated.", name)
	} else {
		fmt.Fprintf(&out, "Skill %q is already active.", name)
	}
	if spec.Restricted() {
		fmt.Fprintf(&out, " Allowed tools: %s.", strings.Join(spec.AllowedTools, ", "))
	}
	if spec.Body != "" {
		out.WriteString("\n\n")
		out.WriteString(spec.Body)
	}
	return &tool.ToolResult{
		Success: true,
		Output:  out.String(),
		Data:    SkillChange{Skill: name, Changed: changed, Active: set.ListActive()},
	}, nil
}

// DeactivateSkillTool switches a skill off.
type DeactivateSkillTool struct {
	provider SkillSetProvider
}

// NewDeactivateSkillTool builds the DeactivateSkill tool.
func NewDeactivateSkillTool(provider SkillSetProvider) *DeactivateSkillTool {
	return &DeactivateSkillTool{provider: provider}
}

func (d *DeactivateSkillTool) Name() string { return skills.DeactivateTool }
func (d *DeactivateSkillTool) Description() string {
	return "Deactivates a previously activated skill and lifts its tool restriction."
}
func (d *DeactivateSkillTool) Schema() *tool.JSONSchema { return skillSchema }

func (d *DeactivateSkillTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	set, name, err := skillTarget(ctx, d.provider, params)
	if err != nil {
		return nil, err
	}
	changed := set.Deactivate(name)
	msg := fmt.Sprintf("Skill %q deactivated.", name)
	if !changed {
		msg = fmt.Sprintf("Skill %q was not active.", name)
	}
	return &tool.ToolResult{
		Success: true,
		Output:  msg,
		Data:    SkillChange{Skill: name, Changed: changed, Active: set.ListActive()},
	}, nil
}

// SkillChange is the Data payload of both skill tools.
type SkillChange struct {
	Skill   string   `json:"skill"`
	Changed bool     `json:"changed"`
	Active  []string `json:"active"`
}

func skillTarget(ctx context.Context, provider SkillSetProvider, params map[string]any) (*skills.ActiveSet, string, error) {
	if provider == nil {
		return nil, "", errors.New("skill set is not configured")
	}
	set := provider(ctx)
	if set == nil {
		return nil, "", errors.New("skill set is not configured")
	}
	name, err := tool.String(params, "name")
	if err != nil {
		return nil, "", err
	}
	return set, strings.TrimSpace(name), nil
}
