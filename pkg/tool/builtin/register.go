package toolbuiltin

import (
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

// Options selects and configures the built-in tools.
type Options struct {
	Bash     BashOptions
	WebFetch WebFetchOptions
	// Task, when set, is registered as the delegation tool.
	Task *TaskTool
	// Skills, when set, enables ActivateSkill and DeactivateSkill.
	Skills SkillSetProvider
}

// Register adds every built-in tool confined to sb.
func Register(reg *tool.Registry, sb *security.Sandbox, opts Options) error {
	tools := []tool.Tool{
		NewReadTool(sb),
		NewWriteTool(sb),
		NewEditTool(sb),
		NewGlobTool(sb),
		NewGrepTool(sb),
		NewBashTool(sb, opts.Bash),
		NewWebFetchTool(opts.WebFetch),
	}
	if opts.Task != nil {
		tools = append(tools, opts.Task)
	}
	if opts.Skills != nil {
		tools = append(tools, NewActivateSkillTool(opts.Skills), NewDeactivateSkillTool(opts.Skills))
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
