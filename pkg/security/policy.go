package security

// Action is the verdict of the policy engine.
type Action int

const (
	ActionAllow Action = iota + 1
	ActionAsk
	ActionDeny
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionAsk:
		return "ask"
	case ActionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision source labels.
const (
	SourceBuiltin = "builtin"
	SourceRule    = "rule"
	SourceMode    = "mode"
)

// Invocation is the subject of a policy decision.
type Invocation struct {
	Tool   string
	Params map[string]any
}

// Decision records the verdict along with the rule that produced it.
type Decision struct {
	Action   Action
	Rule     string
	Source   string
	Tool     string
	Target   string
	Category Category
	Mode     Mode
}

// Decide is the pure policy function. Precedence: deny (built-in floor
// first) > allow > ask > mode default for the tool category. Bash deny rules
// also match every simple command inside the command line, so chaining,
// wrappers and "sh -c" do not slip past them.
func Decide(mode Mode, rules *RuleSet, inv Invocation) Decision {
	arg, hasArg := primaryArgument(inv.Tool, inv.Params)
	cat := CategoryOf(inv.Tool)
	decision := Decision{Tool: inv.Tool, Target: arg, Category: cat, Mode: mode}

	if rules != nil {
		var segments []string
		if inv.Tool == "Bash" && hasArg {
			segments = commandSegments(arg)
		}
		for _, rule := range rules.deny {
			if rule.matches(inv.Tool, arg, hasArg) || rule.matchesAny(inv.Tool, segments) {
				decision.Action = ActionDeny
				decision.Rule = rule.raw
				decision.Source = SourceRule
				if rule.builtin {
					decision.Source = SourceBuiltin
				}
				return decision
			}
		}
		for _, rule := range rules.allow {
			if rule.matches(inv.Tool, arg, hasArg) {
				decision.Action = ActionAllow
				decision.Rule = rule.raw
				decision.Source = SourceRule
				return decision
			}
		}
		for _, rule := range rules.ask {
			if rule.matches(inv.Tool, arg, hasArg) {
				decision.Action = ActionAsk
				decision.Rule = rule.raw
				decision.Source = SourceRule
				return decision
			}
		}
	}

	decision.Action = modeDefault(mode, cat)
	decision.Source = SourceMode
	return decision
}
