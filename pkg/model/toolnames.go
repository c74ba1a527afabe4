package model

import "strings"

// ToolNames maps wire-safe tool names back to registry names. Provider APIs
// accept only [a-zA-Z0-9_-] in tool names, while namespaced tools such as
// mcp.<server>.<tool> carry dots.
type ToolNames map[string]string

// WireToolName rewrites name into the provider-safe alphabet. Dots become
// double underscores; anything else outside the alphabet becomes "_".
func WireToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '.':
			b.WriteString("__")
		case r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EncodeToolNames returns a copy of req whose tool definitions and
// historical tool calls use wire names, plus the reverse mapping.
func EncodeToolNames(req Request) (Request, ToolNames) {
	names := ToolNames{}
	if len(req.Tools) > 0 {
		tools := make([]ToolDefinition, len(req.Tools))
		for i, def := range req.Tools {
			wire := WireToolName(def.Name)
			names[wire] = def.Name
			def.Name = wire
			tools[i] = def
		}
		req.Tools = tools
	}
	msgs := make([]Message, len(req.Messages))
	for i, msg := range req.Messages {
		if len(msg.ToolCalls) > 0 {
			calls := make([]ToolCall, len(msg.ToolCalls))
			for j, call := range msg.ToolCalls {
				wire := WireToolName(call.Name)
				if _, ok := names[wire]; !ok {
					names[wire] = call.Name
				}
				call.Name = wire
				calls[j] = call
			}
			msg.ToolCalls = calls
		}
		msgs[i] = msg
	}
	req.Messages = msgs
	return req, names
}

// Decode restores registry names on resp's tool calls. Unknown names pass
// through unchanged.
func (n ToolNames) Decode(resp *Response) {
	if resp == nil {
		return
	}
	for i, call := range resp.Message.ToolCalls {
		if orig, ok := n[call.Name]; ok {
			resp.Message.ToolCalls[i].Name = orig
		}
	}
}
