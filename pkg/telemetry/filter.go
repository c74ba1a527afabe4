package telemetry

import (
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
)

const defaultMask = "***"

// Secret shapes that are always masked, in addition to configured patterns.
var defaultPatterns = []string{
	`sk-[A-Za-z0-9_\-]{8,}`,
	`(?i)bearer\s+[A-Za-z0-9._\-]{8,}`,
	`(?i)(api[_-]?key|token|secret|password)\s*[=:]\s*\S+`,
	`AKIA[0-9A-Z]{16}`,
}

// FilterConfig configures text masking for span attributes and log output.
type FilterConfig struct {
	Mask     string
	Patterns []string
}

// Filter masks secrets in free text.
type Filter struct {
	mask     string
	patterns []*regexp.Regexp
}

// NewFilter compiles the default patterns plus cfg.Patterns.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	mask := cfg.Mask
	if mask == "" {
		mask = defaultMask
	}
	f := &Filter{mask: mask}
	for _, raw := range append(append([]string{}, defaultPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("telemetry: compile filter pattern %q: %w", raw, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// MaskText replaces every secret match with the mask.
func (f *Filter) MaskText(text string) string {
	if f == nil || text == "" {
		return text
	}
	for _, re := range f.patterns {
		text = re.ReplaceAllString(text, f.mask)
	}
	return text
}

// SanitizeAttributes masks string and string-slice attribute values.
func (f *Filter) SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case attribute.STRING:
			out = append(out, attribute.String(string(kv.Key), f.MaskText(kv.Value.AsString())))
		case attribute.STRINGSLICE:
			vals := kv.Value.AsStringSlice()
			masked := make([]string, len(vals))
			for i, v := range vals {
				masked[i] = f.MaskText(v)
			}
			out = append(out, attribute.StringSlice(string(kv.Key), masked))
		default:
			out = append(out, kv)
		}
	}
	return out
}
