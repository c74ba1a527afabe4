// Package cost prices backend token usage and keeps a per-session ledger.
package cost

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cexll/agentcore/pkg/model"
)

// Pricing is the USD price per one million tokens.
type Pricing struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Calculate returns the USD cost of the given token counts.
func (p Pricing) Calculate(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
}

// FallbackPricing applies to models missing from the table.
var FallbackPricing = Pricing{Input: 1.00, Output: 3.00}

var defaultPricing = map[string]Pricing{
	"gpt-4o":                     {2.50, 10.00},
	"gpt-4o-mini":                {0.15, 0.60},
	"gpt-4-turbo":                {10.00, 30.00},
	"gpt-3.5-turbo":              {0.50, 1.50},
	"o1":                         {15.00, 60.00},
	"o1-mini":                    {3.00, 12.00},
	"o1-preview":                 {15.00, 60.00},
	"claude-3-5-sonnet-latest":   {3.00, 15.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-latest":    {0.80, 4.00},
	"claude-3-opus-latest":       {15.00, 75.00},
	"llama3":                     {0, 0},
	"llama3:8b":                  {0, 0},
	"codellama":                  {0, 0},
}

// Table maps model names to prices.
type Table struct {
	models   map[string]Pricing
	fallback Pricing
}

// DefaultTable returns the built-in price list.
func DefaultTable() *Table {
	t := &Table{models: make(map[string]Pricing, len(defaultPricing)), fallback: FallbackPricing}
	for name, p := range defaultPricing {
		t.models[name] = p
	}
	return t
}

// NewTable layers overrides on top of the defaults.
func NewTable(overrides map[string]Pricing) *Table {
	t := DefaultTable()
	for name, p := range overrides {
		t.Set(name, p)
	}
	return t
}

// Set adds or replaces the price of one model.
func (t *Table) Set(name string, p Pricing) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	t.models[name] = p
}

// Lookup finds the price of model. An exact match wins, then the longest
// table entry that prefixes model, so "gpt-4o-2024-08-06" prices as gpt-4o.
func (t *Table) Lookup(name string) Pricing {
	if p, ok := t.models[name]; ok {
		return p
	}
	best := ""
	for candidate := range t.models {
		if strings.HasPrefix(name, candidate) && len(candidate) > len(best) {
			best = candidate
		}
	}
	if best != "" {
		return t.models[best]
	}
	return t.fallback
}

// Calculate prices a token count for model.
func (t *Table) Calculate(name string, inputTokens, outputTokens int) float64 {
	return t.Lookup(name).Calculate(inputTokens, outputTokens)
}

// Operation is a single priced backend round trip.
type Operation struct {
	Turn         int     `json:"turn"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens is input plus output.
func (o Operation) TotalTokens() int { return o.InputTokens + o.OutputTokens }

// ModelTotal aggregates the operations of one model.
type ModelTotal struct {
	Model   string  `json:"model"`
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// Summary is a point-in-time view of a ledger.
type Summary struct {
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	CostUSD      float64      `json:"cost_usd"`
	Turns        int          `json:"turns"`
	ByModel      []ModelTotal `json:"by_model"`
}

// TotalTokens is input plus output.
func (s Summary) TotalTokens() int { return s.InputTokens + s.OutputTokens }

// Ledger accumulates priced operations for one session. Safe for
// concurrent use.
type Ledger struct {
	mu    sync.Mutex
	table *Table
	ops   []Operation
}

// NewLedger builds a ledger priced by table. A nil table uses the defaults.
func NewLedger(table *Table) *Ledger {
	if table == nil {
		table = DefaultTable()
	}
	return &Ledger{table: table}
}

// Record prices usage for model and stores it under turn.
func (l *Ledger) Record(turn int, modelName string, usage model.TokenUsage) Operation {
	op := Operation{
		Turn:         turn,
		Model:        modelName,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      l.table.Calculate(modelName, usage.InputTokens, usage.OutputTokens),
	}
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
	return op
}

// Merge folds operations recorded elsewhere, such as a subagent ledger,
// into turn.
func (l *Ledger) Merge(turn int, ops []Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		op.Turn = turn
		l.ops = append(l.ops, op)
	}
}

// Operations returns a copy of every recorded operation.
func (l *Ledger) Operations() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operation(nil), l.ops...)
}

// TurnCost is the USD spent in one turn.
func (l *Ledger) TurnCost(turn int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, op := range l.ops {
		if op.Turn == turn {
			total += op.CostUSD
		}
	}
	return total
}

// Summary totals the ledger. ByModel is sorted by model name.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	turns := map[int]struct{}{}
	models := map[string]*ModelTotal{}
	for _, op := range l.ops {
		s.InputTokens += op.InputTokens
		s.OutputTokens += op.OutputTokens
		s.CostUSD += op.CostUSD
		turns[op.Turn] = struct{}{}
		mt, ok := models[op.Model]
		if !ok {
			mt = &ModelTotal{Model: op.Model}
			models[op.Model] = mt
		}
		mt.Tokens += op.TotalTokens()
		mt.CostUSD += op.CostUSD
	}
	s.Turns = len(turns)
	s.ByModel = make([]ModelTotal, 0, len(models))
	for _, mt := range models {
		s.ByModel = append(s.ByModel, *mt)
	}
	sort.Slice(s.ByModel, func(i, j int) bool { return s.ByModel[i].Model < s.ByModel[j].Model })
	return s
}

// Format renders a USD amount with precision scaled to its size.
func Format(usd float64) string {
	switch {
	case usd < 0.01:
		return fmt.Sprintf("$%.4f", usd)
	case usd < 1:
		return fmt.Sprintf("$%.3f", usd)
	default:
		return fmt.Sprintf("$%.2f", usd)
	}
}
