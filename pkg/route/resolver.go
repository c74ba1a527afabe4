package route

import "strings"

// Category groups agents by the kind of work they do.
type Category string

const (
	CategorySearch  Category = "search"
	CategoryCode    Category = "code"
	CategoryTest    Category = "test"
	CategoryDocs    Category = "docs"
	CategoryReview  Category = "review"
	CategoryDefault Category = "default"
)

type categoryKeywords struct {
	category Category
	keywords []string
}

// Order matters: categories overlap, the first hit wins. CategoryDefault
// is never matched by keyword.
var categoryTable = []categoryKeywords{
	{CategorySearch, []string{"search", "scout", "explore", "find", "research"}},
	{CategoryCode, []string{"patch", "code", "implement", "refactor", "fix", "edit"}},
	{CategoryTest, []string{"test", "verify", "qa"}},
	{CategoryDocs, []string{"doc", "docs", "readme", "write-up"}},
	{CategoryReview, []string{"review", "audit"}},
}

// Identity is what the resolver knows about the agent asking for a target.
type Identity struct {
	Name        string
	Description string
}

// InferCategory returns the first category whose keywords occur in the
// identity's name or description, case-insensitively.
func InferCategory(id *Identity) Category {
	if id == nil {
		return CategoryDefault
	}
	text := strings.ToLower(id.Name + " " + id.Description)
	for _, entry := range categoryTable {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.category
			}
		}
	}
	return CategoryDefault
}

// Source says which rule produced a resolution.
type Source string

const (
	SourceExplicit        Source = "explicit"
	SourceRoute           Source = "route"
	SourceCategoryDefault Source = "category_default"
	SourceGlobal          Source = "global"
)

// Resolution is a resolved target plus how it was chosen.
type Resolution struct {
	Target   Target
	Category Category
	Source   Source
}

// Table holds the configured routing inputs.
type Table struct {
	// Routes are user-configured targets per category.
	Routes map[Category]Target
	// Defaults are built-in targets per category, consulted after Routes.
	Defaults map[Category]Target
	// Global is the last-resort target.
	Global Target
}

// Resolve picks a target. Precedence: explicit override, configured route
// for the inferred category, built-in default for that category, global
// default.
func Resolve(explicit *Target, agent *Identity, table Table) Resolution {
	category := InferCategory(agent)
	if explicit != nil && !explicit.IsZero() {
		return Resolution{Target: *explicit, Category: category, Source: SourceExplicit}
	}
	if t, ok := table.Routes[category]; ok && !t.IsZero() {
		return Resolution{Target: t, Category: category, Source: SourceRoute}
	}
	if t, ok := table.Defaults[category]; ok && !t.IsZero() {
		return Resolution{Target: t, Category: category, Source: SourceCategoryDefault}
	}
	return Resolution{Target: table.Global, Category: category, Source: SourceGlobal}
}

// KnownCategory reports whether c is a category of the table or the
// terminal default.
func KnownCategory(c Category) bool {
	if c == CategoryDefault {
		return true
	}
	for _, entry := range categoryTable {
		if entry.category == c {
			return true
		}
	}
	return false
}
