package policy

import "context"

// Query narrows which rules Match considers.
type Query struct {
	// Hard selects the hard-deny tier instead of the standard tier.
	Hard bool
	// Action, when set, only considers rules with this action.
	Action Action
}

// Engine evaluates configured rules. It does not look at rate limits or mode
// overrides; the gateway layers those around it.
type Engine interface {
	// Match returns the highest-priority rule in the queried tier that matches
	// req, or nil when none does.
	Match(ctx context.Context, req Request, mode Mode, q Query) (*Rule, error)
	// Rules returns the active rule set in evaluation order.
	Rules() []Rule
	// Reload atomically replaces the rule set.
	Reload(rules []Rule) error
}
