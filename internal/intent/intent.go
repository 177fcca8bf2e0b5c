// Package intent classifies inbound messages into a fixed label set, with a
// deterministic keyword fallback when the primary classifier is unavailable.
package intent

import (
	"context"
	"log/slog"
	"strings"
)

// Label is one of the fixed intents
type Label string

const (
	TopUp        Label = "top_up"
	BalanceQuery Label = "balance_query"
	UsageHistory Label = "usage_history"
	Help         Label = "help"
	AIQuery      Label = "ai_query"
)

// ParseLabel validates a classifier response against the fixed set
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case TopUp:
		return TopUp, true
	case BalanceQuery:
		return BalanceQuery, true
	case UsageHistory:
		return UsageHistory, true
	case Help:
		return Help, true
	case AIQuery:
		return AIQuery, true
	}
	return "", false
}

// Labels lists every valid label, for classifier prompts
func Labels() []Label {
	return []Label{TopUp, BalanceQuery, UsageHistory, Help, AIQuery}
}

// Classifier is the primary (external) intent classifier
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// rule is one ordered fallback rule: first keyword hit wins
type rule struct {
	label    Label
	keywords []string
}

// Evaluated in order; the order is fixed so classification is reproducible.
var fallbackRules = []rule{
	{TopUp, []string{"top up", "topup", "top-up", "deposit", "add funds", "add money"}},
	{UsageHistory, []string{"history", "usage", "spent"}},
	{BalanceQuery, []string{"balance", "how much", "credit", "account"}},
	{Help, []string{"help", "how to", "instructions", "commands", "what can", "start", "guide"}},
}

// Router is the two-tier classifier: external first, keywords on failure
type Router struct {
	classifier Classifier
	log        *slog.Logger
}

// NewRouter creates a router. classifier may be nil, in which case only the
// keyword fallback runs.
func NewRouter(classifier Classifier, log *slog.Logger) *Router {
	return &Router{classifier: classifier, log: log}
}

// Classify returns a label for the message. It always produces a defined
// label: classifier failures, timeouts and out-of-set responses all fall back
// to the keyword pass, which defaults to AIQuery.
func (r *Router) Classify(ctx context.Context, text string) Label {
	if strings.TrimSpace(text) == "" {
		return Help
	}

	if r.classifier != nil {
		raw, err := r.classifier.Classify(ctx, text)
		if err != nil {
			r.log.Warn("intent classifier unavailable, using fallback", "error", err)
		} else if label, ok := ParseLabel(raw); ok {
			return label
		} else {
			r.log.Warn("intent classifier returned unknown label, using fallback", "label", raw)
		}
	}

	return classifyKeywords(text)
}

// classifyKeywords is the deterministic fallback: case-insensitive substring
// rules in fixed priority order, AIQuery when nothing matches.
func classifyKeywords(text string) Label {
	lower := strings.ToLower(text)
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.label
			}
		}
	}
	return AIQuery
}
