package messaging

import "strings"

// Action classifies an inbound message body against the consent keyword sets.
type Action int

const (
	ActionNone Action = iota
	ActionOptOut
	ActionOptIn
)

func (a Action) String() string {
	switch a {
	case ActionOptOut:
		return "opt_out"
	case ActionOptIn:
		return "opt_in"
	default:
		return "none"
	}
}

var (
	optOutKeywords = []string{"STOP", "UNSUBSCRIBE", "CANCEL", "END", "QUIT", "STOPALL", "STOP ALL"}
	optInKeywords  = []string{"START", "YES", "SUBSCRIBE", "OPTIN", "JOIN", "UNSTOP"}
)

// KeywordMatcher classifies message bodies as opt-out, opt-in, or neither.
// Two implementations exist because the two carrier integrations shipped with
// different punctuation handling; both behaviors are live in production.
type KeywordMatcher interface {
	Classify(body string) Action
}

// StrictKeywordMatcher upper-cases, trims, and strips all punctuation before
// matching. Opt-out matches on exact equality or a "<keyword> " prefix; opt-in
// matches exact only.
type StrictKeywordMatcher struct{}

func (StrictKeywordMatcher) Classify(body string) Action {
	norm := stripPunctuation(strings.ToUpper(strings.TrimSpace(body)))
	return classifyNormalized(norm)
}

// LenientKeywordMatcher strips only leading punctuation before comparing the
// trimmed, upper-cased body. A trailing period defeats the match; this is the
// carrier-B behavior as shipped.
type LenientKeywordMatcher struct{}

func (LenientKeywordMatcher) Classify(body string) Action {
	norm := strings.ToUpper(strings.TrimSpace(body))
	norm = strings.TrimLeftFunc(norm, isPunct)
	norm = strings.TrimSpace(norm)
	return classifyNormalized(norm)
}

func classifyNormalized(norm string) Action {
	if norm == "" {
		return ActionNone
	}
	for _, kw := range optOutKeywords {
		if norm == kw || strings.HasPrefix(norm, kw+" ") {
			return ActionOptOut
		}
	}
	for _, kw := range optInKeywords {
		if norm == kw {
			return ActionOptIn
		}
	}
	return ActionNone
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', '\'', '"', '-', '(', ')', '[', ']':
		return true
	default:
		return false
	}
}
