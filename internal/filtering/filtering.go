// Package filtering implements AdBlock-style network filtering rules: their
// compilation from text and their evaluation against captured requests.
package filtering

import "fmt"

// Action is the verdict of a rule or a rule set for a request.
type Action uint8

// Action values.
const (
	// ActionNoop means that no particular action should be taken and the
	// decision is left to other rules.
	ActionNoop Action = iota

	// ActionAllow means that the request is not filtered.
	ActionAllow

	// ActionDeny means that the request is filtered.
	ActionDeny
)

// type check
var _ fmt.Stringer = ActionNoop

// String implements the [fmt.Stringer] interface for Action.
func (a Action) String() (s string) {
	switch a {
	case ActionNoop:
		return "noop"
	case ActionAllow:
		return "allow"
	case ActionDeny:
		return "deny"
	default:
		return fmt.Sprintf("!bad_action_%d", a)
	}
}

// MatchResult is the outcome of matching a rule or a modifier against a
// request.
type MatchResult uint8

// MatchResult values.
const (
	// MatchResultNoMatch means that the rule does not apply to the request.
	MatchResultNoMatch MatchResult = iota

	// MatchResultMatch means that the rule applies to the request.
	MatchResultMatch

	// MatchResultOverride means that the rule applies to the request and takes
	// precedence over other rules.
	MatchResultOverride

	// MatchResultIgnore means that the modifier must not be considered.
	MatchResultIgnore
)

// type check
var _ fmt.Stringer = MatchResultNoMatch

// String implements the [fmt.Stringer] interface for MatchResult.
func (r MatchResult) String() (s string) {
	switch r {
	case MatchResultNoMatch:
		return "no_match"
	case MatchResultMatch:
		return "match"
	case MatchResultOverride:
		return "override"
	case MatchResultIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("!bad_match_result_%d", r)
	}
}

// Invert returns the inverse of r: MATCH and OVERRIDE become NO_MATCH, NO_MATCH
// becomes MATCH, and anything else becomes IGNORE.
func (r MatchResult) Invert() (inv MatchResult) {
	switch r {
	case MatchResultMatch, MatchResultOverride:
		return MatchResultNoMatch
	case MatchResultNoMatch:
		return MatchResultMatch
	default:
		return MatchResultIgnore
	}
}

// matchResultFromBool returns MATCH if ok is true and NO_MATCH otherwise.
func matchResultFromBool(ok bool) (r MatchResult) {
	if ok {
		return MatchResultMatch
	}

	return MatchResultNoMatch
}
