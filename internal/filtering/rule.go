package filtering

import (
	"regexp"

	"github.com/AdguardTeam/LinkCheck/internal/webreq"
)

// Rule is a single compiled filtering rule.  It is immutable after creation
// and safe for concurrent use.
type Rule struct {
	// pattern is the compiled URL pattern.
	pattern *regexp.Regexp

	// cosmetic is the cosmetic part of the rule, if any.
	cosmetic *string

	// modifiers are the modifiers of the rule keyed by their canonical names.
	modifiers map[string]*Modifier

	// text is the original text of the rule.
	text string

	// action is the action of the rule.
	action Action
}

// Text returns the original text of r.
func (r *Rule) Text() (text string) {
	return r.text
}

// Action returns the action of r.
func (r *Rule) Action() (a Action) {
	return r.action
}

// Pattern returns the compiled URL pattern of r.
func (r *Rule) Pattern() (re *regexp.Regexp) {
	return r.pattern
}

// Modifier returns the modifier of r with the canonical name, if any.
func (r *Rule) Modifier(name string) (m *Modifier, ok bool) {
	m, ok = r.modifiers[name]

	return m, ok
}

// Match returns the result of matching ri against r.  ri must not be nil.
func (r *Rule) Match(ri *webreq.RequestInfo) (res MatchResult) {
	if !r.pattern.MatchString(ri.URL()) {
		return MatchResultNoMatch
	}

	if len(r.modifiers) == 0 {
		return MatchResultMatch
	}

	for _, name := range gatingModifiers {
		m, ok := r.modifiers[name]
		if ok && m.Match(ri) == MatchResultNoMatch {
			return MatchResultNoMatch
		}
	}

	hasActive, hasMatch := false, false
	for name, m := range r.modifiers {
		if isGating(name) {
			continue
		}

		switch m.Match(ri) {
		case MatchResultOverride:
			return MatchResultOverride
		case MatchResultMatch:
			hasActive, hasMatch = true, true
		case MatchResultNoMatch:
			hasActive = true
		default:
			// Ignore.
		}
	}

	if hasActive {
		return matchResultFromBool(hasMatch)
	}

	// A rule that only has gating modifiers, which have all passed, matches.
	// Otherwise, every remaining modifier has been ignored.
	if r.onlyGating() {
		return MatchResultMatch
	}

	return MatchResultNoMatch
}

// onlyGating returns true if all modifiers of r are gating ones.
func (r *Rule) onlyGating() (ok bool) {
	for name := range r.modifiers {
		if !isGating(name) {
			return false
		}
	}

	return true
}

// isGating returns true if name is the canonical name of a gating modifier.
func isGating(name string) (ok bool) {
	return name == ModifierDomain || name == ModifierFirstParty || name == ModifierThirdParty
}
