package filtering

import "github.com/AdguardTeam/LinkCheck/internal/webreq"

// RuleSet is an ordered collection of rules parsed from a single filter list.
// It never contains rules with [ActionNoop].  It is immutable after creation
// and safe for concurrent use.
type RuleSet struct {
	title    string
	homepage string
	rules    []*Rule
}

// NewRuleSet returns a new rule set.  Rules with [ActionNoop] are skipped.
// title and homepage may be empty.
func NewRuleSet(title, homepage string, rules []*Rule) (rs *RuleSet) {
	rs = &RuleSet{
		title:    title,
		homepage: homepage,
		rules:    make([]*Rule, 0, len(rules)),
	}

	for _, r := range rules {
		if r.action != ActionNoop {
			rs.rules = append(rs.rules, r)
		}
	}

	return rs
}

// WithTitle returns a copy of rs with the title replaced.  The rules are
// shared.
func (rs *RuleSet) WithTitle(title string) (cp *RuleSet) {
	return &RuleSet{
		title:    title,
		homepage: rs.homepage,
		rules:    rs.rules,
	}
}

// Title returns the title of the rule set, if any.
func (rs *RuleSet) Title() (title string) {
	return rs.title
}

// Homepage returns the homepage of the rule set, if any.
func (rs *RuleSet) Homepage() (homepage string) {
	return rs.homepage
}

// Len returns the number of rules in rs.
func (rs *RuleSet) Len() (n int) {
	return len(rs.rules)
}

// Evaluate returns the action to take for ri and the rules that contribute to
// it.  The categories are considered in the following order: overriding
// allowlist rules, overriding blocklist rules, allowlist rules, and blocklist
// rules.  If no rule matches, action is [ActionNoop] and contrib is nil.  ri
// must not be nil.
func (rs *RuleSet) Evaluate(ri *webreq.RequestInfo) (action Action, contrib []*Rule) {
	var overAllow, overDeny, allow, deny []*Rule
	for _, r := range rs.rules {
		switch res := r.Match(ri); {
		case res == MatchResultOverride && r.action == ActionAllow:
			overAllow = append(overAllow, r)
		case res == MatchResultOverride && r.action == ActionDeny:
			overDeny = append(overDeny, r)
		case res == MatchResultMatch && r.action == ActionAllow:
			allow = append(allow, r)
		case res == MatchResultMatch && r.action == ActionDeny:
			deny = append(deny, r)
		}
	}

	switch {
	case len(overAllow) > 0:
		return ActionAllow, overAllow
	case len(overDeny) > 0:
		return ActionDeny, overDeny
	case len(allow) > 0:
		return ActionAllow, allow
	case len(deny) > 0:
		return ActionDeny, deny
	default:
		return ActionNoop, nil
	}
}
