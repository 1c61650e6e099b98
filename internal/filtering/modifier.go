package filtering

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/errors"
)

// Canonical names of the modifiers that gate a rule.  If any of these doesn't
// match, the whole rule doesn't match.
const (
	ModifierDomain     = "domain"
	ModifierFirstParty = "1p"
	ModifierThirdParty = "3p"
)

// ModifierImportant is the canonical name of the modifier that makes a rule
// take precedence over other rules.
const ModifierImportant = "important"

// gatingModifiers are the names of the modifiers evaluated before the others,
// in evaluation order.
var gatingModifiers = []string{
	ModifierDomain,
	ModifierThirdParty,
	ModifierFirstParty,
}

// modifierAliases maps alternative modifier names to the canonical ones.
var modifierAliases = map[string]string{
	"frame":          "subdocument",
	"ghide":          "generichide",
	"~third-party":   ModifierFirstParty,
	"third-party":    ModifierThirdParty,
	"stylesheet":     "css",
	"xmlhttprequest": "xhr",
}

// matchFunc is the signature of the modifier matching functions.  m and ri are
// never nil.
type matchFunc func(m *Modifier, ri *webreq.RequestInfo) (res MatchResult)

// modifierMatchers is the table of supported modifiers keyed by their
// canonical names.  Adding a modifier means adding an entry here.
var modifierMatchers = map[string]matchFunc{
	ModifierImportant: matchConst(MatchResultOverride),
	"all":             matchConst(MatchResultMatch),

	"document":  matchType(webreq.ResourceTypeDocument),
	"css":       matchType(webreq.ResourceTypeStylesheet),
	"script":    matchType(webreq.ResourceTypeScript),
	"image":     matchType(webreq.ResourceTypeImage),
	"media":     matchType(webreq.ResourceTypeMedia),
	"websocket": matchType(webreq.ResourceTypeWebSocket),
	"xhr":       matchType(webreq.ResourceTypeXHR),
	"other":     matchType(webreq.ResourceTypeOther),

	ModifierDomain:     (*Modifier).matchDomain,
	ModifierFirstParty: matchFirstParty,
	ModifierThirdParty: matchThirdParty,

	// Recognized, but not supported.
	"redirect":     matchConst(MatchResultNoMatch),
	"redirectrule": matchConst(MatchResultNoMatch),
	"denyallow":    matchConst(MatchResultNoMatch),
	"subdocument":  matchConst(MatchResultNoMatch),
	"popup":        matchConst(MatchResultNoMatch),
	"popunder":     matchConst(MatchResultNoMatch),
	"inlinescript": matchConst(MatchResultNoMatch),
	"csp":          matchConst(MatchResultNoMatch),
	"badfilter":    matchConst(MatchResultNoMatch),
	"generichide":  matchConst(MatchResultNoMatch),
	"webrtc":       matchConst(MatchResultNoMatch),
	"object":       matchConst(MatchResultNoMatch),
	"cname":        matchConst(MatchResultNoMatch),
	"ping":         matchConst(MatchResultNoMatch),
}

// Modifier is a parsed rule modifier, the part of a rule after the "$"
// character.  It is immutable after creation and safe for concurrent use.
type Modifier struct {
	// match is the matching function from the table.
	match matchFunc

	// value is the optional value, the part after "=".
	value *string

	// name is the canonical name of the modifier.
	name string

	// includeDomains and excludeDomains are the patterns of a domain
	// modifier.
	includeDomains []*regexp.Regexp
	excludeDomains []*regexp.Regexp

	// inverted is true if the modifier had a "~" prefix.
	inverted bool
}

// Name returns the canonical name of m.
func (m *Modifier) Name() (name string) {
	return m.name
}

// Value returns the value of m and true if it has one.
func (m *Modifier) Value() (val string, ok bool) {
	if m.value == nil {
		return "", false
	}

	return *m.value, true
}

// Inverted returns true if m is an inverted modifier, one with a "~" prefix.
func (m *Modifier) Inverted() (ok bool) {
	return m.inverted
}

// Match returns the result of matching ri against m.  ri must not be nil.
func (m *Modifier) Match(ri *webreq.RequestInfo) (res MatchResult) {
	res = m.match(m, ri)
	if m.inverted {
		return res.Invert()
	}

	return res
}

// canonicalModifierName returns the canonical name of the modifier token name
// and whether it is inverted.
func canonicalModifierName(name string) (canon string, inverted bool) {
	canon = name
	if alias, ok := modifierAliases[canon]; ok {
		canon = alias
	}

	if strings.HasPrefix(canon, "~") {
		inverted = true
		canon = canon[1:]
		if alias, ok := modifierAliases[canon]; ok {
			canon = alias
		}
	}

	return strings.ReplaceAll(canon, "-", ""), inverted
}

// errEmptyDomain is returned when a domain modifier has no value.
const errEmptyDomain errors.Error = "domain modifier requires a value"

// newModifier parses a single modifier token of the form "name" or
// "name=value".  c is used to compile domain patterns.
func (c *Compiler) newModifier(token string) (m *Modifier, err error) {
	name, val, hasVal := strings.Cut(token, "=")

	canon, inverted := canonicalModifierName(name)
	match, ok := modifierMatchers[canon]
	if !ok {
		return nil, fmt.Errorf("modifier %q: %w", name, errors.ErrBadEnumValue)
	}

	m = &Modifier{
		match:    match,
		name:     canon,
		inverted: inverted,
	}

	if hasVal {
		m.value = &val
	}

	if canon != ModifierDomain {
		return m, nil
	}

	if !hasVal {
		return nil, errEmptyDomain
	}

	m.includeDomains, m.excludeDomains, err = c.compileDomains(val)
	if err != nil {
		return nil, fmt.Errorf("modifier %q: %w", name, err)
	}

	return m, nil
}

// compileDomains compiles the "|"-separated domain patterns of a domain
// modifier value.  Patterns with a "~" prefix are exclusions.
func (c *Compiler) compileDomains(val string) (incl, excl []*regexp.Regexp, err error) {
	// Trim the trailing pipe to avoid an empty pattern matching every domain.
	val = strings.TrimSuffix(val, "|")

	for _, pat := range strings.Split(val, "|") {
		exclude := strings.HasPrefix(pat, "~")
		if exclude {
			pat = pat[1:]
		}

		var re *regexp.Regexp
		re, err = c.domainRegexp(pat)
		if err != nil {
			return nil, nil, fmt.Errorf("domain pattern %q: %w", pat, err)
		}

		if exclude {
			excl = append(excl, re)
		} else {
			incl = append(incl, re)
		}
	}

	return incl, excl, nil
}

// matchDomain is the matchFunc of the domain modifier.  The patterns are
// searched in the URL of the document that made the request.
func (m *Modifier) matchDomain(ri *webreq.RequestInfo) (res MatchResult) {
	for _, re := range m.excludeDomains {
		if re.MatchString(ri.DocumentURL) {
			return MatchResultNoMatch
		}
	}

	for _, re := range m.includeDomains {
		if re.MatchString(ri.DocumentURL) {
			return MatchResultMatch
		}
	}

	return MatchResultNoMatch
}

// matchConst returns a matchFunc always returning res.
func matchConst(res MatchResult) (f matchFunc) {
	return func(_ *Modifier, _ *webreq.RequestInfo) (r MatchResult) {
		return res
	}
}

// matchType returns a matchFunc matching requests of resource type typ.
func matchType(typ webreq.ResourceType) (f matchFunc) {
	return func(_ *Modifier, ri *webreq.RequestInfo) (r MatchResult) {
		return matchResultFromBool(ri.Type == typ)
	}
}

// matchFirstParty is the matchFunc of the first-party modifier.
func matchFirstParty(_ *Modifier, ri *webreq.RequestInfo) (r MatchResult) {
	return matchResultFromBool(ri.IsSameSite())
}

// matchThirdParty is the matchFunc of the third-party modifier.
func matchThirdParty(_ *Modifier, ri *webreq.RequestInfo) (r MatchResult) {
	return matchResultFromBool(!ri.IsSameSite())
}
