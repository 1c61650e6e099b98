package filtering

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/bluele/gcache"
)

// DefaultPatternCacheSize is the default size of the compiled domain-pattern
// cache of a [Compiler].
const DefaultPatternCacheSize = 4096

// Markers of cosmetic and other extended rules.
const (
	markerCosmetic          = "##"
	markerCosmeticException = "#@#"
	markerExtended          = "#?#"
)

// markerAllow is the prefix of exception rules.
const markerAllow = "@@"

// separatorPlaceholder temporarily replaces the "^" separator wildcard, since
// its expansion contains characters that are escaped later.
const separatorPlaceholder = "##SEPARATOR##"

// separatorRegexp is the expansion of the "^" separator wildcard: anything
// that isn't a letter, a digit, or one of "_.%-", or the end of the URL.
const separatorRegexp = `([^a-zA-Z0-9_.%-]|$)`

// domainTokenRe matches a bare domain name, which is treated as "||name^".
var domainTokenRe = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*$`)

// CompilerConfig is the configuration structure for a [Compiler].
type CompilerConfig struct {
	// PatternCacheSize is the maximum number of compiled domain-modifier
	// patterns to keep.  It must be positive.
	PatternCacheSize int
}

// Compiler compiles filtering-rule text into rules.  It is safe for concurrent
// use.
type Compiler struct {
	// domains contains compiled domain-modifier patterns.  Lists often repeat
	// the same domain values, so reuse them.
	domains gcache.Cache
}

// NewCompiler returns a new properly initialized *Compiler.  c must not be nil.
func NewCompiler(c *CompilerConfig) (comp *Compiler) {
	return &Compiler{
		domains: gcache.New(c.PatternCacheSize).LRU().Build(),
	}
}

// Compile parses and compiles a single filtering-rule line.  line must be
// trimmed and must not be empty or a comment.  Cosmetic rules are compiled
// into rules with [ActionNoop].
func (c *Compiler) Compile(line string) (r *Rule, err error) {
	action := ActionDeny
	text := line
	if strings.HasPrefix(line, markerAllow) {
		action = ActionAllow
		line = line[len(markerAllow):]
	}

	if strings.Contains(line, markerCosmeticException) {
		action = ActionAllow
	}

	urlPart, cosmetic, modsPart, hasCosmetic, hasMods := splitRule(line)

	re, err := compileURLPattern(urlPart)
	if err != nil {
		return nil, fmt.Errorf("url pattern %q: %w", urlPart, err)
	}

	if hasCosmetic {
		action = ActionNoop
	}

	var mods map[string]*Modifier
	if hasMods {
		mods, err = c.compileModifiers(modsPart)
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return nil, err
		}
	}

	r = &Rule{
		pattern:   re,
		modifiers: mods,
		text:      text,
		action:    action,
	}

	if hasCosmetic {
		r.cosmetic = &cosmetic
	}

	return r, nil
}

// splitRule splits line into the URL pattern, the cosmetic part, and the
// modifiers part.  A rule cannot have both a cosmetic part and modifiers.
func splitRule(line string) (urlPart, cosmetic, mods string, hasCosmetic, hasMods bool) {
	for _, marker := range []string{
		markerCosmetic,
		markerCosmeticException,
		markerExtended,
	} {
		urlPart, cosmetic, hasCosmetic = strings.Cut(line, marker)
		if hasCosmetic {
			return urlPart, cosmetic, "", true, false
		}
	}

	urlPart, mods, hasMods = strings.Cut(line, "$")

	return urlPart, "", mods, false, hasMods
}

// compileModifiers compiles the comma-separated modifiers.  If a modifier is
// specified more than once, the last one wins.
func (c *Compiler) compileModifiers(s string) (mods map[string]*Modifier, err error) {
	tokens := strings.Split(s, ",")
	mods = make(map[string]*Modifier, len(tokens))
	for _, tok := range tokens {
		var m *Modifier
		m, err = c.newModifier(tok)
		if err != nil {
			return nil, fmt.Errorf("modifiers: %w", err)
		}

		mods[m.name] = m
	}

	return mods, nil
}

// domainRegexp returns the compiled regular expression for a single domain
// pattern, where "*" matches any string.
func (c *Compiler) domainRegexp(pat string) (re *regexp.Regexp, err error) {
	v, err := c.domains.Get(pat)
	if err == nil {
		return v.(*regexp.Regexp), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		return nil, fmt.Errorf("getting cached pattern: %w", err)
	}

	reStr := strings.ReplaceAll(regexp.QuoteMeta(pat), `\*`, ".*")
	re, err = regexp.Compile(reStr)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = c.domains.Set(pat, re)
	if err != nil {
		return nil, fmt.Errorf("caching pattern: %w", err)
	}

	return re, nil
}

// compileURLPattern converts the URL part of a rule into a regular
// expression.  The conversion steps must be applied in this exact order.
func compileURLPattern(pat string) (re *regexp.Regexp, err error) {
	if pat == "*" {
		return regexp.Compile(".*")
	}

	if len(pat) >= 2 && pat[0] == '/' && pat[len(pat)-1] == '/' {
		return regexp.Compile(pat[1 : len(pat)-1])
	}

	if domainTokenRe.MatchString(pat) {
		pat = "||" + pat + "^"
	}

	pat = escapeDots(pat)
	pat = strings.ReplaceAll(pat, "*", ".*")
	pat = strings.ReplaceAll(pat, "^", separatorPlaceholder)
	pat = strings.ReplaceAll(pat, "?", `\?`)
	pat = strings.ReplaceAll(pat, "+", `\+`)

	if rest, ok := strings.CutPrefix(pat, "||"); ok {
		pat = `^.*?://` + rest
	} else if rest, ok = strings.CutPrefix(pat, "|"); ok {
		pat = "^" + rest
	}

	if rest, ok := strings.CutSuffix(pat, "|"); ok {
		pat = rest + "$"
	}

	pat = strings.ReplaceAll(pat, "|", `\|`)
	pat = strings.ReplaceAll(pat, separatorPlaceholder, separatorRegexp)
	pat = commasToAlternatives(pat)

	return regexp.Compile(pat)
}

// escapeDots escapes every "." that isn't inside a bracket expression.  A dot
// is considered to be inside one if the next "]" after it comes before the
// next "[".
func escapeDots(s string) (escaped string) {
	if !strings.Contains(s, ".") {
		return s
	}

	b := &strings.Builder{}
	b.Grow(len(s) + strings.Count(s, "."))
	for i := range len(s) {
		ch := s[i]
		if ch == '.' && !inBrackets(s[i+1:]) {
			b.WriteString(`\.`)
		} else {
			b.WriteByte(ch)
		}
	}

	return b.String()
}

// inBrackets returns true if rest, the text following a character, closes a
// bracket expression before opening another one.
func inBrackets(rest string) (ok bool) {
	closeIdx := strings.IndexByte(rest, ']')
	if closeIdx < 0 {
		return false
	}

	openIdx := strings.IndexByte(rest[:closeIdx], '[')

	return openIdx < 0
}

// commasToAlternatives replaces every "," except the leading and the trailing
// ones with the "|" alternation operator.
func commasToAlternatives(s string) (res string) {
	if !strings.Contains(s, ",") {
		return s
	}

	b := []byte(s)
	for i := 1; i < len(b)-1; i++ {
		if b[i] == ',' {
			b[i] = '|'
		}
	}

	return string(b)
}
