package filtering_test

import (
	"testing"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDocURL is the common document URL for tests.
const testDocURL = "https://example.org/index.html"

// newTestCompiler returns a new compiler for tests.
func newTestCompiler(tb testing.TB) (c *filtering.Compiler) {
	tb.Helper()

	return filtering.NewCompiler(&filtering.CompilerConfig{
		PatternCacheSize: 16,
	})
}

// newRequest returns a new request to u of type typ made from testDocURL.
func newRequest(u string, typ webreq.ResourceType) (ri *webreq.RequestInfo) {
	return &webreq.RequestInfo{
		Request: &webreq.Request{
			URL:    u,
			Method: "GET",
		},
		DocumentURL: testDocURL,
		Type:        typ,
	}
}

// mustCompile compiles line and fails tb on error.
func mustCompile(tb testing.TB, c *filtering.Compiler, line string) (r *filtering.Rule) {
	tb.Helper()

	r, err := c.Compile(line)
	require.NoError(tb, err)

	return r
}

func TestCompiler_Compile_action(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	testCases := []struct {
		name string
		line string
		want filtering.Action
	}{{
		name: "deny",
		line: "||ads.example^",
		want: filtering.ActionDeny,
	}, {
		name: "allow",
		line: "@@||ads.example^",
		want: filtering.ActionAllow,
	}, {
		name: "cosmetic",
		line: "example.com##.banner",
		want: filtering.ActionNoop,
	}, {
		name: "cosmetic_exception",
		line: "example.com#@#.banner",
		want: filtering.ActionNoop,
	}, {
		name: "extended",
		line: "example.com#?#div:has(> .ad)",
		want: filtering.ActionNoop,
	}, {
		name: "cosmetic_empty",
		line: "example.com##",
		want: filtering.ActionNoop,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := mustCompile(t, c, tc.line)
			assert.Equal(t, tc.want, r.Action())
			assert.Equal(t, tc.line, r.Text())
		})
	}
}

func TestCompiler_Compile_pattern(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	testCases := []struct {
		name      string
		line      string
		matches   []string
		noMatches []string
	}{{
		name: "domain_shorthand",
		line: "example.com",
		matches: []string{
			"https://example.com/x",
			"http://example.com",
			"https://example.com:8080/",
		},
		noMatches: []string{
			"https://notexample.com.evil/",
			"https://example.community/",
		},
	}, {
		name:      "wildcard",
		line:      "*",
		matches:   []string{"anything", ""},
		noMatches: nil,
	}, {
		name:      "regexp",
		line:      `/banner\d+/`,
		matches:   []string{"https://a.example/banner42.png"},
		noMatches: []string{"https://a.example/banner.png"},
	}, {
		name:      "subdomain_wildcard",
		line:      "||*.example.com^",
		matches:   []string{"http://good.example.com/"},
		noMatches: []string{"http://example.org/"},
	}, {
		name:      "start_anchor",
		line:      "|https://ads.",
		matches:   []string{"https://ads.example/"},
		noMatches: []string{"http://x.example/?u=https://ads.example/"},
	}, {
		name:      "end_anchor",
		line:      ".gif|",
		matches:   []string{"https://a.example/x.gif"},
		noMatches: []string{"https://a.example/x.gif?v=1"},
	}, {
		name:      "escaped_specials",
		line:      "/ad?type=a+b",
		matches:   []string{"https://a.example/ad?type=a+b"},
		noMatches: []string{"https://a.example/adtype=ab"},
	}, {
		name:      "brackets",
		line:      "/img[.-]ad",
		matches:   []string{"https://a.example/img.ad", "https://a.example/img-ad"},
		noMatches: []string{"https://a.example/imgxad"},
	}, {
		name:      "alternatives",
		line:      "/track,/pixel",
		matches:   []string{"https://a.example/track", "https://a.example/pixel"},
		noMatches: []string{"https://a.example/other"},
	}, {
		name:      "separator_end",
		line:      "||tracker.example^",
		matches:   []string{"https://tracker.example", "https://tracker.example/p"},
		noMatches: []string{"https://tracker.example.org/"},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			re := mustCompile(t, c, tc.line).Pattern()
			for _, u := range tc.matches {
				assert.Truef(t, re.MatchString(u), "%q must match %q", re, u)
			}

			for _, u := range tc.noMatches {
				assert.Falsef(t, re.MatchString(u), "%q must not match %q", re, u)
			}
		})
	}
}

func TestCompiler_Compile_errors(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	testCases := []struct {
		name string
		line string
	}{{
		name: "bad_regexp",
		line: "/[/",
	}, {
		name: "unknown_modifier",
		line: "||a.example^$no-such-modifier",
	}, {
		name: "domain_without_value",
		line: "||a.example^$domain",
	}, {
		name: "lookahead",
		line: "/ad(?!s)/",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := c.Compile(tc.line)
			assert.Error(t, err)
			assert.Nil(t, r)
		})
	}
}

func TestCompiler_Compile_regexpDollar(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	// The first "$" always starts the modifiers, even inside a regular
	// expression, so the end anchor turns the rest into an unknown modifier.
	r, err := c.Compile(`/ads\d+$/`)
	require.Error(t, err)

	assert.ErrorIs(t, err, errors.ErrBadEnumValue)
	assert.ErrorContains(t, err, `modifier "/"`)
	assert.Nil(t, r)

	r = mustCompile(t, c, `/ads\d+/`)
	assert.Equal(t, filtering.ActionDeny, r.Action())
}

func TestCompiler_Compile_modifiers(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	testCases := []struct {
		name         string
		line         string
		wantName     string
		wantInverted bool
	}{{
		name:         "alias",
		line:         "||a.example^$third-party",
		wantName:     filtering.ModifierThirdParty,
		wantInverted: false,
	}, {
		name:         "inverted_alias",
		line:         "||a.example^$~third-party",
		wantName:     filtering.ModifierFirstParty,
		wantInverted: false,
	}, {
		name:         "inverted",
		line:         "||a.example^$~stylesheet",
		wantName:     "css",
		wantInverted: true,
	}, {
		name:         "dash",
		line:         "||a.example^$redirect-rule=noop.js",
		wantName:     "redirectrule",
		wantInverted: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := mustCompile(t, c, tc.line)
			m, ok := r.Modifier(tc.wantName)
			require.True(t, ok)

			assert.Equal(t, tc.wantName, m.Name())
			assert.Equal(t, tc.wantInverted, m.Inverted())
		})
	}

	t.Run("last_wins", func(t *testing.T) {
		t.Parallel()

		r := mustCompile(t, c, "||a.example^$image,~image")
		m, ok := r.Modifier("image")
		require.True(t, ok)

		assert.True(t, m.Inverted())
	})

	t.Run("value", func(t *testing.T) {
		t.Parallel()

		r := mustCompile(t, c, "||a.example^$domain=b.example|~c.b.example")
		m, ok := r.Modifier(filtering.ModifierDomain)
		require.True(t, ok)

		val, ok := m.Value()
		require.True(t, ok)

		assert.Equal(t, "b.example|~c.b.example", val)
	})
}

func TestRule_Match(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	sameSite := true

	testCases := []struct {
		req  *webreq.RequestInfo
		name string
		line string
		want filtering.MatchResult
	}{{
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "no_modifiers",
		line: "||ads.example^",
		want: filtering.MatchResultMatch,
	}, {
		req:  newRequest("https://other.example/a.js", webreq.ResourceTypeScript),
		name: "pattern_mismatch",
		line: "||ads.example^$important",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "important",
		line: "||ads.example^$important",
		want: filtering.MatchResultOverride,
	}, {
		req:  newRequest("https://ads.example/a.png", webreq.ResourceTypeImage),
		name: "inverted_image_image",
		line: "||ads.example^$~image",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "inverted_image_script",
		line: "||ads.example^$~image",
		want: filtering.MatchResultMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "type_any",
		line: "||ads.example^$image,script",
		want: filtering.MatchResultMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "domain_match",
		line: "||ads.example^$domain=example.org",
		want: filtering.MatchResultMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "domain_excluded",
		line: "||ads.example^$domain=*.org|~example.org",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "domain_mismatch",
		line: "||ads.example^$domain=example.net|",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "domain_gates_important",
		line: "||ads.example^$domain=example.net,important",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "third_party_unknown_site",
		line: "||ads.example^$third-party",
		want: filtering.MatchResultMatch,
	}, {
		req: &webreq.RequestInfo{
			Request: &webreq.Request{
				URL:        "https://ads.example/a.js",
				IsSameSite: &sameSite,
			},
			DocumentURL: testDocURL,
			Type:        webreq.ResourceTypeScript,
		},
		name: "third_party_same_site",
		line: "||ads.example^$third-party",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "first_party",
		line: "||ads.example^$1p",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "unsupported",
		line: "||ads.example^$popup",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "inverted_important",
		line: "||ads.example^$~important",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeScript),
		name: "xhr_alias",
		line: "||ads.example^$xmlhttprequest",
		want: filtering.MatchResultNoMatch,
	}, {
		req:  newRequest("https://ads.example/a.js", webreq.ResourceTypeXHR),
		name: "xhr_alias_match",
		line: "||ads.example^$xmlhttprequest",
		want: filtering.MatchResultMatch,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := mustCompile(t, c, tc.line)
			assert.Equal(t, tc.want, r.Match(tc.req))
		})
	}
}

func TestMatchResult_Invert(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filtering.MatchResultNoMatch, filtering.MatchResultMatch.Invert())
	assert.Equal(t, filtering.MatchResultNoMatch, filtering.MatchResultOverride.Invert())
	assert.Equal(t, filtering.MatchResultMatch, filtering.MatchResultNoMatch.Invert())
	assert.Equal(t, filtering.MatchResultIgnore, filtering.MatchResultIgnore.Invert())
}

func TestRuleSet_Evaluate(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	newRuleSet := func(lines ...string) (rs *filtering.RuleSet) {
		rules := make([]*filtering.Rule, 0, len(lines))
		for _, l := range lines {
			rules = append(rules, mustCompile(t, c, l))
		}

		return filtering.NewRuleSet("Test", "", rules)
	}

	req := newRequest("https://ads.example/a.js", webreq.ResourceTypeScript)

	goodReq := newRequest("http://good.example.com/", webreq.ResourceTypeDocument)

	testCases := []struct {
		req        *webreq.RequestInfo
		name       string
		lines      []string
		wantRules  []string
		wantAction filtering.Action
	}{{
		req:        goodReq,
		name:       "override_deny_beats_allow",
		lines:      []string{"@@||good.example.com^", "||*.example.com^$important"},
		wantRules:  []string{"||*.example.com^$important"},
		wantAction: filtering.ActionDeny,
	}, {
		req:        goodReq,
		name:       "allow_beats_deny",
		lines:      []string{"@@||good.example.com^", "||*.example.com^"},
		wantRules:  []string{"@@||good.example.com^"},
		wantAction: filtering.ActionAllow,
	}, {
		req:        req,
		name:       "override_deny",
		lines:      []string{"@@||ads.example^", "||ads.example^$important"},
		wantRules:  []string{"||ads.example^$important"},
		wantAction: filtering.ActionDeny,
	}, {
		req:        req,
		name:       "override_allow",
		lines:      []string{"||ads.example^$important", "@@||ads.example^$important"},
		wantRules:  []string{"@@||ads.example^$important"},
		wantAction: filtering.ActionAllow,
	}, {
		req:        req,
		name:       "plain_allow",
		lines:      []string{"||ads.example^", "@@||ads.example^"},
		wantRules:  []string{"@@||ads.example^"},
		wantAction: filtering.ActionAllow,
	}, {
		req:        req,
		name:       "plain_deny",
		lines:      []string{"||ads.example^", "/a.js", "||other.example^"},
		wantRules:  []string{"||ads.example^", "/a.js"},
		wantAction: filtering.ActionDeny,
	}, {
		req:        req,
		name:       "noop",
		lines:      []string{"||other.example^"},
		wantRules:  nil,
		wantAction: filtering.ActionNoop,
	}, {
		req:        req,
		name:       "cosmetic_dropped",
		lines:      []string{"ads.example##.ad"},
		wantRules:  nil,
		wantAction: filtering.ActionNoop,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rs := newRuleSet(tc.lines...)
			action, contrib := rs.Evaluate(tc.req)
			assert.Equal(t, tc.wantAction, action)

			var got []string
			for _, r := range contrib {
				got = append(got, r.Text())
			}

			assert.Equal(t, tc.wantRules, got)
		})
	}
}
