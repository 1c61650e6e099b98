package rulelist_test

import (
	"bufio"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Parse(t *testing.T) {
	t.Parallel()

	longRule := "||" + strings.Repeat("a", rulelist.DefaultRuleBufSize+1) + ".example^\n"
	tooLongRule := strings.Repeat("a", rulelist.MaxRuleLen+1) + "\n"

	testCases := []struct {
		name         string
		in           string
		wantErrMsg   string
		wantTitle    string
		wantHomepage string
		wantRulesNum int
		wantSkipped  int
		wantNoop     int
	}{{
		name:         "empty",
		in:           "",
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 0,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "html",
		in:           testRuleTextHTML,
		wantErrMsg:   rulelist.ErrHTML.Error(),
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 0,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "html_after_blank",
		in:           "\n\n" + testRuleTextHTML,
		wantErrMsg:   rulelist.ErrHTML.Error(),
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 0,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name: "comments",
		in: "! Comment 1\n" +
			"!\n",
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 0,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "rule",
		in:           testRuleTextBlocked,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "html_in_rule",
		in:           testRuleTextBlocked + testRuleTextHTML,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 2,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name: "metadata",
		in: testRuleTextFormat +
			testRuleTextTitle +
			testRuleTextHomepage +
			testRuleTextBlocked,
		wantErrMsg:   "",
		wantTitle:    testTitle,
		wantHomepage: testHomepage,
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name: "first_title_wins",
		in: testRuleTextTitle +
			"! Title: Bad, Ignored Title\n" +
			testRuleTextBlocked,
		wantErrMsg:   "",
		wantTitle:    testTitle,
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "format_tag_not_first",
		in:           testRuleTextBlocked + testRuleTextFormat,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 2,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "resilience",
		in:           testRuleTextBlocked + testRuleTextBad + testRuleTextBlocked2,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 2,
		wantSkipped:  1,
		wantNoop:     0,
	}, {
		name:         "cosmetic",
		in:           testRuleTextCosmetic + testRuleTextAllowed,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     1,
	}, {
		name:         "non_printable",
		in:           "||bad\u0001.example^\n" + testRuleTextBlocked,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  1,
		wantNoop:     0,
	}, {
		name:         "long",
		in:           longRule,
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "too_long",
		in:           tooLongRule,
		wantErrMsg:   "scanning filter contents: " + bufio.ErrTooLong.Error(),
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 0,
		wantSkipped:  0,
		wantNoop:     0,
	}, {
		name:         "crlf",
		in:           "\t||blocked.example^ \r\n",
		wantErrMsg:   "",
		wantTitle:    "",
		wantHomepage: "",
		wantRulesNum: 1,
		wantSkipped:  0,
		wantNoop:     0,
	}}

	p := newTestParser(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, rulelist.DefaultRuleBufSize)
			ctx := testutil.ContextWithTimeout(t, testTimeout)
			res, err := p.Parse(ctx, strings.NewReader(tc.in), buf)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
			if tc.wantErrMsg != "" {
				assert.Nil(t, res)

				return
			}

			require.NotNil(t, res)

			rs := res.RuleSet
			require.NotNil(t, rs)

			assert.Equal(t, tc.wantTitle, rs.Title())
			assert.Equal(t, tc.wantHomepage, rs.Homepage())
			assert.Equal(t, tc.wantRulesNum, res.RulesCount)
			assert.Equal(t, tc.wantRulesNum, rs.Len())
			assert.Equal(t, tc.wantSkipped, res.SkippedCount)
			assert.Equal(t, tc.wantNoop, res.NoopCount)
		})
	}
}

func TestParser_Parse_checksum(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	buf := make([]byte, rulelist.DefaultRuleBufSize)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	withMeta, err := p.Parse(ctx, strings.NewReader(testRuleTextTitle+testRuleTextBlocked), buf)
	require.NoError(t, err)

	plain, err := p.Parse(ctx, strings.NewReader("\n"+testRuleTextBlocked), buf)
	require.NoError(t, err)

	other, err := p.Parse(ctx, strings.NewReader(testRuleTextBlocked2), buf)
	require.NoError(t, err)

	assert.Equal(t, withMeta.Checksum, plain.Checksum)
	assert.NotEqual(t, plain.Checksum, other.Checksum)
}

func TestParser_Parse_action(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	buf := make([]byte, rulelist.DefaultRuleBufSize)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const listText = "! Title: Test List\n" +
		"||ads.example^\n"

	res, err := p.Parse(ctx, strings.NewReader(listText), buf)
	require.NoError(t, err)

	rs := res.RuleSet
	assert.Equal(t, "Test List", rs.Title())
	require.Equal(t, 1, rs.Len())

	action, contrib := rs.Evaluate(newTestRequest("https://ads.example/a.js"))
	assert.Equal(t, filtering.ActionDeny, action)
	require.Len(t, contrib, 1)

	assert.Equal(t, "||ads.example^", contrib[0].Text())
}

func TestParser_Parse_readError(t *testing.T) {
	t.Parallel()

	const errTest errors.Error = "test read error"

	p := newTestParser(t)
	buf := make([]byte, rulelist.DefaultRuleBufSize)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := p.Parse(ctx, iotest.ErrReader(errTest), buf)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errTest)
}
