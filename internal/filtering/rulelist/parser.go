package rulelist

import (
	"bufio"
	"context"
	"hash/crc32"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// formatTagRe matches the optional format tag on the first line of a list, for
// example "[Adblock Plus 2.0]".
var formatTagRe = regexp.MustCompile(`^\[Adblock(.*)]$`)

// Regular expressions for the supported metadata in comment lines.
var (
	titleRe    = regexp.MustCompile(`Title:\s*(.*)$`)
	homepageRe = regexp.MustCompile(`Homepage:\s*(.*)$`)
)

// lineCutset are the characters trimmed from both ends of every line.
const lineCutset = " \r\n\t"

// ParserConfig is the configuration structure for a [Parser].
type ParserConfig struct {
	// Logger is used to report lines that could not be parsed.  It must not be
	// nil.
	Logger *slog.Logger

	// Compiler compiles the rules.  It must not be nil.
	Compiler *filtering.Compiler
}

// Parser is a filter-list parser that compiles the rules and collects the
// metadata of a list.  It is safe for concurrent use.
type Parser struct {
	logger   *slog.Logger
	compiler *filtering.Compiler
}

// NewParser returns a new filter-list parser.  c must not be nil.
func NewParser(c *ParserConfig) (p *Parser) {
	return &Parser{
		logger:   c.Logger,
		compiler: c.Compiler,
	}
}

// ParseResult contains information about the results of parsing a filter list
// by [Parser.Parse].
type ParseResult struct {
	// RuleSet is the parsed rule set.  It is never nil if the error returned
	// by [Parser.Parse] is nil.
	RuleSet *filtering.RuleSet

	// RulesCount is the number of rules in the rule set.
	RulesCount int

	// SkippedCount is the number of lines that could not be parsed.
	SkippedCount int

	// NoopCount is the number of cosmetic and other unsupported rules that
	// were dropped.
	NoopCount int

	// Checksum is the CRC-32 checksum of the lines with rules, excluding
	// metadata, comments, and empty lines.
	Checksum uint32
}

// parseState is the state of a single parsing.
type parseState struct {
	title        *string
	homepage     *string
	rules        []*filtering.Rule
	skipped      int
	noop         int
	checksum     uint32
	seenNonEmpty bool
}

// Parse parses the filter list from src using buf as the initial line buffer.
// Lines that cannot be parsed are logged and skipped.  The only errors
// returned are reading errors and [ErrHTML].
func (p *Parser) Parse(ctx context.Context, src io.Reader, buf []byte) (res *ParseResult, err error) {
	s := bufio.NewScanner(src)
	s.Buffer(buf, MaxRuleLen)

	st := &parseState{}
	for lineNum := 1; s.Scan(); lineNum++ {
		line := strings.Trim(s.Text(), lineCutset)
		if lineNum == 1 && formatTagRe.MatchString(line) {
			continue
		}

		err = p.processLine(ctx, st, line, lineNum)
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return nil, err
		}
	}

	err = s.Err()
	if err != nil {
		return nil, errors.Annotate(err, "scanning filter contents: %w")
	}

	return st.result(), nil
}

// processLine processes a single trimmed line.
func (p *Parser) processLine(ctx context.Context, st *parseState, line string, lineNum int) (err error) {
	if line == "" {
		return nil
	}

	if !st.seenNonEmpty {
		st.seenNonEmpty = true
		if isHTMLLine(line) {
			return ErrHTML
		}
	}

	if line[0] == '!' {
		st.parseMetadata(line)

		return nil
	}

	if strings.ContainsFunc(line, isNotPrintable) {
		p.logger.DebugContext(
			ctx,
			"skipping rule",
			"line", lineNum,
			slogutil.KeyError, errors.Error("non-printable character"),
		)
		st.skipped++

		return nil
	}

	r, err := p.compiler.Compile(line)
	if err != nil {
		p.logger.DebugContext(ctx, "skipping rule", "line", lineNum, slogutil.KeyError, err)
		st.skipped++

		return nil
	}

	if r.Action() == filtering.ActionNoop {
		st.noop++

		return nil
	}

	st.rules = append(st.rules, r)
	st.checksum = crc32.Update(st.checksum, crc32.IEEETable, []byte(line))

	return nil
}

// parseMetadata looks for the supported metadata in a comment line.  The first
// occurrence of every key wins.
func (st *parseState) parseMetadata(line string) {
	if st.title == nil {
		if m := titleRe.FindStringSubmatch(line); m != nil {
			title := strings.TrimSpace(m[1])
			st.title = &title

			return
		}
	}

	if st.homepage == nil {
		if m := homepageRe.FindStringSubmatch(line); m != nil {
			homepage := strings.TrimSpace(m[1])
			st.homepage = &homepage
		}
	}
}

// result returns the result of the parsing.
func (st *parseState) result() (res *ParseResult) {
	var title, homepage string
	if st.title != nil {
		title = *st.title
	}

	if st.homepage != nil {
		homepage = *st.homepage
	}

	return &ParseResult{
		RuleSet:      filtering.NewRuleSet(title, homepage, st.rules),
		RulesCount:   len(st.rules),
		SkippedCount: st.skipped,
		NoopCount:    st.noop,
		Checksum:     st.checksum,
	}
}

// isHTMLLine returns true if line is likely an HTML line.  line is assumed to
// be trimmed of whitespace characters.
func isHTMLLine(line string) (isHTML bool) {
	return hasPrefixFold(line, "<html") || hasPrefixFold(line, "<!doctype")
}

// hasPrefixFold is a simple, best-effort prefix matcher.  It may return
// incorrect results for some non-ASCII characters.
func hasPrefixFold(s, prefix string) (ok bool) {
	l := len(prefix)

	return len(s) >= l && strings.EqualFold(s[:l], prefix)
}

// isNotPrintable returns true if r is not a printable character that can be
// contained in a filtering rule.
func isNotPrintable(r rune) (ok bool) {
	// Tab isn't included into Unicode's graphic symbols, so include it here
	// explicitly.
	return r != '\t' && !unicode.IsGraphic(r)
}
