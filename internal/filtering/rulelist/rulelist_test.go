package rulelist_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testTitle is the common title for tests.
const testTitle = "Test List"

// testHomepage is the common homepage for tests.
const testHomepage = "https://lists.example/test"

// Common rule texts for tests.
const (
	testRuleTextAllowed  = "@@||allowed.example^\n"
	testRuleTextBlocked  = "||blocked.example^\n"
	testRuleTextBlocked2 = "||blocked-2.example^\n"
	testRuleTextBad      = "/[/\n"
	testRuleTextCosmetic = "example.com##.banner\n"
	testRuleTextHTML     = "<!DOCTYPE html>\n"
	testRuleTextFormat   = "[Adblock Plus 2.0]\n"
	testRuleTextTitle    = "! Title:  " + testTitle + " \n"
	testRuleTextHomepage = "! Homepage: " + testHomepage + "\n"
)

// newTestParser returns a new parser for tests.
func newTestParser(tb testing.TB) (p *rulelist.Parser) {
	tb.Helper()

	return rulelist.NewParser(&rulelist.ParserConfig{
		Logger: slogutil.NewDiscardLogger(),
		Compiler: filtering.NewCompiler(&filtering.CompilerConfig{
			PatternCacheSize: filtering.DefaultPatternCacheSize,
		}),
	})
}

// newTestUID returns a new random UID, so that filters with the same URL don't
// share cached files in tests.
func newTestUID() (uid rulelist.UID) {
	return rulelist.UID(uuid.New())
}

// newFilter is a helper for creating new filters in tests.
func newFilter(tb testing.TB, u *url.URL, name string) (f *rulelist.Filter) {
	tb.Helper()

	f, err := rulelist.NewFilter(&rulelist.FilterConfig{
		URL:     u,
		Name:    name,
		UID:     newTestUID(),
		Enabled: true,
	})
	require.NoError(tb, err)

	return f
}

// newFilterLocations is a test helper that sets up both the filter-list file
// and the HTTP server.  It also registers file removal and server stopping
// using t.Cleanup.
func newFilterLocations(
	tb testing.TB,
	dir string,
	fileData string,
	httpData string,
) (fileURL, srvURL *url.URL) {
	tb.Helper()

	filePath := filepath.Join(dir, "list.txt")
	err := os.WriteFile(filePath, []byte(fileData), 0o644)
	require.NoError(tb, err)

	testutil.CleanupAndRequireSuccess(tb, func() (err error) {
		return os.Remove(filePath)
	})

	fileURL = &url.URL{
		Scheme: urlutil.SchemeFile,
		Path:   filePath,
	}

	srv := newStringHTTPServer(httpData)
	tb.Cleanup(srv.Close)

	srvURL, err = url.Parse(srv.URL)
	require.NoError(tb, err)

	return fileURL, srvURL
}

// newStringHTTPServer returns a new HTTP server that serves s.
func newStringHTTPServer(s string) (srv *httptest.Server) {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pt := testutil.PanicT{}

		_, err := io.WriteString(w, s)
		require.NoError(pt, err)
	}))
}

// newTestRequest returns a new script request to u from a test page.
func newTestRequest(u string) (ri *webreq.RequestInfo) {
	return &webreq.RequestInfo{
		Request: &webreq.Request{
			URL:    u,
			Method: http.MethodGet,
		},
		DocumentURL: "https://www.example.com/",
		Type:        webreq.ResourceTypeScript,
	}
}

func TestNewURLUID(t *testing.T) {
	t.Parallel()

	u := &url.URL{Scheme: urlutil.SchemeHTTPS, Host: "filters.example", Path: "/ads.txt"}
	other := &url.URL{Scheme: urlutil.SchemeHTTPS, Host: "filters.example", Path: "/privacy.txt"}

	uid := rulelist.NewURLUID(u)
	assert.Equal(t, uid, rulelist.NewURLUID(u))
	assert.NotEqual(t, uid, rulelist.NewURLUID(other))
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte(u.String())).String(), uid.String())
}
