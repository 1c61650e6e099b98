package rulelist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/c2h5oh/datasize"
	"github.com/google/renameio/v2/maybe"
)

// cacheFilePerm is the permissions of the cached filter-list files.
const cacheFilePerm = 0o600

// Filter contains information about a single filter list.
type Filter struct {
	// mu protects ruleSet, updated, and checksum.
	mu *sync.RWMutex

	// url is the URL of this filter list.  Supported schemes are:
	//   - http
	//   - https
	//   - file
	url *url.URL

	// ruleSet is the last successfully parsed rule set.
	ruleSet *filtering.RuleSet

	// updated is the time of the last successful update.
	updated time.Time

	// name is the configured human-readable name of this filter list, if any.
	name string

	// uid is the unique ID of this filter list.
	uid UID

	// checksum is a CRC32 hash used to quickly check if the rules within a
	// list have changed.
	checksum uint32

	// enabled, if true, means that this filter list is used for checks.
	enabled bool
}

// FilterConfig contains the configuration for a [Filter].
type FilterConfig struct {
	// URL is the URL of this filter list.  Supported schemes are:
	//   - http
	//   - https
	//   - file
	URL *url.URL

	// Name is the human-readable name of this filter list.  If not set, it is
	// taken from the title or the homepage of the list or generated
	// synthetically from the UID.
	Name string

	// UID is the unique ID of this filter list.
	UID UID

	// Enabled, if true, means that this filter list is used for checks.
	Enabled bool
}

// NewFilter creates a new filter list.  The filter is not refreshed, so a
// refresh should be performed before use.
func NewFilter(c *FilterConfig) (f *Filter, err error) {
	if c.URL == nil {
		return nil, errNoURL
	}

	switch s := c.URL.Scheme; s {
	case urlutil.SchemeHTTP, urlutil.SchemeHTTPS, urlutil.SchemeFile:
		// Go on.
	default:
		return nil, fmt.Errorf("bad url scheme: %q", s)
	}

	return &Filter{
		mu:      &sync.RWMutex{},
		url:     c.URL,
		name:    c.Name,
		uid:     c.UID,
		enabled: c.Enabled,
	}, nil
}

// UID returns the unique ID of f.
func (f *Filter) UID() (uid UID) {
	return f.uid
}

// URL returns the URL of f.
func (f *Filter) URL() (u *url.URL) {
	return f.url
}

// Enabled returns true if f is used for checks.
func (f *Filter) Enabled() (ok bool) {
	return f.enabled
}

// RuleSet returns the last successfully parsed rule set of f, or nil if there
// hasn't been a successful refresh yet.
func (f *Filter) RuleSet() (rs *filtering.RuleSet) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.ruleSet
}

// Updated returns the time of the last successful refresh that changed the
// rules.
func (f *Filter) Updated() (t time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.updated
}

// refreshConfig contains the common parameters of filter-list refreshes.
type refreshConfig struct {
	parser   *Parser
	httpCli  *http.Client
	now      func() (t time.Time)
	cacheDir string
	parseBuf []byte
	maxSize  datasize.ByteSize
}

// refresh updates the data in the filter list.  It returns the parsing result
// and true if the rules have changed.
func (f *Filter) refresh(
	ctx context.Context,
	c *refreshConfig,
) (parseRes *ParseResult, changed bool, err error) {
	var data []byte
	switch s := f.url.Scheme; s {
	case urlutil.SchemeHTTP, urlutil.SchemeHTTPS:
		data, err = f.readFromHTTP(ctx, c)
	case urlutil.SchemeFile:
		data, err = readFromFile(f.url.Path, c.maxSize.Bytes())
	default:
		// Since the URL has been prevalidated in NewFilter, consider this a
		// programmer error.
		panic(fmt.Errorf("bad url scheme: %q", s))
	}
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, false, err
	}

	parseRes, err = c.parser.Parse(ctx, bytes.NewReader(data), c.parseBuf)
	if err != nil {
		return nil, false, fmt.Errorf("parsing: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	changed = f.ruleSet == nil || f.checksum != parseRes.Checksum
	if changed {
		f.checksum = parseRes.Checksum
		f.updated = c.now()
	}

	rs := parseRes.RuleSet
	f.ruleSet = rs.WithTitle(f.displayName(rs))

	return parseRes, changed, nil
}

// displayName returns the name of the filter list using either the configured
// name, the title or the homepage from the list data, or a synthetic name.
func (f *Filter) displayName(rs *filtering.RuleSet) (name string) {
	switch {
	case f.name != "":
		return f.name
	case rs.Title() != "":
		return rs.Title()
	case rs.Homepage() != "":
		return rs.Homepage()
	default:
		return fmt.Sprintf("List %s", f.uid)
	}
}

// cachePath returns the path to the cache file of f.
func (f *Filter) cachePath(cacheDir string) (p string) {
	return filepath.Join(cacheDir, f.uid.String()+".txt")
}

// readFromHTTP reads the data from the filter list's URL and caches it into a
// file.  If the request fails, the previously cached data is used, if there is
// any.
func (f *Filter) readFromHTTP(ctx context.Context, c *refreshConfig) (data []byte, err error) {
	cachePath := f.cachePath(c.cacheDir)

	data, err = f.fetch(ctx, c.httpCli, c.maxSize.Bytes())
	if err == nil {
		err = maybe.WriteFile(cachePath, data, cacheFilePerm)
		if err != nil {
			return nil, fmt.Errorf("caching: %w", err)
		}

		return data, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	// #nosec G304 -- Assume that cachePath is always cacheDir joined with a
	// uid using [filepath.Join].
	cached, cacheErr := os.ReadFile(cachePath)
	if cacheErr != nil {
		return nil, errors.Join(err, fmt.Errorf("reading cache: %w", cacheErr))
	}

	return cached, nil
}

// fetch requests the filter-list data from its HTTP URL.
func (f *Filter) fetch(ctx context.Context, cli *http.Client, maxSize uint64) (data []byte, err error) {
	urlStr := f.url.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("making request for http url %q: %w", urlStr, err)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting from http url: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("got status code %d, want %d", resp.StatusCode, http.StatusOK)
	}

	data, err = io.ReadAll(ioutil.LimitReader(resp.Body, maxSize))
	if err != nil {
		return nil, fmt.Errorf("reading response from http url %q: %w", urlStr, err)
	}

	return data, nil
}

// readFromFile reads the filter-list data from a local file.
func readFromFile(filePath string, maxSize uint64) (data []byte, err error) {
	// #nosec G304 -- The path is taken from the configuration file.
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening src file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	data, err = io.ReadAll(ioutil.LimitReader(f, maxSize))
	if err != nil {
		return nil, fmt.Errorf("reading src file: %w", err)
	}

	return data, nil
}
