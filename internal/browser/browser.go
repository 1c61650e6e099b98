// Package browser contains the capture of the network requests a page makes
// while a headless browser loads it.
package browser

import (
	"context"

	"github.com/AdguardTeam/LinkCheck/internal/webreq"
	"github.com/AdguardTeam/golibs/errors"
)

// ErrNavigation is returned by [Browser.Visit] when the page couldn't be
// loaded.
const ErrNavigation errors.Error = "navigation failed"

// Page is the information about a loaded page.
type Page struct {
	// Title is the title of the page.  It may be empty.
	Title string

	// URL is the final URL of the page after redirects.
	URL string
}

// RequestHandler is called for every request the page makes, in the order the
// browser reports them.  It may be called from several goroutines, but never
// concurrently, and never after [Browser.Visit] has returned.
type RequestHandler func(ri *webreq.RequestInfo)

// Browser loads pages and reports the requests they make.
type Browser interface {
	// Visit opens a new page, loads rawURL in it, and closes the page.  onReq
	// must not be nil.  If the page couldn't be loaded, err is [ErrNavigation]
	// wrapping the cause.
	Visit(ctx context.Context, rawURL string, onReq RequestHandler) (p *Page, err error)
}
