package web

import (
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
)

// jsonMw sets the content type of the response to application/json.
func jsonMw(h http.Handler) (wrapped http.HandlerFunc) {
	f := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(httphdr.ContentType, HdrValApplicationJSON)

		h.ServeHTTP(w, r)
	}

	return http.HandlerFunc(f)
}

// logMw logs the start and the end of each request.
func (svc *Service) logMw(h http.Handler) (wrapped http.HandlerFunc) {
	f := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		m, u := r.Method, r.URL

		svc.logger.DebugContext(ctx, "started", "method", m, "host", r.Host, "url", u)
		defer func() {
			svc.logger.DebugContext(
				ctx,
				"finished",
				"method", m,
				"host", r.Host,
				"url", u,
				"elapsed", time.Since(start),
			)
		}()

		h.ServeHTTP(w, r)
	}

	return http.HandlerFunc(f)
}
