package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/version"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// HTTP header value constants.
const (
	HdrValApplicationJSON = "application/json"
	HdrValTextPlain       = "text/plain; charset=utf-8"
)

// nsecPerMsec is the number of nanoseconds in a millisecond.
const nsecPerMsec = float64(time.Millisecond / time.Nanosecond)

// JSONTime is a time.Time that is encoded into JSON and decoded from it as the
// number of milliseconds since the Unix epoch.
type JSONTime time.Time

// type check
var _ json.Marshaler = JSONTime{}

// MarshalJSON implements the json.Marshaler interface for JSONTime.  err is
// always nil.
func (t JSONTime) MarshalJSON() (b []byte, err error) {
	msec := float64(time.Time(t).UnixNano()) / nsecPerMsec
	b = strconv.AppendFloat(nil, msec, 'f', -1, 64)

	return b, nil
}

// type check
var _ json.Unmarshaler = (*JSONTime)(nil)

// UnmarshalJSON implements the json.Unmarshaler interface for *JSONTime.
func (t *JSONTime) UnmarshalJSON(b []byte) (err error) {
	if t == nil {
		return fmt.Errorf("json time is nil")
	}

	msec, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parsing json time: %w", err)
	}

	*t = JSONTime(time.Unix(0, int64(msec*nsecPerMsec)).UTC())

	return nil
}

// ErrorCode is the error code as used by the HTTP API.
type ErrorCode string

// ErrorCode constants.
const (
	ErrorCodeBadRequest ErrorCode = "bad_request"
	ErrorCodeIgnored    ErrorCode = "ignored"
	ErrorCodeInvalid    ErrorCode = "invalid"
	ErrorCodeTimeout    ErrorCode = "timeout"
	ErrorCodeInternal   ErrorCode = "internal"
)

// HTTPAPIErrorResp is the error response as used by the HTTP API.
type HTTPAPIErrorResp struct {
	Code ErrorCode `json:"code"`
	Msg  string    `json:"msg"`
}

// writeJSONResponse writes headers with the code, encodes resp into w, and
// logs any errors it encounters.  r is used to get additional information from
// the request.
func writeJSONResponse(
	l *slog.Logger,
	w http.ResponseWriter,
	r *http.Request,
	code int,
	resp any,
) {
	h := w.Header()
	h.Set(httphdr.ContentType, HdrValApplicationJSON)
	h.Set(httphdr.Server, version.UserAgent())

	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		l.DebugContext(
			r.Context(),
			"writing json resp",
			"method", r.Method,
			"path", r.URL.Path,
			slogutil.KeyError, err,
		)
	}
}

// writeJSONResponseOK writes headers with the code 200 OK, encodes v into w,
// and logs any errors it encounters.
func writeJSONResponseOK(l *slog.Logger, w http.ResponseWriter, r *http.Request, v any) {
	writeJSONResponse(l, w, r, http.StatusOK, v)
}

// writeJSONResponseError encodes err as a JSON error with the code into w, and
// logs any errors it encounters.
func writeJSONResponseError(
	l *slog.Logger,
	w http.ResponseWriter,
	r *http.Request,
	status int,
	code ErrorCode,
	err error,
) {
	l.DebugContext(
		r.Context(),
		"writing json error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		slogutil.KeyError, err,
	)

	writeJSONResponse(l, w, r, status, &HTTPAPIErrorResp{
		Code: code,
		Msg:  err.Error(),
	})
}

// writeText writes s as a plain-text response.
func writeText(ctx context.Context, l *slog.Logger, w http.ResponseWriter, s string) {
	h := w.Header()
	h.Set(httphdr.ContentType, HdrValTextPlain)
	h.Set(httphdr.Server, version.UserAgent())

	_, err := io.WriteString(w, s)
	if err != nil {
		l.DebugContext(ctx, "writing text resp", slogutil.KeyError, err)
	}
}
