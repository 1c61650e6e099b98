package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/AdguardTeam/LinkCheck/internal/command"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"
)

// errIgnored is returned when the command in a check request is not a valid
// command.
const errIgnored errors.Error = "command ignored"

// reqPostCheck is the request for the POST /control/check HTTP API.  Either
// URLs or Command must be set.
type reqPostCheck struct {
	// Modifier is the form of the reply for URLs.
	Modifier string `json:"modifier"`

	// Command is a !linkcheck command.
	Command string `json:"command"`

	// ParentText is the text that the links are taken from when Command
	// targets the parent.
	ParentText string `json:"parent_text"`

	// URLs are the URLs of the pages to check.
	URLs []string `json:"urls"`
}

// respPostCheck is the response for the POST /control/check HTTP API.
type respPostCheck struct {
	// Reports are either [*linkcheck.Report] or [*linkcheck.Summary] values,
	// depending on Modifier.
	Reports map[string]any `json:"reports"`

	Errors   map[string]string        `json:"errors"`
	Modifier linkcheck.ReportModifier `json:"modifier"`
	ID       uuid.UUID                `json:"id"`
}

// respHelp is the response for the help command.
type respHelp struct {
	Help string `json:"help"`
}

// handlePostCheck is the handler for the POST /control/check HTTP API.
func (svc *Service) handlePostCheck(w http.ResponseWriter, r *http.Request) {
	req := &reqPostCheck{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		err = fmt.Errorf("decoding request: %w", err)
		writeJSONResponseError(svc.logger, w, r, http.StatusBadRequest, ErrorCodeBadRequest, err)

		return
	}

	cr, isHelp, err := req.toCheckRequest()
	if errors.Is(err, errIgnored) {
		writeJSONResponseError(svc.logger, w, r, http.StatusBadRequest, ErrorCodeIgnored, err)

		return
	} else if err != nil {
		writeJSONResponseError(svc.logger, w, r, http.StatusUnprocessableEntity, ErrorCodeInvalid, err)

		return
	}

	if isHelp {
		writeJSONResponseOK(svc.logger, w, r, &respHelp{Help: command.HelpText})

		return
	}

	res, err := svc.check(r.Context(), cr)
	if err != nil {
		writeJSONResponseError(svc.logger, w, r, http.StatusGatewayTimeout, ErrorCodeTimeout, err)

		return
	}

	writeJSONResponseOK(svc.logger, w, r, newRespPostCheck(res))
}

// toCheckRequest converts req into a check request.  isHelp is true if req is
// a help command, cr is nil in that case.
func (req *reqPostCheck) toCheckRequest() (cr *linkcheck.CheckRequest, isHelp bool, err error) {
	var urls []string
	var m linkcheck.ReportModifier
	if req.Command != "" {
		cmd := command.Parse(req.Command)
		switch cmd.Action {
		case command.ActionHelp:
			return nil, true, nil
		case command.ActionCheck:
			m = cmd.Modifier
			if cmd.Target == command.TargetParent {
				urls = command.FindLinks(req.ParentText)
			} else {
				urls = []string{cmd.Target}
			}
		default:
			return nil, false, fmt.Errorf("%w: %q", errIgnored, req.Command)
		}
	} else {
		m, err = linkcheck.NewReportModifier(req.Modifier)
		if err != nil {
			// Don't wrap the error, since it's informative enough as is.
			return nil, false, err
		}

		urls = req.URLs
	}

	for i, u := range urls {
		urls[i] = normalizeURL(u)
	}

	cr, err = linkcheck.NewCheckRequest(urls, m)

	return cr, false, err
}

// normalizeURL adds a scheme to links starting with "www.".
func normalizeURL(u string) (norm string) {
	if strings.HasPrefix(u, "www.") {
		return "http://" + u
	}

	return u
}

// check sends cr into the pipeline and waits for the result.
func (svc *Service) check(
	ctx context.Context,
	cr *linkcheck.CheckRequest,
) (res *linkcheck.CheckResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, svc.checkTimeout)
	defer cancel()

	resCh := svc.dispatcher.register(cr.ID)
	defer svc.dispatcher.unregister(cr.ID)

	select {
	case svc.pipeline.Requests() <- cr:
	case <-ctx.Done():
		return nil, fmt.Errorf("sending request %s: %w", cr.ID, ctx.Err())
	}

	select {
	case res = <-resCh:
		return res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for result %s: %w", cr.ID, ctx.Err())
	}
}

// newRespPostCheck converts res into a response.
func newRespPostCheck(res *linkcheck.CheckResult) (resp *respPostCheck) {
	resp = &respPostCheck{
		Reports:  make(map[string]any, len(res.Reports)),
		Errors:   make(map[string]string, len(res.Failures)),
		Modifier: res.Modifier,
		ID:       res.RequestID,
	}

	for u, r := range res.Reports {
		if res.Modifier == linkcheck.ReportModifierSummary {
			resp.Reports[u] = r.Summarize()
		} else {
			resp.Reports[u] = r
		}
	}

	for u, err := range res.Failures {
		resp.Errors[u] = err.Error()
	}

	return resp
}
