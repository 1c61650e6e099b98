package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/AdguardTeam/LinkCheck/internal/history"
)

// respGetStatus is the response for the GET /control/status HTTP API.
type respGetStatus struct {
	RuleSets []*ruleSetStatus `json:"rulesets"`
	Loaded   bool             `json:"loaded"`
}

// ruleSetStatus is the status of a single loaded rule set.
type ruleSetStatus struct {
	Title    string `json:"title"`
	Homepage string `json:"homepage"`
	Rules    int    `json:"rules"`
}

// handleGetStatus is the handler for the GET /control/status HTTP API.
func (svc *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ruleSets := svc.ruleSets.RuleSets()
	resp := &respGetStatus{
		RuleSets: make([]*ruleSetStatus, 0, len(ruleSets)),
		Loaded:   svc.ruleSets.Loaded(),
	}

	for _, rs := range ruleSets {
		resp.RuleSets = append(resp.RuleSets, &ruleSetStatus{
			Title:    rs.Title(),
			Homepage: rs.Homepage(),
			Rules:    rs.Len(),
		})
	}

	writeJSONResponseOK(svc.logger, w, r, resp)
}

// historyEntry is a single entry of the GET /control/history HTTP API
// response.
type historyEntry struct {
	Checked  JSONTime `json:"checked"`
	URL      string   `json:"url"`
	FinalURL string   `json:"final_url"`
	Title    string   `json:"title"`
	Blocked  int      `json:"blocked"`
}

// respGetHistory is the response for the GET /control/history HTTP API.
type respGetHistory struct {
	Entries []*historyEntry `json:"entries"`
}

// handleGetHistory is the handler for the GET /control/history HTTP API.
func (svc *Service) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		var err error
		limit, err = strconv.Atoi(s)
		if err != nil {
			err = fmt.Errorf("limit: %w", err)
			writeJSONResponseError(svc.logger, w, r, http.StatusBadRequest, ErrorCodeBadRequest, err)

			return
		}
	}

	entries, err := svc.history.List(r.Context(), limit)
	if err != nil {
		writeJSONResponseError(
			svc.logger,
			w,
			r,
			http.StatusInternalServerError,
			ErrorCodeInternal,
			err,
		)

		return
	}

	resp := &respGetHistory{
		Entries: make([]*historyEntry, 0, len(entries)),
	}

	for _, e := range entries {
		resp.Entries = append(resp.Entries, newHistoryEntry(e))
	}

	writeJSONResponseOK(svc.logger, w, r, resp)
}

// newHistoryEntry converts e into an API entry.
func newHistoryEntry(e *history.Entry) (he *historyEntry) {
	return &historyEntry{
		Checked:  JSONTime(e.Checked),
		URL:      e.URL,
		FinalURL: e.FinalURL,
		Title:    e.Title,
		Blocked:  e.Blocked,
	}
}
