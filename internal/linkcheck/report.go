package linkcheck

import (
	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/webreq"
)

// Report is the result of a check of a single page.  It must not be modified
// after it's built, since reports are shared between the callers.
type Report struct {
	// Title is the title of the page.
	Title string `json:"title"`

	// URL is the final URL of the page.
	URL string `json:"url"`

	// Requests are the blocked requests in the order the page made them.
	Requests []*RequestReport `json:"requests"`
}

// RequestReport is the information about a single blocked request.
type RequestReport struct {
	// URL is the requested URL.
	URL string `json:"requested_url"`

	// RuleSetTitle is the title of the rule set that blocked the request.
	RuleSetTitle string `json:"ruleset_title"`

	// RuleSetHomepage is the homepage of the rule set that blocked the
	// request.
	RuleSetHomepage string `json:"ruleset_homepage"`

	// Rules are the texts of the rules that blocked the request.
	Rules []string `json:"active_rules"`
}

// BuildReport evaluates each of reqs against ruleSets and returns the report
// about the blocked ones.  The first rule set denying a request is the only one
// reported for it.
func BuildReport(
	title string,
	pageURL string,
	reqs []*webreq.RequestInfo,
	ruleSets []*filtering.RuleSet,
) (r *Report) {
	r = &Report{
		Title:    title,
		URL:      pageURL,
		Requests: []*RequestReport{},
	}

	for _, ri := range reqs {
		rr := evaluate(ri, ruleSets)
		if rr != nil {
			r.Requests = append(r.Requests, rr)
		}
	}

	return r
}

// evaluate returns the report about ri if one of ruleSets denies it, or nil.
func evaluate(ri *webreq.RequestInfo, ruleSets []*filtering.RuleSet) (rr *RequestReport) {
	for _, rs := range ruleSets {
		action, contrib := rs.Evaluate(ri)
		if action != filtering.ActionDeny {
			continue
		}

		rules := make([]string, 0, len(contrib))
		for _, rule := range contrib {
			rules = append(rules, rule.Text())
		}

		return &RequestReport{
			URL:             ri.URL(),
			RuleSetTitle:    rs.Title(),
			RuleSetHomepage: rs.Homepage(),
			Rules:           rules,
		}
	}

	return nil
}

// Summary is a short form of a [Report].
type Summary struct {
	// Title is the title of the page.
	Title string `json:"title"`

	// URL is the final URL of the page.
	URL string `json:"url"`

	// RuleSets are the numbers of requests blocked by each rule set in the
	// order of the first blocked request.
	RuleSets []*RuleSetSummary `json:"rulesets"`

	// Blocked is the total number of blocked requests.
	Blocked int `json:"blocked"`
}

// RuleSetSummary is the number of requests a single rule set blocked.
type RuleSetSummary struct {
	Title    string `json:"title"`
	Homepage string `json:"homepage"`
	Blocked  int    `json:"blocked"`
}

// Summarize returns the summary of r.
func (r *Report) Summarize() (s *Summary) {
	s = &Summary{
		Title:    r.Title,
		URL:      r.URL,
		RuleSets: []*RuleSetSummary{},
		Blocked:  len(r.Requests),
	}

	byTitle := map[string]*RuleSetSummary{}
	for _, rr := range r.Requests {
		rss, ok := byTitle[rr.RuleSetTitle]
		if !ok {
			rss = &RuleSetSummary{
				Title:    rr.RuleSetTitle,
				Homepage: rr.RuleSetHomepage,
			}
			byTitle[rr.RuleSetTitle] = rss
			s.RuleSets = append(s.RuleSets, rss)
		}

		rss.Blocked++
	}

	return s
}
