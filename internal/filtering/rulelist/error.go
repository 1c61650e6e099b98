package rulelist

import "github.com/AdguardTeam/golibs/errors"

// ErrHTML is returned by [Parser.Parse] if the data is likely to be HTML, for
// example a captive portal or an error page instead of a filter list.
const ErrHTML errors.Error = "data is html, not plain text"

// errNoURL is returned by [NewFilter] when the URL is missing.
const errNoURL errors.Error = "no url"
