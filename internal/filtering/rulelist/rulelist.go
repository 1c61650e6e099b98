// Package rulelist contains the loading of filter lists: parsing of their text
// into rule sets, fetching them from their sources, and their periodic
// refreshing.
package rulelist

import (
	"fmt"
	"net/url"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
)

// DefaultRuleBufSize is the default length of a buffer used to read a line with
// a filtering rule, in bytes.
const DefaultRuleBufSize = 1024

// MaxRuleLen is the maximum length of a line with a filtering rule, in bytes.
const MaxRuleLen = 64 * 1024

// DefaultMaxRuleListSize is the default maximum filtering-rule list size.
const DefaultMaxRuleListSize = 64 * datasize.MB

// UID is the type for the unique IDs of filtering-rule lists.
type UID uuid.UUID

// NewURLUID returns the filtering-rule list UID derived from the URL of the
// list.  The same URL always gives the same UID, so the cached copies of the
// list survive restarts.
func NewURLUID(u *url.URL) (uid UID) {
	return UID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(u.String())))
}

// type check
var _ fmt.Stringer = UID{}

// String implements the [fmt.Stringer] interface for UID.
func (id UID) String() (s string) {
	return uuid.UUID(id).String()
}
