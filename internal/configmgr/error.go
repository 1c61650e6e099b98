package configmgr

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"golang.org/x/exp/constraints"
)

const (
	// errNoConf is returned when a configuration section is missing.
	errNoConf errors.Error = "configuration not found"

	// errNegative is returned for negative values where they are not allowed.
	errNegative errors.Error = "negative value"
)

// numeric is the constraint for numeric configuration values.
type numeric interface {
	constraints.Integer | constraints.Float | timeutil.Duration
}

// newErrNotPositive returns an error about the value that must be positive but
// isn't.  prop is the name of the property to mention in the error message.
func newErrNotPositive[T numeric](prop string, v T) (err error) {
	return fmt.Errorf("%s: %w, got %v", prop, errors.ErrNotPositive, v)
}

// newErrNegative returns an error about the value that must not be negative
// but is.  prop is the name of the property to mention in the error message.
func newErrNegative[T numeric](prop string, v T) (err error) {
	return fmt.Errorf("%s: %w, got %v", prop, errNegative, v)
}
