package configmgr

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// Configuration Structures

// Config is the top-level on-disk configuration structure.
type Config struct {
	HTTP      *HTTPConfig      `yaml:"http"`
	Log       *LogConfig       `yaml:"log"`
	Filtering *FilteringConfig `yaml:"filtering"`
	Check     *CheckConfig     `yaml:"check"`
	Browser   *BrowserConfig   `yaml:"browser"`
	History   *HistoryConfig   `yaml:"history"`

	// PIDFile is the path to the file with the process ID.  If empty, no file
	// is written.
	PIDFile string `yaml:"pid_file"`

	// Filters are the filter lists used for the checks.
	Filters []*FilterConfig `yaml:"filters"`
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	// Keep this in the same order as the fields in the config.
	validators := []struct {
		validate func() (err error)
		name     string
	}{{
		validate: c.HTTP.Validate,
		name:     "http",
	}, {
		validate: c.Log.Validate,
		name:     "log",
	}, {
		validate: c.Filtering.Validate,
		name:     "filtering",
	}, {
		validate: c.Check.Validate,
		name:     "check",
	}, {
		validate: c.Browser.Validate,
		name:     "browser",
	}, {
		validate: c.History.Validate,
		name:     "history",
	}}

	var errs []error
	for _, v := range validators {
		err = v.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.name, err))
		}
	}

	errs = validate.AppendSlice(errs, "filters", c.Filters)

	return errors.Join(errs...)
}

// HTTPConfig is the on-disk control API configuration.
type HTTPConfig struct {
	// Address is the TCP address of the control API.
	Address string `yaml:"address"`

	// Timeout is the timeout for reading requests.
	Timeout timeutil.Duration `yaml:"timeout"`

	// CheckTimeout is the maximum time to wait for a check result.
	CheckTimeout timeutil.Duration `yaml:"check_timeout"`
}

// type check
var _ validate.Interface = (*HTTPConfig)(nil)

// Validate implements the [validate.Interface] interface for *HTTPConfig.
func (c *HTTPConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case time.Duration(c.Timeout) <= 0:
		return newErrNotPositive("timeout", c.Timeout)
	case time.Duration(c.CheckTimeout) <= 0:
		return newErrNotPositive("check_timeout", c.CheckTimeout)
	default:
		return validate.NotEmpty("address", c.Address)
	}
}

// logFormats are the supported values of [LogConfig.Format].
var logFormats = []slogutil.Format{
	slogutil.FormatAdGuardLegacy,
	slogutil.FormatDefault,
	"json",
	"text",
}

// LogConfig is the on-disk logging configuration.
type LogConfig struct {
	// File is the path to the log file.  If empty, logs are written to
	// stderr.
	File string `yaml:"file"`

	// Format is the format of the log entries.
	Format string `yaml:"format"`

	// MaxSize is the maximum size of the log file in megabytes before it is
	// rotated.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to keep.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is the maximum number of days to keep old log files.
	MaxAge int `yaml:"max_age"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`

	// Timestamp adds timestamps to the log entries.
	Timestamp bool `yaml:"timestamp"`

	// Compress enables compression of the rotated log files.
	Compress bool `yaml:"compress"`

	// LocalTime makes the rotated files use the local time in their names.
	LocalTime bool `yaml:"local_time"`
}

// type check
var _ validate.Interface = (*LogConfig)(nil)

// Validate implements the [validate.Interface] interface for *LogConfig.
func (c *LogConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var errs []error
	if !slices.Contains(logFormats, slogutil.Format(c.Format)) {
		errs = append(errs, fmt.Errorf("format: %w: %q", errors.ErrBadEnumValue, c.Format))
	}

	if c.MaxSize < 0 {
		errs = append(errs, newErrNegative("max_size", c.MaxSize))
	}

	if c.MaxBackups < 0 {
		errs = append(errs, newErrNegative("max_backups", c.MaxBackups))
	}

	if c.MaxAge < 0 {
		errs = append(errs, newErrNegative("max_age", c.MaxAge))
	}

	return errors.Join(errs...)
}

// FilteringConfig is the on-disk filter-list configuration.
type FilteringConfig struct {
	// CacheDir is the directory for the cached filter-list files.
	CacheDir string `yaml:"cache_dir"`

	// UpdateInterval is the interval between filter-list refreshes.
	UpdateInterval timeutil.Duration `yaml:"update_interval"`

	// RetryInterval is the interval of the first retry after a failed
	// refresh.
	RetryInterval timeutil.Duration `yaml:"retry_interval"`

	// MaxRuleListSize is the maximum size of a filter list.
	MaxRuleListSize datasize.ByteSize `yaml:"max_rule_list_size"`

	// PatternCacheSize is the maximum number of compiled domain patterns.
	PatternCacheSize int `yaml:"pattern_cache_size"`
}

// type check
var _ validate.Interface = (*FilteringConfig)(nil)

// Validate implements the [validate.Interface] interface for *FilteringConfig.
func (c *FilteringConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	errs := []error{
		validate.NotEmpty("cache_dir", c.CacheDir),
	}

	if time.Duration(c.UpdateInterval) <= 0 {
		errs = append(errs, newErrNotPositive("update_interval", c.UpdateInterval))
	}

	if time.Duration(c.RetryInterval) <= 0 {
		errs = append(errs, newErrNotPositive("retry_interval", c.RetryInterval))
	}

	if c.MaxRuleListSize == 0 {
		errs = append(errs, newErrNotPositive("max_rule_list_size", c.MaxRuleListSize))
	}

	if c.PatternCacheSize <= 0 {
		errs = append(errs, newErrNotPositive("pattern_cache_size", c.PatternCacheSize))
	}

	return errors.Join(errs...)
}

// CheckConfig is the on-disk page-check configuration.
type CheckConfig struct {
	// MaxCacheAge is the maximum age of a cached report.
	MaxCacheAge timeutil.Duration `yaml:"max_cache_age"`

	// NavigationTimeout is the maximum duration of a single page visit.
	NavigationTimeout timeutil.Duration `yaml:"navigation_timeout"`

	// RestartDelay is the delay before restarting a failed pipeline loop.
	RestartDelay timeutil.Duration `yaml:"restart_delay"`

	// NavigationRate is the maximum number of page visits per second.  Zero
	// means no limit.
	NavigationRate float64 `yaml:"navigation_rate"`

	// CacheCapacity is the maximum number of cached reports.
	CacheCapacity int `yaml:"cache_capacity"`

	// EvalWorkers is the number of goroutines evaluating captured requests.
	EvalWorkers int `yaml:"eval_workers"`

	// QueueSize is the size of the request and result queues.
	QueueSize int `yaml:"queue_size"`

	// MaxConcurrentChecks is the maximum number of requests processed at the
	// same time.
	MaxConcurrentChecks int64 `yaml:"max_concurrent_checks"`

	// MaxConcurrentPages is the maximum number of pages open at the same
	// time.
	MaxConcurrentPages int64 `yaml:"max_concurrent_pages"`
}

// type check
var _ validate.Interface = (*CheckConfig)(nil)

// Validate implements the [validate.Interface] interface for *CheckConfig.
func (c *CheckConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var errs []error
	for _, d := range []struct {
		name string
		val  timeutil.Duration
	}{{
		name: "max_cache_age",
		val:  c.MaxCacheAge,
	}, {
		name: "navigation_timeout",
		val:  c.NavigationTimeout,
	}, {
		name: "restart_delay",
		val:  c.RestartDelay,
	}} {
		if time.Duration(d.val) <= 0 {
			errs = append(errs, newErrNotPositive(d.name, d.val))
		}
	}

	if c.NavigationRate < 0 {
		errs = append(errs, newErrNegative("navigation_rate", c.NavigationRate))
	}

	for _, n := range []struct {
		name string
		val  int64
	}{{
		name: "cache_capacity",
		val:  int64(c.CacheCapacity),
	}, {
		name: "eval_workers",
		val:  int64(c.EvalWorkers),
	}, {
		name: "queue_size",
		val:  int64(c.QueueSize),
	}, {
		name: "max_concurrent_checks",
		val:  c.MaxConcurrentChecks,
	}, {
		name: "max_concurrent_pages",
		val:  c.MaxConcurrentPages,
	}} {
		if n.val <= 0 {
			errs = append(errs, newErrNotPositive(n.name, n.val))
		}
	}

	return errors.Join(errs...)
}

// BrowserConfig is the on-disk browser configuration.
type BrowserConfig struct {
	// ControlURL is the DevTools URL of a running browser.  If empty, a new
	// browser is launched.
	ControlURL string `yaml:"control_url"`

	// Bin is the path to the browser executable.  If empty, it is looked up
	// or downloaded.
	Bin string `yaml:"bin"`

	// Headless, if true, launches the browser without a window.
	Headless bool `yaml:"headless"`
}

// type check
var _ validate.Interface = (*BrowserConfig)(nil)

// Validate implements the [validate.Interface] interface for *BrowserConfig.
func (c *BrowserConfig) Validate() (err error) {
	if c == nil {
		return errNoConf
	} else if c.ControlURL == "" {
		return nil
	}

	_, err = url.Parse(c.ControlURL)
	if err != nil {
		return fmt.Errorf("control_url: %w", err)
	}

	return nil
}

// HistoryConfig is the on-disk check-history configuration.
type HistoryConfig struct {
	// File is the path to the history database.
	File string `yaml:"file"`

	// Size is the maximum number of stored checks.
	Size int `yaml:"size"`
}

// type check
var _ validate.Interface = (*HistoryConfig)(nil)

// Validate implements the [validate.Interface] interface for *HistoryConfig.
func (c *HistoryConfig) Validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case c.Size <= 0:
		return newErrNotPositive("size", c.Size)
	default:
		return validate.NotEmpty("file", c.File)
	}
}

// FilterConfig is the on-disk configuration of a single filter list.
type FilterConfig struct {
	// URL is the URL of the list.  Supported schemes are http, https, and
	// file.
	URL string `yaml:"url"`

	// Name is the human-readable name of the list.  If empty, it is taken
	// from the list itself.
	Name string `yaml:"name"`

	// Enabled, if true, means that the list is used for checks.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*FilterConfig)(nil)

// Validate implements the [validate.Interface] interface for *FilterConfig.
func (c *FilterConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	_, err = c.ParseURL()

	return err
}

// ParseURL returns the parsed URL of the filter list.
func (c *FilterConfig) ParseURL() (u *url.URL, err error) {
	u, err = url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}

	switch u.Scheme {
	case urlutil.SchemeHTTP, urlutil.SchemeHTTPS, urlutil.SchemeFile:
		return u, nil
	default:
		return nil, fmt.Errorf("url: scheme: %w: %q", errors.ErrBadEnumValue, u.Scheme)
	}
}
