// Package configmgr defines the LinkCheck on-disk configuration entities and
// reads them.
package configmgr

import (
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/browser"
	"github.com/AdguardTeam/LinkCheck/internal/checkcache"
	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/LinkCheck/internal/history"
	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the configuration file.
const (
	EnvMaxCacheAge    = "LINKCHECK_MAX_CACHE_AGE"
	EnvUpdateInterval = "LINKCHECK_UPDATE_INTERVAL"
)

// Default values of the configuration that aren't defined by other packages.
const (
	defaultHTTPTimeout       = 10 * time.Second
	defaultCheckTimeout      = 5 * time.Minute
	defaultUpdateInterval    = 24 * time.Hour
	defaultEvalWorkers       = 4
	defaultConcurrentPages   = 2
	defaultNavigationRate    = 1.0
	defaultLogMaxSize        = 100
	defaultLogMaxBackups     = 3
	defaultLogMaxAge         = 30
	defaultHTTPAddress       = "127.0.0.1:8080"
	defaultCacheDir          = "data/filters"
	defaultHistoryFile       = "data/history.db"
	defaultNavigationTimeout = browser.DefaultNavigationTimeout
)

// Default returns the default configuration.  It has no filter lists.
func Default() (c *Config) {
	return &Config{
		HTTP: &HTTPConfig{
			Address:      defaultHTTPAddress,
			Timeout:      timeutil.Duration(defaultHTTPTimeout),
			CheckTimeout: timeutil.Duration(defaultCheckTimeout),
		},
		Log: &LogConfig{
			Format:     string(slogutil.FormatDefault),
			MaxSize:    defaultLogMaxSize,
			MaxBackups: defaultLogMaxBackups,
			MaxAge:     defaultLogMaxAge,
			Timestamp:  true,
		},
		Filtering: &FilteringConfig{
			CacheDir:         defaultCacheDir,
			UpdateInterval:   timeutil.Duration(defaultUpdateInterval),
			RetryInterval:    timeutil.Duration(rulelist.DefaultRetryInterval),
			MaxRuleListSize:  rulelist.DefaultMaxRuleListSize,
			PatternCacheSize: filtering.DefaultPatternCacheSize,
		},
		Check: &CheckConfig{
			MaxCacheAge:         timeutil.Duration(checkcache.DefaultMaxAge),
			NavigationTimeout:   timeutil.Duration(defaultNavigationTimeout),
			RestartDelay:        timeutil.Duration(linkcheck.DefaultRestartDelay),
			NavigationRate:      defaultNavigationRate,
			CacheCapacity:       checkcache.DefaultCapacity,
			EvalWorkers:         defaultEvalWorkers,
			QueueSize:           linkcheck.DefaultQueueSize,
			MaxConcurrentChecks: linkcheck.DefaultMaxConcurrentChecks,
			MaxConcurrentPages:  defaultConcurrentPages,
		},
		Browser: &BrowserConfig{
			Headless: true,
		},
		History: &HistoryConfig{
			File: defaultHistoryFile,
			Size: history.DefaultSize,
		},
	}
}

// Read reads the configuration from the file, applies the environment
// overrides, and validates the result.  The missing values are taken from
// [Default].
func Read(fileName string) (conf *Config, err error) {
	conf, err = read(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = conf.applyEnv(os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return conf, nil
}

// read reads and decodes configuration from the provided filename.
func read(fileName string) (conf *Config, err error) {
	defer func() { err = errors.Annotate(err, "reading config: %w") }()

	conf = Default()
	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	err = yaml.NewDecoder(f).Decode(conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return conf, nil
}

// lookupEnvFunc is the signature of [os.LookupEnv].
type lookupEnvFunc func(key string) (val string, ok bool)

// applyEnv overrides the values of c with the environment variables.  c.Check
// and c.Filtering must not be nil.
func (c *Config) applyEnv(lookup lookupEnvFunc) (err error) {
	overrides := []struct {
		dst *timeutil.Duration
		env string
	}{{
		dst: &c.Check.MaxCacheAge,
		env: EnvMaxCacheAge,
	}, {
		dst: &c.Filtering.UpdateInterval,
		env: EnvUpdateInterval,
	}}

	var errs []error
	for _, o := range overrides {
		val, ok := lookup(o.env)
		if !ok {
			continue
		}

		err = o.dst.UnmarshalText([]byte(val))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.env, err))
		}
	}

	return errors.Join(errs...)
}
