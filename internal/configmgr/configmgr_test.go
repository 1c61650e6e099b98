package configmgr_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/configmgr"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfYAML is a valid configuration file for tests.
const testConfYAML = `
http:
  address: '127.0.0.1:3000'
log:
  verbose: true
filtering:
  cache_dir: '/tmp/linkcheck'
  update_interval: '1h'
  max_rule_list_size: '1MB'
check:
  max_cache_age: '30m'
  navigation_rate: 0
filters:
- url: 'https://filters.example/ads.txt'
  name: 'Ads'
  enabled: true
- url: 'file:///var/lib/linkcheck/local.txt'
  enabled: false
`

// writeConf writes data into a new configuration file and returns its path.
func writeConf(tb testing.TB, data string) (fileName string) {
	tb.Helper()

	fileName = filepath.Join(tb.TempDir(), "linkcheck.yaml")
	err := os.WriteFile(fileName, []byte(data), 0o600)
	require.NoError(tb, err)

	return fileName
}

func TestRead(t *testing.T) {
	// Don't use t.Parallel, since the subtests set environment variables.

	t.Run("success", func(t *testing.T) {
		conf, err := configmgr.Read(writeConf(t, testConfYAML))
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:3000", conf.HTTP.Address)
		assert.True(t, conf.Log.Verbose)
		assert.Equal(t, 1*time.Hour, time.Duration(conf.Filtering.UpdateInterval))
		assert.Equal(t, 1*datasize.MB, conf.Filtering.MaxRuleListSize)
		assert.Equal(t, 30*time.Minute, time.Duration(conf.Check.MaxCacheAge))
		assert.Zero(t, conf.Check.NavigationRate)

		def := configmgr.Default()
		assert.Equal(t, def.History, conf.History)
		assert.Equal(t, def.Check.EvalWorkers, conf.Check.EvalWorkers)

		require.Len(t, conf.Filters, 2)

		assert.Equal(t, &configmgr.FilterConfig{
			URL:     "https://filters.example/ads.txt",
			Name:    "Ads",
			Enabled: true,
		}, conf.Filters[0])
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv(configmgr.EnvMaxCacheAge, "2h")
		t.Setenv(configmgr.EnvUpdateInterval, "15m")

		conf, err := configmgr.Read(writeConf(t, testConfYAML))
		require.NoError(t, err)

		assert.Equal(t, 2*time.Hour, time.Duration(conf.Check.MaxCacheAge))
		assert.Equal(t, 15*time.Minute, time.Duration(conf.Filtering.UpdateInterval))
	})

	t.Run("bad_env", func(t *testing.T) {
		t.Setenv(configmgr.EnvMaxCacheAge, "forever")

		_, err := configmgr.Read(writeConf(t, testConfYAML))
		require.Error(t, err)

		assert.Contains(t, err.Error(), configmgr.EnvMaxCacheAge)
	})

	t.Run("no_file", func(t *testing.T) {
		_, err := configmgr.Read(filepath.Join(t.TempDir(), "none.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad_yaml", func(t *testing.T) {
		_, err := configmgr.Read(writeConf(t, "http: [\n"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		modify     func(c *configmgr.Config)
		name       string
		wantErrMsg string
	}{{
		modify:     func(_ *configmgr.Config) {},
		name:       "default",
		wantErrMsg: "",
	}, {
		modify: func(c *configmgr.Config) {
			c.HTTP.Timeout = timeutil.Duration(0)
		},
		name:       "http_timeout",
		wantErrMsg: "http: timeout: not positive, got 0s",
	}, {
		modify: func(c *configmgr.Config) {
			c.Log.Format = "xml"
		},
		name:       "log_format",
		wantErrMsg: `log: format: bad enum value: "xml"`,
	}, {
		modify: func(c *configmgr.Config) {
			c.Check.EvalWorkers = 0
			c.Check.NavigationRate = -1
		},
		name: "check",
		wantErrMsg: "check: navigation_rate: negative value, got -1\n" +
			"eval_workers: not positive, got 0",
	}, {
		modify: func(c *configmgr.Config) {
			c.History.Size = 0
		},
		name:       "history_size",
		wantErrMsg: "history: size: not positive, got 0",
	}, {
		modify: func(c *configmgr.Config) {
			c.History = nil
		},
		name:       "no_history",
		wantErrMsg: "history: configuration not found",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := configmgr.Default()
			tc.modify(c)

			err := c.Validate()
			if tc.wantErrMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tc.wantErrMsg, err.Error())
			}
		})
	}

	t.Run("filter_scheme", func(t *testing.T) {
		t.Parallel()

		c := configmgr.Default()
		c.Filters = []*configmgr.FilterConfig{{
			URL: "ftp://filters.example/list.txt",
		}}

		err := c.Validate()
		assert.ErrorIs(t, err, errors.ErrBadEnumValue)
	})
}
