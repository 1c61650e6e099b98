package rulelist_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/filtering"
	"github.com/AdguardTeam/LinkCheck/internal/filtering/rulelist"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testListWatcher is a [rulelist.ListWatcher] for tests.
type testListWatcher struct {
	events chan struct{}
	added  chan string
}

// type check
var _ rulelist.ListWatcher = (*testListWatcher)(nil)

// Start implements the [rulelist.ListWatcher] interface for *testListWatcher.
func (w *testListWatcher) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [rulelist.ListWatcher] interface for
// *testListWatcher.
func (w *testListWatcher) Shutdown(_ context.Context) (err error) { return nil }

// Events implements the [rulelist.ListWatcher] interface for *testListWatcher.
func (w *testListWatcher) Events() (e <-chan struct{}) { return w.events }

// Add implements the [rulelist.ListWatcher] interface for *testListWatcher.
func (w *testListWatcher) Add(name string) (err error) {
	w.added <- name

	return nil
}

func TestUpdater(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	fileURL, _ := newFilterLocations(t, cacheDir, testRuleTextTitle+testRuleTextBlocked, "")

	eng := newTestEngine(t, cacheDir, newFilter(t, fileURL, ""))

	w := &testListWatcher{
		events: make(chan struct{}, 1),
		added:  make(chan string, 1),
	}

	updates := make(chan []*filtering.RuleSet, 1)
	u := rulelist.NewUpdater(&rulelist.UpdaterConfig{
		Logger:        slogutil.NewDiscardLogger(),
		Engine:        eng,
		Watcher:       w,
		Updates:       updates,
		Interval:      1 * time.Hour,
		RetryInterval: 1 * time.Minute,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := u.Start(ctx)
	require.NoError(t, err)

	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return u.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	added, ok := testutil.RequireReceive(t, w.added, testTimeout)
	require.True(t, ok)

	assert.Equal(t, fileURL.Path, added)

	ruleSets, ok := testutil.RequireReceive(t, updates, testTimeout)
	require.True(t, ok)
	require.Len(t, ruleSets, 1)

	assert.Equal(t, testTitle, ruleSets[0].Title())
	assert.Equal(t, 1, ruleSets[0].Len())

	err = os.WriteFile(fileURL.Path, []byte(testRuleTextBlocked+testRuleTextBlocked2), 0o644)
	require.NoError(t, err)

	testutil.RequireSend(t, w.events, struct{}{}, testTimeout)

	ruleSets, ok = testutil.RequireReceive(t, updates, testTimeout)
	require.True(t, ok)
	require.Len(t, ruleSets, 1)

	assert.Equal(t, 2, ruleSets[0].Len())
}
