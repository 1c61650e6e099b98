package rulelist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/fsnotify/fsnotify"
)

// ListWatcher notifies about changes of local filter-list files.
type ListWatcher interface {
	service.Interface

	// Events returns the channel that receives a value after one or more
	// tracked files have been written.
	Events() (e <-chan struct{})

	// Add starts tracking the file.  It returns an error if the file can't be
	// tracked.
	Add(name string) (err error)
}

// FileWatcher tracks writes to local filter-list files using the file-system
// notifications of the OS.
type FileWatcher struct {
	logger *slog.Logger

	// mu protects files.
	mu *sync.RWMutex

	watcher *fsnotify.Watcher

	// events is the notification channel.  Several writes in a row result in
	// a single notification.
	events chan struct{}

	// files are the absolute paths of the tracked files.
	files *container.MapSet[string]
}

// fileWatcherPref is a prefix for wrapping errors in FileWatcher's methods.
const fileWatcherPref = "list watcher"

// NewFileWatcher returns a new watcher of local filter-list files.  l must not
// be nil.
func NewFileWatcher(l *slog.Logger) (w *FileWatcher, err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", fileWatcherPref) }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &FileWatcher{
		logger:  l,
		mu:      &sync.RWMutex{},
		watcher: watcher,
		events:  make(chan struct{}, 1),
		files:   container.NewMapSet[string](),
	}, nil
}

// type check
var _ ListWatcher = (*FileWatcher)(nil)

// Start implements the [service.Interface] interface for *FileWatcher.
func (w *FileWatcher) Start(ctx context.Context) (err error) {
	go w.handleErrors(ctx)
	go w.handleEvents(ctx)

	return nil
}

// Shutdown implements the [service.Interface] interface for *FileWatcher.
func (w *FileWatcher) Shutdown(_ context.Context) (err error) {
	return w.watcher.Close()
}

// Events implements the [ListWatcher] interface for *FileWatcher.
func (w *FileWatcher) Events() (e <-chan struct{}) {
	return w.events
}

// Add implements the [ListWatcher] interface for *FileWatcher.  name must be
// an absolute path to an existing regular file.
func (w *FileWatcher) Add(name string) (err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", fileWatcherPref) }()

	name = filepath.Clean(name)

	fi, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("checking file %q: %w", name, err)
	} else if fi.IsDir() {
		return fmt.Errorf("file %q: is a directory", name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.files.Add(name)

	// Watch the directory and filter the events by the file name, since
	// watching a file directly doesn't survive editors replacing it.
	dirName := filepath.Dir(name)
	err = w.watcher.Add(dirName)
	if err != nil {
		return fmt.Errorf("adding %q: %w", dirName, err)
	}

	return nil
}

// isTracked returns true if the file is tracked.
func (w *FileWatcher) isTracked(name string) (ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.files.Has(filepath.Clean(name))
}

// handleEvents sends a notification after the tracked files are written or
// created.  It is intended to be used as a goroutine.
func (w *FileWatcher) handleEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	defer close(w.events)

	const ops = fsnotify.Write | fsnotify.Create

	ch := w.watcher.Events
	for e := range ch {
		if e.Op&ops == 0 || !w.isTracked(e.Name) {
			continue
		}

		skipDuplicates(ch)

		select {
		case w.events <- struct{}{}:
			w.logger.DebugContext(ctx, "list file changed", "name", e.Name)
		default:
			w.logger.DebugContext(ctx, "events buffer is full")
		}
	}
}

// skipDuplicates drains the given channel of events, assuming that some events
// might occur multiple times.
func skipDuplicates(ch <-chan fsnotify.Event) {
	for {
		select {
		case <-ch:
			// Go on.
		default:
			return
		}
	}
}

// handleErrors logs the errors of the underlying watcher.  It is intended to be
// used as a goroutine.
func (w *FileWatcher) handleErrors(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for err := range w.watcher.Errors {
		w.logger.ErrorContext(ctx, "watching", slogutil.KeyError, err)
	}
}

// EmptyListWatcher is a [ListWatcher] that never sends notifications.
type EmptyListWatcher struct{}

// type check
var _ ListWatcher = EmptyListWatcher{}

// Start implements the [service.Interface] interface for EmptyListWatcher.  It
// always returns nil.
func (EmptyListWatcher) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [service.Interface] interface for EmptyListWatcher.
// It always returns nil.
func (EmptyListWatcher) Shutdown(_ context.Context) (err error) { return nil }

// Events implements the [ListWatcher] interface for EmptyListWatcher.  It
// always returns a nil channel.
func (EmptyListWatcher) Events() (e <-chan struct{}) { return nil }

// Add implements the [ListWatcher] interface for EmptyListWatcher.  It always
// returns nil.
func (EmptyListWatcher) Add(_ string) (err error) { return nil }
