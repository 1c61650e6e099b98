// Package history contains the persistent storage of the completed checks.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// DefaultSize is the default maximum number of stored entries.
const DefaultSize = 1000

// bucketEntries is the name of the bucket with the entries.  The keys are
// UUIDv7 values, so the order of the keys is the order of the checks.
const bucketEntries = "entries"

// Entry is a single completed check.
type Entry struct {
	// Checked is the time of the check.
	Checked time.Time `json:"checked"`

	// URL is the requested URL of the page.
	URL string `json:"url"`

	// FinalURL is the URL of the page after redirects.
	FinalURL string `json:"final_url"`

	// Title is the title of the page.
	Title string `json:"title"`

	// Blocked is the number of blocked requests.
	Blocked int `json:"blocked"`
}

// Config is the configuration structure for a [DB].
type Config struct {
	// Logger is used to log the operation of the database.  It must not be
	// nil.
	Logger *slog.Logger

	// Clock is used to get the time of the checks.  It must not be nil.
	Clock timeutil.Clock

	// Path is the path to the database file.  It must not be empty.
	Path string

	// Size is the maximum number of stored entries.  It must be positive.
	Size int
}

// DB is a bbolt database of the completed checks.
type DB struct {
	logger *slog.Logger
	clock  timeutil.Clock
	db     *bolt.DB
	size   int
}

// New opens the database at c.Path, creating it if necessary.  c must not be
// nil.
func New(ctx context.Context, c *Config) (db *DB, err error) {
	bdb, err := bolt.Open(c.Path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", c.Path, err)
	}

	err = bdb.Update(func(tx *bolt.Tx) (txErr error) {
		_, txErr = tx.CreateBucketIfNotExists([]byte(bucketEntries))

		return txErr
	})
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("creating bucket: %w", err), bdb.Close())
	}

	c.Logger.DebugContext(ctx, "opened", "path", c.Path)

	return &DB{
		logger: c.Logger,
		clock:  c.Clock,
		db:     bdb,
		size:   c.Size,
	}, nil
}

// type check
var _ linkcheck.History = (*DB)(nil)

// Record implements the [linkcheck.History] interface for *DB.  It removes the
// oldest entries over the size limit.
func (db *DB) Record(ctx context.Context, rawURL string, r *linkcheck.Report) (err error) {
	defer func() { err = errors.Annotate(err, "recording %q: %w", rawURL) }()

	e := &Entry{
		Checked:  db.clock.Now(),
		URL:      rawURL,
		FinalURL: r.URL,
		Title:    r.Title,
		Blocked:  len(r.Requests),
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	key, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	var removed int
	err = db.db.Update(func(tx *bolt.Tx) (txErr error) {
		bkt := tx.Bucket([]byte(bucketEntries))

		txErr = bkt.Put(key[:], data)
		if txErr != nil {
			return fmt.Errorf("putting entry: %w", txErr)
		}

		removed, txErr = db.prune(bkt)

		return txErr
	})
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return err
	}

	if removed > 0 {
		db.logger.DebugContext(ctx, "pruned history", "removed", removed)
	}

	return nil
}

// prune removes the oldest entries from bkt while there are more than db.size
// of them.
func (db *DB) prune(bkt *bolt.Bucket) (removed int, err error) {
	c := bkt.Cursor()

	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}

	for k, _ := c.First(); k != nil && n > db.size; k, _ = c.First() {
		err = c.Delete()
		if err != nil {
			return removed, fmt.Errorf("deleting entry: %w", err)
		}

		n--
		removed++
	}

	return removed, nil
}

// List returns at most limit entries, newest first.  If limit is not positive,
// all entries are returned.
func (db *DB) List(ctx context.Context, limit int) (entries []*Entry, err error) {
	err = db.db.View(func(tx *bolt.Tx) (txErr error) {
		c := tx.Bucket([]byte(bucketEntries)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			e := &Entry{}
			decErr := json.Unmarshal(v, e)
			if decErr != nil {
				db.logger.DebugContext(ctx, "decoding entry", slogutil.KeyError, decErr)

				continue
			}

			entries = append(entries, e)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	return entries, nil
}

// Close closes the database.
func (db *DB) Close() (err error) {
	err = db.db.Close()
	if err != nil {
		return fmt.Errorf("closing history: %w", err)
	}

	return nil
}
