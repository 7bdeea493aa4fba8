package catalogdb

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/binderyhq/bindery/sql"
)

// Handle owns the catalog database connection pool and reopens it on demand.
// The catalog file can be replaced on disk by imports running outside the
// server process; polling devices request a refresh every round, so reloads
// are throttled to at most one per interval unless forced.
type Handle struct {
	logger  *zap.Logger
	uri     string
	opts    []sql.Opt
	limiter *rate.Limiter
	// static handles never reopen; reopening an in-memory uri would produce a
	// fresh empty database.
	static bool

	mu sync.Mutex
	db *sql.Database
}

// NewHandle opens the catalog database and wraps it in a reloadable handle.
func NewHandle(uri string, interval time.Duration, logger *zap.Logger, opts ...sql.Opt) (*Handle, error) {
	db, err := Open(uri, opts...)
	if err != nil {
		return nil, err
	}
	return &Handle{
		logger:  logger,
		uri:     uri,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		db:      db,
	}, nil
}

// DB returns the current database. The returned pool stays valid until the
// next successful Reload swaps it out.
func (h *Handle) DB() *sql.Database {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db
}

// Reload reopens the catalog database. Unforced reloads are dropped when the
// throttle interval has not elapsed. Queries in flight against the previous
// pool may fail with sql.ErrNoConnection; callers retry on the fresh pool.
func (h *Handle) Reload(force bool) error {
	if h.static {
		return nil
	}
	if !force && !h.limiter.Allow() {
		return nil
	}
	fresh, err := Open(h.uri, h.opts...)
	if err != nil {
		return err
	}
	h.mu.Lock()
	old := h.db
	h.db = fresh
	h.mu.Unlock()
	if err := old.Close(); err != nil {
		h.logger.Warn("failed to close previous catalog pool", zap.Error(err))
	}
	h.logger.Debug("catalog database reloaded", zap.String("uri", h.uri), zap.Bool("forced", force))
	return nil
}

// Close closes the current pool.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}
