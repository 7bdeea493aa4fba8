// Package syncer implements the device synchronization protocol: each Sync
// round diffs entitlements, reading state and collections against the cursor
// the device presents, returns a bounded page of change records and advances
// the cursor only after the round's side effects committed.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/catalogdb"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/syncstate"
	"github.com/binderyhq/bindery/sql/users"
)

// Config is the sync protocol configuration.
type Config struct {
	// PageSize bounds the records returned per round for users without an
	// override. Clamped to [10, 500].
	PageSize int `mapstructure:"page-size"`
	// DefaultPolicy applies to users without a per-user policy.
	DefaultPolicy string `mapstructure:"default-policy"`
	// IncludeEmptyCollections keeps memberless collections on the device
	// instead of deleting them.
	IncludeEmptyCollections bool `mapstructure:"include-empty-collections"`
	// MergeEnabled forwards rounds to the upstream store when a client is
	// configured.
	MergeEnabled bool `mapstructure:"merge-enabled"`
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:      defaultPageSize,
		DefaultPolicy: string(PolicySelected),
		MergeEnabled:  true,
	}
}

// Syncer drives sync rounds. Safe for concurrent use: all round state lives on
// the stack and side effects commit in a single immediate transaction.
type Syncer struct {
	logger  *zap.Logger
	cfg     Config
	clock   clockwork.Clock
	catalog *catalogdb.Handle
	state   *sql.Database
	store   StoreClient
}

// Opt modifies the syncer during construction.
type Opt func(*Syncer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithConfig sets the configuration.
func WithConfig(cfg Config) Opt {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

// WithStoreClient sets the upstream store client used to merge vendor records
// into responses. Without one, rounds are local-only.
func WithStoreClient(client StoreClient) Opt {
	return func(s *Syncer) {
		s.store = client
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(s *Syncer) {
		s.clock = clock
	}
}

// New creates a Syncer over the catalog and state databases.
func New(catalog *catalogdb.Handle, state *sql.Database, opts ...Opt) *Syncer {
	s := &Syncer{
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		clock:   clockwork.NewRealClock(),
		catalog: catalog,
		state:   state,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request is one device sync call.
type Request struct {
	UserID int64
	// Token is the raw cursor header from the device; empty or undecodable
	// tokens fall back to a full resync.
	Token string
	// DownloadBase prefixes the download urls embedded into entitlement
	// metadata, e.g. "https://host/<device token>".
	DownloadBase string
}

// Sync runs one round and returns the page of change records together with the
// advanced cursor. The request token is never surfaced as an error: anything
// undecodable restarts the device from a full resync.
func (s *Syncer) Sync(ctx context.Context, req *Request) (*Response, error) {
	start := s.clock.Now()
	resp, err := s.sync(ctx, req)
	roundDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		roundFail.Inc()
		return nil, err
	}
	roundSuccess.Inc()
	observeRecords(resp.Records)
	if resp.Continuation {
		continuations.Inc()
	}
	return resp, nil
}

func (s *Syncer) sync(ctx context.Context, req *Request) (*Response, error) {
	tok, err := DecodeToken(req.Token)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		s.logger.Warn("undecodable sync token, forcing full resync",
			zap.Int64("user", req.UserID),
			zap.Error(err),
		)
		tok = Token{}
	}

	// The catalog file may have been replaced by an import since the last
	// round. A failed reload keeps the previous pool, which is still
	// consistent, just stale.
	if err := s.catalog.Reload(tok.IsFullResync()); err != nil {
		s.logger.Warn("catalog reload failed, diffing against previous state", zap.Error(err))
	}

	user, err := users.Get(s.state, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", req.UserID, err)
	}

	e, err := s.resolveEligibility(user)
	if err != nil {
		return nil, fmt.Errorf("resolve eligibility: %w", err)
	}
	synced, err := syncstate.ByUser(s.state, user.ID)
	if err != nil {
		return nil, err
	}
	force, err := syncstate.ForceResync(s.state, user.ID)
	if err != nil {
		return nil, err
	}
	stateList, err := progress.ModifiedAfter(s.state, user.ID, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	stateByBook := make(map[int64]*progress.State, len(stateList))
	for _, st := range stateList {
		stateByBook[st.BookID] = st
	}

	limit := s.limitFor(user)
	ent, err := s.diffEntitlements(e, synced, stateByBook, tok, limit, req.DownloadBase)
	if err != nil {
		return nil, fmt.Errorf("diff entitlements: %w", err)
	}
	reading := s.diffReadingState(e, ent.entitled, stateList, tok, limit)
	col, err := s.diffCollections(user, e, ent.entitled, tok, force)
	if err != nil {
		return nil, fmt.Errorf("diff collections: %w", err)
	}

	next := tok.merge(Token{
		ItemsModified:       ent.itemsModified,
		ItemsCreated:        ent.itemsCreated,
		ProgressModified:    reading.progressModified,
		CollectionsModified: col.collectionsModified,
	})
	continuation := ent.continuation || reading.continuation

	var upstream []json.RawMessage
	if !continuation && s.store != nil && s.cfg.MergeEnabled {
		// Merge failures degrade to a local-only response: the device keeps
		// polling with its previous upstream state and retries next round.
		merged, err := s.store.MergeSync(ctx, tok.Upstream)
		if err != nil {
			mergeFailures.Inc()
			s.logger.Warn("upstream merge failed, responding local-only", zap.Error(err))
		} else {
			upstream = merged.Records
			continuation = continuation || merged.Continuation
			next = next.merge(Token{Upstream: merged.Token})
		}
	}

	if err := s.commit(ctx, user.ID, ent, col); err != nil {
		return nil, fmt.Errorf("commit sync round: %w", err)
	}

	records := make([]Record, 0, len(ent.records)+len(reading.records)+len(col.records))
	records = append(records, ent.records...)
	records = append(records, reading.records...)
	records = append(records, col.records...)

	s.logger.Debug("sync round complete",
		zap.Int64("user", user.ID),
		zap.String("policy", string(e.policy)),
		zap.Int("records", len(records)),
		zap.Int("upstream", len(upstream)),
		zap.Bool("continuation", continuation),
	)
	return &Response{
		Records:      records,
		Upstream:     upstream,
		Token:        next,
		Continuation: continuation,
	}, nil
}

// commit applies the round's staged side effects atomically. Run after every
// differ succeeded; a failure here leaves the previous cursor valid and the
// round is simply retried by the device.
func (s *Syncer) commit(ctx context.Context, userID int64, ent *entitlementDiff, col *collectionDiff) error {
	if len(ent.mark) == 0 && len(col.consumed) == 0 && !col.clearForce {
		return nil
	}
	now := s.clock.Now().UTC()
	return s.state.WithTxImmediate(ctx, func(tx *sql.Tx) error {
		for _, id := range ent.mark {
			if err := syncstate.Mark(tx, userID, id, now, "entitlement"); err != nil {
				return err
			}
		}
		for _, uuid := range col.consumed {
			if err := shelves.ConsumeTombstone(tx, userID, uuid); err != nil {
				return err
			}
		}
		if col.clearForce {
			if err := syncstate.ClearForceResync(tx, userID, now); err != nil {
				return err
			}
		}
		return nil
	})
}
