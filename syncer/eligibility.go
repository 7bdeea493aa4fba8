package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/facets"
	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/archive"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/facetprefs"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/users"
)

// Policy selects how the eligible item set is computed for a user.
type Policy string

const (
	// PolicyAll syncs every non-archived item in the catalog.
	PolicyAll Policy = "all"
	// PolicySelected syncs items on sync-enabled shelves plus, when the user
	// opted in, items matching enabled facet values.
	PolicySelected Policy = "selected"
	// PolicyHybrid syncs only items the user placed on the reserved opt-in
	// shelf.
	PolicyHybrid Policy = "hybrid"
)

// OptInShelfName is the reserved shelf driving PolicyHybrid. It is created on
// demand, kept non-public and non-sync-enabled, and never surfaced to the
// device as a collection.
const OptInShelfName = "Device Sync"

// ParsePolicy validates a policy string.
func ParsePolicy(raw string) (Policy, bool) {
	switch Policy(raw) {
	case PolicyAll, PolicySelected, PolicyHybrid:
		return Policy(raw), true
	}
	return "", false
}

// eligibility is the per-round snapshot every differ works against. It is
// recomputed on each sync call and never cached across requests: shelf
// membership, archive flags and policy can all change between polls.
type eligibility struct {
	policy Policy

	// catalog holds every visible item; differs resolve candidates against it.
	catalog map[int64]books.Summary
	// allowed is nil under PolicyAll (unrestricted); otherwise membership of
	// the policy-derived set.
	allowed map[int64]struct{}
	// memberAdded is the latest qualifying shelf/facet opt-in time per item.
	memberAdded map[int64]time.Time
	// archived items are excluded regardless of policy.
	archived map[int64]struct{}
}

func (e *eligibility) allows(id int64) bool {
	if _, ok := e.archived[id]; ok {
		return false
	}
	if _, ok := e.catalog[id]; !ok {
		return false
	}
	if e.allowed == nil {
		return true
	}
	_, ok := e.allowed[id]
	return ok
}

func (e *eligibility) restricted() bool {
	return e.allowed != nil
}

// visible reports whether a collection may list the item: present in the
// catalog and not archived. Manual shelves list their full visible membership
// even when the policy would not entitle every member.
func (e *eligibility) visible(id int64) bool {
	if _, ok := e.archived[id]; ok {
		return false
	}
	_, ok := e.catalog[id]
	return ok
}

// effectiveTimes folds the membership opt-in time into the item timestamps so
// that placing an old book on a shelf makes it "new" for the cursor.
func (e *eligibility) effectiveTimes(s books.Summary) (created, modified time.Time) {
	created, modified = s.Created, s.Modified
	if added, ok := e.memberAdded[s.ID]; ok {
		created = maxTime(created, added)
		modified = maxTime(modified, added)
	}
	return created, modified
}

func (e *eligibility) include(id int64, added time.Time) {
	e.allowed[id] = struct{}{}
	if added.After(e.memberAdded[id]) {
		e.memberAdded[id] = added
	}
}

// resolveEligibility computes the allowed item set for one round. Facet
// queries fail closed: any error aborts the round instead of shrinking the
// set silently.
func (s *Syncer) resolveEligibility(user *users.User) (*eligibility, error) {
	summaries, err := books.Summaries(s.catalog.DB())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	archived, err := archive.ByUser(s.state, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load archive flags: %w", err)
	}
	e := &eligibility{
		policy:      s.policyFor(user),
		catalog:     make(map[int64]books.Summary, len(summaries)),
		memberAdded: map[int64]time.Time{},
		archived:    archived,
	}
	for _, summary := range summaries {
		e.catalog[summary.ID] = summary
	}

	switch e.policy {
	case PolicyAll:
		// allowed stays nil: unrestricted.
	case PolicySelected:
		e.allowed = map[int64]struct{}{}
		if err := s.includeShelfMembers(e, user.ID); err != nil {
			return nil, err
		}
		if user.SyncFacets {
			if err := s.includeFacetMembers(e, user.ID); err != nil {
				return nil, err
			}
		}
	case PolicyHybrid:
		e.allowed = map[int64]struct{}{}
		shelf, err := s.ensureOptInShelf(user.ID)
		if err != nil {
			return nil, err
		}
		items, err := shelves.Items(s.state, shelf.ID)
		if err != nil {
			return nil, fmt.Errorf("opt-in shelf members: %w", err)
		}
		for _, item := range items {
			e.include(item.BookID, item.Added)
		}
	}
	return e, nil
}

func (s *Syncer) includeShelfMembers(e *eligibility, userID int64) error {
	enabled, err := shelves.ByUser(s.state, userID, true)
	if err != nil {
		return fmt.Errorf("sync-enabled shelves: %w", err)
	}
	for _, shelf := range enabled {
		if shelf.Name == OptInShelfName {
			continue
		}
		items, err := shelves.Items(s.state, shelf.ID)
		if err != nil {
			return fmt.Errorf("members of shelf %d: %w", shelf.ID, err)
		}
		for _, item := range items {
			e.include(item.BookID, item.Added)
		}
	}
	return nil
}

func (s *Syncer) includeFacetMembers(e *eligibility, userID int64) error {
	prefs, err := facetprefs.ByUser(s.state, userID)
	if err != nil {
		return fmt.Errorf("facet preferences: %w", err)
	}
	for _, selector := range facets.Enabled(prefs) {
		pref := prefFor(prefs, selector)
		items, err := facets.Items(s.catalog.DB(), selector)
		if err != nil {
			return fmt.Errorf("facet members: %w", err)
		}
		for _, item := range items {
			e.include(item.ID, pref.Modified)
		}
	}
	return nil
}

func prefFor(prefs []facetprefs.Pref, selector facets.Selector) facetprefs.Pref {
	for _, p := range prefs {
		if p.Source == selector.Source && p.Value == selector.Value {
			return p
		}
	}
	return facetprefs.Pref{}
}

// ensureOptInShelf returns the reserved hybrid shelf, creating it on first
// use and forcing it back to non-public, non-sync-enabled if it drifted.
func (s *Syncer) ensureOptInShelf(userID int64) (*shelves.Shelf, error) {
	shelf, err := shelves.GetByName(s.state, userID, OptInShelfName)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		now := s.clock.Now().UTC()
		shelf = &shelves.Shelf{
			UUID:     uuid.NewString(),
			UserID:   userID,
			Name:     OptInShelfName,
			Created:  now,
			Modified: now,
		}
		if _, err := shelves.Add(s.state, shelf); err != nil {
			return nil, fmt.Errorf("create opt-in shelf: %w", err)
		}
		s.logger.Info("created hybrid opt-in shelf",
			zap.Int64("user", userID),
			zap.String("uuid", shelf.UUID),
		)
		return shelf, nil
	case err != nil:
		return nil, fmt.Errorf("opt-in shelf: %w", err)
	}
	now := s.clock.Now().UTC()
	if shelf.SyncEnabled {
		if err := shelves.SetSyncEnabled(s.state, shelf.ID, false, now); err != nil {
			return nil, fmt.Errorf("reset opt-in shelf sync flag: %w", err)
		}
		shelf.SyncEnabled = false
	}
	if shelf.Public {
		if err := shelves.SetPublic(s.state, shelf.ID, false, now); err != nil {
			return nil, fmt.Errorf("reset opt-in shelf visibility: %w", err)
		}
		shelf.Public = false
	}
	return shelf, nil
}

func (s *Syncer) policyFor(user *users.User) Policy {
	if policy, ok := ParsePolicy(user.SyncPolicy); ok {
		return policy
	}
	if policy, ok := ParsePolicy(s.cfg.DefaultPolicy); ok {
		return policy
	}
	return PolicySelected
}

// Page limit bounds enforced on any configured or user-supplied value.
const (
	minPageSize     = 10
	maxPageSize     = 500
	defaultPageSize = 100
)

func (s *Syncer) limitFor(user *users.User) int {
	limit := user.SyncLimit
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit < minPageSize {
		limit = minPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}
