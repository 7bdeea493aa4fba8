package syncer

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/facets"
	"github.com/binderyhq/bindery/sql/facetprefs"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/users"
)

// collectionDiff is the collection differ outcome for one round.
type collectionDiff struct {
	records             []Record
	collectionsModified time.Time
	// consumed tombstone uuids are deleted in the round's commit.
	consumed []string
	// clearForce is set when the force-resync flag was up and the generated
	// flow completed, so the commit may retire the flag.
	clearForce bool
}

// diffCollections runs the manual and generated sub-flows against the same
// eligibility snapshot. force bypasses the CollectionsModified gate for the
// whole differ.
func (s *Syncer) diffCollections(
	user *users.User,
	e *eligibility,
	entitled map[int64]struct{},
	tok Token,
	force bool,
) (*collectionDiff, error) {
	gate := tok.CollectionsModified
	if force {
		gate = time.Time{}
	}
	diff := &collectionDiff{collectionsModified: tok.CollectionsModified}

	if err := s.diffManualShelves(diff, user, e, entitled, gate); err != nil {
		return nil, err
	}
	if err := s.diffTombstones(diff, user, gate); err != nil {
		return nil, err
	}
	if err := s.diffGeneratedShelves(diff, user, e, gate, force); err != nil {
		return nil, err
	}
	diff.clearForce = force
	return diff, nil
}

func (s *Syncer) diffManualShelves(
	diff *collectionDiff,
	user *users.User,
	e *eligibility,
	entitled map[int64]struct{},
	gate time.Time,
) error {
	all, err := shelves.ByUser(s.state, user.ID, false)
	if err != nil {
		return fmt.Errorf("load shelves: %w", err)
	}
	for _, shelf := range all {
		if shelf.Name == OptInShelfName {
			// The opt-in shelf never reaches the device, but its membership
			// times feed the entitlement triggers, so the watermark must
			// cover them.
			diff.collectionsModified = maxTime(diff.collectionsModified, shelf.Modified)
			continue
		}
		if e.policy != PolicyAll && !shelf.SyncEnabled {
			// Toggled off: the device drops the collection once.
			if shelf.Modified.After(gate) {
				diff.records = append(diff.records, deletedTag(shelf.UUID))
				diff.collectionsModified = maxTime(diff.collectionsModified, shelf.Modified)
			}
			continue
		}

		items, err := shelves.Items(s.state, shelf.ID)
		if err != nil {
			return fmt.Errorf("members of shelf %d: %w", shelf.ID, err)
		}
		members := make([]TagItem, 0, len(items))
		entitledMember := false
		for _, item := range items {
			if !e.visible(item.BookID) {
				continue
			}
			if _, ok := entitled[item.BookID]; ok {
				entitledMember = true
			}
			members = append(members, TagItem{
				RevisionID: e.catalog[item.BookID].UUID,
				Type:       tagItemType,
			})
		}

		// Hybrid has no per-link removal timestamp to diff against, so every
		// sync-enabled shelf is re-sent in full each round.
		emit := e.policy == PolicyHybrid || shelf.Modified.After(gate) || entitledMember
		if !emit {
			continue
		}
		if len(members) == 0 && !s.cfg.IncludeEmptyCollections {
			diff.records = append(diff.records, deletedTag(shelf.UUID))
			diff.collectionsModified = maxTime(diff.collectionsModified, shelf.Modified)
			continue
		}
		kind := KindChangedTag
		if e.policy == PolicyHybrid || shelf.Created.After(gate) {
			kind = KindNewTag
		}
		created, modified := NewTimestamp(shelf.Created), NewTimestamp(shelf.Modified)
		diff.records = append(diff.records, Record{
			Kind: kind,
			Tag: &TagPayload{Tag: Tag{
				ID:           shelf.UUID,
				Created:      &created,
				LastModified: &modified,
				Name:         shelf.Name,
				Type:         tagTypeUser,
				Items:        members,
			}},
		})
		diff.collectionsModified = maxTime(diff.collectionsModified, shelf.Modified)
	}
	return nil
}

func (s *Syncer) diffTombstones(diff *collectionDiff, user *users.User, gate time.Time) error {
	stones, err := shelves.Tombstones(s.state, user.ID, gate)
	if err != nil {
		return fmt.Errorf("load tombstones: %w", err)
	}
	for _, stone := range stones {
		diff.records = append(diff.records, deletedTag(stone.UUID))
		diff.consumed = append(diff.consumed, stone.UUID)
		diff.collectionsModified = maxTime(diff.collectionsModified, stone.Deleted)
	}
	return nil
}

// diffGeneratedShelves recomputes every enabled facet collection from the
// catalog. Computation fails closed: any facet query error aborts the round
// instead of shipping a silently shrunken collection. When the user's master
// facet toggle is off, every pref counts as disabled so a forced round deletes
// previously shipped generated shelves instead of leaving them behind.
func (s *Syncer) diffGeneratedShelves(
	diff *collectionDiff,
	user *users.User,
	e *eligibility,
	gate time.Time,
	force bool,
) error {
	prefs, err := facetprefs.ByUser(s.state, user.ID)
	if err != nil {
		return fmt.Errorf("facet preferences: %w", err)
	}
	for _, pref := range prefs {
		selector := facets.Selector{Source: pref.Source, Value: pref.Value}
		if !pref.SyncEnabled || !user.SyncFacets {
			if force || pref.Modified.After(gate) {
				diff.records = append(diff.records, deletedTag(selector.UUID()))
				diff.collectionsModified = maxTime(diff.collectionsModified, pref.Modified)
			}
			continue
		}

		items, err := facets.Items(s.catalog.DB(), selector)
		if err != nil {
			return fmt.Errorf("compute generated shelf %s: %w", selector, err)
		}
		members := make([]TagItem, 0, len(items))
		trigger := pref.Modified
		for _, item := range items {
			if !e.allows(item.ID) {
				continue
			}
			members = append(members, TagItem{RevisionID: item.UUID, Type: tagItemType})
			trigger = maxTime(trigger, item.Modified)
			trigger = maxTime(trigger, e.memberAdded[item.ID])
		}

		if len(members) == 0 && !s.cfg.IncludeEmptyCollections {
			// Re-sent every round: a collection that lost its last eligible
			// member must not linger on the device, and a duplicate deletion
			// is a no-op there.
			diff.records = append(diff.records, deletedTag(selector.UUID()))
			diff.collectionsModified = maxTime(diff.collectionsModified, pref.Modified)
			continue
		}
		if !force && !trigger.After(gate) {
			continue
		}
		created, modified := NewTimestamp(pref.Modified), NewTimestamp(trigger)
		// Generated shelves have no persisted identity to "change": the
		// stable id makes NewTag an idempotent upsert on the device.
		diff.records = append(diff.records, Record{
			Kind: KindNewTag,
			Tag: &TagPayload{Tag: Tag{
				ID:           selector.UUID(),
				Created:      &created,
				LastModified: &modified,
				Name:         selector.Name(),
				Type:         tagTypeUser,
				Items:        members,
			}},
		})
		diff.collectionsModified = maxTime(diff.collectionsModified, trigger)
	}
	return nil
}

func deletedTag(id string) Record {
	return Record{Kind: KindDeletedTag, Tag: &TagPayload{Tag: Tag{ID: id}}}
}
