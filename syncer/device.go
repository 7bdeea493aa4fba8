package syncer

import (
	"errors"
	"fmt"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/syncstate"
	"github.com/binderyhq/bindery/sql/users"
)

// Metadata returns the device metadata document for the catalog item with the
// given revision id. downloadBase is the absolute url prefix for payload
// links, the same one passed on sync requests.
func (s *Syncer) Metadata(uuid, downloadBase string) (*BookMetadata, error) {
	book, err := books.GetByUUID(s.catalog.DB(), uuid)
	if err != nil {
		return nil, err
	}
	return s.buildMetadata(summaryOf(book), downloadBase)
}

// ReadingStateFor returns the device reading-state document for one item,
// synthesizing the untouched default when the user never opened it.
func (s *Syncer) ReadingStateFor(userID int64, uuid string) (*ReadingState, error) {
	book, err := books.GetByUUID(s.catalog.DB(), uuid)
	if err != nil {
		return nil, err
	}
	state, err := progress.Get(s.state, userID, book.ID)
	if err != nil && !errors.Is(err, sql.ErrNotFound) {
		return nil, err
	}
	reading := wireReadingState(summaryOf(book), state)
	return &reading, nil
}

// Observe records device activity against an item that may sit outside the
// eligible set. Under the hybrid policy an item off the opt-in shelf is
// re-marked synced, so the next round queues its removal again; under the
// other policies observation is a no-op.
func (s *Syncer) Observe(userID int64, uuid, activity string) error {
	book, err := books.GetByUUID(s.catalog.DB(), uuid)
	if err != nil {
		return err
	}
	user, err := users.Get(s.state, userID)
	if err != nil {
		return err
	}
	if s.policyFor(user) != PolicyHybrid {
		return nil
	}
	shelf, err := shelves.GetByName(s.state, userID, OptInShelfName)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		// no opt-in shelf yet, everything the device touches is off-shelf
	case err != nil:
		return err
	default:
		has, err := shelves.HasItem(s.state, shelf.ID, book.ID)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
	}
	if err := syncstate.Mark(s.state, userID, book.ID, s.clock.Now().UTC(), "observed:"+activity); err != nil {
		return fmt.Errorf("record observed %s: %w", activity, err)
	}
	return nil
}

func summaryOf(book *books.Book) books.Summary {
	return books.Summary{ID: book.ID, UUID: book.UUID, Created: book.Created, Modified: book.Modified}
}
