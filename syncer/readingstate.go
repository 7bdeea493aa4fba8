package syncer

import (
	"time"

	"github.com/binderyhq/bindery/sql/progress"
)

// readingStateDiff is the reading-state differ outcome for one round.
type readingStateDiff struct {
	records          []Record
	progressModified time.Time
	continuation     bool
}

// diffReadingState emits reading-state rows modified after the
// ProgressModified gate. Items entitled in the same round already carry their
// reading state inside the entitlement payload, so they only advance the gate
// without producing a duplicate record. The states slice must be ordered by
// modification time ascending.
func (s *Syncer) diffReadingState(
	e *eligibility,
	entitled map[int64]struct{},
	states []*progress.State,
	tok Token,
	limit int,
) *readingStateDiff {
	diff := &readingStateDiff{progressModified: tok.ProgressModified}
	for _, state := range states {
		if !state.Modified.After(tok.ProgressModified) {
			continue
		}
		if !e.allows(state.BookID) {
			continue
		}
		if _, ok := entitled[state.BookID]; ok {
			diff.progressModified = maxTime(diff.progressModified, state.Modified)
			continue
		}
		if len(diff.records) == limit {
			diff.continuation = true
			break
		}
		reading := wireReadingState(e.catalog[state.BookID], state)
		diff.records = append(diff.records, Record{
			Kind:    KindChangedReadingState,
			Reading: &ReadingStatePayload{ReadingState: reading},
		})
		diff.progressModified = maxTime(diff.progressModified, state.Modified)
	}
	return diff
}
