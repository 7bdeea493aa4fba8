package syncer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/syncstate"
)

// entitlementDiff is the entitlement differ outcome for one round. Gates and
// staged side effects are applied by the orchestrator only after every differ
// succeeded.
type entitlementDiff struct {
	records []Record
	// entitled holds the ids that carry a non-removal entitlement this round;
	// the reading-state differ excludes them and the collection differ
	// force-includes shelves containing them.
	entitled map[int64]struct{}
	// mark is the staged set of synced_items upserts.
	mark []int64

	itemsModified time.Time
	itemsCreated  time.Time
	continuation  bool
}

// entitlementCandidate is one item selected for this round's page, with its
// membership-adjusted timestamps resolved.
type entitlementCandidate struct {
	id       int64
	created  time.Time
	modified time.Time
}

// diffEntitlements computes the paginated entitlement changes since tok.
//
// Selection unions three triggers: items never synced to this user, items
// modified after the ItemsModified gate, and items whose shelf placement is
// newer than the CollectionsModified gate. Pages advance in modification
// order so the ItemsModified watermark never outruns an unserved change.
// Removals (synced items no longer eligible) ride along without counting
// against the page limit; their synced_items rows stay put until the archive
// flow retires them.
func (s *Syncer) diffEntitlements(
	e *eligibility,
	synced map[int64]syncstate.Record,
	states map[int64]*progress.State,
	tok Token,
	limit int,
	downloadBase string,
) (*entitlementDiff, error) {
	candidates := make([]entitlementCandidate, 0, len(e.catalog))
	for id, summary := range e.catalog {
		if !e.allows(id) {
			continue
		}
		effCreated, effModified := e.effectiveTimes(summary)
		_, isSynced := synced[id]
		switch {
		case !isSynced:
		case effModified.After(tok.ItemsModified):
		case e.memberAdded[id].After(tok.CollectionsModified):
		default:
			continue
		}
		candidates = append(candidates, entitlementCandidate{id: id, created: effCreated, modified: effModified})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].modified.Equal(candidates[j].modified) {
			return candidates[i].modified.Before(candidates[j].modified)
		}
		return candidates[i].id < candidates[j].id
	})

	diff := &entitlementDiff{
		entitled:      map[int64]struct{}{},
		itemsModified: tok.ItemsModified,
		itemsCreated:  tok.ItemsCreated,
	}
	if len(candidates) > limit {
		// Timestamps have second granularity, so a cut inside a run of equal
		// modification times would advance the watermark past unserved rows.
		// Extend the page to the end of the run instead.
		cut := limit
		for cut < len(candidates) && candidates[cut].modified.Equal(candidates[cut-1].modified) {
			cut++
		}
		if cut < len(candidates) {
			candidates = candidates[:cut]
			diff.continuation = true
		}
	}

	for _, cand := range candidates {
		summary := e.catalog[cand.id]
		kind := KindChangedEntitlement
		if cand.created.After(tok.ItemsCreated) {
			kind = KindNewEntitlement
		}
		record, err := s.buildEntitlement(summary, states[cand.id], kind, cand.created, cand.modified, downloadBase)
		switch {
		case errors.Is(err, sql.ErrNotFound):
			// The item vanished between the summary snapshot and metadata
			// resolution. Skip it; the page goes on.
			s.logger.Warn("skipping unresolvable item",
				zap.Int64("book", cand.id),
				zap.Error(err),
			)
			itemResolutionFailures.Inc()
			continue
		case err != nil:
			return nil, fmt.Errorf("entitlement for book %d: %w", cand.id, err)
		}
		diff.records = append(diff.records, record)
		diff.entitled[cand.id] = struct{}{}
		diff.mark = append(diff.mark, cand.id)
		diff.itemsModified = maxTime(diff.itemsModified, cand.modified)
		diff.itemsCreated = maxTime(diff.itemsCreated, cand.created)
	}

	// A partial window must not re-classify later creations as changes.
	if diff.continuation {
		diff.itemsCreated = tok.ItemsCreated
	}

	removals, err := s.buildRemovals(e, synced)
	if err != nil {
		return nil, err
	}
	diff.records = append(diff.records, removals...)
	return diff, nil
}

func (s *Syncer) buildRemovals(e *eligibility, synced map[int64]syncstate.Record) ([]Record, error) {
	ids := make([]int64, 0, len(synced))
	for id := range synced {
		if !e.allows(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var records []Record
	for _, id := range ids {
		entitlementID := ""
		if summary, ok := e.catalog[id]; ok {
			entitlementID = summary.UUID
		} else {
			var err error
			entitlementID, err = books.UUIDByID(s.catalog.DB(), id)
			if errors.Is(err, sql.ErrNotFound) {
				// The catalog row is gone entirely; there is no id the
				// device would recognize.
				s.logger.Debug("synced item no longer in catalog", zap.Int64("book", id))
				continue
			} else if err != nil {
				return nil, fmt.Errorf("removal for book %d: %w", id, err)
			}
		}
		// Timestamps reuse the original sync time so replays of the same
		// cursor produce identical payloads.
		when := NewTimestamp(synced[id].Synced)
		records = append(records, Record{
			Kind: KindChangedEntitlement,
			Entitlement: &EntitlementPayload{
				BookEntitlement: BookEntitlement{
					Accessibility:   accessibilityFull,
					ActivePeriod:    ActivePeriod{From: when},
					Created:         when,
					CrossRevisionID: entitlementID,
					ID:              entitlementID,
					IsRemoved:       true,
					LastModified:    when,
					OriginCategory:  originImported,
					RevisionID:      entitlementID,
					Status:          statusActive,
				},
			},
		})
	}
	return records, nil
}

func (s *Syncer) buildEntitlement(
	summary books.Summary,
	state *progress.State,
	kind RecordKind,
	effCreated, effModified time.Time,
	downloadBase string,
) (Record, error) {
	metadata, err := s.buildMetadata(summary, downloadBase)
	if err != nil {
		return Record{}, err
	}
	reading := wireReadingState(summary, state)
	return Record{
		Kind: kind,
		Entitlement: &EntitlementPayload{
			BookEntitlement: BookEntitlement{
				Accessibility:   accessibilityFull,
				ActivePeriod:    ActivePeriod{From: NewTimestamp(effCreated)},
				Created:         NewTimestamp(effCreated),
				CrossRevisionID: summary.UUID,
				ID:              summary.UUID,
				LastModified:    NewTimestamp(effModified),
				OriginCategory:  originImported,
				RevisionID:      summary.UUID,
				Status:          statusActive,
			},
			BookMetadata: metadata,
			ReadingState: &reading,
		},
	}, nil
}

// formatRank orders download formats by device preference.
func formatRank(format string) int {
	switch format {
	case "KEPUB":
		return 0
	case "EPUB3":
		return 1
	case "EPUB":
		return 2
	}
	return 3
}

func (s *Syncer) buildMetadata(summary books.Summary, downloadBase string) (*BookMetadata, error) {
	db := s.catalog.DB()
	book, err := books.Get(db, summary.ID)
	if err != nil {
		return nil, err
	}
	contributors, err := books.Contributors(db, summary.ID)
	if err != nil {
		return nil, err
	}
	formats, err := books.Formats(db, summary.ID)
	if err != nil {
		return nil, err
	}
	publishers, err := books.Publishers(db, summary.ID)
	if err != nil {
		return nil, err
	}
	languages, err := books.Languages(db, summary.ID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(formats, func(i, j int) bool {
		ri, rj := formatRank(formats[i].Format), formatRank(formats[j].Format)
		if ri != rj {
			return ri < rj
		}
		return formats[i].Format < formats[j].Format
	})
	urls := make([]DownloadURL, 0, len(formats))
	for _, format := range formats {
		urls = append(urls, DownloadURL{
			DRMType:  drmTypeNone,
			Format:   format.Format,
			Size:     format.Size,
			URL:      fmt.Sprintf("%s/download/%d/%s", downloadBase, book.ID, strings.ToLower(format.Format)),
			Platform: downloadPlatform,
		})
	}

	roles := make([]Contributor, 0, len(contributors))
	for _, name := range contributors {
		roles = append(roles, Contributor{Name: name})
	}

	metadata := &BookMetadata{
		CrossRevisionID:  book.UUID,
		RevisionID:       book.UUID,
		EntitlementID:    book.UUID,
		WorkID:           book.UUID,
		Title:            book.Title,
		Description:      book.Description,
		Contributors:     contributors,
		ContributorRoles: roles,
		PublicationDate:  book.PublicationDate,
		DownloadUrls:     urls,
		CoverImageID:     book.UUID,
	}
	if len(publishers) > 0 {
		metadata.Publisher = Publisher{Name: publishers[0]}
	}
	if len(languages) > 0 {
		metadata.Language = languages[0]
	}
	if book.Series != "" {
		metadata.Series = &Series{
			Name:        book.Series,
			Number:      strconv.FormatFloat(book.SeriesIndex, 'f', -1, 64),
			NumberFloat: book.SeriesIndex,
			ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("bindery://series/"+book.Series)).String(),
		}
	}
	return metadata, nil
}

// wireReadingState converts a stored reading state row, or synthesizes the
// untouched default when the user never opened the book.
func wireReadingState(summary books.Summary, state *progress.State) ReadingState {
	if state == nil {
		created := NewTimestamp(summary.Created)
		return ReadingState{
			EntitlementID:     summary.UUID,
			Created:           created,
			LastModified:      created,
			PriorityTimestamp: created,
			StatusInfo: StatusInfo{
				LastModified: created,
				Status:       progress.StatusReadyToRead,
			},
			Statistics:      Statistics{LastModified: created},
			CurrentBookmark: CurrentBookmark{LastModified: created},
		}
	}
	modified := NewTimestamp(state.Modified)
	reading := ReadingState{
		EntitlementID:     summary.UUID,
		Created:           NewTimestamp(summary.Created),
		LastModified:      modified,
		PriorityTimestamp: NewTimestamp(state.Priority),
		StatusInfo: StatusInfo{
			LastModified:        modified,
			Status:              state.Status,
			TimesStartedReading: state.TimesStarted,
		},
		Statistics: Statistics{LastModified: modified},
		CurrentBookmark: CurrentBookmark{
			LastModified:                 modified,
			ProgressPercent:              state.ProgressPercent,
			ContentSourceProgressPercent: state.SourceProgressPercent,
		},
	}
	if state.SpentMinutes > 0 {
		spent := state.SpentMinutes
		reading.Statistics.SpentReadingMinutes = &spent
	}
	if state.RemainingMinutes > 0 {
		remaining := state.RemainingMinutes
		reading.Statistics.RemainingTimeMinutes = &remaining
	}
	if state.LocationValue != "" {
		reading.CurrentBookmark.Location = &Location{
			Value:  state.LocationValue,
			Type:   state.LocationType,
			Source: state.LocationSource,
		}
	}
	return reading
}
