package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/archive"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/syncstate"
	"github.com/binderyhq/bindery/syncer"
)

// Metadata returns the metadata document for one item. The device asks for
// items it still holds; observing a request for a non-eligible item re-marks
// it synced so the next round re-queues its removal.
func (h *Handlers) Metadata(c *gin.Context) {
	uuid := c.Param("uuid")
	metadata, err := h.syncer.Metadata(uuid, h.downloadBase(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.syncer.Observe(h.userID(c), uuid, "metadata"); err != nil {
		h.logger.Warn("record metadata observation", zap.String("uuid", uuid), zap.Error(err))
	}
	c.JSON(http.StatusOK, []*syncer.BookMetadata{metadata})
}

// ReadingState returns the reading-state document for one item.
func (h *Handlers) ReadingState(c *gin.Context) {
	state, err := h.syncer.ReadingStateFor(h.userID(c), c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, []*syncer.ReadingState{state})
}

// stateUpdateRequest is the device's reading-state PUT body. Sections the
// device omits are left untouched and reported as ignored.
type stateUpdateRequest struct {
	ReadingStates []struct {
		EntitlementID string `json:"EntitlementId"`
		StatusInfo    *struct {
			Status string `json:"Status"`
		} `json:"StatusInfo"`
		Statistics *struct {
			SpentReadingMinutes  *int `json:"SpentReadingMinutes"`
			RemainingTimeMinutes *int `json:"RemainingTimeMinutes"`
		} `json:"Statistics"`
		CurrentBookmark *struct {
			ProgressPercent              *float64 `json:"ProgressPercent"`
			ContentSourceProgressPercent *float64 `json:"ContentSourceProgressPercent"`
			Location                     *struct {
				Value  string `json:"Value"`
				Type   string `json:"Type"`
				Source string `json:"Source"`
			} `json:"Location"`
		} `json:"CurrentBookmark"`
	} `json:"ReadingStates"`
}

type sectionResult struct {
	Result string `json:"Result"`
}

type stateUpdateResult struct {
	EntitlementID         string        `json:"EntitlementId"`
	CurrentBookmarkResult sectionResult `json:"CurrentBookmarkResult"`
	StatisticsResult      sectionResult `json:"StatisticsResult"`
	StatusInfoResult      sectionResult `json:"StatusInfoResult"`
}

// UpdateReadingState applies a device-pushed reading-progress update. A
// transition into Reading increments the times-started counter; each section
// of the body is applied independently.
func (h *Handlers) UpdateReadingState(c *gin.Context) {
	userID := h.userID(c)
	uuid := c.Param("uuid")

	var req stateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ReadingStates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"RequestResult": "Failure"})
		return
	}

	book, err := books.GetByUUID(h.catalog.DB(), uuid)
	if err != nil {
		h.fail(c, err)
		return
	}
	state, err := progress.Get(h.state, userID, book.ID)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		state = &progress.State{UserID: userID, BookID: book.ID}
	case err != nil:
		h.fail(c, err)
		return
	}

	now := h.now()
	update := req.ReadingStates[0]
	result := stateUpdateResult{
		EntitlementID:         uuid,
		CurrentBookmarkResult: sectionResult{Result: "Ignored"},
		StatisticsResult:      sectionResult{Result: "Ignored"},
		StatusInfoResult:      sectionResult{Result: "Ignored"},
	}
	if info := update.StatusInfo; info != nil {
		if info.Status == progress.StatusReading && state.Status != progress.StatusReading {
			state.TimesStarted++
		}
		state.Status = info.Status
		result.StatusInfoResult.Result = "Success"
	}
	if stats := update.Statistics; stats != nil {
		if stats.SpentReadingMinutes != nil {
			state.SpentMinutes = *stats.SpentReadingMinutes
		}
		if stats.RemainingTimeMinutes != nil {
			state.RemainingMinutes = *stats.RemainingTimeMinutes
		}
		result.StatisticsResult.Result = "Success"
	}
	if bookmark := update.CurrentBookmark; bookmark != nil {
		state.ProgressPercent = bookmark.ProgressPercent
		state.SourceProgressPercent = bookmark.ContentSourceProgressPercent
		if bookmark.Location != nil {
			state.LocationValue = bookmark.Location.Value
			state.LocationType = bookmark.Location.Type
			state.LocationSource = bookmark.Location.Source
		}
		result.CurrentBookmarkResult.Result = "Success"
	}
	state.Modified = now
	state.Priority = now
	if err := progress.Upsert(h.state, state); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"RequestResult": "Success",
		"UpdateResults": []stateUpdateResult{result},
	})
}

// ArchiveItem flags the item archived for the user and retires its synced
// record: the device told us it dropped the book. Unknown items succeed too,
// the device's goal state is already met.
func (h *Handlers) ArchiveItem(c *gin.Context) {
	book, err := books.GetByUUID(h.catalog.DB(), c.Param("uuid"))
	switch {
	case errors.Is(err, sql.ErrNotFound):
		c.Status(http.StatusNoContent)
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	userID := h.userID(c)
	now := h.now()
	if err := h.state.WithTx(c.Request.Context(), func(tx *sql.Tx) error {
		if err := archive.Set(tx, userID, book.ID, true, now); err != nil {
			return err
		}
		return syncstate.Unmark(tx, userID, book.ID)
	}); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
