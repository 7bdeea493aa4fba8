package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/syncer"
)

// tagRequest is the device body for tag creation and rename.
type tagRequest struct {
	Name  string   `json:"Name"`
	Items []string `json:"Items"`
}

// tagItemsRequest lists member revisions to add or remove.
type tagItemsRequest struct {
	Items []struct {
		RevisionID string `json:"RevisionId"`
		Type       string `json:"Type"`
	} `json:"Items"`
}

// CreateTag creates a shelf from a device-side collection. Device-created
// shelves are sync-enabled from the start, the device expects to see them in
// its next round.
func (h *Handlers) CreateTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag"})
		return
	}
	if req.Name == syncer.OptInShelfName {
		c.JSON(http.StatusConflict, gin.H{"error": "reserved collection name"})
		return
	}
	now := h.now()
	shelf := &shelves.Shelf{
		UUID:        uuid.NewString(),
		UserID:      h.userID(c),
		Name:        req.Name,
		SyncEnabled: true,
		Created:     now,
		Modified:    now,
	}
	if _, err := shelves.Add(h.state, shelf); err != nil {
		h.fail(c, err)
		return
	}
	h.addMembers(c, shelf, req.Items)
	c.JSON(http.StatusCreated, shelf.UUID)
}

// RenameTag renames an owned shelf.
func (h *Handlers) RenameTag(c *gin.Context) {
	shelf, ok := h.ownedShelf(c)
	if !ok {
		return
	}
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag"})
		return
	}
	if err := shelves.Rename(h.state, shelf.ID, req.Name, h.now()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// DeleteTag deletes an owned shelf. The deletion archive keeps a tombstone
// that the next sync round turns into a DeletedTag record.
func (h *Handlers) DeleteTag(c *gin.Context) {
	shelf, ok := h.ownedShelf(c)
	if !ok {
		return
	}
	if err := shelves.Delete(h.state, shelf.ID, h.now()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// AddTagItems adds catalog items to an owned shelf.
func (h *Handlers) AddTagItems(c *gin.Context) {
	shelf, ok := h.ownedShelf(c)
	if !ok {
		return
	}
	var req tagItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid items"})
		return
	}
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.RevisionID)
	}
	h.addMembers(c, shelf, ids)
	c.JSON(http.StatusCreated, gin.H{})
}

// RemoveTagItems removes catalog items from an owned shelf.
func (h *Handlers) RemoveTagItems(c *gin.Context) {
	shelf, ok := h.ownedShelf(c)
	if !ok {
		return
	}
	var req tagItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid items"})
		return
	}
	now := h.now()
	for _, item := range req.Items {
		book, err := books.GetByUUID(h.catalog.DB(), item.RevisionID)
		if errors.Is(err, sql.ErrNotFound) {
			continue
		} else if err != nil {
			h.fail(c, err)
			return
		}
		if err := shelves.RemoveItem(h.state, shelf.ID, book.ID, now); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{})
}

// addMembers resolves item uuids and links them to the shelf. Unknown uuids
// are skipped: the device may reference store-side items this server never
// carried.
func (h *Handlers) addMembers(c *gin.Context, shelf *shelves.Shelf, uuids []string) {
	now := h.now()
	for _, id := range uuids {
		book, err := books.GetByUUID(h.catalog.DB(), id)
		if err != nil {
			h.logger.Debug("skipping unknown tag item",
				zap.String("uuid", id),
				zap.Error(err),
			)
			continue
		}
		if err := shelves.AddItem(h.state, shelf.ID, book.ID, now); err != nil {
			h.logger.Warn("add tag item",
				zap.Int64("shelf", shelf.ID),
				zap.Int64("book", book.ID),
				zap.Error(err),
			)
		}
	}
}

// ownedShelf loads the shelf addressed by the :id route param and verifies
// the caller owns it. Foreign and unknown shelves both answer 404, the id
// space is not probeable.
func (h *Handlers) ownedShelf(c *gin.Context) (*shelves.Shelf, bool) {
	shelf, err := shelves.GetByUUID(h.state, c.Param("id"))
	if errors.Is(err, sql.ErrNotFound) || (err == nil && shelf.UserID != h.userID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	} else if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if shelf.Name == syncer.OptInShelfName {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	return shelf, true
}
