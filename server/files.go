package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
)

// Library serves book payloads and cover images from the content directory.
// The filesystem is injected so tests run against an in-memory one.
type Library struct {
	fs afero.Fs
}

// NewLibrary wraps the content filesystem.
func NewLibrary(fs afero.Fs) *Library {
	return &Library{fs: fs}
}

// CoverPath is where the cover image of an item lives, relative to the
// library root.
func CoverPath(uuid string) string {
	return path.Join("covers", uuid+".jpg")
}

// Open opens a library file by its catalog-relative path.
func (l *Library) Open(name string) (afero.File, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("library file %s: %w", name, sql.ErrNotFound)
		}
		return nil, fmt.Errorf("library file %s: %w", name, err)
	}
	return f, nil
}

// Size probes a library file without opening it.
func (l *Library) Size(name string) (int64, error) {
	info, err := l.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("library file %s: %w", name, sql.ErrNotFound)
		}
		return 0, fmt.Errorf("library file %s: %w", name, err)
	}
	return info.Size(), nil
}

// contentTypes maps payload formats to their media type.
var contentTypes = map[string]string{
	"EPUB":  "application/epub+zip",
	"EPUB3": "application/epub+zip",
	"KEPUB": "application/epub+zip",
	"PDF":   "application/pdf",
}

// Cover serves the cover image of an item. The trailing path spec carries the
// device's requested dimensions and quality; the stored cover is served as is
// regardless.
func (h *Handlers) Cover(c *gin.Context) {
	uuid := c.Param("uuid")
	if _, err := books.GetByUUID(h.catalog.DB(), uuid); err != nil {
		h.fail(c, err)
		return
	}
	f, err := h.library.Open(CoverPath(uuid))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", "image/jpeg")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// Download serves one payload format of an item. Under the hybrid policy a
// download of an off-shelf item is recorded as observed activity, so its
// pending removal is re-queued instead of silently dropped.
func (h *Handlers) Download(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	format := strings.ToUpper(c.Param("format"))
	book, err := books.Get(h.catalog.DB(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	stored, err := books.GetFormat(h.catalog.DB(), id, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	f, err := h.library.Open(stored.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.syncer.Observe(h.userID(c), book.UUID, "download"); err != nil {
		h.logger.Warn("record download observation", zap.String("uuid", book.UUID), zap.Error(err))
	}
	if ct, ok := contentTypes[format]; ok {
		c.Header("Content-Type", ct)
	} else {
		c.Header("Content-Type", "application/octet-stream")
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(stored.Path)))
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
