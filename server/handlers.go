package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/config"
	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/catalogdb"
	"github.com/binderyhq/bindery/sql/users"
	"github.com/binderyhq/bindery/storeproxy"
	"github.com/binderyhq/bindery/syncer"
)

const (
	headerSyncToken        = syncer.HeaderSyncToken
	headerSyncContinuation = syncer.HeaderSyncContinuation

	ctxUserID    = "bindery-user"
	ctxPathToken = "bindery-token"
)

// Handlers serves the device API. All of its dependencies are injected by the
// App; none are package-level.
type Handlers struct {
	cfg     *config.Config
	logger  *zap.Logger
	state   *sql.Database
	catalog *catalogdb.Handle
	library *Library
	store   *storeproxy.Client
	syncer  *syncer.Syncer
	clock   clockwork.Clock

	// tokenCache keeps resolved device tokens out of the hot path; entries
	// expire so revocations take effect within the TTL.
	tokenCache *lru.LRU[string, int64]
}

func (h *Handlers) now() time.Time {
	return h.clock.Now().UTC()
}

// Auth resolves the path token to its owning user or fails the request with
// 401. Resolved tokens are cached with a bounded TTL; a cache miss touches
// the token's last-seen time.
func (h *Handlers) Auth() gin.HandlerFunc {
	if h.tokenCache == nil {
		h.tokenCache = lru.NewLRU[string, int64](
			h.cfg.Server.TokenCacheSize, nil, h.cfg.Server.TokenCacheTTL,
		)
	}
	return func(c *gin.Context) {
		token := c.Param("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing device token"})
			return
		}
		if userID, ok := h.tokenCache.Get(token); ok {
			c.Set(ctxUserID, userID)
			c.Set(ctxPathToken, token)
			c.Next()
			return
		}
		dt, err := users.GetToken(h.state, token)
		switch {
		case errors.Is(err, sql.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown device token"})
			return
		case err != nil:
			h.fail(c, err)
			c.Abort()
			return
		}
		if err := users.TouchToken(h.state, token, h.now()); err != nil {
			h.logger.Warn("touch device token", zap.Error(err))
		}
		h.tokenCache.Add(token, dt.UserID)
		c.Set(ctxUserID, dt.UserID)
		c.Set(ctxPathToken, token)
		c.Next()
	}
}

func (h *Handlers) userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// downloadBase is the absolute url prefix for payload and cover links served
// to the requesting device, including its path token.
func (h *Handlers) downloadBase(c *gin.Context) string {
	return h.cfg.Server.BaseURL + "/" + c.GetString(ctxPathToken)
}

// fail maps an error to its response status. Handlers call it for anything
// they do not classify themselves.
func (h *Handlers) fail(c *gin.Context, err error) {
	if errors.Is(err, sql.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *Handlers) emptyObject(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}
