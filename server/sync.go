package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/syncer"
)

// Sync runs one sync round for the calling device. The cursor travels in a
// request/response header pair; the body is the flat record array the device
// consumes.
func (h *Handlers) Sync(c *gin.Context) {
	resp, err := h.syncer.Sync(c.Request.Context(), &syncer.Request{
		UserID:       h.userID(c),
		Token:        c.GetHeader(headerSyncToken),
		DownloadBase: h.downloadBase(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	payload, err := resp.Payload()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(headerSyncToken, resp.Token.Encode())
	if resp.Continuation {
		c.Header(headerSyncContinuation, syncer.ContinuationValue)
	}
	h.logger.Debug("sync round served",
		zap.Int64("user", h.userID(c)),
		zap.Int("records", len(payload)),
		zap.Bool("continuation", resp.Continuation),
	)
	c.JSON(http.StatusOK, payload)
}
