package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/storeproxy"
)

// Initialization answers the device bootstrap call: the vendor resources
// document (live, cached or built-in) with the url templates this server
// handles pointed back at it.
func (h *Handlers) Initialization(c *gin.Context) {
	doc := storeproxy.DefaultResources()
	if h.store != nil {
		doc = h.store.Resources(c.Request.Context())
	}
	var resources map[string]any
	if err := json.Unmarshal(doc, &resources); err != nil {
		h.logger.Warn("malformed resources document, serving defaults", zap.Error(err))
		resources = map[string]any{}
	}

	base := h.downloadBase(c)
	resources["image_host"] = h.cfg.Server.BaseURL
	resources["image_url_template"] = fmt.Sprintf(
		"%s/v1/books/{ImageId}/image/{Width}/{Height}/false/image.jpg", base)
	resources["image_url_quality_template"] = fmt.Sprintf(
		"%s/v1/books/{ImageId}/image/{Width}/{Height}/{Quality}/{IsGreyscale}/image.jpg", base)

	c.JSON(http.StatusOK, gin.H{"Resources": resources})
}

// authResponse is the device pairing grant. The tokens are opaque fillers:
// the real credential is the path token issued at pairing time, these only
// satisfy the device's auth handshake.
type authResponse struct {
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
	TokenType    string `json:"TokenType"`
	TrackingID   string `json:"TrackingId"`
	UserKey      string `json:"UserKey"`
}

// AuthDevice answers the device activation handshake.
func (h *Handlers) AuthDevice(c *gin.Context) {
	var req struct {
		UserKey  string `json:"UserKey"`
		DeviceID string `json:"DeviceId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auth request"})
		return
	}
	h.grant(c, req.UserKey)
}

// AuthRefresh rotates the handshake tokens.
func (h *Handlers) AuthRefresh(c *gin.Context) {
	var req struct {
		UserKey string `json:"UserKey"`
	}
	// The refresh body is optional on some firmware versions.
	_ = c.ShouldBindJSON(&req)
	h.grant(c, req.UserKey)
}

func (h *Handlers) grant(c *gin.Context, userKey string) {
	access, err := randomToken()
	if err != nil {
		h.fail(c, err)
		return
	}
	refresh, err := randomToken()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		TrackingID:   uuid.NewString(),
		UserKey:      userKey,
	})
}

func randomToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
