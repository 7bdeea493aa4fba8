package syncer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire headers carrying the sync cursor and the continuation indicator.
const (
	// HeaderSyncToken carries the encoded cursor on requests and responses.
	HeaderSyncToken = "x-bindery-synctoken"
	// HeaderSyncContinuation is set to ContinuationValue on responses that
	// have more changes pending beyond the page limit.
	HeaderSyncContinuation = "x-bindery-sync"
	// ContinuationValue signals the device to poll again immediately.
	ContinuationValue = "continue"
)

// tokenVersion is bumped when the envelope layout changes incompatibly.
// Unknown fields within a version are ignored for forward compatibility.
const tokenVersion = 1

// ErrInvalidToken is returned for tokens that cannot be decoded. Callers fall
// back to a full resync (zero token) instead of failing the round.
var ErrInvalidToken = errors.New("syncer: invalid sync token")

// Token is the client-held cursor: four independent high-water marks, one per
// sub-resource, plus an opaque passthrough blob for the upstream store. The
// server never persists it; every round receives the previous token and
// returns the next one. Watermarks have second precision.
type Token struct {
	ItemsModified       time.Time
	ItemsCreated        time.Time
	ProgressModified    time.Time
	CollectionsModified time.Time
	Upstream            string
}

type tokenEnvelope struct {
	Version             int    `json:"v"`
	ItemsModified       int64  `json:"items_modified"`
	ItemsCreated        int64  `json:"items_created"`
	ProgressModified    int64  `json:"progress_modified"`
	CollectionsModified int64  `json:"collections_modified"`
	Upstream            string `json:"upstream,omitempty"`
}

// IsFullResync reports whether every watermark sits at the minimum, i.e. the
// device is asking for the complete library state.
func (t Token) IsFullResync() bool {
	return t.ItemsModified.IsZero() &&
		t.ItemsCreated.IsZero() &&
		t.ProgressModified.IsZero() &&
		t.CollectionsModified.IsZero()
}

// Encode serializes the token to its header form.
func (t Token) Encode() string {
	env := tokenEnvelope{
		Version:             tokenVersion,
		ItemsModified:       unixOrZero(t.ItemsModified),
		ItemsCreated:        unixOrZero(t.ItemsCreated),
		ProgressModified:    unixOrZero(t.ProgressModified),
		CollectionsModified: unixOrZero(t.CollectionsModified),
		Upstream:            t.Upstream,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("marshal sync token: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses a header token. An empty header yields the zero token
// (full resync). Malformed input is reported as ErrInvalidToken.
func DecodeToken(header string) (Token, error) {
	if header == "" {
		return Token{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var env tokenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if env.Version != tokenVersion {
		return Token{}, fmt.Errorf("%w: version %d", ErrInvalidToken, env.Version)
	}
	return Token{
		ItemsModified:       timeOrZero(env.ItemsModified),
		ItemsCreated:        timeOrZero(env.ItemsCreated),
		ProgressModified:    timeOrZero(env.ProgressModified),
		CollectionsModified: timeOrZero(env.CollectionsModified),
		Upstream:            env.Upstream,
	}, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// merge returns a token with every watermark advanced to the later of the two
// values. Returned cursors never regress below what the client sent. The
// upstream blob is replaced only when the round produced a new one.
func (t Token) merge(next Token) Token {
	upstream := t.Upstream
	if next.Upstream != "" {
		upstream = next.Upstream
	}
	return Token{
		ItemsModified:       maxTime(t.ItemsModified, next.ItemsModified),
		ItemsCreated:        maxTime(t.ItemsCreated, next.ItemsCreated),
		ProgressModified:    maxTime(t.ProgressModified, next.ProgressModified),
		CollectionsModified: maxTime(t.CollectionsModified, next.CollectionsModified),
		Upstream:            upstream,
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
