package syncer

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := Token{
		ItemsModified:       time.Unix(1700000100, 0).UTC(),
		ItemsCreated:        time.Unix(1700000200, 0).UTC(),
		ProgressModified:    time.Unix(1700000300, 0).UTC(),
		CollectionsModified: time.Unix(1700000400, 0).UTC(),
		Upstream:            "vendor-blob",
	}
	decoded, err := DecodeToken(tok.Encode())
	require.NoError(t, err)
	require.Equal(t, tok, decoded)

	zero, err := DecodeToken(Token{}.Encode())
	require.NoError(t, err)
	require.Equal(t, Token{}, zero)
}

func TestDecodeTokenEmpty(t *testing.T) {
	tok, err := DecodeToken("")
	require.NoError(t, err)
	require.Equal(t, Token{}, tok)
	require.True(t, tok.IsFullResync())
}

func TestDecodeTokenMalformed(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		header string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("not json"))},
		{"json array", base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`))},
		{"future version", base64.RawURLEncoding.EncodeToString([]byte(`{"v":99}`))},
		{"missing version", base64.RawURLEncoding.EncodeToString([]byte(`{"items_modified":5}`))},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := DecodeToken(tc.header)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestDecodeTokenIgnoresUnknownFields(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"v":1,"items_modified":1700000100,"brand_new_field":"yes"}`),
	)
	tok, err := DecodeToken(header)
	require.NoError(t, err)
	require.Equal(t, time.Unix(1700000100, 0).UTC(), tok.ItemsModified)
}

func TestTokenMerge(t *testing.T) {
	older := time.Unix(1000, 0).UTC()
	newer := time.Unix(2000, 0).UTC()

	base := Token{
		ItemsModified:       newer,
		ItemsCreated:        older,
		ProgressModified:    older,
		CollectionsModified: newer,
		Upstream:            "previous",
	}
	merged := base.merge(Token{
		ItemsModified:    older, // must not regress
		ItemsCreated:     newer,
		ProgressModified: newer,
	})
	require.Equal(t, newer, merged.ItemsModified)
	require.Equal(t, newer, merged.ItemsCreated)
	require.Equal(t, newer, merged.ProgressModified)
	require.Equal(t, newer, merged.CollectionsModified)
	require.Equal(t, "previous", merged.Upstream, "empty upstream must not clear the blob")

	replaced := base.merge(Token{Upstream: "fresh"})
	require.Equal(t, "fresh", replaced.Upstream)
}

func TestTokenIsFullResync(t *testing.T) {
	require.True(t, Token{}.IsFullResync())
	require.True(t, Token{Upstream: "blob"}.IsFullResync(),
		"an upstream blob alone does not carry local watermarks")
	require.False(t, Token{ItemsModified: time.Unix(1, 0)}.IsFullResync())
	require.False(t, Token{CollectionsModified: time.Unix(1, 0)}.IsFullResync())
}
