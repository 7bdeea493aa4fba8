package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/binderyhq/bindery/config"
	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/archive"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/catalogdb"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/statedb"
	"github.com/binderyhq/bindery/sql/syncstate"
	"github.com/binderyhq/bindery/sql/users"
	"github.com/binderyhq/bindery/syncer"
)

var testBase = time.Unix(1_700_000_000, 0).UTC()

const testToken = "feedc0de"

type env struct {
	tb      testing.TB
	router  http.Handler
	library afero.Fs
	catalog *sql.Database
	state   *sql.Database
	clock   clockwork.FakeClock
	userID  int64
}

func newEnv(tb testing.TB) *env {
	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = "https://bindery.test"
	cfg.Sync.DefaultPolicy = string(syncer.PolicyAll)

	handle := catalogdb.InMemoryTestHandle(tb)
	state := statedb.InMemoryTest(tb)
	clock := clockwork.NewFakeClockAt(testBase)
	logger := zaptest.NewLogger(tb)
	library := afero.NewMemMapFs()

	sync := syncer.New(handle, state,
		syncer.WithLogger(logger),
		syncer.WithConfig(cfg.Sync),
	)
	e := &env{
		tb:      tb,
		library: library,
		catalog: handle.DB(),
		state:   state,
		clock:   clock,
	}
	e.router = NewRouter(&cfg, logger, &Handlers{
		cfg:     &cfg,
		logger:  logger,
		state:   state,
		catalog: handle,
		library: NewLibrary(library),
		syncer:  sync,
		clock:   clock,
	})

	id, err := users.Add(state, &users.User{Name: "reader", Created: testBase})
	require.NoError(tb, err)
	e.userID = id
	require.NoError(tb, users.AddToken(state, &users.DeviceToken{
		Token:   testToken,
		UserID:  id,
		Created: testBase,
	}))
	return e
}

func (e *env) addBook(id int64, when time.Time) *books.Book {
	book := &books.Book{
		ID:       id,
		UUID:     fmt.Sprintf("Book-%04d", id),
		Title:    fmt.Sprintf("Book %d", id),
		Created:  when,
		Modified: when,
		Visible:  true,
	}
	_, err := books.Add(e.catalog, book)
	require.NoError(e.tb, err)
	return book
}

func (e *env) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	e.tb.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.tb, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	return e.do(http.MethodGet, path, nil, nil)
}

func devicePath(suffix string) string {
	return "/" + testToken + suffix
}

func TestAuthMiddleware(t *testing.T) {
	e := newEnv(t)
	e.addBook(1, testBase)

	t.Run("unknown token", func(t *testing.T) {
		w := e.get("/nosuchtoken/v1/library/sync")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("known token", func(t *testing.T) {
		w := e.get(devicePath("/v1/library/sync"))
		require.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("touches last seen", func(t *testing.T) {
		dt, err := users.GetToken(e.state, testToken)
		require.NoError(t, err)
		require.Equal(t, e.clock.Now().Unix(), dt.LastSeen.Unix())
	})
}

func TestSyncRound(t *testing.T) {
	e := newEnv(t)
	e.addBook(1, testBase.Add(time.Minute))

	w := e.get(devicePath("/v1/library/sync"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(syncer.HeaderSyncToken))
	require.Empty(t, w.Header().Get(syncer.HeaderSyncContinuation))

	var records []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Contains(t, records[0], "NewEntitlement")

	// Replaying the same (empty) cursor yields the same record again.
	w2 := e.get(devicePath("/v1/library/sync"))
	require.Equal(t, http.StatusOK, w2.Code)
	require.JSONEq(t, w.Body.String(), w2.Body.String())

	// The next cursor drains the window.
	w3 := e.do(http.MethodGet, devicePath("/v1/library/sync"), nil, map[string]string{
		syncer.HeaderSyncToken: w.Header().Get(syncer.HeaderSyncToken),
	})
	require.Equal(t, http.StatusOK, w3.Code)
	require.Equal(t, "[]", w3.Body.String())
}

func TestMetadata(t *testing.T) {
	e := newEnv(t)
	book := e.addBook(1, testBase)

	w := e.get(devicePath("/v1/library/" + book.UUID + "/metadata"))
	require.Equal(t, http.StatusOK, w.Code)
	var docs []syncer.BookMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	require.Equal(t, book.Title, docs[0].Title)

	require.Equal(t, http.StatusNotFound, e.get(devicePath("/v1/library/missing/metadata")).Code)
}

func TestUpdateReadingState(t *testing.T) {
	e := newEnv(t)
	book := e.addBook(1, testBase)
	statePath := devicePath("/v1/library/" + book.UUID + "/state")

	update := map[string]any{
		"ReadingStates": []map[string]any{{
			"EntitlementId": book.UUID,
			"StatusInfo":    map[string]any{"Status": progress.StatusReading},
			"CurrentBookmark": map[string]any{
				"ProgressPercent": 25.0,
				"Location": map[string]any{
					"Value": "ch3", "Type": "KoboSpan", "Source": "file.xhtml",
				},
			},
		}},
	}
	w := e.do(http.MethodPut, statePath, update, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RequestResult string
		UpdateResults []stateUpdateResult
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Success", resp.RequestResult)
	require.Len(t, resp.UpdateResults, 1)
	require.Equal(t, "Success", resp.UpdateResults[0].StatusInfoResult.Result)
	require.Equal(t, "Success", resp.UpdateResults[0].CurrentBookmarkResult.Result)
	require.Equal(t, "Ignored", resp.UpdateResults[0].StatisticsResult.Result)

	stored, err := progress.Get(e.state, e.userID, book.ID)
	require.NoError(t, err)
	require.Equal(t, progress.StatusReading, stored.Status)
	require.Equal(t, 1, stored.TimesStarted)
	require.NotNil(t, stored.ProgressPercent)
	require.Equal(t, 25.0, *stored.ProgressPercent)
	require.Equal(t, "ch3", stored.LocationValue)

	// A repeated Reading status does not count as another start.
	w = e.do(http.MethodPut, statePath, update, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stored, err = progress.Get(e.state, e.userID, book.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.TimesStarted)

	t.Run("malformed body", func(t *testing.T) {
		w := e.do(http.MethodPut, statePath, map[string]any{"ReadingStates": []any{}}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("unknown item", func(t *testing.T) {
		w := e.do(http.MethodPut, devicePath("/v1/library/missing/state"), update, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestArchiveItem(t *testing.T) {
	e := newEnv(t)
	book := e.addBook(1, testBase)
	require.NoError(t, syncstate.Mark(e.state, e.userID, book.ID, testBase, "entitlement"))

	w := e.do(http.MethodDelete, devicePath("/v1/library/"+book.UUID), nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	archived, err := archive.Is(e.state, e.userID, book.ID)
	require.NoError(t, err)
	require.True(t, archived)
	has, err := syncstate.Has(e.state, e.userID, book.ID)
	require.NoError(t, err)
	require.False(t, has)

	t.Run("unknown item succeeds", func(t *testing.T) {
		w := e.do(http.MethodDelete, devicePath("/v1/library/missing"), nil, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestTagLifecycle(t *testing.T) {
	e := newEnv(t)
	book := e.addBook(1, testBase)

	w := e.do(http.MethodPost, devicePath("/v1/library/tags"), map[string]any{
		"Name":  "to read",
		"Items": []string{book.UUID, "unknown-uuid"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var shelfUUID string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shelfUUID))

	shelf, err := shelves.GetByUUID(e.state, shelfUUID)
	require.NoError(t, err)
	require.True(t, shelf.SyncEnabled)
	items, err := shelves.Items(e.state, shelf.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	w = e.do(http.MethodPut, devicePath("/v1/library/tags/"+shelfUUID), map[string]any{
		"Name": "reading now",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	shelf, err = shelves.GetByUUID(e.state, shelfUUID)
	require.NoError(t, err)
	require.Equal(t, "reading now", shelf.Name)

	w = e.do(http.MethodPost, devicePath("/v1/library/tags/"+shelfUUID+"/items/delete"), map[string]any{
		"Items": []map[string]string{{"RevisionId": book.UUID}},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items, err = shelves.Items(e.state, shelf.ID)
	require.NoError(t, err)
	require.Empty(t, items)

	w = e.do(http.MethodDelete, devicePath("/v1/library/tags/"+shelfUUID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stones, err := shelves.Tombstones(e.state, e.userID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stones, 1)
	require.Equal(t, shelfUUID, stones[0].UUID)

	t.Run("foreign shelf is invisible", func(t *testing.T) {
		otherID, err := users.Add(e.state, &users.User{Name: "other", Created: testBase})
		require.NoError(t, err)
		foreign := &shelves.Shelf{UUID: "foreign", UserID: otherID, Name: "theirs", Created: testBase, Modified: testBase}
		_, err = shelves.Add(e.state, foreign)
		require.NoError(t, err)
		w := e.do(http.MethodDelete, devicePath("/v1/library/tags/foreign"), nil, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("reserved name rejected", func(t *testing.T) {
		w := e.do(http.MethodPost, devicePath("/v1/library/tags"), map[string]any{
			"Name": syncer.OptInShelfName,
		}, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestCoverAndDownload(t *testing.T) {
	e := newEnv(t)
	book := e.addBook(1, testBase)
	require.NoError(t, books.AddFormat(e.catalog, book.ID, books.Format{
		Format: "KEPUB",
		Size:   4,
		Path:   "payloads/book1.kepub.epub",
	}))
	require.NoError(t, afero.WriteFile(e.library, CoverPath(book.UUID), []byte("jpeg"), 0o644))
	require.NoError(t, afero.WriteFile(e.library, "payloads/book1.kepub.epub", []byte("epub"), 0o644))

	w := e.get(devicePath("/v1/books/" + book.UUID + "/image/100/100/false/image.jpg"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	require.Equal(t, "jpeg", w.Body.String())

	w = e.get(devicePath("/download/1/kepub"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/epub+zip", w.Header().Get("Content-Type"))
	require.Equal(t, "epub", w.Body.String())

	t.Run("missing cover", func(t *testing.T) {
		other := e.addBook(2, testBase)
		w := e.get(devicePath("/v1/books/" + other.UUID + "/image/100/100/false/image.jpg"))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("missing format", func(t *testing.T) {
		w := e.get(devicePath("/download/1/pdf"))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestInitialization(t *testing.T) {
	e := newEnv(t)
	w := e.get(devicePath("/v1/initialization"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Resources map[string]any
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "https://bindery.test", resp.Resources["image_host"])
	require.Contains(t, resp.Resources["image_url_template"], "https://bindery.test/"+testToken)
}

func TestAuthDevice(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, devicePath("/v1/auth/device"), map[string]any{
		"UserKey":  "key-123",
		"DeviceId": "ereader-1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "key-123", resp.UserKey)
}
