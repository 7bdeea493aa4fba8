package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/progress"
	"github.com/binderyhq/bindery/sql/syncstate"
)

func TestMetadataForDevice(t *testing.T) {
	tester := newTester(t, DefaultConfig())
	tester.addUser(string(PolicyAll), 0, false)
	tester.addBook(1, at(time.Minute), at(time.Minute))
	require.NoError(t, books.AddFormat(tester.catalog, 1, books.Format{Format: "EPUB", Size: 1024, Path: "b1.epub"}))
	require.NoError(t, books.AddFormat(tester.catalog, 1, books.Format{Format: "KEPUB", Size: 2048, Path: "b1.kepub.epub"}))

	metadata, err := tester.syncer.Metadata("Book-0001", "https://bindery.local/device-token")
	require.NoError(t, err)
	require.Equal(t, "Book-0001", metadata.RevisionID)
	require.Equal(t, "Book 1", metadata.Title)
	require.Len(t, metadata.DownloadUrls, 2)
	require.Equal(t, "KEPUB", metadata.DownloadUrls[0].Format)
	require.Equal(t, "https://bindery.local/device-token/download/1/kepub", metadata.DownloadUrls[0].URL)

	_, err = tester.syncer.Metadata("missing", "https://bindery.local/device-token")
	require.ErrorIs(t, err, sql.ErrNotFound)
}

func TestReadingStateForDevice(t *testing.T) {
	tester := newTester(t, DefaultConfig())
	tester.addUser(string(PolicyAll), 0, false)
	tester.addBook(1, at(time.Minute), at(time.Minute))

	t.Run("synthesized before first open", func(t *testing.T) {
		reading, err := tester.syncer.ReadingStateFor(tester.userID, "Book-0001")
		require.NoError(t, err)
		require.Equal(t, "Book-0001", reading.EntitlementID)
		require.Equal(t, progress.StatusReadyToRead, reading.StatusInfo.Status)
		require.Equal(t, NewTimestamp(at(time.Minute)), reading.Created)
	})

	t.Run("stored state", func(t *testing.T) {
		require.NoError(t, progress.Upsert(tester.state, &progress.State{
			UserID:          tester.userID,
			BookID:          1,
			Modified:        at(time.Hour),
			Priority:        at(time.Hour),
			Status:          progress.StatusReading,
			TimesStarted:    2,
			ProgressPercent: ptr(33.5),
		}))
		reading, err := tester.syncer.ReadingStateFor(tester.userID, "Book-0001")
		require.NoError(t, err)
		require.Equal(t, progress.StatusReading, reading.StatusInfo.Status)
		require.Equal(t, 2, reading.StatusInfo.TimesStartedReading)
		require.Equal(t, ptr(33.5), reading.CurrentBookmark.ProgressPercent)
		require.Equal(t, NewTimestamp(at(time.Hour)), reading.LastModified)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := tester.syncer.ReadingStateFor(tester.userID, "missing")
		require.ErrorIs(t, err, sql.ErrNotFound)
	})
}

func TestObserveHybridActivity(t *testing.T) {
	tester := newTester(t, DefaultConfig())
	tester.addUser(string(PolicyHybrid), 0, false)
	tester.addBook(1, at(time.Minute), at(time.Minute))
	tester.addBook(2, at(2*time.Minute), at(2*time.Minute))
	tester.addShelf(OptInShelfName, false, at(3*time.Minute), 1)

	// off-shelf activity re-marks the item synced
	require.NoError(t, tester.syncer.Observe(tester.userID, "Book-0002", "download"))
	synced, err := syncstate.ByUser(tester.state, tester.userID)
	require.NoError(t, err)
	require.Contains(t, synced, int64(2))
	require.Equal(t, "observed:download", synced[2].Reason)
	require.Equal(t, testBase, synced[2].Synced)

	// opted-in items are left alone
	require.NoError(t, tester.syncer.Observe(tester.userID, "Book-0001", "metadata"))
	synced, err = syncstate.ByUser(tester.state, tester.userID)
	require.NoError(t, err)
	require.NotContains(t, synced, int64(1))

	require.ErrorIs(t, tester.syncer.Observe(tester.userID, "missing", "metadata"), sql.ErrNotFound)
}

func TestObserveOtherPoliciesNoop(t *testing.T) {
	tester := newTester(t, DefaultConfig())
	tester.addUser(string(PolicySelected), 0, false)
	tester.addBook(1, at(time.Minute), at(time.Minute))

	require.NoError(t, tester.syncer.Observe(tester.userID, "Book-0001", "cover"))
	has, err := syncstate.Has(tester.state, tester.userID, 1)
	require.NoError(t, err)
	require.False(t, has)
}
