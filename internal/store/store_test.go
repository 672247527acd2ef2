package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/backdrop/internal/media"
)

func openTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := Open(Options{
		Clock:  clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestPutGetRoundTrip(t *testing.T) {
	s, clock := openTestStore(t)

	vol := 0.4
	require.NoError(t, s.Put(Record{
		Identity: "DEL-a0b1-1234",
		Token:    []byte("tok"),
		Locator:  "/videos/beach.mp4",
		Kind:     media.KindVideo,
		Stretch:  true,
		Volume:   &vol,
	}))

	rec, err := s.Get("DEL-a0b1-1234")
	require.NoError(t, err)
	require.Equal(t, []byte("tok"), rec.Token)
	require.Equal(t, "/videos/beach.mp4", rec.Locator)
	require.Equal(t, media.KindVideo, rec.Kind)
	require.True(t, rec.Stretch)
	require.NotNil(t, rec.Volume)
	require.InDelta(t, 0.4, *rec.Volume, 1e-9)
	require.Equal(t, clock.Now().Unix(), rec.SavedAt.Unix())
}

func TestPutReplacesOldFields(t *testing.T) {
	s, _ := openTestStore(t)

	vol := 1.0
	require.NoError(t, s.Put(Record{Identity: "A", Token: []byte("old"), Locator: "/a.mp4", Kind: media.KindVideo, Volume: &vol}))
	require.NoError(t, s.Put(Record{Identity: "A", Locator: "/b.png", Kind: media.KindImage}))

	rec, err := s.Get("A")
	require.NoError(t, err)
	require.Nil(t, rec.Token)
	require.Nil(t, rec.Volume)
	require.Equal(t, "/b.png", rec.Locator)
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredRecordIsPurged(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.Put(Record{Identity: "A", Locator: "/a.mp4", Kind: media.KindVideo}))

	clock.Advance(DefaultRetention)
	_, err := s.Get("A")
	require.NoError(t, err, "a record exactly at the retention limit is still valid")

	clock.Advance(time.Second)
	_, err = s.Get("A")
	require.ErrorIs(t, err, ErrExpired)

	_, err = s.Get("A")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTouchExtendsRetention(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.Put(Record{Identity: "A", Locator: "/a.mp4", Kind: media.KindVideo}))

	clock.Advance(20 * time.Hour)
	require.NoError(t, s.Touch("A"))
	clock.Advance(20 * time.Hour)

	_, err := s.Get("A")
	require.NoError(t, err)
	require.ErrorIs(t, s.Touch("missing"), ErrNotFound)
}

func TestListAndPurge(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.Put(Record{Identity: "old", Locator: "/old.mp4", Kind: media.KindVideo}))
	clock.Advance(23 * time.Hour)
	require.NoError(t, s.Put(Record{Identity: "new", Locator: "/new.mp4", Kind: media.KindVideo}))
	clock.Advance(2 * time.Hour)

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "new", string(recs[0].Identity))

	n, err := s.PurgeExpired()
	require.NoError(t, err)
	require.Zero(t, n, "List already purged the expired record")
}

func TestDeleteRemovesOnlyThatDisplay(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Put(Record{Identity: "A", Locator: "/a.mp4", Kind: media.KindVideo}))
	require.NoError(t, s.Put(Record{Identity: "AB", Locator: "/ab.mp4", Kind: media.KindVideo}))

	require.NoError(t, s.Delete("A"))
	_, err := s.Get("A")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("AB")
	require.NoError(t, err)
}

func TestFileBookmarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beach.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	var b FileBookmarker
	tok, err := b.Create(path)
	require.NoError(t, err)

	got, err := b.Resolve(tok)
	require.NoError(t, err)
	require.Equal(t, path, got)

	require.NoError(t, os.Remove(path))
	_, err = b.Resolve(tok)
	require.ErrorIs(t, err, ErrStaleBookmark)

	_, err = b.Resolve([]byte("not json"))
	require.ErrorIs(t, err, ErrStaleBookmark)
}
