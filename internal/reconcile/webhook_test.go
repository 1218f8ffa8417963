package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

const abbeyRoadMBID = "9162580e-5df4-32de-80cc-f45a8d8a9b1d"

func TestParseEvent(t *testing.T) {
	t.Run("rejects malformed payloads", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"not json", `{eventType: Grab`},
			{"unknown event", `{"eventType": "Rename", "albums": [{"id": 1}]}`},
			{"missing event", `{"albums": [{"id": 1}]}`},
			{"no album", `{"eventType": "Grab", "albums": []}`},
			{"album without identifier", `{"eventType": "Grab", "albums": [{"title": "Abbey Road"}]}`},
			{"import without path", `{"eventType": "Download", "albums": [{"id": 1}]}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ParseEvent([]byte(tt.body))
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			})
		}
	})

	t.Run("maps event types", func(t *testing.T) {
		tests := []struct {
			body string
			want EventKind
		}{
			{`{"eventType": "Grab", "albums": [{"id": 1}], "downloadId": "abc"}`, EventGrabbed},
			{`{"eventType": "Download", "albums": [{"id": 1}], "trackFiles": [{"path": "/music/A/B/01.flac"}]}`, EventImported},
			{`{"eventType": "AlbumDownload", "album": {"id": 1, "path": "/music/A/B"}}`, EventImported},
			{`{"eventType": "DownloadFailure", "albums": [{"id": 1}], "message": "no peers"}`, EventFailed},
			{`{"eventType": "AlbumDelete", "album": {"id": 1}}`, EventRemoved},
			{`{"eventType": "Test"}`, EventTest},
		}

		for _, tt := range tests {
			ev, err := ParseEvent([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error for %s: %v", tt.body, err)
			}
			if ev.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, ev.Kind)
			}
		}
	})

	t.Run("import path is track file directory", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{
			"eventType": "Download",
			"artist": {"name": "The Beatles"},
			"albums": [{"id": 7, "foreignAlbumId": "` + abbeyRoadMBID + `", "title": "Abbey Road"}],
			"trackFiles": [{"path": "/music/The Beatles/Abbey Road/01 Come Together.flac"}],
			"isUpgrade": true
		}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Path != "/music/The Beatles/Abbey Road" {
			t.Errorf("unexpected path %q", ev.Path)
		}
		if !ev.Upgrade || ev.Artist != "The Beatles" {
			t.Errorf("unexpected event %+v", ev)
		}
		if len(ev.Albums) != 1 || ev.Albums[0].LidarrID != 7 || ev.Albums[0].MBID != abbeyRoadMBID {
			t.Errorf("unexpected albums %+v", ev.Albums)
		}
	})

	t.Run("failure gets a default reason", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"eventType": "DownloadFailure", "albums": [{"id": 1}]}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Reason == "" {
			t.Error("expected a reason")
		}
	})
}

type webhookFixture struct {
	db        *sql.DB
	albums    *repositories.AlbumRepository
	downloads *repositories.DownloadRepository
	rec       *WebhookReconciler
	album     *models.Album
}

func newWebhookFixture(t *testing.T, edit func(*models.Album)) *webhookFixture {
	t.Helper()
	db := tu.NewTestDB(t)
	album := tu.SeedAlbum(t, db, "The Beatles", "Abbey Road", func(a *models.Album) {
		a.ApplyMatch(models.Matched, 100, abbeyRoadMBID)
		if edit != nil {
			edit(a)
		}
	})

	albums := repositories.NewAlbumRepository(db)
	downloads := repositories.NewDownloadRepository(db)
	return &webhookFixture{
		db:        db,
		albums:    albums,
		downloads: downloads,
		rec:       NewWebhookReconciler(albums, downloads, nil, nil),
		album:     album,
	}
}

func (f *webhookFixture) apply(t *testing.T, body string) *Result {
	t.Helper()
	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	res, err := f.rec.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}
	return res
}

func (f *webhookFixture) reload(t *testing.T) *models.Album {
	t.Helper()
	a, err := f.albums.Get(context.Background(), f.album.ID)
	if err != nil {
		t.Fatalf("failed to reload album: %v", err)
	}
	return a
}

func TestWebhookReconciler(t *testing.T) {
	ctx := context.Background()
	grab := `{"eventType": "Grab", "downloadId": "dl-1", "albums": [{"id": 42, "foreignAlbumId": "` + abbeyRoadMBID + `"}]}`
	imported := `{"eventType": "Download", "albums": [{"id": 42, "foreignAlbumId": "` + abbeyRoadMBID + `"}],
		"trackFiles": [{"path": "/music/The Beatles/Abbey Road/01.flac"}]}`

	t.Run("grab marks downloading and opens a request", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		res := f.apply(t, grab)

		if len(res.Applied) != 1 || res.Applied[0] != f.album.ID {
			t.Errorf("unexpected result %+v", res)
		}
		if got := f.reload(t); got.OwnershipStatus != models.Downloading || got.LocalPath != nil {
			t.Errorf("unexpected album state %s %v", got.OwnershipStatus, got.LocalPath)
		}
		req, err := f.downloads.Active(ctx, f.album.ID)
		if err != nil {
			t.Fatalf("expected active request: %v", err)
		}
		if req.Status != models.DownloadInProgress || req.DownloadID != "dl-1" || req.LidarrAlbumID != 42 {
			t.Errorf("unexpected request %+v", req)
		}
	})

	t.Run("import is idempotent", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		f.apply(t, grab)

		f.apply(t, imported)
		once := f.reload(t)
		f.apply(t, imported)
		twice := f.reload(t)

		for _, got := range []*models.Album{once, twice} {
			if got.OwnershipStatus != models.Owned || got.AcquisitionSource != models.SourceAutomatedDownload {
				t.Errorf("unexpected ownership %s/%s", got.OwnershipStatus, got.AcquisitionSource)
			}
			if got.LocalPath == nil || *got.LocalPath != "/music/The Beatles/Abbey Road" {
				t.Errorf("unexpected local path %v", got.LocalPath)
			}
		}
		if once.Version != twice.Version {
			t.Errorf("replay wrote again: version %d -> %d", once.Version, twice.Version)
		}

		latest, err := f.downloads.Latest(ctx, f.album.ID)
		if err != nil {
			t.Fatalf("failed to get request: %v", err)
		}
		if latest.Status != models.DownloadCompleted {
			t.Errorf("expected completed request, got %s", latest.Status)
		}
	})

	t.Run("download failure reverts a downloading album", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		f.apply(t, grab)

		f.apply(t, `{"eventType": "DownloadFailure", "message": "indexer returned no results",
			"albums": [{"id": 42, "foreignAlbumId": "`+abbeyRoadMBID+`"}]}`)

		got := f.reload(t)
		if got.OwnershipStatus != models.NotOwned || got.LocalPath != nil {
			t.Errorf("unexpected album state %s %v", got.OwnershipStatus, got.LocalPath)
		}
		req, err := f.downloads.Latest(ctx, f.album.ID)
		if err != nil {
			t.Fatalf("failed to get request: %v", err)
		}
		if req.Status != models.DownloadFailed || req.Error != "indexer returned no results" {
			t.Errorf("unexpected request %+v", req)
		}
		if _, err := f.downloads.Active(ctx, f.album.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected no active request, got %v", err)
		}
	})

	t.Run("failure leaves an owned album alone", func(t *testing.T) {
		f := newWebhookFixture(t, func(a *models.Album) { a.MarkOwned("/music/x", models.SourcePhysical) })
		f.apply(t, `{"eventType": "DownloadFailure", "message": "upgrade failed", "albums": [{"foreignAlbumId": "`+abbeyRoadMBID+`"}]}`)

		if got := f.reload(t); got.OwnershipStatus != models.Owned || got.Version != f.album.Version {
			t.Errorf("expected untouched owned album, got %s v%d", got.OwnershipStatus, got.Version)
		}
		req, err := f.downloads.Latest(ctx, f.album.ID)
		if err != nil || req.Status != models.DownloadFailed {
			t.Errorf("expected failure to be recorded, got %+v, %v", req, err)
		}
	})

	t.Run("removed clears ownership", func(t *testing.T) {
		f := newWebhookFixture(t, func(a *models.Album) { a.MarkOwned("/music/x", models.SourceAutomatedDownload) })
		f.apply(t, `{"eventType": "AlbumDelete", "album": {"id": 42, "foreignAlbumId": "`+abbeyRoadMBID+`"}}`)

		if got := f.reload(t); got.OwnershipStatus != models.NotOwned || got.LocalPath != nil {
			t.Errorf("unexpected album state %s %v", got.OwnershipStatus, got.LocalPath)
		}
	})

	t.Run("unknown album is dropped", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		res := f.apply(t, `{"eventType": "Grab", "albums": [{"id": 999, "foreignAlbumId": "unknown-mbid"}]}`)

		if len(res.Applied) != 0 || len(res.Dropped) != 1 || res.Dropped[0] != "unknown-mbid" {
			t.Errorf("unexpected result %+v", res)
		}
		if got := f.reload(t); got.Version != f.album.Version {
			t.Error("expected album untouched")
		}
	})

	t.Run("resolves by download-service id", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		if err := f.downloads.Create(ctx, &models.DownloadRequest{
			AlbumID: f.album.ID, LidarrAlbumID: 77, Status: models.DownloadSearching,
		}); err != nil {
			t.Fatalf("failed to create request: %v", err)
		}

		res := f.apply(t, `{"eventType": "Grab", "downloadId": "dl-9", "albums": [{"id": 77}]}`)
		if len(res.Applied) != 1 {
			t.Fatalf("expected album resolved through its request, got %+v", res)
		}
		req, _ := f.downloads.Active(ctx, f.album.ID)
		if req == nil || req.Status != models.DownloadInProgress || req.DownloadID != "dl-9" {
			t.Errorf("unexpected request %+v", req)
		}
	})

	t.Run("concurrent grabs open one request", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		ev, err := ParseEvent([]byte(grab))
		if err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.rec.Apply(ctx, ev); err != nil {
					t.Errorf("apply failed: %v", err)
				}
			}()
		}
		wg.Wait()

		var n int
		if err := f.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_requests WHERE album_id = ?", f.album.ID).Scan(&n); err != nil {
			t.Fatalf("failed to count requests: %v", err)
		}
		if n != 1 {
			t.Errorf("expected one request, got %d", n)
		}
	})

	t.Run("grab adopts a request created by RequestDownload", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		if err := f.downloads.Create(ctx, &models.DownloadRequest{
			AlbumID: f.album.ID, LidarrAlbumID: 42, Status: models.DownloadSearching,
		}); err != nil {
			t.Fatalf("failed to create request: %v", err)
		}

		f.apply(t, grab)
		req, err := f.downloads.Active(ctx, f.album.ID)
		if err != nil {
			t.Fatalf("expected active request: %v", err)
		}
		if req.Status != models.DownloadInProgress || req.DownloadID != "dl-1" {
			t.Errorf("unexpected request %+v", req)
		}
	})

	t.Run("lookup failure applies nothing", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		if _, err := f.db.ExecContext(ctx, "DROP TABLE download_requests"); err != nil {
			t.Fatalf("failed to drop table: %v", err)
		}

		// The first reference resolves by release group; the second needs the dropped table.
		body := fmt.Sprintf(`{"eventType": "AlbumDelete", "albums": [{"id": 42, "foreignAlbumId": %q}, {"id": 77}]}`, abbeyRoadMBID)
		ev, err := ParseEvent([]byte(body))
		if err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}
		if _, err := f.albums.Mutate(ctx, f.album.ID, func(a *models.Album) error {
			a.MarkOwned("/music/x", models.SourcePhysical)
			return nil
		}); err != nil {
			t.Fatalf("failed to seed ownership: %v", err)
		}
		before := f.reload(t)

		res, err := f.rec.Apply(ctx, ev)
		if err == nil {
			t.Fatal("expected lookup error")
		}
		if len(res.Applied) != 0 {
			t.Errorf("expected nothing applied, got %+v", res)
		}
		if got := f.reload(t); got.Version != before.Version || got.OwnershipStatus != models.Owned {
			t.Errorf("album changed before every reference resolved: %s v%d", got.OwnershipStatus, got.Version)
		}
	})

	t.Run("duplicate references apply once", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		res := f.apply(t, fmt.Sprintf(`{"eventType": "Grab", "albums": [{"foreignAlbumId": %q}, {"id": 42, "foreignAlbumId": %q}]}`,
			abbeyRoadMBID, abbeyRoadMBID))
		if len(res.Applied) != 1 {
			t.Errorf("expected one applied album, got %+v", res)
		}
	})

	t.Run("test event is ignored", func(t *testing.T) {
		f := newWebhookFixture(t, nil)
		res := f.apply(t, `{"eventType": "Test"}`)
		if len(res.Applied)+len(res.Dropped) != 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})
}
