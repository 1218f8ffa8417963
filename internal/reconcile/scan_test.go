package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

// fakeTags serves tags by file path; files not listed have no readable tags.
type fakeTags map[string]Tags

func (f fakeTags) ReadTags(path string) (Tags, error) {
	tags, ok := f[path]
	if !ok {
		return Tags{}, fmt.Errorf("no tags in %s", path)
	}
	return tags, nil
}

func TestIsAudioFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"01.flac", true},
		{"01.FLAC", true},
		{"track.mp3", true},
		{"track.opus", true},
		{"cover.jpg", false},
		{"notes.txt", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestScanner(t *testing.T) {
	ctx := context.Background()

	t.Run("discovers album directories", func(t *testing.T) {
		root := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(root, "The Beatles", "Abbey Road", "01.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "The Beatles", "Abbey Road", "02.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "The Beatles", "Abbey Road", "cover.jpg"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "Docs", "notes", "readme.txt"), "x")
		tu.MustWriteFile(t, filepath.Join(root, ".trash", "Old", "01.mp3"), "x")

		rip := filepath.Join(root, "rips", "disc1", "01.mp3")
		tu.MustWriteFile(t, rip, "x")
		tags := fakeTags{rip: {Artist: "Radiohead", Album: "OK Computer", Title: "Airbag"}}

		s := NewScanner(repositories.NewAlbumRepository(tu.NewTestDB(t)), tags, nil, nil)
		got, err := s.Discover(root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []Candidate{
			{Dir: filepath.Join(root, "The Beatles", "Abbey Road"), Artist: "The Beatles", Album: "Abbey Road", Files: 2},
			{Dir: filepath.Join(root, "rips", "disc1"), Artist: "Radiohead", Album: "OK Computer", Files: 1, FromTags: true},
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d candidates, got %+v", len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("candidate %d: expected %+v, got %+v", i, want[i], got[i])
			}
		}
	})

	t.Run("matches, claims and reports", func(t *testing.T) {
		db := tu.NewTestDB(t)
		abbey := tu.SeedAlbum(t, db, "The Beatles", "Abbey Road", nil)
		okc := tu.SeedAlbum(t, db, "Radiohead", "OK Computer", func(a *models.Album) { a.MarkDownloading() })
		kid := tu.SeedAlbum(t, db, "Radiohead", "Kid A", func(a *models.Album) {
			a.MarkOwned("/old/kid-a", models.SourceMarketplace)
		})

		root := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(root, "Beatles", "Abbey Road (Remastered)", "01.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "Radiohead", "OK Computer", "01.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "Radiohead", "Kid A", "01.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "Unknown Artist", "Mystery Tapes", "01.mp3"), "x")

		albums := repositories.NewAlbumRepository(db)
		var calls []int
		report, err := NewScanner(albums, fakeTags{}, nil, nil).Scan(ctx, root, func(done, total int) {
			calls = append(calls, done)
			if total != 4 {
				t.Errorf("expected total 4, got %d", total)
			}
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if report.Scanned != 4 || len(report.Matched) != 3 || len(report.Unmatched) != 1 || len(report.Failures) != 0 {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Unmatched[0].Album != "Mystery Tapes" {
			t.Errorf("unexpected unmatched %+v", report.Unmatched[0])
		}
		if len(calls) != 4 || calls[3] != 4 {
			t.Errorf("unexpected progress calls %v", calls)
		}

		tests := []struct {
			id     string
			dir    string
			source models.AcquisitionSource
		}{
			{abbey.ID, filepath.Join(root, "Beatles", "Abbey Road (Remastered)"), models.SourcePhysical},
			{okc.ID, filepath.Join(root, "Radiohead", "OK Computer"), models.SourceUnknown},
			{kid.ID, filepath.Join(root, "Radiohead", "Kid A"), models.SourceMarketplace},
		}
		for _, tt := range tests {
			got, err := albums.Get(ctx, tt.id)
			if err != nil {
				t.Fatalf("failed to get album: %v", err)
			}
			if got.OwnershipStatus != models.Owned || got.AcquisitionSource != tt.source {
				t.Errorf("%s: unexpected ownership %s/%s", got.Title, got.OwnershipStatus, got.AcquisitionSource)
			}
			if got.LocalPath == nil || *got.LocalPath != tt.dir {
				t.Errorf("%s: unexpected local path %v", got.Title, got.LocalPath)
			}
		}

		summary := report.Summary()
		if summary.Processed != 4 || summary.Succeeded != 3 || summary.Skipped != 1 {
			t.Errorf("unexpected summary %+v", summary)
		}
	})

	t.Run("import webhook attributes a scanned download", func(t *testing.T) {
		db := tu.NewTestDB(t)
		album := tu.SeedAlbum(t, db, "The Beatles", "Abbey Road", func(a *models.Album) {
			a.ApplyMatch(models.Matched, 100, abbeyRoadMBID)
			a.MarkDownloading()
		})
		root := t.TempDir()
		dir := filepath.Join(root, "The Beatles", "Abbey Road")
		tu.MustWriteFile(t, filepath.Join(dir, "01.flac"), "x")

		albums := repositories.NewAlbumRepository(db)
		if _, err := NewScanner(albums, fakeTags{}, nil, nil).Scan(ctx, root, nil); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got, _ := albums.Get(ctx, album.ID)
		if got.OwnershipStatus != models.Owned || got.AcquisitionSource != models.SourceUnknown {
			t.Fatalf("unexpected ownership after scan %s/%s", got.OwnershipStatus, got.AcquisitionSource)
		}

		ev, err := ParseEvent([]byte(`{"eventType": "Download", "albums": [{"foreignAlbumId": "` + abbeyRoadMBID + `"}],
			"trackFiles": [{"path": "` + filepath.Join(dir, "01.flac") + `"}]}`))
		if err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}
		if _, err := NewWebhookReconciler(albums, repositories.NewDownloadRepository(db), nil, nil).Apply(ctx, ev); err != nil {
			t.Fatalf("failed to apply import: %v", err)
		}
		got, _ = albums.Get(ctx, album.ID)
		if got.AcquisitionSource != models.SourceAutomatedDownload || got.LocalPath == nil || *got.LocalPath != dir {
			t.Errorf("unexpected ownership after import %s %v", got.AcquisitionSource, got.LocalPath)
		}
	})

	t.Run("rescan changes nothing", func(t *testing.T) {
		db := tu.NewTestDB(t)
		album := tu.SeedAlbum(t, db, "Portishead", "Dummy", nil)
		root := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(root, "Portishead", "Dummy", "01.flac"), "x")

		albums := repositories.NewAlbumRepository(db)
		s := NewScanner(albums, fakeTags{}, nil, nil)
		if _, err := s.Scan(ctx, root, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		first, _ := albums.Get(ctx, album.ID)

		report, err := s.Scan(ctx, root, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, _ := albums.Get(ctx, album.ID)

		if len(report.Matched) != 1 || report.Matched[0].Changed {
			t.Errorf("expected unchanged match, got %+v", report.Matched)
		}
		if first.Version != second.Version {
			t.Errorf("rescan wrote again: version %d -> %d", first.Version, second.Version)
		}
	})

	t.Run("dissimilar names stay unmatched", func(t *testing.T) {
		db := tu.NewTestDB(t)
		tu.SeedAlbum(t, db, "Radiohead", "Amnesiac", nil)
		root := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(root, "Radiohead", "Hail to the Thief", "01.flac"), "x")
		tu.MustWriteFile(t, filepath.Join(root, "Loose Tracks", "01.flac"), "x")

		report, err := NewScanner(repositories.NewAlbumRepository(db), fakeTags{}, nil, nil).Scan(ctx, root, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(report.Matched) != 0 || len(report.Unmatched) != 2 {
			t.Errorf("unexpected report %+v", report)
		}
	})

	t.Run("root errors", func(t *testing.T) {
		s := NewScanner(repositories.NewAlbumRepository(tu.NewTestDB(t)), fakeTags{}, nil, nil)

		if _, err := s.Scan(ctx, "", nil); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
		if _, err := s.Scan(ctx, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
			t.Error("expected error for missing root")
		}
	})

	t.Run("cancelled scan stops early", func(t *testing.T) {
		db := tu.NewTestDB(t)
		root := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(root, "A", "B", "01.flac"), "x")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewScanner(repositories.NewAlbumRepository(db), fakeTags{}, nil, nil).Scan(cctx, root, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
