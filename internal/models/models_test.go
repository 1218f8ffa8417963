package models

import (
	"errors"
	"testing"

	"github.com/desertthunder/crate/internal/shared"
)

func TestJobStatusTransitions(t *testing.T) {
	statuses := []JobStatus{JobPending, JobRunning, JobCompleted, JobFailed}
	allowed := map[[2]JobStatus]bool{
		{JobPending, JobRunning}:   true,
		{JobPending, JobFailed}:    true,
		{JobRunning, JobRunning}:   true,
		{JobRunning, JobCompleted}: true,
		{JobRunning, JobFailed}:    true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				want := allowed[[2]JobStatus{from, to}]
				if got := from.CanTransition(to); got != want {
					t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
				}
			})
		}
	}

	t.Run("no path returns to pending", func(t *testing.T) {
		for _, from := range statuses {
			if from.CanTransition(JobPending) {
				t.Errorf("%s must not transition back to pending", from)
			}
		}
	})

	t.Run("terminal states are closed", func(t *testing.T) {
		for _, s := range statuses {
			if !s.Terminal() {
				continue
			}
			for _, to := range statuses {
				if s.CanTransition(to) {
					t.Errorf("terminal %s allowed transition to %s", s, to)
				}
			}
		}
	})
}

func TestJobType(t *testing.T) {
	t.Run("ParseJobType", func(t *testing.T) {
		for _, jt := range AllJobTypes() {
			got, err := ParseJobType(string(jt))
			if err != nil || got != jt {
				t.Errorf("ParseJobType(%s) = %v, %v", jt, got, err)
			}
		}
		if _, err := ParseJobType("reindex"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Batch kinds", func(t *testing.T) {
		tc := map[JobType]bool{
			JobLibrarySync:        true,
			JobMetadataMatchAll:   true,
			JobFilesystemScan:     true,
			JobMetadataMatchOne:   false,
			JobCoverArtFetch:      false,
			JobDownloadStatusPoll: false,
		}
		for jt, want := range tc {
			if jt.Batch() != want {
				t.Errorf("%s.Batch() = %v, want %v", jt, jt.Batch(), want)
			}
		}
	})

	t.Run("entity jobs validate", func(t *testing.T) {
		job := &Job{Type: JobMetadataMatchOne, Status: JobPending}
		if err := job.Validate(); err == nil {
			t.Error("expected missing entity to fail validation")
		}
		job.EntityID = "album-1"
		if err := job.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestAlbumInvariants(t *testing.T) {
	score := 90
	path := "/music/Beatles/Abbey Road"

	tc := []struct {
		name   string
		mutate func(a *Album)
		want   error
	}{
		{name: "initial state", mutate: func(a *Album) {}},
		{name: "matched with score", mutate: func(a *Album) { a.ApplyMatch(Matched, 95, "mbid") }},
		{name: "no match keeps zero score", mutate: func(a *Album) { a.ApplyMatch(NoMatch, 0, "") }},
		{
			name:   "matched without score",
			mutate: func(a *Album) { a.MatchStatus = Matched },
			want:   shared.ErrInconsistent,
		},
		{
			name:   "pending with score",
			mutate: func(a *Album) { a.MatchScore = &score },
			want:   shared.ErrInconsistent,
		},
		{name: "owned with path", mutate: func(a *Album) { a.MarkOwned(path, SourcePhysical) }},
		{
			name:   "downloading with path",
			mutate: func(a *Album) { a.OwnershipStatus = Downloading; a.LocalPath = &path },
			want:   shared.ErrInconsistent,
		},
		{
			name:   "bad enum",
			mutate: func(a *Album) { a.AcquisitionSource = "bandcamp" },
			want:   shared.ErrInvalidInput,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			album := NewAlbum("artist-1", "Abbey Road")
			tt.mutate(album)
			err := album.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("MarkDownloading clears path", func(t *testing.T) {
		album := NewAlbum("artist-1", "Abbey Road")
		album.MarkOwned(path, SourceAutomatedDownload)
		album.MarkDownloading()
		if album.LocalPath != nil {
			t.Error("expected local path to be cleared")
		}
		if err := album.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestBatchSummary(t *testing.T) {
	var s BatchSummary
	for i := 0; i < MaxSummaryFailures+5; i++ {
		s.RecordFailure("item", errors.New("boom"))
	}
	if s.Failed != MaxSummaryFailures+5 {
		t.Errorf("expected %d failures counted, got %d", MaxSummaryFailures+5, s.Failed)
	}
	if len(s.Failures) != MaxSummaryFailures {
		t.Errorf("expected %d messages kept, got %d", MaxSummaryFailures, len(s.Failures))
	}
}
