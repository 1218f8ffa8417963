package matching

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

func newTestEngine(t *testing.T, meta *tu.MockMetadata) (*Engine, *repositories.CacheRepository) {
	t.Helper()
	cache := repositories.NewCacheRepository(tu.NewTestDB(t))
	return NewEngine(meta, cache, nil, nil), cache
}

func TestEngineMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("exact match on normalized names", func(t *testing.T) {
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) {
			if q != `artist:"beatles" AND releasegroup:"abbey road" AND primarytype:album` {
				t.Errorf("unexpected query %s", q)
			}
			return []models.ReleaseGroup{
				{ID: "abbey", Title: "Abbey Road", ArtistName: "The Beatles", Score: 100},
				{ID: "other", Title: "Abbey Road Sessions", ArtistName: "The Beatles", Score: 72},
			}, nil
		}}
		engine, _ := newTestEngine(t, meta)

		result, err := engine.Match(ctx, "The Beatles", "Abbey Road")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Status != models.Matched || result.Score < AcceptThreshold || result.MBID != "abbey" {
			t.Errorf("unexpected result: %+v", result)
		}
		if n := len(meta.Queries()); n != 1 {
			t.Errorf("expected only the exact query, got %d queries", n)
		}
	})

	t.Run("cache hit skips search", func(t *testing.T) {
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) {
			return []models.ReleaseGroup{{ID: "abbey", Title: "Abbey Road", ArtistName: "The Beatles", Score: 97}}, nil
		}}
		engine, _ := newTestEngine(t, meta)

		first, err := engine.Match(ctx, "The Beatles", "Abbey Road")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := engine.Match(ctx, "Beatles", "Abbey Road (Remastered)")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if !second.Cached {
			t.Error("expected second result from cache")
		}
		if first.Status != second.Status || first.Score != second.Score || first.MBID != second.MBID {
			t.Errorf("cached result differs: %+v vs %+v", first, second)
		}
		if n := len(meta.Queries()); n != 1 {
			t.Errorf("expected 1 external call, got %d", n)
		}
	})

	t.Run("fuzzy fallback when exact scores low", func(t *testing.T) {
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) {
			if q == ExactQuery("radiohead", "ok computer") {
				return []models.ReleaseGroup{{ID: "weak", Title: "OK Computer OKNOTOK", ArtistName: "Radiohead", Score: 65}}, nil
			}
			return []models.ReleaseGroup{{ID: "strong", Title: "OK Computer", ArtistName: "Radiohead", Score: 88}}, nil
		}}
		engine, _ := newTestEngine(t, meta)

		result, err := engine.Match(ctx, "Radiohead", "OK Computer")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.MBID != "strong" || result.Status != models.Matched {
			t.Errorf("expected fuzzy candidate to win, got %+v", result)
		}

		queries := meta.Queries()
		if len(queries) != 2 || queries[1] != FuzzyQuery("radiohead", "ok computer") {
			t.Errorf("expected exact then fuzzy query, got %v", queries)
		}
	})

	t.Run("needs review is not cached", func(t *testing.T) {
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) {
			return []models.ReleaseGroup{{ID: "maybe", Title: "Dummy Live", ArtistName: "Portishead", Score: 64}}, nil
		}}
		engine, cache := newTestEngine(t, meta)

		result, err := engine.Match(ctx, "Portishead", "Dummy")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Status != models.NeedsReview || result.Score != 64 || result.MBID != "maybe" {
			t.Errorf("unexpected result: %+v", result)
		}

		if n, _ := cache.Len(ctx); n != 0 {
			t.Errorf("expected nothing cached, got %d entries", n)
		}

		_, _ = engine.Match(ctx, "Portishead", "Dummy")
		if n := len(meta.Queries()); n != 4 {
			t.Errorf("expected re-query on second match, got %d queries", n)
		}
	})

	t.Run("no candidates is cached as a bounded miss", func(t *testing.T) {
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) { return nil, nil }}
		engine, cache := newTestEngine(t, meta)

		result, err := engine.Match(ctx, "Nobody", "Nothing")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Status != models.NoMatch || result.Score != 0 || result.MBID != "" {
			t.Errorf("unexpected result: %+v", result)
		}

		if _, ok, _ := cache.Get(ctx, CacheKey(models.NoMatch, "nobody", "nothing")); !ok {
			t.Fatal("expected miss to be cached")
		}

		later := time.Now().Add(NoMatchTTL + time.Minute)
		cache.WithClock(func() time.Time { return later })

		_, _ = engine.Match(ctx, "Nobody", "Nothing")
		if n := len(meta.Queries()); n != 4 {
			t.Errorf("expected expired miss to re-query, got %d queries", n)
		}
	})

	t.Run("search error is returned and not cached", func(t *testing.T) {
		boom := shared.NewServiceError("musicbrainz", http.StatusInternalServerError, errors.New("boom"))
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) { return nil, boom }}
		engine, cache := newTestEngine(t, meta)

		_, err := engine.Match(ctx, "Low", "Secret Name")
		if !shared.IsTransient(err) {
			t.Errorf("expected transient error, got %v", err)
		}
		if n, _ := cache.Len(ctx); n != 0 {
			t.Errorf("expected nothing cached, got %d", n)
		}
	})

	t.Run("cancellation between attempts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		meta := &tu.MockMetadata{SearchFunc: func(q string) ([]models.ReleaseGroup, error) {
			cancel()
			return []models.ReleaseGroup{{ID: "weak", Score: 40}}, nil
		}}
		engine, _ := newTestEngine(t, meta)

		_, err := engine.Match(cctx, "Slowdive", "Souvlaki")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if n := len(meta.Queries()); n != 1 {
			t.Errorf("expected no call after cancellation, got %d", n)
		}
	})

	t.Run("empty names are rejected", func(t *testing.T) {
		engine, _ := newTestEngine(t, &tu.MockMetadata{})
		if _, err := engine.Match(ctx, "The", ""); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestPick(t *testing.T) {
	tests := []struct {
		name       string
		candidates []candidate
		want       string
	}{
		{"highest score", []candidate{
			{ReleaseGroup: models.ReleaseGroup{ID: "a", Score: 70}},
			{ReleaseGroup: models.ReleaseGroup{ID: "b", Score: 90}},
		}, "b"},
		{"similarity breaks score ties", []candidate{
			{ReleaseGroup: models.ReleaseGroup{ID: "a", Score: 100}, similarity: 0.6},
			{ReleaseGroup: models.ReleaseGroup{ID: "b", Score: 100}, similarity: 0.9},
		}, "b"},
		{"exact attempt breaks similarity ties", []candidate{
			{ReleaseGroup: models.ReleaseGroup{ID: "fuzzy", Score: 90}, similarity: 1, attempt: 1},
			{ReleaseGroup: models.ReleaseGroup{ID: "exact", Score: 90}, similarity: 1, attempt: 0},
		}, "exact"},
		{"id breaks remaining ties", []candidate{
			{ReleaseGroup: models.ReleaseGroup{ID: "c", Score: 90}, similarity: 1},
			{ReleaseGroup: models.ReleaseGroup{ID: "a", Score: 90}, similarity: 1},
			{ReleaseGroup: models.ReleaseGroup{ID: "b", Score: 90}, similarity: 1},
		}, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pick(tt.candidates); got == nil || got.ID != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, got)
			}
		})
	}

	if pick(nil) != nil {
		t.Error("expected nil for no candidates")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		want  models.MatchStatus
	}{
		{100, models.Matched},
		{80, models.Matched},
		{79, models.NeedsReview},
		{1, models.NeedsReview},
		{0, models.NoMatch},
	}

	for _, tt := range tests {
		got := classify(&candidate{ReleaseGroup: models.ReleaseGroup{ID: "x", Score: tt.score}})
		if got.Status != tt.want {
			t.Errorf("score %d: expected %s, got %s", tt.score, tt.want, got.Status)
		}
	}
	if classify(nil).Status != models.NoMatch {
		t.Error("expected no_match without a candidate")
	}
}
