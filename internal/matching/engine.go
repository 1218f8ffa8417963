package matching

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	// AcceptThreshold is the lowest score accepted as a match without review.
	AcceptThreshold = 80

	// NoMatchTTL bounds how long a known miss is remembered.
	NoMatchTTL = 7 * 24 * time.Hour

	matchKeyPrefix   = "mb:match:"
	noMatchKeyPrefix = "mb:nomatch:"
)

// Cache stores serialized match results; a ttl <= 0 never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Engine resolves catalog albums to release groups.
type Engine struct {
	meta    services.MetadataService
	cache   Cache
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewEngine returns an engine searching meta and caching through cache.
func NewEngine(meta services.MetadataService, cache Cache, logger *log.Logger, m *metrics.Metrics) *Engine {
	return &Engine{meta: meta, cache: cache, logger: shared.WithLogger(logger, "component", "matching"), metrics: m}
}

// candidate is a search result annotated for ranking.
type candidate struct {
	models.ReleaseGroup
	similarity float64
	attempt    int // 0 exact, 1 fuzzy
}

// Match finds the best release group for artist/title.
//
// An exact-phrase search runs first; a fuzzy search follows only when it produced nothing scoring
// at least [AcceptThreshold]. The best candidate across both attempts decides the status. Matched
// results are cached forever and misses for [NoMatchTTL]; needs_review is never cached.
func (e *Engine) Match(ctx context.Context, artist, title string) (*models.MatchResult, error) {
	na, nt := Normalize(artist), Normalize(title)
	if na == "" || nt == "" {
		return nil, fmt.Errorf("%w: artist and title are required (got %q, %q)", shared.ErrInvalidInput, artist, title)
	}

	if cached, ok := e.cached(ctx, na, nt); ok {
		e.metrics.MatchOutcome(string(cached.Status), true)
		return cached, nil
	}

	candidates, err := e.search(ctx, 0, ExactQuery(na, nt), na, nt)
	if err != nil {
		return nil, err
	}

	if best := pick(candidates); best == nil || best.Score < AcceptThreshold {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fuzzy, err := e.search(ctx, 1, FuzzyQuery(na, nt), na, nt)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, fuzzy...)
	}

	result := classify(pick(candidates))
	e.logger.Debug("match resolved", "artist", na, "title", nt, "status", result.Status, "score", result.Score, "mbid", result.MBID)

	e.store(ctx, na, nt, result)
	e.metrics.MatchOutcome(string(result.Status), false)
	return result, nil
}

func (e *Engine) search(ctx context.Context, attempt int, query, na, nt string) ([]candidate, error) {
	groups, err := e.meta.SearchReleaseGroups(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("release group search failed: %w", err)
	}

	out := make([]candidate, 0, len(groups))
	for _, g := range groups {
		out = append(out, candidate{
			ReleaseGroup: g,
			similarity:   (SimilarityNormalized(na, Normalize(g.ArtistName)) + SimilarityNormalized(nt, Normalize(g.Title))) / 2,
			attempt:      attempt,
		})
	}
	return out, nil
}

// pick returns the best candidate: highest score, then highest name similarity, then the exact
// attempt, then the smallest id.
func pick(candidates []candidate) *candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := slices.MinFunc(candidates, func(a, b candidate) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(b.similarity, a.similarity),
			cmp.Compare(a.attempt, b.attempt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return &best
}

// classify maps the best candidate to a match status.
func classify(best *candidate) *models.MatchResult {
	switch {
	case best == nil || best.Score <= 0:
		return &models.MatchResult{Status: models.NoMatch, Score: 0}
	case best.Score >= AcceptThreshold:
		return &models.MatchResult{Status: models.Matched, Score: min(best.Score, 100), MBID: best.ID}
	default:
		return &models.MatchResult{Status: models.NeedsReview, Score: best.Score, MBID: best.ID}
	}
}

// CacheKey returns the cache key for a normalized pair under status's prefix.
func CacheKey(status models.MatchStatus, normArtist, normTitle string) string {
	prefix := matchKeyPrefix
	if status == models.NoMatch {
		prefix = noMatchKeyPrefix
	}
	return prefix + normArtist + ":" + normTitle
}

func (e *Engine) cached(ctx context.Context, na, nt string) (*models.MatchResult, bool) {
	if e.cache == nil {
		return nil, false
	}
	for _, status := range []models.MatchStatus{models.Matched, models.NoMatch} {
		raw, ok, err := e.cache.Get(ctx, CacheKey(status, na, nt))
		if err != nil {
			e.logger.Warn("cache read failed", "error", err)
			return nil, false
		}
		if !ok {
			continue
		}

		var result models.MatchResult
		if err := json.Unmarshal(raw, &result); err != nil || result.Status != status {
			e.logger.Warn("ignoring corrupt cache entry", "key", CacheKey(status, na, nt))
			continue
		}
		result.Cached = true
		return &result, true
	}
	return nil, false
}

// store caches result according to its status; cache failures are logged only.
func (e *Engine) store(ctx context.Context, na, nt string, result *models.MatchResult) {
	if e.cache == nil {
		return
	}

	var ttl time.Duration
	switch result.Status {
	case models.Matched:
		ttl = 0
	case models.NoMatch:
		ttl = NoMatchTTL
	default:
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, CacheKey(result.Status, na, nt), raw, ttl); err != nil {
		e.logger.Warn("cache write failed", "error", err)
	}
}
