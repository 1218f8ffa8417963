package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/matching"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"go.senan.xyz/taglib"
)

// MinSimilarity is the lowest artist and title similarity accepted as the same album.
const MinSimilarity = 0.8

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".ogg": true,
	".opus": true, ".wav": true, ".aac": true,
}

// IsAudioFile reports whether path has a supported audio extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// Tags are the embedded fields used for matching.
type Tags struct {
	Artist string
	Album  string
	Title  string
}

// TagReader reads embedded metadata from an audio file.
type TagReader interface {
	ReadTags(path string) (Tags, error)
}

// TaglibReader reads tags with taglib.
type TaglibReader struct{}

func (TaglibReader) ReadTags(path string) (Tags, error) {
	tags, err := taglib.ReadTags(path)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}
	return Tags{
		Artist: firstTag(tags, taglib.AlbumArtist, taglib.Artist),
		Album:  firstTag(tags, taglib.Album),
		Title:  firstTag(tags, taglib.Title),
	}, nil
}

func firstTag(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, v := range tags[key] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Candidate is a directory holding audio files, with the artist/album it appears to contain.
type Candidate struct {
	Dir      string `json:"dir"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Files    int    `json:"files"`
	FromTags bool   `json:"from_tags"`
}

// ScanMatch pairs a directory with the album it was reconciled to.
type ScanMatch struct {
	Dir     string  `json:"dir"`
	AlbumID string  `json:"album_id"`
	Score   float64 `json:"score"`
	Changed bool    `json:"changed"`
}

// Report is the outcome of a scan; Unmatched directories await manual reconciliation.
type Report struct {
	Scanned   int         `json:"scanned"`
	Matched   []ScanMatch `json:"matched,omitempty"`
	Unmatched []Candidate `json:"unmatched,omitempty"`
	Failures  []string    `json:"failures,omitempty"`
}

// Summary condenses the report for a job record.
func (r *Report) Summary() models.BatchSummary {
	s := models.BatchSummary{
		Processed: r.Scanned,
		Succeeded: len(r.Matched),
		Skipped:   len(r.Unmatched),
		Failed:    len(r.Failures),
	}
	if len(r.Failures) > models.MaxSummaryFailures {
		s.Failures = r.Failures[:models.MaxSummaryFailures]
	} else {
		s.Failures = r.Failures
	}
	return s
}

// Scanner reconciles album directories under the music root against the catalog.
//
// It never creates albums; directories without a match are only reported.
type Scanner struct {
	albums  *repositories.AlbumRepository
	tags    TagReader
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewScanner returns a scanner reading tags with tags (nil means taglib).
func NewScanner(albums *repositories.AlbumRepository, tags TagReader, logger *log.Logger, m *metrics.Metrics) *Scanner {
	if tags == nil {
		tags = TaglibReader{}
	}
	return &Scanner{albums: albums, tags: tags, logger: shared.WithLogger(logger, "component", "scanner"), metrics: m}
}

// Discover walks root for directories with at least one audio file.
//
// Artist and album come from the first file with readable tags, falling back to the
// <artist>/<album> directory names.
func (s *Scanner) Discover(root string) ([]Candidate, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("music directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", shared.ErrInvalidConfig, root)
	}

	audio := make(map[string][]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if IsAudioFile(path) {
			dir := filepath.Dir(path)
			audio[dir] = append(audio[dir], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	candidates := make([]Candidate, 0, len(audio))
	for dir, files := range audio {
		slices.Sort(files)
		candidates = append(candidates, s.describe(root, dir, files))
	}
	slices.SortFunc(candidates, func(a, b Candidate) int { return strings.Compare(a.Dir, b.Dir) })
	return candidates, nil
}

func (s *Scanner) describe(root, dir string, files []string) Candidate {
	c := Candidate{Dir: dir, Files: len(files)}
	for _, f := range files {
		tags, err := s.tags.ReadTags(f)
		if err != nil {
			s.logger.Debug("tag read failed", "file", f, "error", err)
			continue
		}
		if tags.Artist != "" && tags.Album != "" {
			c.Artist, c.Album, c.FromTags = tags.Artist, tags.Album, true
			return c
		}
	}

	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return c
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 2 {
		c.Artist, c.Album = parts[len(parts)-2], parts[len(parts)-1]
	} else if rel != "." {
		c.Album = parts[0]
	}
	return c
}

// Scan discovers candidates under root and marks matching albums owned.
//
// Per-directory failures are recorded in the report; an error is returned only when root
// cannot be walked or the catalog cannot be read.
func (s *Scanner) Scan(ctx context.Context, root string, progress func(done, total int)) (*Report, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: music directory is not set", shared.ErrMissingConfig)
	}

	candidates, err := s.Discover(root)
	if err != nil {
		return nil, err
	}

	catalog, err := s.albums.List(ctx, repositories.AlbumFilter{})
	if err != nil {
		return nil, err
	}
	index := newAlbumIndex(catalog)

	report := &Report{}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		album, score := index.best(c)
		if album == nil {
			s.logger.Info("unmatched directory", "dir", c.Dir, "artist", c.Artist, "album", c.Album)
			report.Unmatched = append(report.Unmatched, c)
		} else {
			changed, err := s.claim(ctx, album.ID, c.Dir)
			if err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", c.Dir, err))
			} else {
				report.Matched = append(report.Matched, ScanMatch{Dir: c.Dir, AlbumID: album.ID, Score: score, Changed: changed})
			}
		}

		if progress != nil {
			progress(i+1, len(candidates))
		}
	}

	s.metrics.ScanFinished(len(report.Unmatched))
	s.logger.Info("scan finished", "root", root, "scanned", report.Scanned, "matched", len(report.Matched),
		"unmatched", len(report.Unmatched), "failed", len(report.Failures))
	return report, nil
}

// claim records dir as the album's local copy.
//
// An owned album keeps its acquisition source. An album with an in-flight download is
// owned with an unknown source until the import webhook attributes it; anything else
// becomes physical.
func (s *Scanner) claim(ctx context.Context, albumID, dir string) (bool, error) {
	changed := false
	_, err := s.albums.Mutate(ctx, albumID, func(a *models.Album) error {
		changed = false
		source := models.SourcePhysical
		switch a.OwnershipStatus {
		case models.Owned:
			if a.LocalPath != nil && *a.LocalPath == dir {
				return repositories.ErrNoChange
			}
			if a.AcquisitionSource != models.SourceUnknown {
				source = a.AcquisitionSource
			}
		case models.Downloading:
			source = models.SourceUnknown
		}
		a.MarkOwned(dir, source)
		changed = true
		return nil
	})
	return changed, err
}

type indexedAlbum struct {
	album  *models.Album
	artist string
	title  string
}

// albumIndex holds normalized catalog names for similarity lookups.
type albumIndex struct {
	entries []indexedAlbum
}

func newAlbumIndex(albums []*models.Album) *albumIndex {
	idx := &albumIndex{entries: make([]indexedAlbum, 0, len(albums))}
	for _, a := range albums {
		idx.entries = append(idx.entries, indexedAlbum{
			album:  a,
			artist: matching.Normalize(a.ArtistName),
			title:  matching.Normalize(a.Title),
		})
	}
	return idx
}

// best returns the album whose weaker similarity (artist or title) is highest and at least
// [MinSimilarity]. Ties go to the earliest album in catalog order.
func (idx *albumIndex) best(c Candidate) (*models.Album, float64) {
	artist, title := matching.Normalize(c.Artist), matching.Normalize(c.Album)
	if artist == "" || title == "" {
		return nil, 0
	}

	var found *models.Album
	bestScore := 0.0
	for _, e := range idx.entries {
		t := matching.SimilarityNormalized(title, e.title)
		if t < MinSimilarity {
			continue
		}
		score := min(matching.SimilarityNormalized(artist, e.artist), t)
		if score >= MinSimilarity && score > bestScore {
			found, bestScore = e.album, score
		}
	}
	return found, bestScore
}
