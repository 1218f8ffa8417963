// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// NewTestDB returns an in-memory database with all migrations applied, closed on cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedAlbum creates an artist and an album, applying edit (if any) before insert.
func SeedAlbum(t *testing.T, db *sql.DB, artist, title string, edit func(*models.Album)) *models.Album {
	t.Helper()
	ctx := context.Background()

	a, err := repositories.NewArtistRepository(db).EnsureBySpotifyID(ctx, artist, "")
	if err != nil {
		t.Fatalf("failed to create artist: %v", err)
	}

	album := models.NewAlbum(a.ID, title)
	if edit != nil {
		edit(album)
	}
	if err := repositories.NewAlbumRepository(db).Create(ctx, album); err != nil {
		t.Fatalf("failed to create album: %v", err)
	}
	album.ArtistName = a.Name
	return album
}

// MockLibrary is a test double for [services.LibraryService] serving Albums in pages.
//
// PlaylistItems maps a playlist's library id to its tracks; SavedTrackItems backs Liked Songs.
type MockLibrary struct {
	Albums          []models.SavedAlbum
	PlaylistList    []models.LibraryPlaylist
	PlaylistItems   map[string][]models.LibraryTrack
	SavedTrackItems []models.LibraryTrack
	Err             error
	PlaylistErr     error

	mu         sync.Mutex
	calls      int
	trackCalls map[string]int
}

func (m *MockLibrary) Name() string { return "mock-library" }

func (m *MockLibrary) SavedAlbums(ctx context.Context, limit, offset int) (*models.SavedAlbumPage, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 {
		limit = 50
	}

	end := min(offset+limit, len(m.Albums))
	page := &models.SavedAlbumPage{Total: len(m.Albums), Offset: offset, HasNext: end < len(m.Albums)}
	if offset < len(m.Albums) {
		page.Items = append(page.Items, m.Albums[offset:end]...)
	}
	return page, nil
}

func (m *MockLibrary) Playlists(ctx context.Context, limit, offset int) (*models.PlaylistPage, error) {
	if m.PlaylistErr != nil {
		return nil, m.PlaylistErr
	}
	items, total, hasNext := pageOf(m.PlaylistList, limit, offset)
	return &models.PlaylistPage{Items: items, Total: total, Offset: offset, HasNext: hasNext}, nil
}

func (m *MockLibrary) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.TrackPage, error) {
	m.countTracks(playlistID)
	items, total, hasNext := pageOf(m.PlaylistItems[playlistID], limit, offset)
	return &models.TrackPage{Items: items, Total: total, Offset: offset, HasNext: hasNext}, nil
}

func (m *MockLibrary) SavedTracks(ctx context.Context, limit, offset int) (*models.TrackPage, error) {
	m.countTracks(models.LikedSongsSpotifyID)
	items, total, hasNext := pageOf(m.SavedTrackItems, limit, offset)
	return &models.TrackPage{Items: items, Total: total, Offset: offset, HasNext: hasNext}, nil
}

func (m *MockLibrary) countTracks(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trackCalls == nil {
		m.trackCalls = make(map[string]int)
	}
	m.trackCalls[id]++
}

// TrackCalls returns how many track pages were fetched for a playlist; Liked Songs is
// keyed by [models.LikedSongsSpotifyID].
func (m *MockLibrary) TrackCalls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackCalls[id]
}

func pageOf[T any](all []T, limit, offset int) ([]T, int, bool) {
	if limit <= 0 {
		limit = 50
	}
	end := min(offset+limit, len(all))
	if offset >= len(all) {
		return nil, len(all), false
	}
	return append([]T(nil), all[offset:end]...), len(all), end < len(all)
}

// Calls returns the number of SavedAlbums calls.
func (m *MockLibrary) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMetadata is a test double for [services.MetadataService].
//
// SearchFunc answers queries; Covers maps release-group ids to image bytes (missing ids are not found).
type MockMetadata struct {
	SearchFunc func(query string) ([]models.ReleaseGroup, error)
	Covers     map[string][]byte
	CoverErr   error

	mu      sync.Mutex
	queries []string
	covers  int
}

func (m *MockMetadata) Name() string { return "mock-metadata" }

func (m *MockMetadata) SearchReleaseGroups(ctx context.Context, query string) ([]models.ReleaseGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.SearchFunc == nil {
		return nil, nil
	}
	return m.SearchFunc(query)
}

func (m *MockMetadata) CoverArt(ctx context.Context, mbid string) ([]byte, error) {
	m.mu.Lock()
	m.covers++
	m.mu.Unlock()

	if m.CoverErr != nil {
		return nil, m.CoverErr
	}
	img, ok := m.Covers[mbid]
	if !ok {
		return nil, shared.NewServiceError("mock-metadata", http.StatusNotFound, shared.ErrNotFound)
	}
	return img, nil
}

// Queries returns every search query received, in order.
func (m *MockMetadata) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// CoverCalls returns the number of CoverArt calls.
func (m *MockMetadata) CoverCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.covers
}

// MockDownloads is a test double for [services.DownloadService].
type MockDownloads struct {
	Version   string
	Items     []models.QueueItem
	Albums    map[string]*models.LidarrAlbum
	QueueErr  error
	SearchErr error
	// OnQueue runs inside Queue before the items are returned.
	OnQueue func()

	mu       sync.Mutex
	searched []int
	added    []string
}

func (m *MockDownloads) Name() string { return "mock-downloads" }

func (m *MockDownloads) Status(ctx context.Context) (string, error) {
	return m.Version, nil
}

func (m *MockDownloads) Queue(ctx context.Context) ([]models.QueueItem, error) {
	if m.QueueErr != nil {
		return nil, m.QueueErr
	}
	if m.OnQueue != nil {
		m.OnQueue()
	}
	return m.Items, nil
}

func (m *MockDownloads) LookupAlbum(ctx context.Context, mbid string) (*models.LidarrAlbum, error) {
	album, ok := m.Albums[mbid]
	if !ok {
		return nil, shared.NewServiceError("mock-downloads", http.StatusNotFound, shared.ErrNotFound)
	}
	copied := *album
	return &copied, nil
}

func (m *MockDownloads) AddAlbum(ctx context.Context, album *models.LidarrAlbum) (*models.LidarrAlbum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, album.ForeignAlbumID)

	added := *album
	added.ID = 1000 + len(m.added)
	added.Monitored = true
	return &added, nil
}

func (m *MockDownloads) SearchAlbum(ctx context.Context, albumIDs ...int) error {
	if m.SearchErr != nil {
		return m.SearchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, albumIDs...)
	return nil
}

// Searched returns every album id passed to SearchAlbum.
func (m *MockDownloads) Searched() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.searched...)
}

// Added returns the foreign ids of every added album.
func (m *MockDownloads) Added() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.added...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

// MustWriteFile creates path and its parent directories with content.
func MustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}
