package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const albumColumns = `a.id, a.sequence, a.artist_id, ar.name, a.title, a.spotify_id, a.musicbrainz_id,
	a.release_date, a.track_count, a.genres, a.cover_art_ref, a.ownership_status, a.acquisition_source,
	a.local_path, a.match_status, a.match_score, a.last_synced_at, a.version, a.created_at, a.updated_at`

// maxMutateAttempts bounds optimistic retries for a single [AlbumRepository.Mutate] call.
const maxMutateAttempts = 5

// ErrNoChange may be returned from a [AlbumRepository.Mutate] callback to skip the write.
var ErrNoChange = errors.New("no change")

// AlbumFilter narrows album listings; zero values mean "any".
type AlbumFilter struct {
	ArtistID    string
	Ownership   models.OwnershipStatus
	MatchStatus models.MatchStatus
	Limit       int
	Offset      int
}

// AlbumRepository persists catalog albums.
//
// Every status write goes through [AlbumRepository.Mutate], which serializes writers of the
// same album inside this process with a keyed lock and across processes with the version column.
type AlbumRepository struct {
	db    *sql.DB
	locks *KeyedMutex
	now   models.Clock
}

// NewAlbumRepository creates a new AlbumRepository with the given database connection
func NewAlbumRepository(db *sql.DB) *AlbumRepository {
	return &AlbumRepository{db: db, locks: NewKeyedMutex(), now: time.Now}
}

// Create inserts a new album with generated ID and sequence
func (r *AlbumRepository) Create(ctx context.Context, album *models.Album) error {
	if album.Genres == nil {
		album.Genres = []string{}
	}
	if err := album.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "albums")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	genres, err := json.Marshal(album.Genres)
	if err != nil {
		return fmt.Errorf("failed to encode genres: %w", err)
	}

	now := r.now().UTC()
	album.ID = shared.GenerateID()
	album.Sequence = sequence
	album.Version = 1
	album.CreatedAt = now
	album.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO albums (id, sequence, artist_id, title, spotify_id, musicbrainz_id, release_date, track_count,
			genres, cover_art_ref, ownership_status, acquisition_source, local_path, match_status, match_score,
			last_synced_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		album.ID, album.Sequence, album.ArtistID, album.Title, nullString(album.SpotifyID), nullString(album.MusicBrainzID),
		album.ReleaseDate, album.TrackCount, string(genres), nullStringPtr(album.CoverArtRef), album.OwnershipStatus,
		album.AcquisitionSource, nullStringPtr(album.LocalPath), album.MatchStatus, nullInt(album.MatchScore),
		nullTime(album.LastSyncedAt), album.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert album: %w", err)
	}
	return nil
}

// UpsertFromLibrary creates or refreshes the album identified by saved.SpotifyID.
//
// Descriptive fields are overwritten; ownership and match state are never touched here.
func (r *AlbumRepository) UpsertFromLibrary(ctx context.Context, artistID string, saved models.SavedAlbum) (*models.Album, bool, error) {
	existing, err := r.GetBySpotifyID(ctx, saved.SpotifyID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	syncedAt := r.now().UTC()
	if existing == nil {
		album, err := r.createFromLibrary(ctx, artistID, saved, syncedAt)
		if err != nil {
			return nil, false, err
		}
		return album, true, nil
	}

	updated, err := r.Mutate(ctx, existing.ID, func(a *models.Album) error {
		a.Title = saved.Title
		a.ReleaseDate = saved.ReleaseDate
		a.TrackCount = saved.TrackCount
		if saved.Genres != nil {
			a.Genres = saved.Genres
		}
		a.LastSyncedAt = &syncedAt
		return nil
	})
	return updated, false, err
}

// EnsureFromLibrary returns the album identified by saved.SpotifyID, creating it when a
// playlist track references an album that is not in the saved library. An existing album
// is returned unchanged.
func (r *AlbumRepository) EnsureFromLibrary(ctx context.Context, artistID string, saved models.SavedAlbum) (*models.Album, error) {
	existing, err := r.GetBySpotifyID(ctx, saved.SpotifyID)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return existing, err
	}

	album, err := r.createFromLibrary(ctx, artistID, saved, r.now().UTC())
	if isUniqueViolation(err) {
		return r.GetBySpotifyID(ctx, saved.SpotifyID)
	}
	return album, err
}

func (r *AlbumRepository) createFromLibrary(ctx context.Context, artistID string, saved models.SavedAlbum, syncedAt time.Time) (*models.Album, error) {
	album := models.NewAlbum(artistID, saved.Title)
	album.SpotifyID = saved.SpotifyID
	album.ReleaseDate = saved.ReleaseDate
	album.TrackCount = saved.TrackCount
	if saved.Genres != nil {
		album.Genres = saved.Genres
	}
	album.LastSyncedAt = &syncedAt
	if err := r.Create(ctx, album); err != nil {
		return nil, err
	}
	return album, nil
}

// Get retrieves an album by ID together with its artist name.
func (r *AlbumRepository) Get(ctx context.Context, id string) (*models.Album, error) {
	return r.getWhere(ctx, r.db, sq.Eq{"a.id": id}, "album "+id)
}

// GetBySpotifyID retrieves an album by its streaming-library id.
func (r *AlbumRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*models.Album, error) {
	return r.getWhere(ctx, r.db, sq.Eq{"a.spotify_id": spotifyID}, "album spotify:"+spotifyID)
}

// GetByMusicBrainzID retrieves the album matched to a metadata release-group id.
func (r *AlbumRepository) GetByMusicBrainzID(ctx context.Context, mbid string) (*models.Album, error) {
	return r.getWhere(ctx, r.db, sq.Eq{"a.musicbrainz_id": mbid}, "album mbid:"+mbid)
}

func (r *AlbumRepository) getWhere(ctx context.Context, q querier, pred sq.Sqlizer, what string) (*models.Album, error) {
	query, args, err := r.selectAlbums().Where(pred).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	album, err := scanAlbum(q.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, what)
	}
	return album, err
}

// List returns albums matching filter in catalog order.
func (r *AlbumRepository) List(ctx context.Context, filter AlbumFilter) ([]*models.Album, error) {
	builder := r.selectAlbums().OrderBy("a.sequence ASC")
	if filter.ArtistID != "" {
		builder = builder.Where(sq.Eq{"a.artist_id": filter.ArtistID})
	}
	if filter.Ownership != "" {
		builder = builder.Where(sq.Eq{"a.ownership_status": filter.Ownership})
	}
	if filter.MatchStatus != "" {
		builder = builder.Where(sq.Eq{"a.match_status": filter.MatchStatus})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
		if filter.Offset > 0 {
			builder = builder.Offset(uint64(filter.Offset))
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query albums: %w", err)
	}
	defer rows.Close()

	var albums []*models.Album
	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, album)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return albums, nil
}

// IDsByMatchStatus returns album ids with the given match status in catalog order.
func (r *AlbumRepository) IDsByMatchStatus(ctx context.Context, status models.MatchStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM albums WHERE match_status = ? ORDER BY sequence", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query album ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Mutate applies fn to the current album and writes the result, retrying on version conflicts.
//
// fn may run more than once and must compute absolute target state from its argument.
// The written album must satisfy [models.Album.Validate]; otherwise nothing is written.
func (r *AlbumRepository) Mutate(ctx context.Context, id string, fn func(*models.Album) error) (*models.Album, error) {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.mutate(ctx, id, fn)
}

// MutateFunc mutates the album whose lock is already held; see [AlbumRepository.Locked].
type MutateFunc func(fn func(*models.Album) error) (*models.Album, error)

// Locked runs fn while holding the album's write lock, so rows owned by the album (its
// download requests) change in step with it. fn must write the album through mutate;
// calling [AlbumRepository.Mutate] for the same id inside fn deadlocks.
func (r *AlbumRepository) Locked(ctx context.Context, id string, fn func(ctx context.Context, mutate MutateFunc) error) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return fn(ctx, func(apply func(*models.Album) error) (*models.Album, error) {
		return r.mutate(ctx, id, apply)
	})
}

func (r *AlbumRepository) mutate(ctx context.Context, id string, fn func(*models.Album) error) (*models.Album, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		album, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(album); err != nil {
			if errors.Is(err, ErrNoChange) {
				return album, nil
			}
			return nil, err
		}

		if err := album.Validate(); err != nil {
			return nil, err
		}

		err = r.update(ctx, album)
		if err == nil {
			return album, nil
		}
		if !errors.Is(err, shared.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// update writes album if its version still matches the stored row.
func (r *AlbumRepository) update(ctx context.Context, album *models.Album) error {
	genres, err := json.Marshal(album.Genres)
	if err != nil {
		return fmt.Errorf("failed to encode genres: %w", err)
	}

	now := r.now().UTC()
	query, args, err := sq.Update("albums").
		Set("title", album.Title).
		Set("musicbrainz_id", nullString(album.MusicBrainzID)).
		Set("release_date", album.ReleaseDate).
		Set("track_count", album.TrackCount).
		Set("genres", string(genres)).
		Set("cover_art_ref", nullStringPtr(album.CoverArtRef)).
		Set("ownership_status", album.OwnershipStatus).
		Set("acquisition_source", album.AcquisitionSource).
		Set("local_path", nullStringPtr(album.LocalPath)).
		Set("match_status", album.MatchStatus).
		Set("match_score", nullInt(album.MatchScore)).
		Set("last_synced_at", nullTime(album.LastSyncedAt)).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", now).
		Where(sq.Eq{"id": album.ID, "version": album.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update album: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: album %s version %d", shared.ErrVersionConflict, album.ID, album.Version)
	}

	album.Version++
	album.UpdatedAt = now
	return nil
}

// CountByOwnership returns the number of albums in each ownership status.
func (r *AlbumRepository) CountByOwnership(ctx context.Context) (map[models.OwnershipStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT ownership_status, COUNT(*) FROM albums GROUP BY ownership_status")
	if err != nil {
		return nil, fmt.Errorf("failed to count albums: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OwnershipStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.OwnershipStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *AlbumRepository) selectAlbums() sq.SelectBuilder {
	return sq.Select(albumColumns).From("albums a").Join("artists ar ON ar.id = a.artist_id")
}

func scanAlbum(s scanner) (*models.Album, error) {
	var (
		a          models.Album
		spotifyID  sql.NullString
		mbID       sql.NullString
		genres     string
		coverRef   sql.NullString
		ownership  string
		source     string
		localPath  sql.NullString
		matchState string
		matchScore sql.NullInt64
		syncedAt   sql.NullTime
	)

	err := s.Scan(&a.ID, &a.Sequence, &a.ArtistID, &a.ArtistName, &a.Title, &spotifyID, &mbID,
		&a.ReleaseDate, &a.TrackCount, &genres, &coverRef, &ownership, &source,
		&localPath, &matchState, &matchScore, &syncedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan album: %w", err)
	}

	if err := json.Unmarshal([]byte(genres), &a.Genres); err != nil {
		a.Genres = []string{}
	}
	a.SpotifyID = spotifyID.String
	a.MusicBrainzID = mbID.String
	a.CoverArtRef = stringPtr(coverRef)
	a.OwnershipStatus = models.OwnershipStatus(ownership)
	a.AcquisitionSource = models.AcquisitionSource(source)
	a.LocalPath = stringPtr(localPath)
	a.MatchStatus = models.MatchStatus(matchState)
	a.MatchScore = intPtr(matchScore)
	a.LastSyncedAt = timePtr(syncedAt)
	return &a, nil
}
