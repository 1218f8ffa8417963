package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	trackColumns    = "id, sequence, album_id, title, spotify_id, track_number, disc_number, duration_ms, created_at, updated_at"
	playlistColumns = `id, sequence, spotify_id, name, description, owner_name, collaborative, total_tracks, snapshot_id,
	enabled, synthetic, last_synced_at, created_at, updated_at`
)

// TrackRepository persists catalog tracks.
type TrackRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db, now: time.Now}
}

// Ensure returns the track with lt.SpotifyID, creating it under albumID on first reference.
// An existing track keeps its album.
func (r *TrackRepository) Ensure(ctx context.Context, albumID string, lt models.LibraryTrack) (*models.Track, error) {
	track, err := r.GetBySpotifyID(ctx, lt.SpotifyID)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return track, err
	}

	track = &models.Track{
		AlbumID:     albumID,
		Title:       lt.Title,
		SpotifyID:   lt.SpotifyID,
		TrackNumber: lt.TrackNumber,
		DiscNumber:  lt.DiscNumber,
		DurationMS:  lt.DurationMS,
	}
	if err := track.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "tracks")
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := r.now().UTC()
	track.ID = shared.GenerateID()
	track.Sequence = sequence
	track.CreatedAt = now
	track.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tracks (id, sequence, album_id, title, spotify_id, track_number, disc_number, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, track.ID, track.Sequence, track.AlbumID, track.Title, track.SpotifyID, track.TrackNumber, track.DiscNumber,
		track.DurationMS, now, now)
	if isUniqueViolation(err) {
		return r.GetBySpotifyID(ctx, lt.SpotifyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert track: %w", err)
	}
	return track, nil
}

// GetBySpotifyID retrieves a track by its streaming-library id.
func (r *TrackRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*models.Track, error) {
	var t models.Track
	err := r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE spotify_id = ?", spotifyID).
		Scan(&t.ID, &t.Sequence, &t.AlbumID, &t.Title, &t.SpotifyID, &t.TrackNumber, &t.DiscNumber, &t.DurationMS,
			&t.CreatedAt, &t.UpdatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: track spotify:%s", shared.ErrNotFound, spotifyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	return &t, nil
}

// CountByAlbum returns how many tracks reference albumID.
func (r *TrackRepository) CountByAlbum(ctx context.Context, albumID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks WHERE album_id = ?", albumID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// memberBatchSize keeps a membership insert under SQLite's bound-variable limit.
const memberBatchSize = 500

// PlaylistMember places a track in a playlist.
type PlaylistMember struct {
	TrackID  string
	Position int
	AddedAt  *time.Time
}

// PlaylistRepository persists playlists and their membership.
//
// Owned counts are computed on read from album ownership, so they never lag a webhook or scan.
type PlaylistRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db, now: time.Now}
}

// Upsert creates or refreshes the playlist with lp.SpotifyID.
//
// Descriptive fields are overwritten; the enabled flag and the synced snapshot are kept.
// A new playlist starts disabled.
func (r *PlaylistRepository) Upsert(ctx context.Context, lp models.LibraryPlaylist) (*models.Playlist, error) {
	return r.upsert(ctx, &models.Playlist{
		SpotifyID:     lp.SpotifyID,
		Name:          lp.Name,
		Description:   lp.Description,
		Owner:         lp.Owner,
		Collaborative: lp.Collaborative,
		TotalTracks:   lp.TotalTracks,
	})
}

// EnsureLikedSongs creates or refreshes the synthetic Liked Songs playlist.
func (r *PlaylistRepository) EnsureLikedSongs(ctx context.Context, total int) (*models.Playlist, error) {
	return r.upsert(ctx, &models.Playlist{
		SpotifyID:   models.LikedSongsSpotifyID,
		Name:        models.LikedSongsName,
		Description: "Tracks saved to the library",
		TotalTracks: total,
		Synthetic:   true,
	})
}

func (r *PlaylistRepository) upsert(ctx context.Context, p *models.Playlist) (*models.Playlist, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE playlists
		SET name = ?, description = ?, owner_name = ?, collaborative = ?, total_tracks = ?, updated_at = ?
		WHERE spotify_id = ?
	`, p.Name, p.Description, p.Owner, p.Collaborative, p.TotalTracks, now, p.SpotifyID)
	if err != nil {
		return nil, fmt.Errorf("failed to update playlist: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	} else if n > 0 {
		return r.GetBySpotifyID(ctx, p.SpotifyID)
	}

	sequence, err := NextSequence(r.db, "playlists")
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequence: %w", err)
	}
	p.ID = shared.GenerateID()
	p.Sequence = sequence
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO playlists (id, sequence, spotify_id, name, description, owner_name, collaborative, total_tracks,
			synthetic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Sequence, p.SpotifyID, p.Name, p.Description, p.Owner, p.Collaborative, p.TotalTracks, p.Synthetic, now, now)
	if isUniqueViolation(err) {
		return r.upsert(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert playlist: %w", err)
	}
	return p, nil
}

// Get retrieves a playlist by ID.
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	return r.one(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE id = ?", id)
}

// GetBySpotifyID retrieves a playlist by its streaming-library id.
func (r *PlaylistRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*models.Playlist, error) {
	return r.one(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE spotify_id = ?", spotifyID)
}

func (r *PlaylistRepository) one(ctx context.Context, query string, args ...any) (*models.Playlist, error) {
	p, err := scanPlaylist(r.db.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: playlist", shared.ErrNotFound)
	}
	return p, err
}

// List returns every playlist, Liked Songs first and the rest in sync order.
func (r *PlaylistRepository) List(ctx context.Context) ([]*models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+playlistColumns+" FROM playlists ORDER BY synthetic DESC, sequence ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

// SetEnabled opts a playlist in or out of track sync.
func (r *PlaylistRepository) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Playlist, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE playlists SET enabled = ?, updated_at = ? WHERE id = ?", enabled, r.now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update playlist: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)
	}
	return r.Get(ctx, id)
}

// ReplaceTracks makes members the playlist's complete track list and records snapshot as
// synced, in one transaction.
func (r *PlaylistRepository) ReplaceTracks(ctx context.Context, playlistID string, members []PlaylistMember, snapshot string) error {
	now := r.now().UTC()
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM playlist_tracks WHERE playlist_id = ?", playlistID); err != nil {
			return fmt.Errorf("failed to clear playlist tracks: %w", err)
		}

		// A track listed twice keeps its last position.
		for chunk := range slices.Chunk(members, memberBatchSize) {
			insert := sq.Insert("playlist_tracks").
				Columns("playlist_id", "track_id", "position", "added_at").
				Suffix("ON CONFLICT (playlist_id, track_id) DO UPDATE SET position = excluded.position")
			for _, m := range chunk {
				insert = insert.Values(playlistID, m.TrackID, m.Position, nullTime(m.AddedAt))
			}
			query, args, err := insert.ToSql()
			if err != nil {
				return fmt.Errorf("failed to build query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert playlist tracks: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, "UPDATE playlists SET snapshot_id = ?, last_synced_at = ?, updated_at = ? WHERE id = ?",
			snapshot, now, now, playlistID)
		if err != nil {
			return fmt.Errorf("failed to record playlist snapshot: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: playlist %s", shared.ErrNotFound, playlistID)
		}
		return nil
	})
}

// Stats counts tracks and owned tracks for each of ids. Every requested id is present in
// the result, with zero counts for an empty playlist.
func (r *PlaylistRepository) Stats(ctx context.Context, ids ...string) (map[string]models.PlaylistStats, error) {
	stats := make(map[string]models.PlaylistStats, len(ids))
	if len(ids) == 0 {
		return stats, nil
	}
	for _, id := range ids {
		stats[id] = models.PlaylistStats{}
	}

	query, args, err := sq.Select("pt.playlist_id", "COUNT(*)",
		fmt.Sprintf("SUM(CASE WHEN a.ownership_status = '%s' THEN 1 ELSE 0 END)", models.Owned)).
		From("playlist_tracks pt").
		Join("tracks t ON t.id = pt.track_id").
		Join("albums a ON a.id = t.album_id").
		Where(sq.Eq{"pt.playlist_id": ids}).
		GroupBy("pt.playlist_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			s  models.PlaylistStats
		)
		if err := rows.Scan(&id, &s.Total, &s.Owned); err != nil {
			return nil, fmt.Errorf("failed to scan playlist stats: %w", err)
		}
		stats[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// Entries returns one page of a playlist in position order with each track's album ownership.
func (r *PlaylistRepository) Entries(ctx context.Context, playlistID string, limit, offset int) ([]models.PlaylistEntry, error) {
	builder := sq.Select("pt.position", "t.id", "t.title", "t.duration_ms", "a.id", "a.title", "ar.name", "a.ownership_status").
		From("playlist_tracks pt").
		Join("tracks t ON t.id = pt.track_id").
		Join("albums a ON a.id = t.album_id").
		Join("artists ar ON ar.id = a.artist_id").
		Where(sq.Eq{"pt.playlist_id": playlistID}).
		OrderBy("pt.position ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit)).Offset(uint64(max(offset, 0)))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer rows.Close()

	var entries []models.PlaylistEntry
	for rows.Next() {
		var (
			e         models.PlaylistEntry
			ownership string
		)
		if err := rows.Scan(&e.Position, &e.TrackID, &e.Title, &e.DurationMS, &e.AlbumID, &e.AlbumTitle,
			&e.ArtistName, &ownership); err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		e.OwnershipStatus = models.OwnershipStatus(ownership)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

func scanPlaylist(s scanner) (*models.Playlist, error) {
	var (
		p      models.Playlist
		synced sql.NullTime
	)
	err := s.Scan(&p.ID, &p.Sequence, &p.SpotifyID, &p.Name, &p.Description, &p.Owner, &p.Collaborative,
		&p.TotalTracks, &p.SnapshotID, &p.Enabled, &p.Synthetic, &synced, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}
	p.LastSyncedAt = timePtr(synced)
	return &p, nil
}
