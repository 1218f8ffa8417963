package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const artistColumns = "id, sequence, name, spotify_id, musicbrainz_id, created_at, updated_at"

// ArtistRepository persists catalog artists.
type ArtistRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewArtistRepository creates a new ArtistRepository with the given database connection
func NewArtistRepository(db *sql.DB) *ArtistRepository {
	return &ArtistRepository{db: db, now: time.Now}
}

// Create inserts a new artist with generated ID and sequence
func (r *ArtistRepository) Create(ctx context.Context, artist *models.Artist) error {
	if err := artist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "artists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := r.now().UTC()
	artist.ID = shared.GenerateID()
	artist.Sequence = sequence
	artist.CreatedAt = now
	artist.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artists (id, sequence, name, spotify_id, musicbrainz_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, artist.ID, artist.Sequence, artist.Name, nullString(artist.SpotifyID), nullString(artist.MusicBrainzID), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert artist: %w", err)
	}
	return nil
}

// Get retrieves an artist by ID
func (r *ArtistRepository) Get(ctx context.Context, id string) (*models.Artist, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+artistColumns+" FROM artists WHERE id = ?", id)
	artist, err := scanArtist(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: artist %s", shared.ErrNotFound, id)
	}
	return artist, err
}

// EnsureBySpotifyID returns the artist with spotifyID, creating it on first reference.
//
// Without a spotify id the artist is matched by case-insensitive name.
func (r *ArtistRepository) EnsureBySpotifyID(ctx context.Context, name, spotifyID string) (*models.Artist, error) {
	var row *sql.Row
	if spotifyID != "" {
		row = r.db.QueryRowContext(ctx, "SELECT "+artistColumns+" FROM artists WHERE spotify_id = ?", spotifyID)
	} else {
		row = r.db.QueryRowContext(ctx, "SELECT "+artistColumns+" FROM artists WHERE name = ? COLLATE NOCASE ORDER BY sequence LIMIT 1", name)
	}

	artist, err := scanArtist(row)
	if err == nil {
		return artist, nil
	}
	if !isNoRows(err) {
		return nil, err
	}

	artist = &models.Artist{Name: name, SpotifyID: spotifyID}
	if err := r.Create(ctx, artist); err != nil {
		if isUniqueViolation(err) {
			return r.EnsureBySpotifyID(ctx, name, spotifyID)
		}
		return nil, err
	}
	return artist, nil
}

func scanArtist(s scanner) (*models.Artist, error) {
	var (
		a    models.Artist
		spID sql.NullString
		mbID sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Sequence, &a.Name, &spID, &mbID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan artist: %w", err)
	}
	a.SpotifyID = spID.String
	a.MusicBrainzID = mbID.String
	return &a, nil
}
