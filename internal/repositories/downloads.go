package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const downloadColumns = "id, album_id, lidarr_album_id, download_id, status, quality_profile, estimated_completion, error_message, created_at, updated_at"

// DownloadRepository persists download requests.
type DownloadRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db, now: time.Now}
}

// Create inserts a request; an album with an active request yields [shared.ErrActiveDownload].
func (r *DownloadRepository) Create(ctx context.Context, req *models.DownloadRequest) error {
	if req.Status == "" {
		req.Status = models.DownloadPending
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	req.ID = shared.GenerateID()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_requests (id, album_id, lidarr_album_id, download_id, status, quality_profile,
			estimated_completion, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.AlbumID, req.LidarrAlbumID, req.DownloadID, req.Status, req.QualityProfile,
		nullTime(req.EstimatedCompletion), nullString(req.Error), now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: album %s", shared.ErrActiveDownload, req.AlbumID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert download request: %w", err)
	}
	return nil
}

// Get returns one request by id.
func (r *DownloadRepository) Get(ctx context.Context, id string) (*models.DownloadRequest, error) {
	return r.one(ctx, "SELECT "+downloadColumns+" FROM download_requests WHERE id = ?", id)
}

// Update writes every mutable field of req. Only an active request can change; a completed
// or failed one yields [shared.ErrInvalidTransition].
func (r *DownloadRepository) Update(ctx context.Context, req *models.DownloadRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE download_requests
		SET lidarr_album_id = ?, download_id = ?, status = ?, quality_profile = ?,
			estimated_completion = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'searching', 'downloading')
	`, req.LidarrAlbumID, req.DownloadID, req.Status, req.QualityProfile,
		nullTime(req.EstimatedCompletion), nullString(shared.Truncate(req.Error, shared.MaxErrorLength)), now, req.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: album %s", shared.ErrActiveDownload, req.AlbumID)
	}
	if err != nil {
		return fmt.Errorf("failed to update download request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := r.Get(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("%w: download request %s", shared.ErrNotFound, req.ID)
		}
		return fmt.Errorf("%w: download request %s is already %s", shared.ErrInvalidTransition, req.ID, current.Status)
	}
	req.UpdatedAt = now
	return nil
}

// Active returns the album's in-flight request.
func (r *DownloadRepository) Active(ctx context.Context, albumID string) (*models.DownloadRequest, error) {
	return r.one(ctx, `
		SELECT `+downloadColumns+` FROM download_requests
		WHERE album_id = ? AND status IN ('pending', 'searching', 'downloading')
	`, albumID)
}

// Latest returns the album's most recent request of any status.
func (r *DownloadRepository) Latest(ctx context.Context, albumID string) (*models.DownloadRequest, error) {
	return r.one(ctx, `
		SELECT `+downloadColumns+` FROM download_requests
		WHERE album_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, albumID)
}

// ByLidarrAlbum returns the most recent request tracking the given download-service album.
func (r *DownloadRepository) ByLidarrAlbum(ctx context.Context, lidarrAlbumID int) (*models.DownloadRequest, error) {
	return r.one(ctx, `
		SELECT `+downloadColumns+` FROM download_requests
		WHERE lidarr_album_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, lidarrAlbumID)
}

// ListActive returns every in-flight request.
func (r *DownloadRepository) ListActive(ctx context.Context) ([]*models.DownloadRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+downloadColumns+` FROM download_requests
		WHERE status IN ('pending', 'searching', 'downloading')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query download requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.DownloadRequest
	for rows.Next() {
		req, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *DownloadRepository) one(ctx context.Context, query string, args ...any) (*models.DownloadRequest, error) {
	req, err := scanDownload(r.db.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: download request", shared.ErrNotFound)
	}
	return req, err
}

func scanDownload(s scanner) (*models.DownloadRequest, error) {
	var (
		d      models.DownloadRequest
		status string
		eta    sql.NullTime
		errMsg sql.NullString
	)
	err := s.Scan(&d.ID, &d.AlbumID, &d.LidarrAlbumID, &d.DownloadID, &status, &d.QualityProfile,
		&eta, &errMsg, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan download request: %w", err)
	}
	d.Status = models.DownloadStatus(status)
	d.EstimatedCompletion = timePtr(eta)
	d.Error = errMsg.String
	return &d, nil
}
