// Lidarr v1 API implementation of [DownloadService]
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	lidarrDefaultURL = "http://127.0.0.1:8686"
	queuePageSize    = 200
)

type lidarrStatus struct {
	Version string `json:"version"`
}

type lidarrArtist struct {
	ID              int    `json:"id,omitempty"`
	ArtistName      string `json:"artistName"`
	ForeignArtistID string `json:"foreignArtistId"`
}

type lidarrAddOptions struct {
	SearchForNewAlbum bool `json:"searchForNewAlbum"`
}

// lidarrAlbum is the album resource returned by lookup and add.
type lidarrAlbum struct {
	ID             int               `json:"id,omitempty"`
	Title          string            `json:"title"`
	ForeignAlbumID string            `json:"foreignAlbumId"`
	Monitored      bool              `json:"monitored"`
	Artist         *lidarrArtist     `json:"artist,omitempty"`
	AddOptions     *lidarrAddOptions `json:"addOptions,omitempty"`
}

func (a lidarrAlbum) toModel() *models.LidarrAlbum {
	album := &models.LidarrAlbum{
		ID:             a.ID,
		Title:          a.Title,
		ForeignAlbumID: a.ForeignAlbumID,
		Monitored:      a.Monitored,
	}
	if a.Artist != nil {
		album.ArtistName = a.Artist.ArtistName
		album.ArtistForeignID = a.Artist.ForeignArtistID
	}
	return album
}

type lidarrQueueRecord struct {
	ID                      int        `json:"id"`
	AlbumID                 int        `json:"albumId"`
	DownloadID              string     `json:"downloadId"`
	Title                   string     `json:"title"`
	Status                  string     `json:"status"`
	TrackedDownloadStatus   string     `json:"trackedDownloadStatus"`
	Size                    float64    `json:"size"`
	SizeLeft                float64    `json:"sizeleft"`
	EstimatedCompletionTime *time.Time `json:"estimatedCompletionTime"`
	ErrorMessage            string     `json:"errorMessage"`
}

type lidarrQueuePage struct {
	Page         int                 `json:"page"`
	PageSize     int                 `json:"pageSize"`
	TotalRecords int                 `json:"totalRecords"`
	Records      []lidarrQueueRecord `json:"records"`
}

type lidarrCommand struct {
	Name     string `json:"name"`
	AlbumIDs []int  `json:"albumIds"`
}

// LidarrService implements [DownloadService].
//
// No rate limit is imposed on this service.
type LidarrService struct {
	api *client
}

// NewLidarrService creates a client for the Lidarr instance at baseURL.
func NewLidarrService(baseURL, apiKey string, opts ...Option) (*LidarrService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing lidarr api key", shared.ErrMissingCredentials)
	}
	if baseURL == "" {
		baseURL = lidarrDefaultURL
	}

	header := http.Header{}
	header.Set("X-Api-Key", apiKey)

	o := buildOptions(baseURL, opts)
	o.limiter = nil
	return &LidarrService{api: newClient(LidarrName, o, header)}, nil
}

func (s *LidarrService) Name() string {
	return LidarrName
}

func (s *LidarrService) Status(ctx context.Context) (string, error) {
	var status lidarrStatus
	if err := s.api.getJSON(ctx, "/api/v1/system/status", nil, &status); err != nil {
		return "", err
	}
	return status.Version, nil
}

// Queue reads every page of the download queue.
func (s *LidarrService) Queue(ctx context.Context) ([]models.QueueItem, error) {
	var items []models.QueueItem
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", fmt.Sprint(page))
		params.Set("pageSize", fmt.Sprint(queuePageSize))

		var resp lidarrQueuePage
		if err := s.api.getJSON(ctx, "/api/v1/queue", params, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Records {
			items = append(items, models.QueueItem{
				ID:                  r.ID,
				DownloadID:          r.DownloadID,
				AlbumID:             r.AlbumID,
				Title:               r.Title,
				Status:              r.Status,
				TrackedStatus:       r.TrackedDownloadStatus,
				Size:                r.Size,
				SizeLeft:            r.SizeLeft,
				EstimatedCompletion: r.EstimatedCompletionTime,
				ErrorMessage:        r.ErrorMessage,
			})
		}
		if len(resp.Records) == 0 || len(items) >= resp.TotalRecords {
			return items, nil
		}
	}
}

// LookupAlbum searches by release-group id. An album not yet in the library has ID 0.
func (s *LidarrService) LookupAlbum(ctx context.Context, mbid string) (*models.LidarrAlbum, error) {
	if mbid == "" {
		return nil, fmt.Errorf("%w: empty release group id", shared.ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("term", "lidarr:"+mbid)

	var albums []lidarrAlbum
	if err := s.api.getJSON(ctx, "/api/v1/album/lookup", params, &albums); err != nil {
		return nil, err
	}
	if len(albums) == 0 {
		return nil, shared.NewServiceError(LidarrName, http.StatusNotFound,
			fmt.Errorf("%w: no lidarr album for %s", shared.ErrNotFound, mbid))
	}
	return albums[0].toModel(), nil
}

// AddAlbum adds a looked-up album as monitored without triggering a search.
func (s *LidarrService) AddAlbum(ctx context.Context, album *models.LidarrAlbum) (*models.LidarrAlbum, error) {
	body := lidarrAlbum{
		Title:          album.Title,
		ForeignAlbumID: album.ForeignAlbumID,
		Monitored:      true,
		Artist: &lidarrArtist{
			ArtistName:      album.ArtistName,
			ForeignArtistID: album.ArtistForeignID,
		},
		AddOptions: &lidarrAddOptions{SearchForNewAlbum: false},
	}

	var added lidarrAlbum
	if err := s.api.postJSON(ctx, "/api/v1/album", body, &added); err != nil {
		return nil, err
	}
	return added.toModel(), nil
}

func (s *LidarrService) SearchAlbum(ctx context.Context, albumIDs ...int) error {
	if len(albumIDs) == 0 {
		return fmt.Errorf("%w: no album ids", shared.ErrMissingArgument)
	}
	return s.api.postJSON(ctx, "/api/v1/command", lidarrCommand{Name: "AlbumSearch", AlbumIDs: albumIDs}, nil)
}
