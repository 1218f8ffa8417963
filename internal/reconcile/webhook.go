package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// EventKind is the download lifecycle step carried by a webhook.
type EventKind string

const (
	EventGrabbed  EventKind = "grabbed"
	EventImported EventKind = "imported"
	EventFailed   EventKind = "failed"
	EventRemoved  EventKind = "removed"
	EventTest     EventKind = "test"
)

// eventKinds maps the automation service's eventType values onto [EventKind].
var eventKinds = map[string]EventKind{
	"grab":            EventGrabbed,
	"download":        EventImported,
	"albumdownload":   EventImported,
	"import":          EventImported,
	"upgrade":         EventImported,
	"downloadfailure": EventFailed,
	"importfailure":   EventFailed,
	"albumdelete":     EventRemoved,
	"test":            EventTest,
}

type webhookArtist struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type webhookAlbum struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	ForeignAlbumID string `json:"foreignAlbumId"`
	Path           string `json:"path"`
}

type webhookTrackFile struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

type webhookPayload struct {
	EventType  string             `json:"eventType"`
	Artist     *webhookArtist     `json:"artist"`
	Album      *webhookAlbum      `json:"album"`
	Albums     []webhookAlbum     `json:"albums"`
	TrackFiles []webhookTrackFile `json:"trackFiles"`
	DownloadID string             `json:"downloadId"`
	IsUpgrade  bool               `json:"isUpgrade"`
	Message    string             `json:"message"`
}

// AlbumRef identifies an album the way the automation service knows it.
type AlbumRef struct {
	LidarrID int
	MBID     string
	Title    string
}

func (r AlbumRef) String() string {
	if r.MBID != "" {
		return r.MBID
	}
	return fmt.Sprintf("lidarr:%d", r.LidarrID)
}

// Event is a validated webhook.
type Event struct {
	Kind       EventKind
	Type       string
	Artist     string
	Albums     []AlbumRef
	DownloadID string
	Path       string
	Reason     string
	Upgrade    bool
}

// ParseEvent decodes and validates a webhook body.
//
// Every error wraps [shared.ErrInvalidInput]; nothing about a rejected event is applied.
func ParseEvent(body []byte) (*Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook: %v", shared.ErrInvalidInput, err)
	}

	kind, ok := eventKinds[strings.ToLower(strings.TrimSpace(p.EventType))]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized event type %q", shared.ErrInvalidInput, p.EventType)
	}

	ev := &Event{Kind: kind, Type: p.EventType, DownloadID: p.DownloadID, Reason: p.Message, Upgrade: p.IsUpgrade}
	if kind == EventTest {
		return ev, nil
	}
	if p.Artist != nil {
		ev.Artist = p.Artist.Name
	}

	albums := p.Albums
	if p.Album != nil {
		albums = append(albums, *p.Album)
	}
	for _, a := range albums {
		if a.ID == 0 && a.ForeignAlbumID == "" {
			continue
		}
		ev.Albums = append(ev.Albums, AlbumRef{LidarrID: a.ID, MBID: a.ForeignAlbumID, Title: a.Title})
	}
	if len(ev.Albums) == 0 {
		return nil, fmt.Errorf("%w: %s event has no album identifier", shared.ErrInvalidInput, p.EventType)
	}

	switch kind {
	case EventImported:
		ev.Path = importPath(p, albums)
		if ev.Path == "" {
			return nil, fmt.Errorf("%w: %s event has no file path", shared.ErrInvalidInput, p.EventType)
		}
	case EventFailed:
		if strings.TrimSpace(ev.Reason) == "" {
			ev.Reason = "download failed"
		}
	}
	return ev, nil
}

// importPath is the directory holding the imported files: the first track file's parent,
// else the album folder reported by the service.
func importPath(p webhookPayload, albums []webhookAlbum) string {
	for _, tf := range p.TrackFiles {
		if tf.Path != "" {
			return filepath.Dir(tf.Path)
		}
	}
	for _, a := range albums {
		if a.Path != "" {
			return filepath.Clean(a.Path)
		}
	}
	return ""
}

// Result reports what applying an event did to each referenced album.
type Result struct {
	Applied []string `json:"applied,omitempty"`
	Dropped []string `json:"dropped,omitempty"`
}

// WebhookReconciler applies download lifecycle events to albums and their download requests.
//
// It writes absolute target state, so replaying an event leaves the catalog unchanged.
type WebhookReconciler struct {
	albums    *repositories.AlbumRepository
	downloads *repositories.DownloadRepository
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewWebhookReconciler creates a reconciler; albums must be the instance shared with the executor.
func NewWebhookReconciler(albums *repositories.AlbumRepository, downloads *repositories.DownloadRepository, logger *log.Logger, m *metrics.Metrics) *WebhookReconciler {
	return &WebhookReconciler{
		albums:    albums,
		downloads: downloads,
		logger:    shared.WithLogger(logger, "component", "webhook"),
		metrics:   m,
	}
}

// Apply reconciles ev. References to unknown albums are logged and dropped, not returned as errors.
//
// Every reference is resolved before any album is written, so a lookup failure applies nothing.
func (w *WebhookReconciler) Apply(ctx context.Context, ev *Event) (*Result, error) {
	result := &Result{}
	if ev.Kind == EventTest {
		w.metrics.WebhookEvent(string(ev.Kind), "ignored")
		return result, nil
	}

	type target struct {
		ref     AlbumRef
		albumID string
	}
	var targets []target
	seen := make(map[string]bool, len(ev.Albums))
	for _, ref := range ev.Albums {
		album, err := w.resolve(ctx, ref)
		if errors.Is(err, shared.ErrNotFound) {
			w.logger.Warn("dropping event for unknown album", "event", ev.Type, "album", ref, "title", ref.Title)
			w.metrics.WebhookEvent(string(ev.Kind), "dropped")
			result.Dropped = append(result.Dropped, ref.String())
			continue
		}
		if err != nil {
			w.metrics.WebhookEvent(string(ev.Kind), "error")
			return &Result{}, err
		}
		if seen[album.ID] {
			continue
		}
		seen[album.ID] = true
		targets = append(targets, target{ref: ref, albumID: album.ID})
	}

	for _, t := range targets {
		if err := w.applyOne(ctx, ev, t.ref, t.albumID); err != nil {
			w.metrics.WebhookEvent(string(ev.Kind), "error")
			return result, fmt.Errorf("album %s: %w", t.albumID, err)
		}
		w.metrics.WebhookEvent(string(ev.Kind), "applied")
		result.Applied = append(result.Applied, t.albumID)
	}
	return result, nil
}

func (w *WebhookReconciler) resolve(ctx context.Context, ref AlbumRef) (*models.Album, error) {
	if ref.MBID != "" {
		album, err := w.albums.GetByMusicBrainzID(ctx, ref.MBID)
		if err == nil || !errors.Is(err, shared.ErrNotFound) {
			return album, err
		}
	}
	if ref.LidarrID != 0 {
		req, err := w.downloads.ByLidarrAlbum(ctx, ref.LidarrID)
		if err != nil {
			return nil, err
		}
		return w.albums.Get(ctx, req.AlbumID)
	}
	return nil, fmt.Errorf("%w: album %s", shared.ErrNotFound, ref)
}

// applyOne writes the album and its download request under the album lock, so a concurrent
// queue poll or a duplicate delivery observes both or neither.
func (w *WebhookReconciler) applyOne(ctx context.Context, ev *Event, ref AlbumRef, albumID string) error {
	return w.albums.Locked(ctx, albumID, func(ctx context.Context, mutate repositories.MutateFunc) error {
		album, err := mutate(func(a *models.Album) error {
			return targetState(a, ev)
		})
		if err != nil {
			return err
		}

		if err := w.syncDownload(ctx, ev, ref, albumID); err != nil {
			return err
		}

		w.logger.Info("applied download event", "event", ev.Kind, "album", album.ID, "title", album.Title,
			"ownership", album.OwnershipStatus)
		return nil
	})
}

// targetState moves a to the state ev implies, or returns [repositories.ErrNoChange].
func targetState(a *models.Album, ev *Event) error {
	before := *a
	switch ev.Kind {
	case EventGrabbed:
		a.MarkDownloading()
	case EventImported:
		a.MarkOwned(ev.Path, models.SourceAutomatedDownload)
	case EventFailed:
		if a.OwnershipStatus != models.Downloading {
			return repositories.ErrNoChange
		}
		a.MarkNotOwned()
	case EventRemoved:
		a.MarkNotOwned()
	}

	if sameOwnership(&before, a) {
		return repositories.ErrNoChange
	}
	return nil
}

func sameOwnership(a, b *models.Album) bool {
	if a.OwnershipStatus != b.OwnershipStatus || a.AcquisitionSource != b.AcquisitionSource {
		return false
	}
	if (a.LocalPath == nil) != (b.LocalPath == nil) {
		return false
	}
	return a.LocalPath == nil || *a.LocalPath == *b.LocalPath
}

// syncDownload keeps the album's download request in step with the event.
func (w *WebhookReconciler) syncDownload(ctx context.Context, ev *Event, ref AlbumRef, albumID string) error {
	active, err := w.downloads.Active(ctx, albumID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	switch ev.Kind {
	case EventGrabbed:
		if active == nil {
			err := w.downloads.Create(ctx, &models.DownloadRequest{
				AlbumID:       albumID,
				LidarrAlbumID: ref.LidarrID,
				DownloadID:    ev.DownloadID,
				Status:        models.DownloadInProgress,
			})
			if !errors.Is(err, shared.ErrActiveDownload) {
				return err
			}
			// A download request made outside the lock won the insert; adopt it.
			if active, err = w.downloads.Active(ctx, albumID); err != nil {
				return err
			}
		}
		if active.Status == models.DownloadInProgress && (ev.DownloadID == "" || active.DownloadID == ev.DownloadID) {
			return nil
		}
		active.Status = models.DownloadInProgress
		if ev.DownloadID != "" {
			active.DownloadID = ev.DownloadID
		}
		return w.downloads.Update(ctx, active)
	case EventImported:
		if active == nil {
			return nil
		}
		active.Status = models.DownloadCompleted
		active.Error = ""
		return w.downloads.Update(ctx, active)
	case EventFailed:
		if active == nil {
			latest, err := w.downloads.Latest(ctx, albumID)
			if err == nil && latest.Status == models.DownloadFailed && latest.Error == ev.Reason {
				return nil
			}
			return w.downloads.Create(ctx, &models.DownloadRequest{
				AlbumID:       albumID,
				LidarrAlbumID: ref.LidarrID,
				DownloadID:    ev.DownloadID,
				Status:        models.DownloadFailed,
				Error:         ev.Reason,
			})
		}
		active.Status = models.DownloadFailed
		active.Error = ev.Reason
		return w.downloads.Update(ctx, active)
	}
	return nil
}
