package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/jobs"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/reconcile"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	// MaxWebhookBody caps webhook payloads.
	MaxWebhookBody = 1 << 20

	// WebhookTokenHeader carries the shared secret configured in the automation service.
	WebhookTokenHeader = "X-Webhook-Token"

	defaultPageSize = 50
	maxPageSize     = 500
)

// Downloader starts automated downloads.
type Downloader interface {
	RequestDownload(ctx context.Context, albumID string) (*models.DownloadRequest, error)
}

// Deps are the collaborators of the JSON API.
type Deps struct {
	Queue        *jobs.Queue
	Albums       *repositories.AlbumRepository
	Playlists    *repositories.PlaylistRepository // nil leaves the playlist routes unregistered
	Webhooks     *reconcile.WebhookReconciler
	Downloads    Downloader
	Metrics      *metrics.Metrics
	WebhookToken string // empty disables the token check
	Logger       *log.Logger
}

// API serves the webhook endpoint and the jobs/albums JSON API.
type API struct {
	deps   Deps
	logger *log.Logger
}

// NewAPI creates an API.
func NewAPI(deps Deps) *API {
	return &API{deps: deps, logger: shared.WithLogger(deps.Logger, "component", "api")}
}

// Register adds every route to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(a.health))
	r.Handle(http.MethodPost, "/webhooks/lidarr", http.HandlerFunc(a.webhook))

	r.Handle(http.MethodGet, "/api/jobs", http.HandlerFunc(a.listJobs))
	r.Handle(http.MethodPost, "/api/jobs", http.HandlerFunc(a.createJob))
	r.Handle(http.MethodGet, "/api/jobs/{id}", http.HandlerFunc(a.getJob))
	r.Handle(http.MethodPost, "/api/jobs/{id}/cancel", http.HandlerFunc(a.cancelJob))

	r.Handle(http.MethodGet, "/api/albums", http.HandlerFunc(a.listAlbums))
	r.Handle(http.MethodGet, "/api/albums/{id}", http.HandlerFunc(a.getAlbum))
	r.Handle(http.MethodPost, "/api/albums/{id}/match", http.HandlerFunc(a.matchAlbum))
	r.Handle(http.MethodPost, "/api/albums/{id}/download", http.HandlerFunc(a.downloadAlbum))

	if a.deps.Playlists != nil {
		r.Handle(http.MethodGet, "/api/playlists", http.HandlerFunc(a.listPlaylists))
		r.Handle(http.MethodGet, "/api/playlists/{id}/tracks", http.HandlerFunc(a.playlistTracks))
		r.Handle(http.MethodPost, "/api/playlists/{id}/enable", http.HandlerFunc(a.enablePlaylist(true)))
		r.Handle(http.MethodPost, "/api/playlists/{id}/disable", http.HandlerFunc(a.enablePlaylist(false)))
	}

	if a.deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", a.deps.Metrics.Handler())
	}
}

type errorBody struct {
	Error    string            `json:"error"`
	Existing string            `json:"existing_id,omitempty"`
	Result   *reconcile.Result `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code.
func writeError(w http.ResponseWriter, err error) {
	var dup *shared.DuplicateError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Existing: dup.ExistingID})
	case errors.Is(err, shared.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrMissingArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrActiveDownload):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case shared.IsTransient(err):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": len(a.deps.Queue.Running())})
}

// webhook applies one download-automation event. Unknown albums are dropped with a 200 so the
// sender does not redeliver.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	if token := a.deps.WebhookToken; token != "" {
		got := r.Header.Get(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			a.deps.Metrics.WebhookEvent("unknown", "unauthorized")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid webhook token"})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
		return
	}

	ev, err := reconcile.ParseEvent(body)
	if err != nil {
		a.logger.Warn("rejected webhook", "error", err)
		a.deps.Metrics.WebhookEvent("unknown", "rejected")
		writeError(w, err)
		return
	}

	result, err := a.deps.Webhooks.Apply(r.Context(), ev)
	if err != nil && result != nil && len(result.Applied) > 0 {
		a.logger.Error("webhook partially applied", "event", ev.Type, "applied", result.Applied, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Result: result})
		return
	}
	if err != nil {
		a.logger.Error("failed to apply webhook", "event", ev.Type, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// page reads limit/offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, errors.Join(shared.ErrInvalidInput, errors.New("limit must be a positive integer"))
		}
		limit = min(limit, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.Join(shared.ErrInvalidInput, errors.New("offset must not be negative"))
		}
	}
	return limit, offset, nil
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter := models.JobFilter{Limit: limit, Offset: offset}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		filter.Status = models.JobStatus(v)
		if !filter.Status.Valid() {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status " + strconv.Quote(v)})
			return
		}
	}
	if v := q.Get("type"); v != "" {
		if filter.Type, err = models.ParseJobType(v); err != nil {
			writeError(w, err)
			return
		}
	}

	list, err := a.deps.Queue.Repository().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

type submitRequest struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	jobType, err := models.ParseJobType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := a.deps.Queue.Submit(r.Context(), jobType, req.EntityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.deps.Queue.Repository().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.deps.Queue.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) listAlbums(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	filter := repositories.AlbumFilter{
		Ownership:   models.OwnershipStatus(q.Get("ownership")),
		MatchStatus: models.MatchStatus(q.Get("match_status")),
		Limit:       limit,
		Offset:      offset,
	}
	if filter.Ownership != "" && !filter.Ownership.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown ownership " + strconv.Quote(q.Get("ownership"))})
		return
	}
	if filter.MatchStatus != "" && !filter.MatchStatus.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown match status " + strconv.Quote(q.Get("match_status"))})
		return
	}

	albums, err := a.deps.Albums.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if albums == nil {
		albums = []*models.Album{}
	}
	writeJSON(w, http.StatusOK, albums)
}

func (a *API) getAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := a.deps.Albums.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// matchAlbum queues an ad-hoc match; it shares the metadata limiter with every running batch.
func (a *API) matchAlbum(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.deps.Albums.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	job, err := a.deps.Queue.Submit(r.Context(), models.JobMetadataMatchOne, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) downloadAlbum(w http.ResponseWriter, r *http.Request) {
	if a.deps.Downloads == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "download automation is not configured"})
		return
	}
	req, err := a.deps.Downloads.RequestDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type playlistBody struct {
	*models.Playlist
	Stats models.PlaylistStats `json:"stats"`
}

func (a *API) listPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := a.deps.Playlists.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.ID)
	}
	stats, err := a.deps.Playlists.Stats(r.Context(), ids...)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]playlistBody, 0, len(playlists))
	for _, p := range playlists {
		out = append(out, playlistBody{Playlist: p, Stats: stats[p.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) playlistTracks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if _, err := a.deps.Playlists.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := a.deps.Playlists.Entries(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PlaylistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// enablePlaylist opts a playlist in or out; the next library sync fetches or stops fetching its tracks.
func (a *API) enablePlaylist(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.deps.Playlists.SetEnabled(r.Context(), r.PathValue("id"), enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
