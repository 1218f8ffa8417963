// Spotify Web API implementation of [LibraryService]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// SavedAlbumsPageSize is the largest page /me/albums accepts.
	SavedAlbumsPageSize = 50
	// PlaylistsPageSize is the largest page /me/playlists and /me/tracks accept.
	PlaylistsPageSize = 50
	// PlaylistTracksPageSize is the largest page /playlists/{id}/tracks accepts.
	PlaylistTracksPageSize = 100
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	AlbumType   string          `json:"album_type"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Genres      []string        `json:"genres"`
	URI         string          `json:"uri"`
}

// SpotifySavedAlbum represents an album saved in the user's library.
type SpotifySavedAlbum struct {
	AddedAt string       `json:"added_at"`
	Album   SpotifyAlbum `json:"album"`
}

// SpotifyPaginatedAlbums represents a paginated response of saved albums.
type SpotifyPaginatedAlbums struct {
	Items    []SpotifySavedAlbum `json:"items"`
	Total    int                 `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
	Next     *string             `json:"next"`
	Previous *string             `json:"previous"`
}

// SpotifyTrack represents a full Spotify track. ID is empty for local files.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	TrackNumber int             `json:"track_number"`
	DiscNumber  int             `json:"disc_number"`
	DurationMS  int             `json:"duration_ms"`
	IsLocal     bool            `json:"is_local"`
}

// SpotifyPlaylistTrack is a playlist or saved-tracks item. Track is null for removed tracks.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of playlist or saved tracks.
type SpotifyPaginatedTracks struct {
	Items  []SpotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// SpotifyPlaylist represents a simplified Spotify playlist.
type SpotifyPlaylist struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Collaborative bool   `json:"collaborative"`
	SnapshotID    string `json:"snapshot_id"`
	Owner         struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// SpotifyPaginatedPlaylists represents a paginated response of the user's playlists.
type SpotifyPaginatedPlaylists struct {
	Items  []SpotifyPlaylist `json:"items"`
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Next   *string           `json:"next"`
}

// SpotifyService implements [LibraryService] for the Spotify Web API.
// Uses [oauth2] for authentication; refreshed tokens are handed to the refresh callback.
type SpotifyService struct {
	config         *oauth2.Config
	token          *oauth2.Token
	opts           options
	api            *client
	onTokenRefresh func(*oauth2.Token)
	mu             sync.Mutex
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...Option) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"user-library-read",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config: config,
		opts:   buildOptions(spotifyBaseURL, opts),
	}, nil
}

func (s *SpotifyService) Name() string {
	return SpotifyName
}

// SetTokenRefreshCallback registers fn to receive every new token the client obtains.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
}

// OAuthConfig returns the authorization code flow configuration.
func (s *SpotifyService) OAuthConfig() *oauth2.Config {
	return s.config
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and authenticates the service with it.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %w", shared.ErrAuthFailed, err)
	}
	s.setToken(token)
	return token, nil
}

// Authenticate installs a stored token.
//
// Expects "access_token" and optionally "refresh_token" and "expiry" (RFC 3339), or an "auth_code".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if authCode := credentials["auth_code"]; authCode != "" {
		_, err := s.Exchange(ctx, authCode)
		return err
	}

	access, refresh := credentials["access_token"], credentials["refresh_token"]
	if access == "" && refresh == "" {
		return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrNotAuthenticated)
	}

	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if raw := credentials["expiry"]; raw != "" {
		expiry, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("%w: expiry: %w", shared.ErrInvalidArgument, err)
		}
		token.Expiry = expiry
	}
	s.setToken(token)
	return nil
}

// setToken builds the authenticated client.
//
// The token source keeps a background context: it outlives the call that installed it and
// refreshes on demand through the configured HTTP client.
func (s *SpotifyService) setToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := context.WithValue(context.Background(), oauth2.HTTPClient, s.opts.httpClient)
	source := &refreshableTokenSource{
		source:   s.config.TokenSource(base, token),
		callback: s.notifyRefresh,
		last:     token.AccessToken,
	}

	o := s.opts
	o.httpClient = oauth2.NewClient(base, source)
	s.token = token
	s.api = newClient(SpotifyName, o, nil)
}

func (s *SpotifyService) notifyRefresh(token *oauth2.Token) {
	s.mu.Lock()
	fn := s.onTokenRefresh
	s.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (s *SpotifyService) authed() (*client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, shared.NewServiceError(SpotifyName, http.StatusUnauthorized, shared.ErrNotAuthenticated)
	}
	return s.api, nil
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	api, err := s.authed()
	if err != nil {
		return nil, err
	}

	var user SpotifyUser
	if err := api.getJSON(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SavedAlbums retrieves one page of the user's saved albums.
func (s *SpotifyService) SavedAlbums(ctx context.Context, limit, offset int) (*models.SavedAlbumPage, error) {
	api, err := s.authed()
	if err != nil {
		return nil, err
	}

	var response SpotifyPaginatedAlbums
	if err := api.getJSON(ctx, "/me/albums", pageQuery(limit, offset, SavedAlbumsPageSize), &response); err != nil {
		return nil, err
	}

	page := &models.SavedAlbumPage{
		Items:   make([]models.SavedAlbum, 0, len(response.Items)),
		Total:   response.Total,
		Offset:  response.Offset,
		HasNext: response.Next != nil && *response.Next != "",
	}
	for _, item := range response.Items {
		page.Items = append(page.Items, item.toSavedAlbum())
	}
	return page, nil
}

func (s SpotifySavedAlbum) toSavedAlbum() models.SavedAlbum {
	saved := models.SavedAlbum{
		SpotifyID:   s.Album.ID,
		Title:       s.Album.Name,
		ReleaseDate: s.Album.ReleaseDate,
		TrackCount:  s.Album.TotalTracks,
		Genres:      s.Album.Genres,
	}
	if len(s.Album.Artists) > 0 {
		saved.ArtistName = s.Album.Artists[0].Name
		saved.ArtistSpotifyID = s.Album.Artists[0].ID
	}
	if added, err := time.Parse(time.RFC3339, s.AddedAt); err == nil {
		saved.AddedAt = added
	}
	return saved
}

// Playlists retrieves one page of the playlists the user owns or follows.
func (s *SpotifyService) Playlists(ctx context.Context, limit, offset int) (*models.PlaylistPage, error) {
	api, err := s.authed()
	if err != nil {
		return nil, err
	}

	var response SpotifyPaginatedPlaylists
	if err := api.getJSON(ctx, "/me/playlists", pageQuery(limit, offset, PlaylistsPageSize), &response); err != nil {
		return nil, err
	}

	page := &models.PlaylistPage{
		Items:   make([]models.LibraryPlaylist, 0, len(response.Items)),
		Total:   response.Total,
		Offset:  response.Offset,
		HasNext: response.Next != nil && *response.Next != "",
	}
	for _, p := range response.Items {
		page.Items = append(page.Items, models.LibraryPlaylist{
			SpotifyID:     p.ID,
			Name:          p.Name,
			Description:   p.Description,
			Owner:         p.Owner.DisplayName,
			Collaborative: p.Collaborative,
			TotalTracks:   p.Tracks.Total,
			SnapshotID:    p.SnapshotID,
		})
	}
	return page, nil
}

// PlaylistTracks retrieves one page of a playlist's tracks.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.TrackPage, error) {
	return s.tracks(ctx, "/playlists/"+url.PathEscape(playlistID)+"/tracks", pageQuery(limit, offset, PlaylistTracksPageSize))
}

// SavedTracks retrieves one page of the user's saved tracks.
func (s *SpotifyService) SavedTracks(ctx context.Context, limit, offset int) (*models.TrackPage, error) {
	return s.tracks(ctx, "/me/tracks", pageQuery(limit, offset, PlaylistsPageSize))
}

func (s *SpotifyService) tracks(ctx context.Context, path string, query url.Values) (*models.TrackPage, error) {
	api, err := s.authed()
	if err != nil {
		return nil, err
	}

	var response SpotifyPaginatedTracks
	if err := api.getJSON(ctx, path, query, &response); err != nil {
		return nil, err
	}

	page := &models.TrackPage{
		Items:   make([]models.LibraryTrack, 0, len(response.Items)),
		Total:   response.Total,
		Offset:  response.Offset,
		HasNext: response.Next != nil && *response.Next != "",
	}
	for _, item := range response.Items {
		if lt, ok := item.toLibraryTrack(); ok {
			page.Items = append(page.Items, lt)
		}
	}
	return page, nil
}

// toLibraryTrack drops removed tracks and local files, which have no catalog identity.
func (s SpotifyPlaylistTrack) toLibraryTrack() (models.LibraryTrack, bool) {
	t := s.Track
	if t == nil || t.ID == "" || t.IsLocal || t.Album.ID == "" {
		return models.LibraryTrack{}, false
	}

	album := SpotifySavedAlbum{Album: t.Album}.toSavedAlbum()
	if album.ArtistName == "" && len(t.Artists) > 0 {
		album.ArtistName = t.Artists[0].Name
		album.ArtistSpotifyID = t.Artists[0].ID
	}
	lt := models.LibraryTrack{
		SpotifyID:   t.ID,
		Title:       t.Name,
		TrackNumber: t.TrackNumber,
		DiscNumber:  t.DiscNumber,
		DurationMS:  t.DurationMS,
		Album:       album,
	}
	if added, err := time.Parse(time.RFC3339, s.AddedAt); err == nil {
		lt.AddedAt = &added
	}
	return lt, true
}

func pageQuery(limit, offset, maxLimit int) url.Values {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	return query
}

// refreshableTokenSource wraps an [oauth2.TokenSource] and reports each token it has not seen before.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)
	mu       sync.Mutex
	last     string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}
