package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// clients builds external-service clients that share one set of limiters.
type clients struct {
	config   *shared.Config
	limiters *services.Limiters
	metrics  *metrics.Metrics
	runner   *Runner
}

func (r *Runner) clients(m *metrics.Metrics) *clients {
	return &clients{config: r.config, limiters: services.NewLimiters(), metrics: m, runner: r}
}

// options configures a client; a nil limiter leaves it unlimited.
func (c *clients) options(limiter *rate.Limiter) []services.Option {
	opts := []services.Option{
		services.WithHTTPClient(c.runner.httpClient),
		services.WithMetrics(c.metrics),
		services.WithTimeout(c.config.Executor.CallTimeout.Duration),
	}
	if limiter != nil {
		opts = append(opts, services.WithRateLimiter(limiter))
	}
	return opts
}

// metadata returns the MusicBrainz client; searches and cover downloads share the metadata limiter.
func (c *clients) metadata() *services.MusicBrainzService {
	mb := c.config.Credentials.MusicBrainz
	return services.NewMusicBrainzService(mb.BaseURL, mb.CoverArtURL, mb.UserAgent,
		c.options(c.limiters.Metadata)...)
}

// spotify returns an unauthenticated Spotify client.
func (c *clients) spotify() (*services.SpotifyService, error) {
	creds := c.config.Credentials.Spotify
	return services.NewSpotifyService(map[string]string{
		"client_id":     creds.ClientID,
		"client_secret": creds.ClientSecret,
		"redirect_uri":  creds.RedirectURI,
	}, c.options(c.limiters.Library)...)
}

// library implements [tasks.LibraryFactory]: a Spotify client authorized with the stored
// token. Refreshed tokens are written back to settings.
func (c *clients) library(settings *models.SyncSettings) (services.LibraryService, error) {
	if !settings.HasSpotifyToken() {
		return nil, fmt.Errorf("%w: run `crate auth spotify` first", shared.ErrNotAuthenticated)
	}

	svc, err := c.spotify()
	if err != nil {
		return nil, err
	}

	creds := map[string]string{
		"access_token":  settings.SpotifyAccessToken,
		"refresh_token": settings.SpotifyRefreshToken,
	}
	if settings.SpotifyTokenExpiry != nil {
		creds["expiry"] = settings.SpotifyTokenExpiry.Format(time.RFC3339)
	}
	if err := svc.Authenticate(context.Background(), creds); err != nil {
		return nil, err
	}

	svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
		s, err := c.runner.store()
		if err != nil {
			c.runner.logger.Warn("failed to persist refreshed token", "error", err)
			return
		}
		if err := s.settings.SaveToken(context.Background(), token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
			c.runner.logger.Warn("failed to persist refreshed token", "error", err)
		}
	})
	return svc, nil
}

// downloads implements [tasks.DownloadFactory]. Settings take precedence over the config file.
func (c *clients) downloads(settings *models.SyncSettings) (services.DownloadService, error) {
	url, key := settings.LidarrURL, settings.LidarrAPIKey
	if url == "" {
		url = c.config.Credentials.Lidarr.URL
	}
	if key == "" {
		key = c.config.Credentials.Lidarr.APIKey
	}
	if key == "" {
		return nil, fmt.Errorf("%w: lidarr api key is not set", shared.ErrMissingConfig)
	}
	return services.NewLidarrService(url, key, c.options(nil)...)
}
