package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// AuthTimeout bounds how long `crate auth spotify` waits for the browser callback.
const AuthTimeout = 2 * time.Minute

// AuthSpotify performs the OAuth2 authorization code flow for Spotify.
//
// Starts a local HTTP server on the redirect URI, opens the browser for user authorization and
// stores the exchanged token in the sync settings, where library-sync jobs read it.
func (r *Runner) AuthSpotify(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return fmt.Errorf("%w: credentials.spotify client_id and client_secret must be set in %s", shared.ErrMissingConfig, r.configPath)
	}

	s, err := r.store()
	if err != nil {
		return err
	}
	spotify, err := r.clients(nil).spotify()
	if err != nil {
		return fmt.Errorf("failed to create Spotify service: %w", err)
	}

	config := spotify.OAuthConfig()
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil || redirect.Host == "" {
		return fmt.Errorf("%w: redirect_uri %q", shared.ErrInvalidConfig, config.RedirectURL)
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(config, state, func(ctx context.Context, token *oauth2.Token) error {
		return s.settings.SaveToken(ctx, token.AccessToken, token.RefreshToken, token.Expiry)
	})
	router := server.NewBasicRouter()
	router.Handler(handler)

	srvCtx, stop := context.WithCancel(ctx)
	defer stop()
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(srvCtx, server.New(redirect.Host, router), r.logger)
	}()

	authURL := spotify.GetAuthURL(state)
	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", AuthTimeout)

	timeout := time.NewTimer(AuthTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("callback server stopped: %w", err)
	case <-timeout.C:
		return fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, AuthTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	stop()
	<-serverErrors

	if result.Err != nil {
		return fmt.Errorf("authorization failed: %w", result.Err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("You can now run: crate jobs submit library-sync\n")
	return nil
}

// AuthStatus reports whether each external service is configured and reachable.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	if settings.HasSpotifyToken() {
		expiry := "unknown expiry"
		if settings.SpotifyTokenExpiry != nil {
			expiry = "access token expires " + settings.SpotifyTokenExpiry.Local().Format(time.DateTime)
		}
		r.writePlain("Spotify: ✓ authorized (%s)\n", expiry)
	} else {
		r.writePlain("Spotify: ✗ not authorized, run `crate auth spotify`\n")
	}

	downloads, err := r.clients(nil).downloads(settings)
	if err != nil {
		r.writePlain("Lidarr:  ✗ %v\n", err)
		return nil
	}
	version, err := downloads.Status(ctx)
	if err != nil {
		r.writePlain("Lidarr:  ✗ %v\n", err)
		return nil
	}
	return r.writePlain("Lidarr:  ✓ reachable (version %s)\n", version)
}
