package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// TokenSaver persists an authorized token.
type TokenSaver func(ctx context.Context, token *oauth2.Token) error

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	Err   error
}

// OAuthHandler handles the authorization code callback of the library authorization.
//
// Only the first callback is processed; the token is saved before the result is sent.
type OAuthHandler struct {
	config  *oauth2.Config
	state   string
	save    TokenSaver
	results chan OAuthResult
	once    sync.Once

	mu  sync.Mutex
	hit bool
}

// NewOAuthHandler creates a handler for config. The state token should be cryptographically
// random; save may be nil.
func NewOAuthHandler(config *oauth2.Config, state string, save TokenSaver) *OAuthHandler {
	return &OAuthHandler{
		config:  config,
		state:   state,
		save:    save,
		results: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP validates state, exchanges the code and saves the token.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.Send(OAuthResult{Err: fmt.Errorf("invalid state parameter")})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.Send(OAuthResult{Err: fmt.Errorf("authorization denied: %s %s", q.Get("error"), q.Get("error_description"))})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{Err: fmt.Errorf("token exchange failed: %w", err)})
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	if h.save != nil {
		if err := h.save(r.Context(), token); err != nil {
			h.Send(OAuthResult{Err: fmt.Errorf("failed to save token: %w", err)})
			http.Error(w, "Failed to save token", http.StatusInternalServerError)
			return
		}
	}

	h.Send(OAuthResult{Token: token})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "crate is authorized to read your library. You can close this window.")
}

// Send delivers result once; later calls are ignored.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result receives exactly one result, then is closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
