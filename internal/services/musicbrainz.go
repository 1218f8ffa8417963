// MusicBrainz search and Cover Art Archive implementation of [MetadataService]
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	musicBrainzBaseURL = "https://musicbrainz.org/ws/2"
	coverArtBaseURL    = "https://coverartarchive.org"
	defaultUserAgent   = "crate/0.1 ( https://github.com/desertthunder/crate )"

	// SearchLimit is the number of candidates requested per query.
	SearchLimit = 10
)

type mbArtistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
	Artist     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}

// mbReleaseGroup is one entry of a release-group search response.
type mbReleaseGroup struct {
	ID               string           `json:"id"`
	Score            int              `json:"score"`
	Title            string           `json:"title"`
	PrimaryType      string           `json:"primary-type"`
	FirstReleaseDate string           `json:"first-release-date"`
	ArtistCredit     []mbArtistCredit `json:"artist-credit"`
}

type mbSearchResponse struct {
	Count         int              `json:"count"`
	ReleaseGroups []mbReleaseGroup `json:"release-groups"`
}

// MusicBrainzService implements [MetadataService].
//
// Searches and cover downloads wait on the same limiter, which must be the process-wide
// metadata limiter.
type MusicBrainzService struct {
	search *client
	covers *client
}

// NewMusicBrainzService creates a client for baseURL and coverURL; empty values use the public endpoints.
func NewMusicBrainzService(baseURL, coverURL, userAgent string, opts ...Option) *MusicBrainzService {
	if baseURL == "" {
		baseURL = musicBrainzBaseURL
	}
	if coverURL == "" {
		coverURL = coverArtBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	coverHeader := header.Clone()
	coverHeader.Set("Accept", "image/*")

	searchOpts := buildOptions(baseURL, opts)
	coverOpts := buildOptions(coverURL, opts)
	coverOpts.baseURL = strings.TrimRight(coverURL, "/")

	return &MusicBrainzService{
		search: newClient(MusicBrainzName, searchOpts, header),
		covers: newClient(CoverArtName, coverOpts, coverHeader),
	}
}

func (s *MusicBrainzService) Name() string {
	return MusicBrainzName
}

// SearchReleaseGroups runs query against the release-group index.
func (s *MusicBrainzService) SearchReleaseGroups(ctx context.Context, query string) ([]models.ReleaseGroup, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", shared.ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", fmt.Sprint(SearchLimit))

	var response mbSearchResponse
	if err := s.search.getJSON(ctx, "/release-group", params, &response); err != nil {
		return nil, err
	}

	groups := make([]models.ReleaseGroup, 0, len(response.ReleaseGroups))
	for _, rg := range response.ReleaseGroups {
		groups = append(groups, models.ReleaseGroup{
			ID:               rg.ID,
			Title:            rg.Title,
			ArtistName:       creditedName(rg.ArtistCredit),
			PrimaryType:      rg.PrimaryType,
			FirstReleaseDate: rg.FirstReleaseDate,
			Score:            rg.Score,
		})
	}
	return groups, nil
}

// CoverArt downloads the 500px front cover of a release group.
func (s *MusicBrainzService) CoverArt(ctx context.Context, mbid string) ([]byte, error) {
	if mbid == "" {
		return nil, fmt.Errorf("%w: empty release group id", shared.ErrInvalidInput)
	}
	return s.covers.do(ctx, http.MethodGet, "/release-group/"+url.PathEscape(mbid)+"/front-500", nil, nil)
}

// creditedName joins an artist credit the way it is displayed ("A feat. B").
func creditedName(credits []mbArtistCredit) string {
	var b strings.Builder
	for _, c := range credits {
		name := c.Name
		if name == "" {
			name = c.Artist.Name
		}
		b.WriteString(name)
		b.WriteString(c.JoinPhrase)
	}
	return strings.TrimSpace(b.String())
}
