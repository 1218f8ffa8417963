// Package services implements the rate-limited client layer for the three external systems.
//
// # Interfaces
//
// Callers depend on [LibraryService], [MetadataService] and [DownloadService]; tests substitute
// doubles from internal/testing.
//
// # Rate limiting
//
// [Limiters] holds one token bucket per limited service (library 2/s, metadata 1/s). Every call
// made through a client waits for a token before the request is sent, suspending the caller
// until a token is available or its context ends. Callers never see a "try later" error from
// the limiter itself. The download service has no limit.
//
// # Spotify
//
// [SpotifyService] uses OAuth2 with automatic token refresh. The [oauth2.Client] refreshes expired
// tokens using the refresh token; each new token is passed to the callback registered with
// [SpotifyService.SetTokenRefreshCallback] so it can be persisted.
//
// # MusicBrainz
//
// [MusicBrainzService] searches release groups and downloads covers from the Cover Art Archive.
// Both share the metadata limiter.
//
// # Lidarr
//
// [LidarrService] reads the download queue and issues album lookups, adds and searches.
//
// # Error Handling
//
// Every failed call returns a [*shared.ServiceError] carrying the service name and HTTP status:
//   - network errors, timeouts, 429 and 5xx are transient
//   - 404 wraps [shared.ErrNotFound]
//   - 401/403 wrap [shared.ErrAuthFailed]
//   - any other 4xx is permanent
package services
