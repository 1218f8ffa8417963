// Package repositories implements SQLite persistence for the catalog, the job store and the match cache.
//
// Key Implementations:
//   - [JobRepository] : the Job Store & Queue (submit with dedup, atomic claim, monotonic progress)
//   - [AlbumRepository] : catalog albums with optimistic-version writes serialized per album
//   - [ArtistRepository] : catalog artists keyed by streaming-library id
//   - [DownloadRepository] : download requests, at most one active per album
//   - [SettingsRepository] : the sync settings singleton
//   - [CacheRepository] : expiring key/value entries for match results
//
// Sequence numbers provide stable FIFO ordering independent of UUIDs and timestamp resolution.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
