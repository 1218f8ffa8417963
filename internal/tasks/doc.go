// Package tasks implements the work behind each job type with real-time progress reporting.
//
// # Dispatch
//
// [Runner.Run] reads a settings snapshot and switches over every [models.JobType]:
//
//  1. library-sync : pages saved albums from the streaming library into the catalog
//     - Ensures the artist, upserts the album (ownership and match state untouched)
//     - Queues metadata-match-all afterwards (an already queued one is fine)
//
//  2. metadata-match-all / metadata-match-one : runs the matching engine
//     - Stores status, score and release group on the album
//     - Queues cover-art-fetch for every match
//
//  3. cover-art-fetch : stores <cover_dir>/<album_id>.jpg
//     - A missing cover is recorded as an empty reference and not retried
//
//  4. filesystem-scan : delegates to [reconcile.Scanner]
//
//  5. download-status-poll : maps the automation queue onto active download requests
//
// # Batches
//
// Batch tasks record per-item failures in a [models.BatchSummary] and keep going. A batch in which
// every item failed returns the last item error; one with some failures returns its summary with a
// [*shared.PartialError]; cancellation stops before the next item's external call.
//
// # Progress Reporting
//
// Tasks report through a [ProgressFunc]; the executor persists the counts and fans the
// [ProgressUpdate] out to the CLI or UI without blocking.
package tasks
