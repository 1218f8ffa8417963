// Package reconcile updates catalog albums from signals that arrive outside the job lifecycle.
//
// # Webhooks
//
// [ParseEvent] validates a download-automation webhook and [WebhookReconciler.Apply] moves the
// referenced albums and their download requests to the state the event implies:
//
//	grabbed  -> request downloading, album downloading
//	imported -> request completed, album owned (automated-download) at the imported path
//	failed   -> request failed with the reason, a downloading album reverts to not_owned
//	removed  -> album not_owned, local path cleared
//
// Albums are resolved by release-group id, then by the download-service album id of an existing
// request. Events for unknown albums are logged and dropped.
//
// # Filesystem
//
// [Watcher] feeds fsnotify events through [Debounce] and submits a filesystem-scan job per quiet
// period. [Scanner] runs that job: it walks the music directory for album folders, reads tags with
// taglib (directory names are the fallback) and marks the most similar catalog album owned.
//
// Every album write goes through [repositories.AlbumRepository.Mutate], so webhook, scan and job
// writers of the same album are serialized.
package reconcile
