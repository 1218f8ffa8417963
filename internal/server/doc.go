// Package server provides HTTP routing, middleware and the handlers of `crate serve`.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [Middleware] wraps
// handlers in reverse order (last added executes first). [BasicRouter] registers method
// patterns on an [http.ServeMux], so "{id}" segments are read with PathValue.
//
// # Routes
//
//	GET  /healthz
//	POST /webhooks/lidarr           download events (optional X-Webhook-Token)
//	GET  /api/jobs                  ?status=&type=&limit=&offset=
//	POST /api/jobs                  {"type", "entity_id"} -> 202, 409 duplicate, 400 invalid
//	GET  /api/jobs/{id}
//	POST /api/jobs/{id}/cancel
//	GET  /api/albums                ?ownership=&match_status=&limit=&offset=
//	GET  /api/albums/{id}
//	POST /api/albums/{id}/match     queues metadata-match-one
//	POST /api/albums/{id}/download  asks the automation service for the album
//	GET  /metrics
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the authorization code flow for the streaming library during
// `crate auth spotify`. It validates the state parameter, exchanges the code, saves the token
// and reports the result on a channel. Only one callback is processed.
package server
