// Package server exposes the cache over HTTP: a streaming endpoint that never blocks on a
// cloud download, JSON operations for the desktop shell, and Prometheus metrics.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so path values such as
// {id} are available through [http.Request.PathValue].
//
// # Streaming
//
// [StreamHandler] serves GET /stream?path=... . Every read asks the probe first. A cloud file
// that is not local yet gets 202 {"status":"pending"} while a download is triggered in the
// background; a local file is served with range support and its access time recorded.
//
// # IPC
//
// [API] registers the JSON operations:
//
//	GET    /api/sources/detect
//	GET    /api/sources
//	POST   /api/sources
//	DELETE /api/sources/{id}
//	GET    /api/cache/stats
//	PUT    /api/cache/budget
//	POST   /api/cache/evict
//	POST   /api/tracks/{id}/pin
//	POST   /api/tracks/{id}/unpin
//	POST   /api/tracks/{id}/download
//
// Errors are returned as {"error": "..."} with a status derived from the sentinel errors in
// the shared package. An on-demand download that times out answers 504.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
