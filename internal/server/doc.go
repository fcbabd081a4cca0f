// Package server provides the HTTP surface of the collector: the tool
// catalog and dispatch endpoints, the OAuth authorization flow, and archive
// uploads for the import pipeline.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Endpoints
//
//   - GET  /health        liveness probe: database reachability + last job start
//   - GET  /mcp/tools     public tool catalog
//   - POST /mcp/call      tool dispatch, gated by a shared bearer token
//   - GET  /auth/login    redirect into the provider authorization flow
//   - GET  /auth/callback code exchange; stores the user and sealed credential
//   - POST /imports       multipart archive upload, enqueued for the worker
//
// Dispatch responses always carry HTTP 200: tool failures travel in-band in
// the envelope, never as transport status codes.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
