// Package client contains the backend-facing building blocks of the field
// sync client.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface): Ping,
//     UploadMedia and FetchTicket.
//  2. A REST implementation (see HTTPClient) that posts captured photos as
//     multipart forms to /api/employee-uploads, reads tickets from
//     /api/tickets/{id}, attaches a bearer token when one is configured and
//     maps HTTP outcomes to sentinel errors.
//  3. Local persistence bootstrap utilities (InitDatabase, RunMigrations) that
//     open the SQLite database and apply embedded goose migrations.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrUnauthorized, ErrUploadRejected.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation/timeouts; the client itself sets no
// request timeout.
//
// See Also
//
//   - Interface:  Client
//   - REST impl:  HTTPClient
//   - DB helpers: InitDatabase, RunMigrations, NewRepositories
//   - Errors:     ErrUnavailable, ErrUnauthorized, ErrUploadRejected
package client
