// Package common contains shared constants and sentinel errors used across
// field-sync components.
package common

// AuthorizationHeaderName carries the session token on outbound requests.
const AuthorizationHeaderName = "Authorization"

// LocalUploadsKey is the key-value slot holding the JSON-encoded upload queue.
const LocalUploadsKey = "local_uploads"

// TicketCacheKeyPrefix prefixes cached ticket payloads, e.g. "ticket:42".
const TicketCacheKeyPrefix = "ticket:"

// TicketFetchedKeyPrefix prefixes the time a cached ticket was last fetched.
const TicketFetchedKeyPrefix = "ticket_fetched:"
