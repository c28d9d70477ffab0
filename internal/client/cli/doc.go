// Package cli provides the interactive field-sync client.
//
// It wires configuration, the local upload queue, media storage, the
// backend HTTP client and the sync engine, then runs a REPL for field
// workers. Background goroutines watch connectivity, retry queued uploads
// on reconnect and on a timer, and optionally serve the control API.
//
// Commands:
//   - capture: queue a photo for a ticket and upload it when online
//   - list: show queued uploads, optionally by status
//   - retry / cleanup: manual sync and purge of synced records
//   - ticket: show a ticket with server media and history
//   - status: connectivity and queue counts
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
