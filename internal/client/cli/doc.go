// Package cli provides the interactive shop client.
//
// It wires configuration, the local cache, the HTTP gateway, the sync and
// trash services and an interactive REPL that keeps working offline.
// Typical flow: probe the server, prompt for credentials, start the drain
// and cleanup loops, then execute user commands.
//
// Key features:
//   - Login / Logout (online with offline fallback)
//   - List / Show / Add / Edit / Delete customers, devices, services and documents
//   - Trash, restore, permanent delete and expiry cleanup
//   - Manual sync and queue status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
