// Package models defines the client-side data model of the sync core: cached
// records, the typed record envelope, trash items, queued operations and the
// shop's entity kinds.
package models
