// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrUnknownKind = errors.New("unknown entity kind")

// Entity is one active record of a user's store. Key is the client-chosen
// id; Data always carries it as its "id" field.
type Entity struct {
	UserID    string
	Store     string
	Key       string
	Data      json.RawMessage
	UpdatedAt time.Time
}

var kindStores = map[string]string{
	"customer": "customers",
	"device":   "devices",
	"service":  "services",
	"document": "documents",
}

// StoreForKind maps a trash kind such as "customer" to its data store.
func StoreForKind(kind string) (string, error) {
	s, ok := kindStores[kind]
	if !ok {
		return "", ErrUnknownKind
	}
	return s, nil
}

// KindForStore is the inverse of StoreForKind.
func KindForStore(store string) (string, error) {
	for k, s := range kindStores {
		if s == store {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}
