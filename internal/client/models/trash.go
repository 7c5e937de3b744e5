package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TrashRetention is how long a soft-deleted entity stays restorable.
const TrashRetention = 60 * 24 * time.Hour

const unnamedItem = "unnamed item"

// TrashItem is a soft-deleted entity snapshot.
type TrashItem struct {
	ID        string          `json:"id"`
	Type      EntityKind      `json:"type"`
	Name      string          `json:"name"`
	DeletedAt time.Time       `json:"deletedAt"`
	Data      json.RawMessage `json:"data"`

	// Pending is local-only: the soft delete has not been confirmed remotely.
	Pending bool `json:"-"`
}

// NewTrashItem snapshots data as a trash entry deleted at now.
func NewTrashItem(kind EntityKind, id string, data json.RawMessage, now time.Time) TrashItem {
	return TrashItem{
		ID:        id,
		Type:      kind,
		Name:      DisplayName(data),
		DeletedAt: now.UTC(),
		Data:      data,
	}
}

// Expired reports whether the item is past the retention window at now.
func (t TrashItem) Expired(now time.Time) bool {
	return now.Sub(t.DeletedAt) > TrashRetention
}

// DisplayName picks the first non-empty of name, description and number.
func DisplayName(data json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return unnamedItem
	}
	for _, k := range []string{"name", "description", "number"} {
		if s, ok := fields[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return unnamedItem
}
