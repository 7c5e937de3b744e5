package models

import (
	"encoding/json"
	"strings"
	"time"
)

const unnamedItem = "unnamed item"

// TrashEntry is a soft-deleted entity. Its JSON form is what the trash API
// returns to clients.
type TrashEntry struct {
	UserID    string          `json:"-"`
	ID        string          `json:"id"`
	Kind      string          `json:"type"`
	Name      string          `json:"name"`
	DeletedAt time.Time       `json:"deletedAt"`
	Data      json.RawMessage `json:"data"`
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
