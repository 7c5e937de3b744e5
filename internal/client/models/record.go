package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CacheRecord is the locally held copy of one logical entity.
type CacheRecord struct {
	UserID string
	Store  string
	Key    string

	// Payload is the entity's last known JSON state.
	Payload json.RawMessage

	// ServerID is the identifier the remote store reported after a save.
	ServerID string

	// PendingSync marks local changes not yet confirmed by the gateway.
	PendingSync bool
	// PendingDelete marks a requested deletion not yet confirmed.
	// It takes precedence over PendingSync.
	PendingDelete bool

	UpdatedAt time.Time
}

func (r CacheRecord) CompositeKey() string {
	return CompositeKey(r.UserID, r.Store, r.Key)
}

// Dirty reports whether the record carries an unconfirmed local intent.
func (r CacheRecord) Dirty() bool {
	return r.PendingSync || r.PendingDelete
}

// CompositeKey joins the path-escaped parts with "/". Escaping keeps the
// mapping injective even when a part itself contains a slash.
func CompositeKey(userID, store, key string) string {
	return strings.Join([]string{
		url.PathEscape(userID),
		url.PathEscape(store),
		url.PathEscape(key),
	}, "/")
}

// Record is the typed view of a CacheRecord.
type Record[T any] struct {
	Key           string
	Value         T
	ServerID      string
	PendingSync   bool
	PendingDelete bool
	UpdatedAt     time.Time
}

// Decode unmarshals the record payload into T.
func Decode[T any](r CacheRecord) (Record[T], error) {
	var v T
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &v); err != nil {
			return Record[T]{}, fmt.Errorf("decode %s/%s: %w", r.Store, r.Key, err)
		}
	}
	return Record[T]{
		Key:           r.Key,
		Value:         v,
		ServerID:      r.ServerID,
		PendingSync:   r.PendingSync,
		PendingDelete: r.PendingDelete,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// DecodeAll decodes a slice of records, stopping at the first failure.
func DecodeAll[T any](rs []CacheRecord) ([]Record[T], error) {
	out := make([]Record[T], 0, len(rs))
	for _, r := range rs {
		d, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Encode converts the typed record back into its cached form.
func (r Record[T]) Encode(userID, store string) (CacheRecord, error) {
	b, err := json.Marshal(r.Value)
	if err != nil {
		return CacheRecord{}, fmt.Errorf("encode %s/%s: %w", store, r.Key, err)
	}
	return CacheRecord{
		UserID:        userID,
		Store:         store,
		Key:           r.Key,
		Payload:       b,
		ServerID:      r.ServerID,
		PendingSync:   r.PendingSync,
		PendingDelete: r.PendingDelete,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// PayloadID returns the "id" field of a JSON object payload, or "" when the
// payload is not an object or has no string id.
func PayloadID(payload json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	switch v := probe.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
