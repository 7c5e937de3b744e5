package records

import (
	"encoding/json"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

func recordFixture(key, payload string) models.CacheRecord {
	return models.CacheRecord{
		UserID:  "u1",
		Store:   "customers",
		Key:     key,
		Payload: json.RawMessage(payload),
	}
}
