package domain

import (
	"strings"
	"time"
)

// TagIDPrefix is the required prefix for NFC tag identifiers. Lookups on an
// unprefixed id are a defect; normalize before any backend call.
const TagIDPrefix = "nfc_"

// NFCIdentity represents a physical-tag-linked user resolved by the backend.
// An identity is looked up or created server-side, never fabricated locally.
type NFCIdentity struct {
	TagID        string    `json:"tag_id"`
	Profile      Profile   `json:"profile"`
	RegisteredAt time.Time `json:"registered_at"`
	LastReading  string    `json:"last_reading,omitempty"` // YYYY-MM-DD of the last daily reading
}

// NormalizeTagID ensures a tag id carries the required prefix.
func NormalizeTagID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, TagIDPrefix) {
		return id
	}
	return TagIDPrefix + id
}

// ReadingOwedOn reports whether a new daily reading is owed on the given day.
func (n *NFCIdentity) ReadingOwedOn(day time.Time) bool {
	return n.LastReading != day.Format("2006-01-02")
}
