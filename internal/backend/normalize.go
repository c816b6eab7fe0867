package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arcanaday/arcana-session/internal/domain"
)

// The backend emits user payloads in several historical shapes: the profile
// may sit at the top level, under "user_data", or under a doubly-nested
// "user_data.user_data"; field names mix snake_case and camelCase (nfc_id vs
// nfcId). normalizeIdentity is the single place those variants are folded
// into the canonical domain types; nothing past this boundary sees the raw
// shapes.

func normalizeIdentity(raw json.RawMessage) (*domain.NFCIdentity, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, transportFailure(fmt.Errorf("decode user payload: %w", err))
	}
	m = unwrapUserData(m)

	identity := &domain.NFCIdentity{
		TagID:       domain.NormalizeTagID(pickString(m, "nfc_id", "nfcId", "tag_id", "tagId")),
		LastReading: pickString(m, "last_reading", "lastReading", "last_reading_date"),
		Profile: domain.Profile{
			Name:        pickString(m, "name", "user_name", "userName"),
			DateOfBirth: pickString(m, "date_of_birth", "dateOfBirth", "dob"),
			Gender:      pickString(m, "gender"),
			ZodiacSign:  pickString(m, "zodiac_sign", "zodiacSign"),
			Language:    pickString(m, "language", "lang"),
			Tier:        domain.TierNFC,
			Color:       pickString(m, "color", "colour"),
			Numbers:     pickInts(m, "numbers", "lucky_numbers", "luckyNumbers"),
			Aspirations: pickString(m, "aspirations"),
			Interests:   pickStrings(m, "interests"),
		},
	}
	if ts := pickString(m, "registered_at", "registeredAt", "created_at", "createdAt"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			identity.RegisteredAt = t
		}
	}
	return identity, nil
}

func normalizeReading(raw json.RawMessage) (*domain.Reading, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, transportFailure(fmt.Errorf("decode reading payload: %w", err))
	}
	return &domain.Reading{
		CardName:       pickString(m, "card_name", "cardName"),
		CardImage:      pickString(m, "card_image", "cardImage"),
		Interpretation: pickString(m, "interpretation", "reading"),
		Cards:          pickStrings(m, "cards"),
		CardNames:      pickStrings(m, "card_names", "cardNames"),
	}, nil
}

// unwrapUserData peels nested user_data / userData wrappers.
func unwrapUserData(m map[string]any) map[string]any {
	for i := 0; i < 3; i++ {
		inner, ok := firstMap(m, "user_data", "userData", "user", "profile")
		if !ok {
			return m
		}
		m = inner
	}
	return m
}

func firstMap(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v, true
		}
	}
	return nil, false
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func pickStrings(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func pickInts(m map[string]any, keys ...string) []int {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]int, 0, len(list))
		for _, item := range list {
			if f, ok := item.(float64); ok {
				out = append(out, int(f))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
