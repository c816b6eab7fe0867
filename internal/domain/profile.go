// Package domain contains core domain types for the reading session app.
package domain

import (
	"time"
)

// Tier is the product mode of a session.
type Tier string

const (
	TierTrial   Tier = "trial"
	TierPremium Tier = "premium"
	TierNFC     Tier = "nfc"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierTrial, TierPremium, TierNFC:
		return true
	}
	return false
}

// Profile is the canonical user profile consumed by all internal code.
// Backend payloads arrive in several loosely-shaped variants; they are
// normalized into this type exactly once, at the API boundary.
type Profile struct {
	Name        string    `json:"name"`
	DateOfBirth string    `json:"date_of_birth"` // YYYY-MM-DD
	Gender      string    `json:"gender,omitempty"`
	ZodiacSign  string    `json:"zodiac_sign"`
	Language    string    `json:"language"`
	Tier        Tier      `json:"tier"`
	Color       string    `json:"color,omitempty"`
	Numbers     []int     `json:"numbers,omitempty"`
	Aspirations string    `json:"aspirations,omitempty"`
	Interests   []string  `json:"interests,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// BirthDate parses the profile's date of birth.
func (p *Profile) BirthDate() (time.Time, error) {
	return time.Parse("2006-01-02", p.DateOfBirth)
}
