// Package prefs persists the two durable user preferences: the promo-seen
// flag and the preferred language. Reads happen at startup, writes on
// explicit user action; last writer wins.
package prefs

import (
	"context"
)

// Repository defines the persisted key-value interface consumed by the core.
type Repository interface {
	// Language returns the stored preferred language, or "" if unset.
	Language(ctx context.Context, userID string) (string, error)

	// SetLanguage stores the preferred language.
	SetLanguage(ctx context.Context, userID, language string) error

	// PromoSeen reports whether the promo has already been shown.
	PromoSeen(ctx context.Context, userID string) (bool, error)

	// SetPromoSeen marks the promo as shown.
	SetPromoSeen(ctx context.Context, userID string, seen bool) error

	// Clear removes all stored preferences for a user. Used when leaving
	// the admin overlay, which resets persisted state as well.
	Clear(ctx context.Context, userID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
