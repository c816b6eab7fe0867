package prefs

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestLanguageRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	lang, err := store.Language(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("Language: %v", err)
	}
	if lang != "" {
		t.Errorf("Unset language should be empty, got %q", lang)
	}

	if err := store.SetLanguage(ctx, "visitor-1", "es"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	lang, err = store.Language(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("Language: %v", err)
	}
	if lang != "es" {
		t.Errorf("Language = %q, want es", lang)
	}

	// Last writer wins.
	if err := store.SetLanguage(ctx, "visitor-1", "fr"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	lang, _ = store.Language(ctx, "visitor-1")
	if lang != "fr" {
		t.Errorf("Language = %q, want fr", lang)
	}
}

func TestPromoSeenRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	seen, err := store.PromoSeen(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("PromoSeen: %v", err)
	}
	if seen {
		t.Error("Promo should default to unseen")
	}

	if err := store.SetPromoSeen(ctx, "visitor-1", true); err != nil {
		t.Fatalf("SetPromoSeen: %v", err)
	}
	seen, _ = store.PromoSeen(ctx, "visitor-1")
	if !seen {
		t.Error("Promo flag did not persist")
	}
}

func TestClearRemovesAllPreferences(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetLanguage(ctx, "visitor-1", "es"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if err := store.SetPromoSeen(ctx, "visitor-1", true); err != nil {
		t.Fatalf("SetPromoSeen: %v", err)
	}
	if err := store.SetLanguage(ctx, "visitor-2", "fr"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}

	if err := store.Clear(ctx, "visitor-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	lang, _ := store.Language(ctx, "visitor-1")
	seen, _ := store.PromoSeen(ctx, "visitor-1")
	if lang != "" || seen {
		t.Error("Clear must remove every preference for the visitor")
	}

	// Other visitors are untouched.
	lang, _ = store.Language(ctx, "visitor-2")
	if lang != "fr" {
		t.Errorf("Clear must be scoped to one visitor, got %q", lang)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
