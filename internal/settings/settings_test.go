package settings

import (
	"context"
	"fmt"
	"testing"

	"toolhub/internal/db"
)

var dbSeq int

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbSeq++
	conn, errOpen := db.Open(fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", dbSeq))
	if errOpen != nil {
		t.Fatalf("expected open ok, got %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("expected migrate ok, got %v", errMigrate)
	}
	return NewStore(conn)
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, found, errGet := store.Get(context.Background(), "does-not-exist")
	if errGet != nil {
		t.Fatalf("expected no error for missing key, got %v", errGet)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, SiteNameKey, "Tool Hub"); err != nil {
		t.Fatalf("expected set ok, got %v", err)
	}
	value, errGet := store.GetString(ctx, SiteNameKey, "fallback")
	if errGet != nil {
		t.Fatalf("expected get ok, got %v", errGet)
	}
	if value != "Tool Hub" {
		t.Fatalf("expected stored value, got %q", value)
	}
}

func TestSetOverwritesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, GuestDailyLimitKey, 10); err != nil {
		t.Fatalf("expected set ok, got %v", err)
	}
	if err := store.Set(ctx, GuestDailyLimitKey, 25); err != nil {
		t.Fatalf("expected upsert ok, got %v", err)
	}

	value, errGet := store.GetInt(ctx, GuestDailyLimitKey, DefaultGuestDailyLimit)
	if errGet != nil {
		t.Fatalf("expected get ok, got %v", errGet)
	}
	if value != 25 {
		t.Fatalf("expected 25 after overwrite, got %d", value)
	}
}

func TestGetIntFallsBackOnMissing(t *testing.T) {
	store := openTestStore(t)

	value, errGet := store.GetInt(context.Background(), UserDailyLimitKey, DefaultUserDailyLimit)
	if errGet != nil {
		t.Fatalf("expected get ok, got %v", errGet)
	}
	if value != DefaultUserDailyLimit {
		t.Fatalf("expected fallback %d, got %d", DefaultUserDailyLimit, value)
	}
}

func TestGetIntFallsBackOnMalformedValue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, GuestDailyLimitKey, "not a number"); err != nil {
		t.Fatalf("expected set ok, got %v", err)
	}
	value, errGet := store.GetInt(ctx, GuestDailyLimitKey, DefaultGuestDailyLimit)
	if errGet != nil {
		t.Fatalf("expected malformed value to fall back, got %v", errGet)
	}
	if value != DefaultGuestDailyLimit {
		t.Fatalf("expected fallback %d, got %d", DefaultGuestDailyLimit, value)
	}
}

func TestSetRejectsEmptyKey(t *testing.T) {
	store := openTestStore(t)
	if err := store.Set(context.Background(), "   ", 1); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
