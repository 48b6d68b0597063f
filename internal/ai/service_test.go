package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"toolhub/internal/db"
	"toolhub/internal/provider"
	"toolhub/internal/security"
)

var dbSeq int

func openTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dbSeq++
	conn, errOpen := db.Open(fmt.Sprintf("file:ai_%d?mode=memory&cache=shared", dbSeq))
	if errOpen != nil {
		t.Fatalf("expected open ok, got %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("expected migrate ok, got %v", errMigrate)
	}
	cipher := newTestCipher(t)
	return NewDispatcher(conn, cipher)
}

func newTestCipher(t *testing.T) *security.Cipher {
	t.Helper()
	key, errKey := security.GenerateMasterKey()
	if errKey != nil {
		t.Fatalf("expected key generation ok, got %v", errKey)
	}
	cipher, errCipher := security.NewCipher(key)
	if errCipher != nil {
		t.Fatalf("expected cipher ok, got %v", errCipher)
	}
	return cipher
}

// fakeVendor is an OpenAI-compatible endpoint that either always fails or
// always succeeds, counting the calls it receives.
func fakeVendor(t *testing.T, fail bool, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": {"message": "upstream exploded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-test",
			"choices": [{"message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20}
		}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedModel(t *testing.T, d *Dispatcher, name, baseURL string) uint {
	t.Helper()
	encrypted, errEnc := d.cipher.Encrypt("sk-test-" + name)
	if errEnc != nil {
		t.Fatalf("expected encrypt ok, got %v", errEnc)
	}
	prov := db.AIProvider{
		Name:            name,
		Type:            db.ProviderTypeOpenAI,
		APIKeyEncrypted: encrypted,
		BaseURL:         baseURL,
		IsActive:        true,
	}
	if err := d.conn.Create(&prov).Error; err != nil {
		t.Fatalf("expected provider insert ok, got %v", err)
	}
	model := db.AIModel{
		ProviderID:  prov.ID,
		ModelID:     "test-model-" + name,
		Name:        name,
		IsActive:    true,
		InputPrice:  1.0,
		OutputPrice: 2.0,
	}
	if err := d.conn.Create(&model).Error; err != nil {
		t.Fatalf("expected model insert ok, got %v", err)
	}
	return model.ID
}

func setChain(t *testing.T, d *Dispatcher, primary uint, fb1, fb2 *uint, retries int, enableFallback bool) {
	t.Helper()
	cfg, errCfg := d.GetConfig(context.Background())
	if errCfg != nil {
		t.Fatalf("expected config ok, got %v", errCfg)
	}
	cfg.PrimaryModelID = &primary
	cfg.Fallback1ModelID = fb1
	cfg.Fallback2ModelID = fb2
	cfg.RetryAttempts = retries
	cfg.EnableFallback = enableFallback
	if err := d.conn.Save(cfg).Error; err != nil {
		t.Fatalf("expected config save ok, got %v", err)
	}
}

var testMessages = []provider.Message{{Role: "user", Content: "hello"}}

func TestChatWithoutPrimaryModelFails(t *testing.T) {
	d := openTestDispatcher(t)

	_, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if !errors.Is(errChat, ErrNoPrimaryModel) {
		t.Fatalf("expected ErrNoPrimaryModel, got %v", errChat)
	}
}

func TestChatPrimarySucceedsWithoutTouchingFallback(t *testing.T) {
	d := openTestDispatcher(t)

	var primaryCalls, fallbackCalls atomic.Int64
	primary := fakeVendor(t, false, "primary says hi", &primaryCalls)
	fallback := fakeVendor(t, false, "fallback says hi", &fallbackCalls)

	primaryID := seedModel(t, d, "primary", primary.URL)
	fallbackID := seedModel(t, d, "fallback", fallback.URL)
	setChain(t, d, primaryID, &fallbackID, nil, 1, true)

	resp, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if errChat != nil {
		t.Fatalf("expected chat ok, got %v", errChat)
	}
	if resp.Content != "primary says hi" {
		t.Fatalf("expected primary content, got %q", resp.Content)
	}
	if fallbackCalls.Load() != 0 {
		t.Fatalf("expected no fallback calls, got %d", fallbackCalls.Load())
	}
	if resp.Tokens != 30 {
		t.Fatalf("expected 30 tokens, got %d", resp.Tokens)
	}
	// 10 input at $1/M plus 20 output at $2/M.
	if resp.Cost != 50.0/1_000_000 {
		t.Fatalf("expected cost 0.00005, got %v", resp.Cost)
	}
}

func TestChatFailsOverToFallback(t *testing.T) {
	d := openTestDispatcher(t)

	var primaryCalls, fallbackCalls atomic.Int64
	primary := fakeVendor(t, true, "", &primaryCalls)
	fallback := fakeVendor(t, false, "fallback rescued it", &fallbackCalls)

	primaryID := seedModel(t, d, "primary", primary.URL)
	fallbackID := seedModel(t, d, "fallback", fallback.URL)
	setChain(t, d, primaryID, &fallbackID, nil, 2, true)

	resp, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if errChat != nil {
		t.Fatalf("expected chat ok via fallback, got %v", errChat)
	}
	if resp.Content != "fallback rescued it" {
		t.Fatalf("expected fallback content, got %q", resp.Content)
	}
	if primaryCalls.Load() != 2 {
		t.Fatalf("expected 2 primary attempts, got %d", primaryCalls.Load())
	}
	if fallbackCalls.Load() != 1 {
		t.Fatalf("expected 1 fallback call, got %d", fallbackCalls.Load())
	}
	if resp.ProviderName != "openai" {
		t.Fatalf("expected openai provider name, got %q", resp.ProviderName)
	}
}

func TestChatFallbackDisabledNeverLeavesPrimary(t *testing.T) {
	d := openTestDispatcher(t)

	var primaryCalls, fallbackCalls atomic.Int64
	primary := fakeVendor(t, true, "", &primaryCalls)
	fallback := fakeVendor(t, false, "should never run", &fallbackCalls)

	primaryID := seedModel(t, d, "primary", primary.URL)
	fallbackID := seedModel(t, d, "fallback", fallback.URL)
	setChain(t, d, primaryID, &fallbackID, nil, 1, false)

	_, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if errChat == nil {
		t.Fatalf("expected error with fallback disabled")
	}
	if fallbackCalls.Load() != 0 {
		t.Fatalf("expected 0 fallback calls with fallback disabled, got %d", fallbackCalls.Load())
	}

	var provErr *provider.Error
	if !errors.As(errChat, &provErr) {
		t.Fatalf("expected *provider.Error, got %T", errChat)
	}
	if provErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500 surfaced, got %d", provErr.StatusCode)
	}
}

func TestChatAttemptCountIsBounded(t *testing.T) {
	d := openTestDispatcher(t)

	var calls1, calls2, calls3 atomic.Int64
	v1 := fakeVendor(t, true, "", &calls1)
	v2 := fakeVendor(t, true, "", &calls2)
	v3 := fakeVendor(t, true, "", &calls3)

	id1 := seedModel(t, d, "one", v1.URL)
	id2 := seedModel(t, d, "two", v2.URL)
	id3 := seedModel(t, d, "three", v3.URL)
	setChain(t, d, id1, &id2, &id3, 3, true)

	_, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if errChat == nil {
		t.Fatalf("expected error after exhausting the chain")
	}

	total := calls1.Load() + calls2.Load() + calls3.Load()
	if total != 9 {
		t.Fatalf("expected 9 total attempts (3 models x 3 retries), got %d", total)
	}
}

func TestChatSkipsInactiveModel(t *testing.T) {
	d := openTestDispatcher(t)

	var fallbackCalls atomic.Int64
	fallback := fakeVendor(t, false, "fallback content", &fallbackCalls)

	primaryID := seedModel(t, d, "primary", "http://127.0.0.1:1")
	fallbackID := seedModel(t, d, "fallback", fallback.URL)
	if err := d.conn.Model(&db.AIModel{}).Where("id = ?", primaryID).Update("is_active", false).Error; err != nil {
		t.Fatalf("expected update ok, got %v", err)
	}
	setChain(t, d, primaryID, &fallbackID, nil, 1, true)

	resp, errChat := d.Chat(context.Background(), testMessages, ChatOptions{})
	if errChat != nil {
		t.Fatalf("expected fallback to serve, got %v", errChat)
	}
	if resp.Content != "fallback content" {
		t.Fatalf("expected fallback content, got %q", resp.Content)
	}
}

func TestBuildProviderRejectsUnknownType(t *testing.T) {
	cipher := newTestCipher(t)
	_, errBuild := BuildProvider(db.AIProvider{Name: "bad", Type: "mystery"}, cipher, nil)
	if errBuild == nil {
		t.Fatalf("expected error for unknown provider type")
	}
}

func TestBuildProviderFailsOnUndecryptableKey(t *testing.T) {
	cipherA := newTestCipher(t)
	cipherB := newTestCipher(t)

	encrypted, errEnc := cipherA.Encrypt("sk-secret")
	if errEnc != nil {
		t.Fatalf("expected encrypt ok, got %v", errEnc)
	}

	row := db.AIProvider{Name: "p", Type: db.ProviderTypeOpenAI, APIKeyEncrypted: encrypted}
	_, errBuild := BuildProvider(row, cipherB, nil)
	if errBuild == nil {
		t.Fatalf("expected decrypt failure with wrong key")
	}
}

func TestGetConfigCreatesSingletonDefaults(t *testing.T) {
	d := openTestDispatcher(t)
	ctx := context.Background()

	first, errFirst := d.GetConfig(ctx)
	if errFirst != nil {
		t.Fatalf("expected config ok, got %v", errFirst)
	}
	if first.RetryAttempts != 1 || first.TimeoutSeconds != 60 || !first.EnableFallback {
		t.Fatalf("expected defaults, got %+v", first)
	}

	second, errSecond := d.GetConfig(ctx)
	if errSecond != nil {
		t.Fatalf("expected config ok, got %v", errSecond)
	}
	if second.ID != first.ID {
		t.Fatalf("expected singleton config, got ids %d and %d", first.ID, second.ID)
	}
}
