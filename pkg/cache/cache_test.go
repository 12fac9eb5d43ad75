package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	store, err := NewStore(Config{Dir: t.TempDir(), MemoryCapacity: capacity}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestKey_Deterministic(t *testing.T) {
	type payload struct {
		Messages    []string `json:"messages"`
		System      string   `json:"system"`
		Temperature float64  `json:"temperature"`
		MaxTokens   int      `json:"max_tokens"`
	}

	a := payload{Messages: []string{"hello"}, System: "sys", Temperature: 0.7, MaxTokens: 512}
	b := payload{Messages: []string{"hello"}, System: "sys", Temperature: 0.7, MaxTokens: 512}

	keyA, err := Key(a)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	keyB, err := Key(b)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if keyA != keyB {
		t.Errorf("identical payloads produced different keys: %s vs %s", keyA, keyB)
	}

	variants := []payload{
		{Messages: []string{"hello!"}, System: "sys", Temperature: 0.7, MaxTokens: 512},
		{Messages: []string{"hello"}, System: "other", Temperature: 0.7, MaxTokens: 512},
		{Messages: []string{"hello"}, System: "sys", Temperature: 0.8, MaxTokens: 512},
		{Messages: []string{"hello"}, System: "sys", Temperature: 0.7, MaxTokens: 513},
	}
	for i, v := range variants {
		keyV, err := Key(v)
		if err != nil {
			t.Fatalf("Key variant %d: %v", i, err)
		}
		if keyV == keyA {
			t.Errorf("variant %d should produce a different key", i)
		}
	}
}

func TestStore_SetGet(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`"value"`), time.Minute)

	got, ok := store.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != `"value"` {
		t.Errorf("expected %q, got %q", `"value"`, string(got))
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t, 10)

	if _, ok := store.Get("nope"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`1`), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := store.Get("k1"); ok {
		t.Error("expected expired entry to be absent")
	}
	// The expired record must also be purged from the file tier.
	if _, err := os.Stat(filepath.Join(store.file.dir, "k1.json")); !os.IsNotExist(err) {
		t.Errorf("expected expired file to be removed, stat err = %v", err)
	}
}

func TestStore_TTLExpiry_FileTierOnly(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`1`), 10*time.Millisecond)
	// Drop the memory tier so the lookup falls through to the file.
	store.mem.clear()
	time.Sleep(30 * time.Millisecond)

	if _, ok := store.Get("k1"); ok {
		t.Error("expected expired file-tier entry to be absent")
	}
}

func TestStore_LRUBound(t *testing.T) {
	store := newTestStore(t, 3)

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		store.Set(k, json.RawMessage(`1`), time.Minute)
	}

	if got := store.Len(); got != 3 {
		t.Fatalf("expected 3 entries in memory, got %d", got)
	}
	want := []string{"e", "d", "c"}
	got := store.mem.keys()
	for i, k := range want {
		if got[i] != k {
			t.Errorf("expected MRU order %v, got %v", want, got)
			break
		}
	}
}

func TestStore_LRUEviction(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Config{Dir: dir, MemoryCapacity: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	store.Set("k1", json.RawMessage(`1`), time.Minute)
	store.Set("k2", json.RawMessage(`2`), time.Minute)
	store.Set("k3", json.RawMessage(`3`), time.Minute)

	if got := store.mem.len(); got != 2 {
		t.Fatalf("expected capacity 2, got %d", got)
	}
	if _, ok := store.mem.get("k1"); ok {
		t.Error("expected k1 evicted from memory tier")
	}
	if _, ok := store.Get("k2"); !ok {
		t.Error("expected k2 present")
	}
	if _, ok := store.Get("k3"); !ok {
		t.Error("expected k3 present")
	}
	// k1 was only evicted from memory; the file tier still serves it.
	if _, ok := store.Get("k1"); !ok {
		t.Error("expected k1 readable from file tier")
	}
}

func TestStore_PromotionFromFileTier(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`"v"`), time.Minute)
	store.mem.clear()

	if _, ok := store.Get("k1"); !ok {
		t.Fatal("expected file-tier hit")
	}
	if _, ok := store.mem.get("k1"); !ok {
		t.Error("expected entry promoted into memory tier")
	}
}

func TestStore_HitCountIncrements(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`1`), time.Minute)
	store.Get("k1")
	store.Get("k1")

	entry, ok := store.mem.get("k1")
	if !ok {
		t.Fatal("expected entry in memory")
	}
	if entry.HitCount != 2 {
		t.Errorf("expected hit_count 2, got %d", entry.HitCount)
	}
}

func TestStore_CorruptFileTreatedAsMiss(t *testing.T) {
	store := newTestStore(t, 10)

	path := filepath.Join(store.file.dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, ok := store.Get("bad"); ok {
		t.Error("expected corrupt entry to read as miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected corrupt file to be removed")
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`1`), time.Minute)
	store.Delete("k1")

	if _, ok := store.Get("k1"); ok {
		t.Error("expected deleted key to be absent")
	}
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("k1", json.RawMessage(`1`), time.Minute)
	store.Set("k2", json.RawMessage(`2`), time.Minute)
	store.Clear()

	if store.Len() != 0 {
		t.Error("expected empty memory tier after clear")
	}
	if _, ok := store.Get("k1"); ok {
		t.Error("expected k1 absent after clear")
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	store := newTestStore(t, 10)

	store.Set("live", json.RawMessage(`1`), time.Hour)
	store.Set("dead", json.RawMessage(`1`), 10*time.Millisecond)
	if err := os.WriteFile(filepath.Join(store.file.dir, "corrupt.json"), []byte("???"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	removed := store.CleanupExpired()
	if removed != 2 {
		t.Errorf("expected 2 removed (expired + corrupt), got %d", removed)
	}
	if _, ok := store.Get("live"); !ok {
		t.Error("expected live entry to survive cleanup")
	}
}

func TestStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Config{Dir: dir}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Set("k1", json.RawMessage(`"persisted"`), time.Hour)

	reopened, err := NewStore(Config{Dir: dir}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok := reopened.Get("k1")
	if !ok {
		t.Fatal("expected entry to survive restart via file tier")
	}
	if string(got) != `"persisted"` {
		t.Errorf("unexpected value %q", string(got))
	}
}
