package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"
)

// memCacheStore : double en mémoire avec matching wildcard (les clés du
// subsystem n'utilisent jamais de '/', path.Match suffit).
type memCacheStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
	failSet bool
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{entries: make(map[string][]byte)}
}

func (m *memCacheStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.failGet {
		return nil, errors.New("cache down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *memCacheStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.failSet {
		return errors.New("cache down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memCacheStore) DeleteMatching(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *memCacheStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *memCacheStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// waitFor : les écritures cache partent en fire-and-forget, les assertions
// doivent attendre la goroutine.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestCacheMissThenHit(t *testing.T) {
	store := newMemCacheStore()
	layer := NewCacheLayer(store)

	var handlerCalls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		handlerCalls++
		writeEnvelope(w, http.StatusOK, map[string]string{"hello": "world"}, "ok")
	})

	wrapped := layer.Wrap(CacheOptions{Strategy: StrategyDefault, TTL: 60 * time.Second}, handler)

	// 1er appel : MISS, le handler tourne, la réponse part vers le store
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore?page=1", nil))

	if handlerCalls != 1 {
		t.Fatalf("handler calls = %d, want 1", handlerCalls)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	key := rec.Header().Get("X-Cache-Key")
	if key == "" {
		t.Fatal("X-Cache-Key missing")
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	missBody := rec.Body.String()

	waitFor(t, func() bool { _, ok := store.get(key); return ok })

	// 2e appel : HIT, payload identique bit à bit, handler pas invoqué
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/v1/feed/explore?page=1", nil))

	if handlerCalls != 1 {
		t.Fatalf("handler should not run on hit, calls = %d", handlerCalls)
	}
	if got := rec2.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if rec2.Header().Get("X-Cache-Key") != key {
		t.Error("hit and miss should resolve the same key")
	}
	if rec2.Body.String() != missBody {
		t.Error("cached payload differs from original response")
	}
}

// Store indisponible : la requête passe en pass-through, jamais d'erreur.
func TestCacheStoreFailureIsTransparent(t *testing.T) {
	store := newMemCacheStore()
	store.failGet = true
	store.failSet = true
	layer := NewCacheLayer(store)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "ok")
	})
	wrapped := layer.Wrap(CacheOptions{Strategy: StrategyDefault, TTL: time.Minute}, handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCacheSkipPredicate(t *testing.T) {
	store := newMemCacheStore()
	layer := NewCacheLayer(store)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "ok")
	})
	wrapped := layer.Wrap(CacheOptions{Strategy: StrategyExplore, TTL: time.Minute, Skip: SkipOnRefresh}, handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore?refresh=true", nil))

	if got := rec.Header().Get("X-Cache"); got != "" {
		t.Errorf("skipped request should not carry X-Cache, got %q", got)
	}
	time.Sleep(20 * time.Millisecond)
	if store.size() != 0 {
		t.Error("skipped request must not populate the cache")
	}
}

// Une réponse non-200 ne se met jamais en cache et ne s'annonce jamais
// cacheable.
func TestCacheErrorResponsesNotStored(t *testing.T) {
	store := newMemCacheStore()
	layer := NewCacheLayer(store)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, nil, "boom")
	})
	wrapped := layer.Wrap(CacheOptions{Strategy: StrategyDefault, TTL: time.Minute}, handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore", nil))

	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Errorf("error response carries Cache-Control %q, want none", got)
	}

	time.Sleep(20 * time.Millisecond)
	if store.size() != 0 {
		t.Error("error response leaked into the cache")
	}
}

// Une page mise en cache sans filtre d'exclusion ne doit jamais être resservie
// à une requête qui exclut un des auteurs qu'elle contient.
func TestCacheNeverSharesAcrossExcludeFilters(t *testing.T) {
	store := newMemCacheStore()
	layer := NewCacheLayer(store)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authors := []string{"author-x", "author-y"}
		if r.URL.Query().Get("exclude") == "author-x" {
			authors = []string{"author-y"}
		}
		writeEnvelope(w, http.StatusOK, authors, "ok")
	})
	wrapped := layer.Wrap(CacheOptions{Strategy: StrategyExplore, TTL: time.Minute}, handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore?page=1", nil))
	key := rec.Header().Get("X-Cache-Key")
	waitFor(t, func() bool { _, ok := store.get(key); return ok })

	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/v1/feed/explore?page=1&exclude=author-x", nil))

	if got := rec2.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("request with exclude filter got X-Cache=%q, want MISS", got)
	}
	if strings.Contains(rec2.Body.String(), "author-x") {
		t.Error("excluded author served from a foreign cache entry")
	}
}

func TestInvalidateAfter(t *testing.T) {
	store := newMemCacheStore()
	layer := NewCacheLayer(store)

	ctx := context.Background()
	_ = store.Set(ctx, "feed:home:u1:p1", []byte("x"), time.Minute)
	_ = store.Set(ctx, "feed:home:u1:p2", []byte("y"), time.Minute)
	_ = store.Set(ctx, "feed:home:u2:p1", []byte("z"), time.Minute)

	patterns := func(*http.Request, int, []byte) []string {
		return []string{"feed:home:u1:*"}
	}

	t.Run("2xx triggers deferred invalidation", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeEnvelope(w, http.StatusOK, nil, "ok")
		})
		wrapped := layer.InvalidateAfter(patterns, handler)

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/feed/refresh", nil))

		waitFor(t, func() bool {
			_, ok1 := store.get("feed:home:u1:p1")
			_, ok2 := store.get("feed:home:u1:p2")
			return !ok1 && !ok2
		})
		if _, ok := store.get("feed:home:u2:p1"); !ok {
			t.Error("pattern matched a foreign viewer's entries")
		}
	})

	t.Run("invalidation is idempotent", func(t *testing.T) {
		// Deux purges successives du même pattern : même état final, pas
		// d'erreur
		if err := store.DeleteMatching(ctx, "feed:home:u1:*"); err != nil {
			t.Fatal(err)
		}
		if err := store.DeleteMatching(ctx, "feed:home:u1:*"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("non-2xx keeps the cache", func(t *testing.T) {
		_ = store.Set(ctx, "feed:home:u1:p1", []byte("x"), time.Minute)

		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeEnvelope(w, http.StatusBadRequest, nil, "nope")
		})
		wrapped := layer.InvalidateAfter(patterns, handler)

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/feed/refresh", nil))

		time.Sleep(20 * time.Millisecond)
		if _, ok := store.get("feed:home:u1:p1"); !ok {
			t.Error("failed response must not invalidate")
		}
	})
}

// Round-trip : set puis get rend la valeur bit à bit.
func TestMemStoreRoundTrip(t *testing.T) {
	store := newMemCacheStore()
	ctx := context.Background()

	payload := []byte(`{"statusCode":200,"data":{"a":1},"message":"ok"}`)
	if err := store.Set(ctx, "k", payload, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("round-trip mismatch: %q", got)
	}

	missing, err := store.Get(ctx, "absent")
	if err != nil || missing != nil {
		t.Errorf("miss should be (nil, nil), got (%v, %v)", missing, err)
	}
}
