package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
	"github.com/jupiterclapton/feedrank/internal/core/services"
)

type fakeFeedService struct {
	page    *domain.FeedPage
	err     error
	lastReq domain.FeedRequest
}

func (f *fakeFeedService) Compose(_ context.Context, req domain.FeedRequest) (*domain.FeedPage, error) {
	f.lastReq = req
	return f.page, f.err
}

func (f *fakeFeedService) Search(context.Context, domain.SearchRequest) (*domain.FeedPage, error) {
	return f.page, f.err
}

func (f *fakeFeedService) Profile(context.Context, domain.ProfileRequest) (*domain.FeedPage, error) {
	return f.page, f.err
}

func (f *fakeFeedService) Trending(context.Context, domain.TrendingRequest) (*domain.FeedPage, error) {
	return f.page, f.err
}

func emptyPage() *domain.FeedPage {
	return &domain.FeedPage{
		Items:      []domain.FeedItem{},
		Pagination: domain.Pagination{Page: 1, Limit: domain.DefaultLimit},
	}
}

func newTestServer(t *testing.T, feed *fakeFeedService, key *rsa.PublicKey) http.Handler {
	t.Helper()
	limiter := func(name string) *services.RateLimiter {
		return services.NewRateLimiter(newMemCounterStore(), services.RateLimitConfig{
			Name: name, Window: time.Minute, MaxRequests: 1000,
		})
	}
	srv := NewServer(feed, NewCacheLayer(newMemCacheStore()), Limiters{
		General:   limiter("general"),
		Analytics: limiter("analytics"),
		Creation:  limiter("creation"),
	}, CacheTTLs{
		Feed:     time.Minute,
		Search:   time.Minute,
		Profile:  time.Minute,
		Trending: time.Minute,
	}, key)
	return srv.Handler()
}

func signedToken(t *testing.T, priv *rsa.PrivateKey, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(priv)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestHomeRequiresAuthentication(t *testing.T) {
	handler := newTestServer(t, &fakeFeedService{page: emptyPage()}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/home", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous home feed: status = %d, want 401", rec.Code)
	}
}

func TestHomeDefaultsToCompositeSort(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	feed := &fakeFeedService{page: emptyPage()}
	handler := newTestServer(t, feed, &priv.PublicKey)

	req := httptest.NewRequest("GET", "/v1/feed/home", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, priv, "user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if feed.lastReq.Mode != domain.ModeHome {
		t.Errorf("mode = %q, want home", feed.lastReq.Mode)
	}
	if feed.lastReq.SortBy != domain.SortComposite {
		t.Errorf("default sortBy = %q, want composite", feed.lastReq.SortBy)
	}
	if feed.lastReq.ViewerID != "user-1" {
		t.Errorf("viewerID = %q, want user-1", feed.lastReq.ViewerID)
	}

	// Un sortBy explicite n'est pas écrasé (page différente : la clé home ne
	// porte pas le sortBy, on évite le hit cache de la requête précédente)
	req = httptest.NewRequest("GET", "/v1/feed/home?sortBy=likes&page=2", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, priv, "user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if feed.lastReq.SortBy != domain.SortLikes {
		t.Errorf("explicit sortBy = %q, want likes", feed.lastReq.SortBy)
	}
}

func TestExploreIsOpenToAnonymous(t *testing.T) {
	feed := &fakeFeedService{page: emptyPage()}
	handler := newTestServer(t, feed, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore?types=video,article&exclude=u3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if feed.lastReq.Mode != domain.ModeExplore {
		t.Errorf("mode = %q, want explore", feed.lastReq.Mode)
	}
	if len(feed.lastReq.Types) != 2 {
		t.Errorf("types = %v, want 2 entries", feed.lastReq.Types)
	}
	if len(feed.lastReq.BlockedAuthors) != 1 || feed.lastReq.BlockedAuthors[0] != "u3" {
		t.Errorf("blocked = %v, want [u3]", feed.lastReq.BlockedAuthors)
	}
}

func TestUpstreamFailureMapsTo500(t *testing.T) {
	feed := &fakeFeedService{err: domain.ErrUpstreamQuery}
	handler := newTestServer(t, feed, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/feed/explore", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Message != "failed to fetch content" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	feed := &fakeFeedService{err: domain.ErrNotFound}
	handler := newTestServer(t, feed, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/profiles/ghost/feed", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRefreshRequiresAuthentication(t *testing.T) {
	handler := newTestServer(t, &fakeFeedService{page: emptyPage()}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/feed/refresh", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous refresh: status = %d, want 401", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, &fakeFeedService{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id should be set on every response")
	}
}
