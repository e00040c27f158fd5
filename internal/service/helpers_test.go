package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/provider"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]*domain.AuthorizationState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]*domain.AuthorizationState)}
}

func (m *memoryStateStore) Save(_ context.Context, state *domain.AuthorizationState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.states[state.Nonce] = &copied
	return nil
}

func (m *memoryStateStore) Consume(_ context.Context, nonce string) (*domain.AuthorizationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[nonce]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(m.states, nonce)
	return state, nil
}

// flakyRepository fails writes while failWrites is set
type flakyRepository struct {
	repository.ConnectionRepository
	failWrites atomic.Bool
}

func (r *flakyRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	if r.failWrites.Load() {
		return errors.New("connection refused")
	}
	return r.ConnectionRepository.Upsert(ctx, conn)
}

// fakeProvider is an OAuth token endpoint with observable behaviour
type fakeProvider struct {
	server *httptest.Server

	mu            sync.Mutex
	redeemed      map[string]bool
	lastVerifier  string
	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	refreshDelay  time.Duration
	revoked       atomic.Bool
	unavailable   atomic.Bool
	rotateRefresh atomic.Bool
}

func newFakeProvider() *fakeProvider {
	f := &fakeProvider{redeemed: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token(true))
	mux.HandleFunc("/legacy/token", f.token(false))
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"emailAddress":"owner@example.com"}`))
	})
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeProvider) Close() {
	f.server.Close()
}

func (f *fakeProvider) token(issueRefresh bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := map[string]string{}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			_ = json.NewDecoder(r.Body).Decode(&params)
		} else {
			_ = r.ParseForm()
			for k := range r.PostForm {
				params[k] = r.PostForm.Get(k)
			}
		}

		switch params["grant_type"] {
		case "authorization_code":
			f.exchangeCalls.Add(1)
			f.mu.Lock()
			used := f.redeemed[params["code"]]
			f.redeemed[params["code"]] = true
			f.lastVerifier = params["code_verifier"]
			f.mu.Unlock()

			if used {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Authorization code has already been used"}`))
				return
			}

			resp := map[string]any{
				"access_token": "AT1",
				"expires_in":   3600,
				"token_type":   "Bearer",
				"merchant_id":  "ML-REMOTE",
			}
			if issueRefresh {
				resp["refresh_token"] = "RT1"
			}
			_ = json.NewEncoder(w).Encode(resp)

		case "refresh_token":
			f.refreshCalls.Add(1)
			if f.refreshDelay > 0 {
				time.Sleep(f.refreshDelay)
			}
			if f.unavailable.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`upstream unavailable`))
				return
			}
			if f.revoked.Load() {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
				return
			}

			resp := map[string]any{
				"access_token": "AT2",
				"expires_in":   3600,
			}
			if f.rotateRefresh.Load() {
				resp["refresh_token"] = "RT2"
			}
			_ = json.NewEncoder(w).Encode(resp)

		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	}
}

func (f *fakeProvider) definitions() []provider.Definition {
	base := f.server.URL
	return []provider.Definition{
		{
			Name:            "square",
			AuthURL:         base + "/authorize",
			TokenURL:        base + "/token",
			AuthStyle:       provider.AuthStyleJSON,
			SupportsRefresh: true,
			TokenMetadata:   map[string]string{domain.MetadataRemoteMerchantID: "merchant_id"},
		},
		{
			Name:            "gmail",
			AuthURL:         base + "/authorize",
			TokenURL:        base + "/token",
			ProfileURL:      base + "/profile",
			AuthParams:      map[string]string{"access_type": "offline", "prompt": "consent"},
			SupportsRefresh: true,
			ProfileMetadata: map[string]string{domain.MetadataAccountEmail: "emailAddress"},
		},
		{
			Name:            "outlook",
			AuthURL:         base + "/authorize",
			TokenURL:        base + "/token",
			SupportsRefresh: true,
			PKCE:            true,
		},
		{
			Name:            "legacy",
			AuthURL:         base + "/authorize",
			TokenURL:        base + "/legacy/token",
			SupportsRefresh: true,
		},
		{
			Name:     "norefresh",
			AuthURL:  base + "/authorize",
			TokenURL: base + "/token",
		},
		{
			Name:     "unconfigured",
			AuthURL:  base + "/authorize",
			TokenURL: base + "/token",
		},
	}
}

func testCredentials() map[string]config.ProviderCredentials {
	creds := map[string]config.ProviderCredentials{}
	for _, name := range []string{"square", "gmail", "outlook", "legacy", "norefresh"} {
		creds[name] = config.ProviderCredentials{ClientID: name + "-client", ClientSecret: name + "-secret"}
	}
	return creds
}
