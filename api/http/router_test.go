package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	deps := testDeps(t)
	mux := NewMux(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRequireAuthTouchesLastSeen(t *testing.T) {
	deps := testDeps(t)
	accessKey := createTestUser(t, deps, "alice")
	token, _ := loginTestUser(t, deps, "alice", accessKey)
	mux := NewMux(deps)

	before, err := deps.Store.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if before.LastSeenAt != nil {
		t.Fatal("expected last_seen_at to be unset before any authenticated request")
	}

	rec := doJSON(mux, http.MethodGet, "/api/v1/users/me", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	after, err := deps.Store.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if after.LastSeenAt == nil {
		t.Fatal("expected requireAuth to stamp last_seen_at")
	}
}
