package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/privmsg/relay/api/blobs"
	"github.com/privmsg/relay/config"
	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/realtime/registry"
	"github.com/privmsg/relay/storage"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	blobStore, err := blobs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobs.Open: %v", err)
	}

	cfg := config.Default()
	cfg.AdminMasterKey = "test-master-key"
	cfg.AllowNoOrigin = true

	return Deps{
		Store:    store,
		Registry: registry.New(nil),
		Blobs:    blobStore,
		Observer: observability.NoopRelayObserver,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:   cfg,
	}
}

// createTestUser creates a user directly in storage and returns its plaintext
// access key, bypassing the admin HTTP surface so handler tests can focus on
// a single endpoint at a time.
func createTestUser(t *testing.T, deps Deps, userID string) string {
	t.Helper()
	accessKey, err := primitives.GenerateAccessKey()
	if err != nil {
		t.Fatalf("GenerateAccessKey: %v", err)
	}
	if _, err := deps.Store.CreateUser(userID, primitives.HashAccessKey(accessKey)); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return accessKey
}

// loginTestUser drives the real login handler and returns the issued bearer
// token and device id.
func loginTestUser(t *testing.T, deps Deps, userID, accessKey string) (token, deviceID string) {
	t.Helper()
	mux := NewMux(deps)
	body, _ := json.Marshal(loginRequest{
		UserID:     userID,
		AccessKey:  accessKey,
		DeviceName: "test-device",
		DeviceType: "cli",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token, resp.DeviceID
}

func doJSON(mux http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}
