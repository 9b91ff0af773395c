package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/privmsg/relay/api/blobs"
	"github.com/privmsg/relay/config"
	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/realtime/registry"
	"github.com/privmsg/relay/realtime/ws"
	"github.com/privmsg/relay/relay"
	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

// Deps bundles everything a handler needs. One instance is constructed at
// boot and handed to every handler — there are no back-pointers or ambient
// globals.
type Deps struct {
	Store    *storage.Store
	Registry *registry.Registry
	Blobs    *blobs.Store
	Observer observability.RelayObserver
	Logger   *slog.Logger
	Config   config.Config
}

// NewMux builds the relay's full HTTP and WebSocket surface.
func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)

	mux.HandleFunc("POST /api/v1/auth/login", deps.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", deps.handleRefresh)
	mux.Handle("POST /api/v1/auth/logout", deps.requireAuth(deps.handleLogout))

	mux.Handle("GET /api/v1/users/me", deps.requireAuth(deps.handleGetMe))
	mux.Handle("GET /api/v1/users/{user_id}", deps.requireAuth(deps.handleGetUser))
	mux.Handle("POST /api/v1/users/me/profile", deps.requireAuth(deps.handleUpdateProfile))
	mux.Handle("GET /api/v1/users/me/devices", deps.requireAuth(deps.handleListDevices))
	mux.Handle("DELETE /api/v1/users/me/devices/{id}", deps.requireAuth(deps.handleDeleteDevice))

	mux.Handle("GET /api/v1/messages/pending", deps.requireAuth(deps.handleMessagesPending))
	mux.Handle("POST /api/v1/messages/ack", deps.requireAuth(deps.handleMessagesAck))

	mux.Handle("POST /api/v1/files/upload", deps.requireAuth(deps.handleFileUpload))
	mux.Handle("GET /api/v1/files/{id}", deps.requireAuth(deps.handleFileDownload))
	mux.Handle("DELETE /api/v1/files/{id}", deps.requireAuth(deps.handleFileDelete))

	mux.Handle("GET /api/v1/turn/credentials", deps.requireAuth(deps.handleTURNCredentials))

	mux.HandleFunc("POST /api/v1/admin/users", deps.handleAdminCreateUser)
	mux.HandleFunc("DELETE /api/v1/admin/users/{id}", deps.handleAdminDeleteUser)
	mux.HandleFunc("GET /api/v1/admin/stats", deps.handleAdminStats)

	mux.HandleFunc("GET /ws", deps.handleWS)

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type authContextKey struct{}

type authContext struct {
	UserID   string
	DeviceID string
}

// requireAuth validates the Authorization: Bearer <token> header, stamps
// device-activity and user-last-seen timestamps on every authed request,
// and injects the resolved identity into the request context for
// downstream handlers.
func (d Deps) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w)
			return
		}
		userID, deviceID, err := d.Store.ValidateSession(token)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		if err := d.Store.TouchDevice(deviceID); err != nil {
			d.Logger.Error("touch device", "error", err, "device_id", deviceID)
		}
		if err := d.Store.UpdateUserLastSeen(userID); err != nil {
			d.Logger.Error("update last seen", "error", err, "user_id", userID)
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authContext{UserID: userID, DeviceID: deviceID})
		next(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func authFromContext(r *http.Request) authContext {
	a, _ := r.Context().Value(authContextKey{}).(authContext)
	return a
}

func writeUnauthorized(w http.ResponseWriter) {
	relayerr.New(relayerr.CodeUnauthorized, "missing or invalid bearer token").WriteJSON(w)
}

// upgraderOriginChecker builds the CheckOrigin func for ws.Upgrade from
// the configured allowed origins.
func (d Deps) upgraderOriginChecker() func(r *http.Request) bool {
	return ws.NewOriginChecker(d.Config.AllowedOrigins, d.Config.AllowNoOrigin)
}

// sessionConfig derives a relay.Config from the server config.
func (d Deps) sessionConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.MaxMessageAge = d.Config.MaxMessageAge()
	return cfg
}
