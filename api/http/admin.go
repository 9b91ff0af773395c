package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/relay"
	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

// checkAdminKey reports whether key equals the configured master key, using
// a constant-time comparison so response timing can't leak the key.
func (d Deps) checkAdminKey(key string) bool {
	if d.Config.AdminMasterKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(d.Config.AdminMasterKey)) == 1
}

type adminCreateUserRequest struct {
	AdminKey string `json:"admin_key"`
	UserID   string `json:"user_id"`
}

type adminCreateUserResponse struct {
	UserID    string `json:"user_id"`
	AccessKey string `json:"access_key"`
}

func (d Deps) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req adminCreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "malformed request body"))
		return
	}
	if !d.checkAdminKey(req.AdminKey) {
		writeError(w, relayerr.New(relayerr.CodeUnauthorized, "invalid admin_key"))
		return
	}

	userID := req.UserID
	if userID == "" {
		id, err := primitives.GenerateUserID()
		if err != nil {
			writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate user id", err))
			return
		}
		userID = id
	}
	accessKey, err := primitives.GenerateAccessKey()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate access key", err))
		return
	}
	if _, err := d.Store.CreateUser(userID, primitives.HashAccessKey(accessKey)); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			writeError(w, relayerr.New(relayerr.CodeUserAlreadyExists, "user_id already exists"))
			return
		}
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to create user", err))
		return
	}

	writeJSON(w, http.StatusOK, adminCreateUserResponse{UserID: userID, AccessKey: accessKey})
}

type adminKeyOnlyRequest struct {
	AdminKey string `json:"admin_key"`
}

func (d Deps) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req adminKeyOnlyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "malformed request body"))
		return
	}
	if !d.checkAdminKey(req.AdminKey) {
		writeError(w, relayerr.New(relayerr.CodeUnauthorized, "invalid admin_key"))
		return
	}

	userID := r.PathValue("id")
	if err := d.Store.DeleteUser(userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, relayerr.New(relayerr.CodeNotFound, "user not found"))
			return
		}
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to delete user", err))
		return
	}

	frame, err := json.Marshal(struct {
		Type    string             `json:"type"`
		Payload relay.ErrorPayload `json:"payload"`
	}{Type: "error", Payload: relay.ErrorPayload{Code: string(relayerr.CodeAccountDeleted), Message: "account deleted"}})
	if err == nil {
		d.Registry.SendToUser(userID, frame)
	}
	d.Registry.CloseUser(userID)

	w.WriteHeader(http.StatusNoContent)
}

type adminStatsResponse struct {
	Users           int     `json:"users"`
	ActiveUsers     int     `json:"active_users"`
	OnlineUsers     int     `json:"online_users"`
	PendingMessages int     `json:"pending_messages"`
	Files           int     `json:"files"`
	TotalMB         float64 `json:"total_mb"`
}

func (d Deps) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	adminKey := r.URL.Query().Get("admin_key")
	if adminKey == "" {
		var req adminKeyOnlyRequest
		_ = decodeJSON(r, &req)
		adminKey = req.AdminKey
	}
	if !d.checkAdminKey(adminKey) {
		writeError(w, relayerr.New(relayerr.CodeUnauthorized, "invalid admin_key"))
		return
	}

	stats, err := d.Store.Stats()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to compute stats", err))
		return
	}

	writeJSON(w, http.StatusOK, adminStatsResponse{
		Users:           stats.Users,
		ActiveUsers:     stats.ActiveUsers,
		OnlineUsers:     d.Registry.OnlineUserCount(),
		PendingMessages: stats.PendingMessages,
		Files:           stats.Files,
		TotalMB:         float64(stats.TotalFileBytes) / (1 << 20),
	})
}
