package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

// sessionTTL bounds how long an issued bearer token is valid for.
const sessionTTL = 30 * 24 * time.Hour

type loginRequest struct {
	UserID          string `json:"user_id"`
	AccessKey       string `json:"access_key"`
	DeviceName      string `json:"device_name"`
	DeviceType      string `json:"device_type"`
	DevicePublicKey string `json:"device_public_key"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	DeviceID  string      `json:"device_id"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserProfile `json:"user"`
}

func (d Deps) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.AccessKey == "" {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "user_id and access_key are required"))
		return
	}

	ok, err := d.Store.VerifyUserCredentials(req.UserID, req.AccessKey)
	if err != nil {
		d.Logger.Error("verify credentials", "error", err, "user_id", req.UserID)
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to verify credentials", err))
		return
	}
	if !ok {
		writeError(w, relayerr.New(relayerr.CodeInvalidCredentials, "invalid user_id or access_key"))
		return
	}

	deviceID, err := primitives.GenerateDeviceID()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate device id", err))
		return
	}
	if _, err := d.Store.CreateDevice(req.UserID, deviceID, req.DeviceName, req.DeviceType, req.DevicePublicKey); err != nil {
		d.Logger.Error("create device", "error", err, "user_id", req.UserID)
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to create device", err))
		return
	}

	token, err := primitives.GenerateSessionToken()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate session token", err))
		return
	}
	expiresAt, err := d.Store.CreateSession(req.UserID, deviceID, token, sessionTTL)
	if err != nil {
		d.Logger.Error("create session", "error", err, "user_id", req.UserID)
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to create session", err))
		return
	}

	user, err := d.Store.GetUser(req.UserID)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load user", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		DeviceID:  deviceID,
		ExpiresAt: expiresAt,
		User:      profileFromUser(user),
	})
}

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (d Deps) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "token is required"))
		return
	}

	userID, deviceID, err := d.Store.ValidateSession(req.Token)
	if err != nil {
		writeError(w, relayerr.New(relayerr.CodeUnauthorized, "invalid or expired token"))
		return
	}

	newToken, err := primitives.GenerateSessionToken()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate session token", err))
		return
	}
	expiresAt, err := d.Store.CreateSession(userID, deviceID, newToken, sessionTTL)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to rotate session", err))
		return
	}
	if err := d.Store.InvalidateSession(req.Token); err != nil {
		d.Logger.Error("invalidate old session on refresh", "error", err, "user_id", userID)
	}

	writeJSON(w, http.StatusOK, refreshResponse{Token: newToken, ExpiresAt: expiresAt})
}

func (d Deps) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if ok {
		if err := d.Store.InvalidateSession(token); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
			d.Logger.Error("invalidate session on logout", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
