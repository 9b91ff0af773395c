package http

import (
	"errors"
	"net/http"

	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

func (d Deps) handleGetMe(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	user, err := d.Store.GetUser(auth.UserID)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load user", err))
		return
	}
	writeJSON(w, http.StatusOK, profileFromUser(user))
}

func (d Deps) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	user, err := d.Store.GetUser(userID)
	if errors.Is(err, storage.ErrUserNotFound) || (err == nil && !user.IsActive) {
		writeError(w, relayerr.New(relayerr.CodeNotFound, "user not found"))
		return
	}
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load user", err))
		return
	}
	writeJSON(w, http.StatusOK, profileFromUser(user))
}

type profileUpdateRequest struct {
	DisplayName  *string `json:"display_name"`
	AvatarFileID *string `json:"avatar_file_id"`
	PublicKey    *string `json:"public_key"`
}

func (d Deps) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "malformed request body"))
		return
	}
	user, err := d.Store.UpdateUserProfile(auth.UserID, storage.ProfileUpdate{
		DisplayName:  req.DisplayName,
		AvatarFileID: req.AvatarFileID,
		PublicKey:    req.PublicKey,
	})
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to update profile", err))
		return
	}
	writeJSON(w, http.StatusOK, profileFromUser(user))
}

func (d Deps) handleListDevices(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	devices, err := d.Store.ListDevicesByUser(auth.UserID)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to list devices", err))
		return
	}
	if devices == nil {
		devices = []storage.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (d Deps) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	deviceID := r.PathValue("id")
	if deviceID == auth.DeviceID {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "cannot delete the device currently in use"))
		return
	}
	device, err := d.Store.GetDevice(deviceID)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		writeError(w, relayerr.New(relayerr.CodeNotFound, "device not found"))
		return
	}
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load device", err))
		return
	}
	if device.UserID != auth.UserID {
		writeError(w, relayerr.New(relayerr.CodeForbidden, "device belongs to another user"))
		return
	}
	if err := d.Store.DeleteDevice(deviceID); err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to delete device", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
