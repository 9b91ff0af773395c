package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

// decodeJSON reads and decodes a JSON request body into v. An empty body is
// treated as an error the caller reports as BAD_REQUEST.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *relayerr.Error) {
	err.WriteJSON(w)
}

// UserProfile is the wire shape returned by every user-facing endpoint.
type UserProfile struct {
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name,omitempty"`
	AvatarFileID string     `json:"avatar_file_id,omitempty"`
	PublicKey    string     `json:"public_key,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	IsActive     bool       `json:"is_active"`
}

func profileFromUser(u storage.User) UserProfile {
	return UserProfile{
		UserID:       u.UserID,
		DisplayName:  u.DisplayName,
		AvatarFileID: u.AvatarFileID,
		PublicKey:    u.PublicKey,
		CreatedAt:    u.CreatedAt,
		LastSeenAt:   u.LastSeenAt,
		IsActive:     u.IsActive,
	}
}
