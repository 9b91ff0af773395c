package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/privmsg/relay/crypto/primitives"
)

// CredentialStore errors.
var (
	ErrUserAlreadyExists = errors.New("storage: user already exists")
	ErrUserNotFound      = errors.New("storage: user not found")
	ErrDeviceNotFound    = errors.New("storage: device not found")
	ErrSessionNotFound   = errors.New("storage: session not found or expired")
)

// CreateUser inserts a new, active user. It fails with ErrUserAlreadyExists
// on a duplicate id.
func (s *Store) CreateUser(userID, keyHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyUser(userID)
	var existing User
	found, err := s.getJSON(key, &existing)
	if err != nil {
		return User{}, err
	}
	if found {
		return User{}, ErrUserAlreadyExists
	}
	u := User{
		UserID:    userID,
		KeyHash:   keyHash,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.setJSON(key, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser returns the user row regardless of active status (callers that
// must check IsActive themselves to return 404 for inactive accounts.
func (s *Store) GetUser(userID string) (User, error) {
	var u User
	found, err := s.getJSON(keyUser(userID), &u)
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// VerifyUserCredentials returns true iff the user exists, is active, and
// access_key verifies against the stored key_hash.
func (s *Store) VerifyUserCredentials(userID, accessKey string) (bool, error) {
	u, err := s.GetUser(userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.IsActive {
		return false, nil
	}
	return primitives.VerifyAccessKey(accessKey, u.KeyHash), nil
}

// ProfileUpdate carries the COALESCE-style optional fields for
// UpdateUserProfile: a nil pointer leaves the corresponding column alone.
type ProfileUpdate struct {
	DisplayName  *string
	AvatarFileID *string
	PublicKey    *string
}

// UpdateUserProfile applies only the provided fields.
func (s *Store) UpdateUserProfile(userID string, upd ProfileUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.GetUser(userID)
	if err != nil {
		return User{}, err
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.AvatarFileID != nil {
		u.AvatarFileID = *upd.AvatarFileID
	}
	if upd.PublicKey != nil {
		u.PublicKey = *upd.PublicKey
	}
	if err := s.setJSON(keyUser(userID), &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdateUserLastSeen stamps the user's last_seen_at to now.
func (s *Store) UpdateUserLastSeen(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.GetUser(userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	u.LastSeenAt = &now
	return s.setJSON(keyUser(userID), &u)
}

// DeactivateUser sets is_active = false without deleting the row.
func (s *Store) DeactivateUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.GetUser(userID)
	if err != nil {
		return err
	}
	u.IsActive = false
	return s.setJSON(keyUser(userID), &u)
}

// DeleteUser removes the user and cascades to their devices and sessions.
func (s *Store) DeleteUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetUser(userID); err != nil {
		return err
	}

	var deviceIDs []string
	if err := s.iteratePrefix(prefixDeviceByUser(userID), func(key, _ []byte) error {
		deviceIDs = append(deviceIDs, deviceIDFromIndexKey(userID, key))
		return nil
	}); err != nil {
		return err
	}
	for _, deviceID := range deviceIDs {
		if err := s.deleteDeviceLocked(userID, deviceID); err != nil {
			return err
		}
	}

	var tokenHashes []string
	if err := s.iteratePrefix(prefixSessionByUser(userID), func(key, _ []byte) error {
		tokenHashes = append(tokenHashes, tokenHashFromUserIndexKey(userID, key))
		return nil
	}); err != nil {
		return err
	}
	for _, th := range tokenHashes {
		if err := s.delete(keySession(th)); err != nil {
			return err
		}
		if err := s.delete(keySessionByUser(userID, th)); err != nil {
			return err
		}
	}

	return s.delete(keyUser(userID))
}

func deviceIDFromIndexKey(userID string, key []byte) string {
	prefix := prefixDeviceByUser(userID)
	return string(key[len(prefix):])
}

func tokenHashFromUserIndexKey(userID string, key []byte) string {
	prefix := prefixSessionByUser(userID)
	return string(key[len(prefix):])
}

func tokenHashFromDeviceIndexKey(deviceID string, key []byte) string {
	prefix := prefixSessionByDevice(deviceID)
	return string(key[len(prefix):])
}

// CreateDevice inserts a new device for userID and returns its generated id.
func (s *Store) CreateDevice(userID, deviceID, name, deviceType, pubKey string) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Device{
		DeviceID:     deviceID,
		UserID:       userID,
		DeviceName:   name,
		DeviceType:   deviceType,
		PublicKey:    pubKey,
		CreatedAt:    time.Now().UTC(),
		LastActiveAt: time.Now().UTC(),
	}
	if err := s.setJSON(keyDevice(deviceID), &d); err != nil {
		return Device{}, err
	}
	if err := s.db.Set(keyDeviceByUser(userID, deviceID), nil, pebble.Sync); err != nil {
		return Device{}, err
	}
	return d, nil
}

// GetDevice returns a device by id.
func (s *Store) GetDevice(deviceID string) (Device, error) {
	var d Device
	found, err := s.getJSON(keyDevice(deviceID), &d)
	if err != nil {
		return Device{}, err
	}
	if !found {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// ListDevicesByUser returns every device belonging to userID.
func (s *Store) ListDevicesByUser(userID string) ([]Device, error) {
	var out []Device
	err := s.iteratePrefix(prefixDeviceByUser(userID), func(key, _ []byte) error {
		deviceID := deviceIDFromIndexKey(userID, key)
		d, err := s.GetDevice(deviceID)
		if errors.Is(err, ErrDeviceNotFound) {
			return nil // index/row drifted; skip rather than fail the whole list
		}
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// TouchDevice updates last_active_at to now.
func (s *Store) TouchDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.GetDevice(deviceID)
	if err != nil {
		return err
	}
	d.LastActiveAt = time.Now().UTC()
	return s.setJSON(keyDevice(deviceID), &d)
}

// DeleteDevice invalidates the device's sessions, then removes it.
func (s *Store) DeleteDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.GetDevice(deviceID)
	if err != nil {
		return err
	}
	return s.deleteDeviceLocked(d.UserID, deviceID)
}

// deleteDeviceLocked assumes s.mu is already held.
func (s *Store) deleteDeviceLocked(userID, deviceID string) error {
	var tokenHashes []string
	if err := s.iteratePrefix(prefixSessionByDevice(deviceID), func(key, _ []byte) error {
		tokenHashes = append(tokenHashes, tokenHashFromDeviceIndexKey(deviceID, key))
		return nil
	}); err != nil {
		return err
	}
	for _, th := range tokenHashes {
		if err := s.delete(keySession(th)); err != nil {
			return err
		}
		if err := s.delete(keySessionByUser(userID, th)); err != nil {
			return err
		}
		if err := s.delete(keySessionByDevice(deviceID, th)); err != nil {
			return err
		}
	}
	if err := s.delete(keyDeviceByUser(userID, deviceID)); err != nil {
		return err
	}
	return s.delete(keyDevice(deviceID))
}

// CreateSession stores hash(token) with an expiry ttlHours from now and
// returns that expiry.
func (s *Store) CreateSession(userID, deviceID, token string, ttl time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenHash := primitives.HashAccessKey(token)
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	sess := Session{
		TokenHash: tokenHash,
		UserID:    userID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		IsValid:   true,
	}
	if err := s.setJSON(keySession(tokenHash), &sess); err != nil {
		return time.Time{}, err
	}
	if err := s.db.Set(keySessionByUser(userID, tokenHash), nil, pebble.Sync); err != nil {
		return time.Time{}, err
	}
	if err := s.db.Set(keySessionByDevice(deviceID, tokenHash), nil, pebble.Sync); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// ValidateSession returns (user_id, device_id) iff token hashes to a row
// that is_valid and not expired.
func (s *Store) ValidateSession(token string) (userID, deviceID string, err error) {
	tokenHash := primitives.HashAccessKey(token)
	var sess Session
	found, err := s.getJSON(keySession(tokenHash), &sess)
	if err != nil {
		return "", "", err
	}
	if !found || !sess.IsValid || !time.Now().UTC().Before(sess.ExpiresAt) {
		return "", "", ErrSessionNotFound
	}
	return sess.UserID, sess.DeviceID, nil
}

// InvalidateSession marks the session for token invalid (logout/refresh).
func (s *Store) InvalidateSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenHash := primitives.HashAccessKey(token)
	var sess Session
	found, err := s.getJSON(keySession(tokenHash), &sess)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	sess.IsValid = false
	return s.setJSON(keySession(tokenHash), &sess)
}

// InvalidateAllUserSessions marks every session belonging to userID invalid.
func (s *Store) InvalidateAllUserSessions(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokenHashes []string
	if err := s.iteratePrefix(prefixSessionByUser(userID), func(key, _ []byte) error {
		tokenHashes = append(tokenHashes, tokenHashFromUserIndexKey(userID, key))
		return nil
	}); err != nil {
		return err
	}
	for _, th := range tokenHashes {
		var sess Session
		found, err := s.getJSON(keySession(th), &sess)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		sess.IsValid = false
		if err := s.setJSON(keySession(th), &sess); err != nil {
			return err
		}
	}
	return nil
}

// ReapSessions deletes sessions that are expired (expires_at at or before
// now) or already invalid. Returns the count deleted.
func (s *Store) ReapSessions(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []Session
	if err := s.iteratePrefix(prefixAllSessions(), func(_, value []byte) error {
		var sess Session
		if err := json.Unmarshal(value, &sess); err != nil {
			return err
		}
		if !sess.IsValid || !now.Before(sess.ExpiresAt) {
			toDelete = append(toDelete, sess)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	for _, sess := range toDelete {
		if err := s.delete(keySession(sess.TokenHash)); err != nil {
			return 0, err
		}
		if err := s.delete(keySessionByUser(sess.UserID, sess.TokenHash)); err != nil {
			return 0, err
		}
		if err := s.delete(keySessionByDevice(sess.DeviceID, sess.TokenHash)); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}
