package storage

import (
	"encoding/json"
	"time"
)

// StorePending upserts a pending envelope: a repeated message_id for the same
// recipient replaces the prior row's content in place rather than appending
// a second one, treating a duplicate id as a redelivery retry rather than a
// second message. The original created_at is kept so the row's position in
// the created_at-ASC ordering does not change; expires_at is refreshed to
// env's.
func (s *Store) StorePending(env PendingEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idKey := keyPendingByID(env.MessageID)
	var prevPendingKey []byte
	found, err := s.getJSON(idKey, &prevPendingKey)
	if err != nil {
		return err
	}
	if found {
		var prev PendingEnvelope
		prevFound, err := s.getJSON(prevPendingKey, &prev)
		if err != nil {
			return err
		}
		if prevFound {
			env.CreatedAt = prev.CreatedAt
		}
		if err := s.delete(prevPendingKey); err != nil {
			return err
		}
	}

	pendingKey := keyPending(env.RecipientID, env.CreatedAt.UnixNano(), env.MessageID)
	if err := s.setJSON(pendingKey, &env); err != nil {
		return err
	}
	return s.setJSON(idKey, pendingKey)
}

// GetPending returns every non-expired envelope queued for recipientID,
// ordered by created_at ascending. If deviceID is non-empty,
// only envelopes addressed to that device, or to no particular device, are
// returned.
func (s *Store) GetPending(recipientID, deviceID string) ([]PendingEnvelope, error) {
	now := time.Now().UTC()
	var out []PendingEnvelope
	err := s.iteratePrefix(prefixPendingByRecipient(recipientID), func(_, value []byte) error {
		var env PendingEnvelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if now.After(env.ExpiresAt) {
			return nil
		}
		if deviceID != "" && env.RecipientDeviceID != "" && env.RecipientDeviceID != deviceID {
			return nil
		}
		out = append(out, env)
		return nil
	})
	return out, err
}

// DeletePending removes the named envelopes (acknowledged by the recipient).
// Unknown ids are silently ignored.
func (s *Store) DeletePending(messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageIDs {
		idKey := keyPendingByID(id)
		var pendingKey []byte
		found, err := s.getJSON(idKey, &pendingKey)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := s.delete(pendingKey); err != nil {
			return err
		}
		if err := s.delete(idKey); err != nil {
			return err
		}
	}
	return nil
}

// ReapExpiredPending deletes every pending envelope whose expires_at has
// passed. Returns the count deleted.
func (s *Store) ReapExpiredPending(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type victim struct {
		pendingKey []byte
		messageID  string
	}
	var victims []victim
	if err := s.iteratePrefix(prefixAllPendingByID(), func(key, value []byte) error {
		var pendingKey []byte
		if err := json.Unmarshal(value, &pendingKey); err != nil {
			return err
		}
		var env PendingEnvelope
		found, err := s.getJSON(pendingKey, &env)
		if err != nil {
			return err
		}
		if !found || now.After(env.ExpiresAt) {
			messageID := key[len(prefixAllPendingByID()):]
			victims = append(victims, victim{pendingKey: pendingKey, messageID: string(messageID)})
		}
		return nil
	}); err != nil {
		return 0, err
	}

	for _, v := range victims {
		if err := s.delete(v.pendingKey); err != nil {
			return 0, err
		}
		if err := s.delete(keyPendingByID(v.messageID)); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}
