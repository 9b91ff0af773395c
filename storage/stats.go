package storage

import (
	"encoding/json"
	"time"
)

// Stats is the aggregate snapshot backing the admin stats
// endpoint. OnlineUsers is not computed here: it comes from
// realtime/registry, the in-memory component, not from durable storage.
type Stats struct {
	Users           int
	ActiveUsers     int
	PendingMessages int
	Files           int
	TotalFileBytes  int64
}

// Stats walks every user, pending-message, and file row to compute a
// point-in-time snapshot. It is O(n) in the total row count; fine for an
// admin-only, infrequently-polled endpoint.
func (s *Store) Stats() (Stats, error) {
	var out Stats

	if err := s.iteratePrefix(prefixAllUsers(), func(_, value []byte) error {
		var u User
		if err := json.Unmarshal(value, &u); err != nil {
			return err
		}
		out.Users++
		if u.IsActive {
			out.ActiveUsers++
		}
		return nil
	}); err != nil {
		return Stats{}, err
	}

	now := time.Now().UTC()
	if err := s.iteratePrefix(prefixAllPendingByID(), func(_, _ []byte) error {
		out.PendingMessages++
		return nil
	}); err != nil {
		return Stats{}, err
	}

	if err := s.iteratePrefix(prefixAllFiles(), func(_, value []byte) error {
		var rec FileRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if now.After(rec.ExpiresAt) {
			return nil
		}
		out.Files++
		out.TotalFileBytes += rec.FileSize
		return nil
	}); err != nil {
		return Stats{}, err
	}

	return out, nil
}
