package storage

import "encoding/binary"

// Key namespaces. A leading tag byte separates entity types so range scans
// over one entity never cross into another.
const (
	tagUser          byte = 'u'
	tagDevice        byte = 'd'
	tagDeviceByUser  byte = 'D' // D:<user_id>\x00<device_id> -> nil, index for ListDevices/cascade.
	tagSession       byte = 's'
	tagSessionByUser byte = 'S' // S:<user_id>\x00<token_hash> -> nil, index for InvalidateAllUserSessions.
	tagSessionByDev  byte = 'v' // v:<device_id>\x00<token_hash> -> nil, index for cascade on device delete.
	tagPending       byte = 'p' // p:<recipient_id>\x00<created_at big-endian>\x00<message_id> -> JSON, ordered by time.
	tagPendingByID   byte = 'P' // P:<message_id> -> pending key, for ack-by-id and duplicate detection.
	tagFile          byte = 'f'
)

const sep = 0x00

func keyUser(userID string) []byte { return append([]byte{tagUser}, userID...) }

func keyDevice(deviceID string) []byte { return append([]byte{tagDevice}, deviceID...) }

func keyDeviceByUser(userID, deviceID string) []byte {
	k := []byte{tagDeviceByUser}
	k = append(k, userID...)
	k = append(k, sep)
	k = append(k, deviceID...)
	return k
}

func prefixDeviceByUser(userID string) []byte {
	k := []byte{tagDeviceByUser}
	k = append(k, userID...)
	k = append(k, sep)
	return k
}

func keySession(tokenHash string) []byte { return append([]byte{tagSession}, tokenHash...) }

func keySessionByUser(userID, tokenHash string) []byte {
	k := []byte{tagSessionByUser}
	k = append(k, userID...)
	k = append(k, sep)
	k = append(k, tokenHash...)
	return k
}

func prefixSessionByUser(userID string) []byte {
	k := []byte{tagSessionByUser}
	k = append(k, userID...)
	k = append(k, sep)
	return k
}

func keySessionByDevice(deviceID, tokenHash string) []byte {
	k := []byte{tagSessionByDev}
	k = append(k, deviceID...)
	k = append(k, sep)
	k = append(k, tokenHash...)
	return k
}

func prefixSessionByDevice(deviceID string) []byte {
	k := []byte{tagSessionByDev}
	k = append(k, deviceID...)
	k = append(k, sep)
	return k
}

// keyPending encodes (recipient_id, created_at, message_id) so a prefix scan
// over the recipient yields rows ordered by created_at ASC.
func keyPending(recipientID string, createdAtUnixNano int64, messageID string) []byte {
	k := []byte{tagPending}
	k = append(k, recipientID...)
	k = append(k, sep)
	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(createdAtUnixNano))
	k = append(k, tbuf[:]...)
	k = append(k, sep)
	k = append(k, messageID...)
	return k
}

func prefixPendingByRecipient(recipientID string) []byte {
	k := []byte{tagPending}
	k = append(k, recipientID...)
	k = append(k, sep)
	return k
}

func keyPendingByID(messageID string) []byte { return append([]byte{tagPendingByID}, messageID...) }

func keyFile(fileID string) []byte { return append([]byte{tagFile}, fileID...) }

func prefixAllUsers() []byte { return []byte{tagUser} }

func prefixAllSessions() []byte { return []byte{tagSession} }

func prefixAllPendingByID() []byte { return []byte{tagPendingByID} }

func prefixAllFiles() []byte { return []byte{tagFile} }
