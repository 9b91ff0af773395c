// Package e2ee implements the client-side end-to-end encryption session
// manager: one static X25519 identity keypair per client, static
// Diffie-Hellman key agreement per peer, and AES-256-GCM framed authenticated
// encryption of message bodies and file blobs.
//
// The relay server never imports this package: it treats every ciphertext
// frame as opaque bytes and never decrypts payloads.
package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/privmsg/relay/internal/base64url"
)

// Distinct failure kinds returned by this package's operations.
var (
	ErrNoIdentity    = errors.New("e2ee: no identity")
	ErrBadKeyLength  = errors.New("e2ee: bad key length")
	ErrNoSession     = errors.New("e2ee: no session established")
	ErrEncryptFailed = errors.New("e2ee: encrypt failed")
	ErrDecryptFailed = errors.New("e2ee: decrypt failed")
	ErrInvalidUTF8   = errors.New("e2ee: invalid utf8")
	ErrInvalidBase64 = errors.New("e2ee: invalid base64")
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// peerSession is a derived symmetric key bound to (local identity, peer
// identity), lost at process exit unless persisted separately (persistence
// is out of this package's scope).
type peerSession struct {
	sharedSecret [keySize]byte
	createdAt    time.Time
}

// Manager is the client-side E2EE session manager. Construct it with
// NewManager, then install an identity with GenerateIdentity or
// ImportIdentity.
type Manager struct {
	mu       sync.RWMutex
	identity *ecdh.PrivateKey
	sessions map[string]*peerSession // peer_id -> session
}

// NewManager returns a Manager with no identity yet; call GenerateIdentity or
// ImportIdentity before establishing sessions.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*peerSession)}
}

// GenerateIdentity draws a fresh X25519 static keypair from the CSPRNG.
func (m *Manager) GenerateIdentity() error {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("e2ee: generate identity: %w", err)
	}
	m.mu.Lock()
	m.identity = priv
	m.mu.Unlock()
	return nil
}

// ImportIdentity loads a static identity secret from a base64url string. The
// decoded length must be exactly 32 bytes.
func (m *Manager) ImportIdentity(b64 string) error {
	raw, err := base64url.Decode(b64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) != keySize {
		return ErrBadKeyLength
	}
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKeyLength, err)
	}
	m.mu.Lock()
	m.identity = priv
	m.mu.Unlock()
	return nil
}

// ExportIdentity returns the current identity secret as base64url.
func (m *Manager) ExportIdentity() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return "", ErrNoIdentity
	}
	return base64url.Encode(m.identity.Bytes()), nil
}

// PublicKey returns the current identity's public key, base64url-encoded.
func (m *Manager) PublicKey() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return "", ErrNoIdentity
	}
	return base64url.Encode(m.identity.PublicKey().Bytes()), nil
}

// EstablishSession performs static X25519 key agreement with peerPubB64 and
// derives session_key = SHA256(shared), replacing any prior session for
// peerID.
func (m *Manager) EstablishSession(peerID string, peerPubB64 string) error {
	peerRaw, err := base64url.Decode(peerPubB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(peerRaw) != keySize {
		return ErrBadKeyLength
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ErrNoIdentity
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKeyLength, err)
	}
	shared, err := m.identity.ECDH(peerPub)
	if err != nil {
		return fmt.Errorf("e2ee: ecdh: %w", err)
	}
	sessionKey := sha256.Sum256(shared)

	if m.sessions == nil {
		m.sessions = make(map[string]*peerSession)
	}
	m.sessions[peerID] = &peerSession{sharedSecret: sessionKey, createdAt: time.Now()}
	return nil
}

// HasSession reports whether a session is established for peerID.
func (m *Manager) HasSession(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[peerID]
	return ok
}

func (m *Manager) sessionKey(peerID string) ([keySize]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peerID]
	if !ok {
		return [keySize]byte{}, ErrNoSession
	}
	return s.sharedSecret, nil
}

// EncryptFor encrypts plaintext for peerID under the established session key.
// Frame shape: nonce(12) || AES-256-GCM(plaintext), base64url-encoded.
func (m *Manager) EncryptFor(peerID string, plaintext []byte) (string, error) {
	key, err := m.sessionKey(peerID)
	if err != nil {
		return "", err
	}
	frame, err := seal(key, plaintext)
	if err != nil {
		return "", err
	}
	return base64url.Encode(frame), nil
}

// DecryptFrom decrypts a base64url frame produced by EncryptFor and returns
// the plaintext as a UTF-8 string.
func (m *Manager) DecryptFrom(peerID string, frameB64 string) (string, error) {
	key, err := m.sessionKey(peerID)
	if err != nil {
		return "", err
	}
	frame, err := base64url.Decode(frameB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	plaintext, err := open(key, frame)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", ErrInvalidUTF8
	}
	return string(plaintext), nil
}

// GenerateFileKey returns a fresh 32-byte per-file key, base64url-encoded.
func GenerateFileKey() (string, error) {
	buf := make([]byte, keySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("e2ee: generate file key: %w", err)
	}
	return base64url.Encode(buf), nil
}

// EncryptFile encrypts a file blob under keyB64, using the same nonce ||
// ciphertext+tag framing as EncryptFor.
func EncryptFile(plaintext []byte, keyB64 string) ([]byte, error) {
	key, err := decodeKey(keyB64)
	if err != nil {
		return nil, err
	}
	return seal(key, plaintext)
}

// DecryptFile decrypts a file blob produced by EncryptFile.
func DecryptFile(ciphertext []byte, keyB64 string) ([]byte, error) {
	key, err := decodeKey(keyB64)
	if err != nil {
		return nil, err
	}
	return open(key, ciphertext)
}

// Hash returns the hex-encoded SHA-256 digest of bytes (used to compute
// encryption_key_hash for file uploads without exposing the key itself).
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func decodeKey(keyB64 string) ([keySize]byte, error) {
	var out [keySize]byte
	raw, err := base64url.Decode(keyB64)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) != keySize {
		return out, ErrBadKeyLength
	}
	copy(out[:], raw)
	return out, nil
}

func newAEAD(key [keySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if aead.NonceSize() != nonceSize {
		return nil, fmt.Errorf("e2ee: unexpected gcm nonce size %d", aead.NonceSize())
	}
	return aead, nil
}

func seal(key [keySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, nonceSize+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func open(key [keySize]byte, frame []byte) ([]byte, error) {
	if len(frame) < nonceSize+tagSize {
		return nil, ErrDecryptFailed
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	nonce, ciphertext := frame[:nonceSize], frame[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
