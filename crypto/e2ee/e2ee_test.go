package e2ee

import (
	"errors"
	"testing"
)

func newEstablishedPair(t *testing.T) (a, b *Manager) {
	t.Helper()
	a, b = NewManager(), NewManager()
	if err := a.GenerateIdentity(); err != nil {
		t.Fatalf("a.GenerateIdentity: %v", err)
	}
	if err := b.GenerateIdentity(); err != nil {
		t.Fatalf("b.GenerateIdentity: %v", err)
	}
	aPub, err := a.PublicKey()
	if err != nil {
		t.Fatalf("a.PublicKey: %v", err)
	}
	bPub, err := b.PublicKey()
	if err != nil {
		t.Fatalf("b.PublicKey: %v", err)
	}
	if err := a.EstablishSession("b", bPub); err != nil {
		t.Fatalf("a.EstablishSession: %v", err)
	}
	if err := b.EstablishSession("a", aPub); err != nil {
		t.Fatalf("b.EstablishSession: %v", err)
	}
	return a, b
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	a, b := newEstablishedPair(t)

	frame, err := a.EncryptFor("b", []byte("hello from a"))
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	got, err := b.DecryptFrom("a", frame)
	if err != nil {
		t.Fatalf("DecryptFrom: %v", err)
	}
	if got != "hello from a" {
		t.Fatalf("got %q", got)
	}
}

func TestTamperedFrameFailsDecrypt(t *testing.T) {
	a, b := newEstablishedPair(t)

	frame, err := a.EncryptFor("b", []byte("message"))
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	tampered := []byte(frame)
	// Flip a bit well inside the frame (past the base64url alphabet-safe leading bytes).
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	if _, err := b.DecryptFrom("a", string(tampered)); err == nil {
		t.Fatalf("expected decrypt failure for tampered frame")
	}
}

func TestEncryptRequiresSession(t *testing.T) {
	m := NewManager()
	if err := m.GenerateIdentity(); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if _, err := m.EncryptFor("nobody", []byte("x")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
}

func TestPublicKeyRequiresIdentity(t *testing.T) {
	m := NewManager()
	if _, err := m.PublicKey(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("got %v, want ErrNoIdentity", err)
	}
}

func TestImportIdentityRejectsBadLength(t *testing.T) {
	m := NewManager()
	if err := m.ImportIdentity("dG9vc2hvcnQ"); !errors.Is(err, ErrBadKeyLength) {
		t.Fatalf("got %v, want ErrBadKeyLength", err)
	}
}

func TestFileEncryptDecryptRoundtrip(t *testing.T) {
	key, err := GenerateFileKey()
	if err != nil {
		t.Fatalf("GenerateFileKey: %v", err)
	}
	data := []byte("file contents, arbitrary bytes \x00\x01\x02")

	ciphertext, err := EncryptFile(data, key)
	if err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if len(ciphertext) != len(data)+nonceSize+tagSize {
		t.Fatalf("got ciphertext len %d, want %d", len(ciphertext), len(data)+nonceSize+tagSize)
	}

	plain, err := DecryptFile(ciphertext, key)
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	if string(plain) != string(data) {
		t.Fatalf("roundtrip mismatch")
	}

	otherKey, err := GenerateFileKey()
	if err != nil {
		t.Fatalf("GenerateFileKey: %v", err)
	}
	if _, err := DecryptFile(ciphertext, otherKey); err == nil {
		t.Fatalf("expected failure decrypting with wrong key")
	}
}

func TestIdentityExportImportRoundtrip(t *testing.T) {
	m := NewManager()
	if err := m.GenerateIdentity(); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	exported, err := m.ExportIdentity()
	if err != nil {
		t.Fatalf("ExportIdentity: %v", err)
	}
	m2 := NewManager()
	if err := m2.ImportIdentity(exported); err != nil {
		t.Fatalf("ImportIdentity: %v", err)
	}
	pub1, _ := m.PublicKey()
	pub2, _ := m2.PublicKey()
	if pub1 != pub2 {
		t.Fatalf("expected identical public keys after import")
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	a, b := newEstablishedPair(t)
	frame, err := a.EncryptFor("b", []byte{0xff, 0xfe, 0xfd})
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	if _, err := b.DecryptFrom("a", frame); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("got %v, want ErrInvalidUTF8", err)
	}
}
