package cryptobox

import (
	"bytes"
	"testing"
)

func newPair(t *testing.T) (*Manager, *Manager) {
	t.Helper()
	a, err := NewManager()
	if err != nil { t.Fatalf("NewManager a: %v", err) }
	b, err := NewManager()
	if err != nil { t.Fatalf("NewManager b: %v", err) }

	ab, err := a.Bundle()
	if err != nil { t.Fatalf("a.Bundle: %v", err) }
	bb, err := b.Bundle()
	if err != nil { t.Fatalf("b.Bundle: %v", err) }

	if err := a.Import("peer-b", bb); err != nil { t.Fatalf("a.Import: %v", err) }
	if err := b.Import("peer-a", ab); err != nil { t.Fatalf("b.Import: %v", err) }
	return a, b
}

func TestUnilateralConvergence(t *testing.T) {
	a, b := newPair(t)
	if !a.Has("peer-b") || !b.Has("peer-a") {
		t.Fatalf("sessions not established after bundle import")
	}

	env, err := a.Encrypt("peer-b", []byte("e2e4"))
	if err != nil { t.Fatalf("Encrypt: %v", err) }
	if env.Header.Alg != Alg {
		t.Fatalf("envelope alg = %q", env.Header.Alg)
	}
	plain, err := b.Decrypt("peer-a", env)
	if err != nil { t.Fatalf("Decrypt: %v", err) }
	if !bytes.Equal(plain, []byte("e2e4")) {
		t.Fatalf("roundtrip mismatch: %q", plain)
	}

	// And the other direction, independently derived.
	env2, err := b.Encrypt("peer-a", []byte("e7e5"))
	if err != nil { t.Fatalf("Encrypt b: %v", err) }
	plain2, err := a.Decrypt("peer-b", env2)
	if err != nil { t.Fatalf("Decrypt a: %v", err) }
	if string(plain2) != "e7e5" {
		t.Fatalf("roundtrip mismatch: %q", plain2)
	}
}

func TestEncryptWithoutSession(t *testing.T) {
	m, err := NewManager()
	if err != nil { t.Fatalf("NewManager: %v", err) }
	if m.Has("nobody") {
		t.Fatalf("Has reported a session that was never imported")
	}
	if _, err := m.Encrypt("nobody", []byte("x")); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestTamperedCiphertextRejected(t *testing.T) {
	a, b := newPair(t)
	env, err := a.Encrypt("peer-b", []byte("secret"))
	if err != nil { t.Fatalf("Encrypt: %v", err) }
	env.Ciphertext[0] ^= 0xff
	if _, err := b.Decrypt("peer-a", env); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestBadBundleRejected(t *testing.T) {
	m, err := NewManager()
	if err != nil { t.Fatalf("NewManager: %v", err) }
	if err := m.Import("peer", []byte("not a key")); err != ErrBadBundle {
		t.Fatalf("expected ErrBadBundle, got %v", err)
	}
}

func TestEraseDestroysSession(t *testing.T) {
	a, b := newPair(t)
	env, err := a.Encrypt("peer-b", []byte("before erase"))
	if err != nil { t.Fatalf("Encrypt: %v", err) }

	b.Erase("peer-a")
	if b.Has("peer-a") {
		t.Fatalf("Has true after Erase")
	}
	if _, err := b.Decrypt("peer-a", env); err == nil {
		t.Fatalf("Decrypt succeeded after Erase")
	}
}

func TestEraseAllDestroysIdentity(t *testing.T) {
	a, _ := newPair(t)
	a.EraseAll()
	if a.Has("peer-b") {
		t.Fatalf("session survived EraseAll")
	}
	if _, err := a.Bundle(); err == nil {
		t.Fatalf("Bundle succeeded after EraseAll")
	}
}
