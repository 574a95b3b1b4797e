package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/veilchess/veilchess/internal/wire"
)

const (
	// Alg names the envelope suite on the wire.
	Alg = "x25519-hkdf-aes256gcm"

	kdfInfo = "veilchess-session-key"
	keyLen  = 32
)

var (
	ErrNoSession     = errf("cryptobox: no session for peer")
	ErrBadBundle     = errf("cryptobox: malformed peer bundle")
	ErrDecryptFailed = errf("cryptobox: decryption failed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Manager holds one identity key pair and the per-peer session keys
// derived from it. Both peers converge on the same session key
// unilaterally: each imports the other's public bundle and runs
// ECDH + HKDF over the shared secret, no acknowledgment round-trip.
type Manager struct {
	mu       sync.Mutex
	curve    ecdh.Curve
	identity *ecdh.PrivateKey
	sessions map[string][]byte
}

// NewManager generates a fresh X25519 identity.
func NewManager() (*Manager, error) {
	curve := ecdh.X25519()
	identity, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: generate identity: %w", err)
	}
	return &Manager{
		curve:    curve,
		identity: identity,
		sessions: make(map[string][]byte),
	}, nil
}

// Bundle exports the public key material a peer needs to establish a
// session with us.
func (m *Manager) Bundle() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil, ErrNoSession
	}
	return m.identity.PublicKey().Bytes(), nil
}

// Fingerprint is a short identifier of our public key, carried in
// envelope headers for diagnostics.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ""
	}
	sum := sha256.Sum256(m.identity.PublicKey().Bytes())
	return hex.EncodeToString(sum[:8])
}

// Import derives and stores the session key for peerID from its bundle.
func (m *Manager) Import(peerID string, bundle []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ErrNoSession
	}
	peerPub, err := m.curve.NewPublicKey(bundle)
	if err != nil {
		return ErrBadBundle
	}
	shared, err := m.identity.ECDH(peerPub)
	if err != nil {
		return fmt.Errorf("cryptobox: ecdh: %w", err)
	}
	kdf := hkdf.New(sha256.New, shared, nil, []byte(kdfInfo))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("cryptobox: kdf: %w", err)
	}
	zero(shared)
	if old, ok := m.sessions[peerID]; ok {
		zero(old)
	}
	m.sessions[peerID] = key
	return nil
}

// Has reports whether a usable session exists for peerID.
func (m *Manager) Has(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[peerID]
	return ok
}

// Encrypt seals plaintext for peerID into a wire envelope.
func (m *Manager) Encrypt(peerID string, plaintext []byte) (*wire.Envelope, error) {
	m.mu.Lock()
	key, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: nonce: %w", err)
	}
	return &wire.Envelope{
		Header: wire.EnvelopeHeader{
			Alg:   Alg,
			Nonce: nonce,
			From:  m.Fingerprint(),
		},
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens an envelope received from peerID.
func (m *Manager) Decrypt(peerID string, env *wire.Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrDecryptFailed
	}
	m.mu.Lock()
	key, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(env.Header.Nonce) != aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	plaintext, err := aead.Open(nil, env.Header.Nonce, env.Ciphertext, nil)
	if err != nil {
		// Wrong key or tampered ciphertext; GCM integrity check failed.
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Erase destroys the session key for peerID. Has reports false and
// Decrypt fails afterwards; the session cannot be resumed.
func (m *Manager) Erase(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.sessions[peerID]; ok {
		zero(key)
		delete(m.sessions, peerID)
	}
}

// EraseAll destroys every session key and the identity itself.
func (m *Manager) EraseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, key := range m.sessions {
		zero(key)
		delete(m.sessions, id)
	}
	m.identity = nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: gcm: %w", err)
	}
	return aead, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
