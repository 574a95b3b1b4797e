package mailbox

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilchess/veilchess/internal/obslog"
)

// A mailbox holds exactly one offer and at most one answer under a
// short invite code, so two people can bootstrap a session by reading
// a code aloud instead of pasting signal blobs.

var (
	ErrInvalidArgs = errf("mailbox: invalid arguments")
	ErrCodeTaken   = errf("mailbox: invite code already in use")
	ErrNotFound    = errf("mailbox: invite not found or expired")
	ErrNoAnswer    = errf("mailbox: no answer yet")
	ErrHasAnswer   = errf("mailbox: answer already posted")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Store persists mailboxes with a TTL.
type Store interface {
	CreateOffer(ctx context.Context, code, offer string, ttl time.Duration) error
	Offer(ctx context.Context, code string) (string, error)
	SetAnswer(ctx context.Context, code, answer string) error
	Answer(ctx context.Context, code string) (string, error)
}

// Manager allocates codes and fronts a Store.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Manager{store: store, ttl: ttl}
}

// CreateInvite stores the offer under a freshly allocated code.
func (m *Manager) CreateInvite(ctx context.Context, offer string) (string, error) {
	if strings.TrimSpace(offer) == "" {
		return "", ErrInvalidArgs
	}
	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil {
			return "", err
		}
		err = m.store.CreateOffer(ctx, code, offer, m.ttl)
		if err == ErrCodeTaken {
			continue
		}
		if err != nil {
			return "", err
		}
		obslog.L().Info("mailbox_invite_create", zap.String("code", code))
		return code, nil
	}
	return "", fmt.Errorf("mailbox: failed to allocate invite code")
}

// Offer fetches the offer for a code.
func (m *Manager) Offer(ctx context.Context, code string) (string, error) {
	code = normalizeCode(code)
	if code == "" {
		return "", ErrInvalidArgs
	}
	return m.store.Offer(ctx, code)
}

// PostAnswer stores the joiner's answer; exactly one is accepted.
func (m *Manager) PostAnswer(ctx context.Context, code, answer string) error {
	code = normalizeCode(code)
	if code == "" || strings.TrimSpace(answer) == "" {
		return ErrInvalidArgs
	}
	if err := m.store.SetAnswer(ctx, code, answer); err != nil {
		return err
	}
	obslog.L().Info("mailbox_answer_post", zap.String("code", code))
	return nil
}

// Answer fetches the answer for a code, ErrNoAnswer while pending.
func (m *Manager) Answer(ctx context.Context, code string) (string, error) {
	code = normalizeCode(code)
	if code == "" {
		return "", ErrInvalidArgs
	}
	return m.store.Answer(ctx, code)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// codeGen returns `VC-` + 6 upper alnum.
func codeGen() (string, error) {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return fmt.Sprintf("VC-%s", string(b)), nil
}
