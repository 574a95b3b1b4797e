package mailbox

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewManager(NewRedisStore(rdb), 10*time.Minute), mr
}

func TestInviteLifecycleRedis(t *testing.T) {
	m, _ := newRedisManager(t)
	ctx := context.Background()

	code, err := m.CreateInvite(ctx, "offer-blob")
	if err != nil { t.Fatalf("CreateInvite: %v", err) }
	if !strings.HasPrefix(code, "VC-") || len(code) != 9 {
		t.Fatalf("unexpected code format: %q", code)
	}

	offer, err := m.Offer(ctx, code)
	if err != nil || offer != "offer-blob" {
		t.Fatalf("Offer: %q %v", offer, err)
	}

	if _, err := m.Answer(ctx, code); err != ErrNoAnswer {
		t.Fatalf("expected ErrNoAnswer, got %v", err)
	}
	if err := m.PostAnswer(ctx, code, "answer-blob"); err != nil {
		t.Fatalf("PostAnswer: %v", err)
	}
	ans, err := m.Answer(ctx, code)
	if err != nil || ans != "answer-blob" {
		t.Fatalf("Answer: %q %v", ans, err)
	}

	// Exactly one answer is accepted.
	if err := m.PostAnswer(ctx, code, "second"); err != ErrHasAnswer {
		t.Fatalf("expected ErrHasAnswer, got %v", err)
	}
}

func TestCodeIsCaseInsensitive(t *testing.T) {
	m, _ := newRedisManager(t)
	ctx := context.Background()
	code, err := m.CreateInvite(ctx, "offer")
	if err != nil { t.Fatalf("CreateInvite: %v", err) }
	offer, err := m.Offer(ctx, strings.ToLower(code))
	if err != nil || offer != "offer" {
		t.Fatalf("lowercased code lookup failed: %q %v", offer, err)
	}
}

func TestExpiredInviteGone(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()
	code, err := m.CreateInvite(ctx, "offer")
	if err != nil { t.Fatalf("CreateInvite: %v", err) }
	mr.FastForward(11 * time.Minute)
	if _, err := m.Offer(ctx, code); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestMemoryStoreParity(t *testing.T) {
	m := NewManager(NewMemoryStore(), 10*time.Minute)
	ctx := context.Background()

	code, err := m.CreateInvite(ctx, "offer")
	if err != nil { t.Fatalf("CreateInvite: %v", err) }
	if _, err := m.Offer(ctx, code); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := m.PostAnswer(ctx, code, "answer"); err != nil {
		t.Fatalf("PostAnswer: %v", err)
	}
	if err := m.PostAnswer(ctx, code, "again"); err != ErrHasAnswer {
		t.Fatalf("expected ErrHasAnswer, got %v", err)
	}
	if _, err := m.Offer(ctx, "VC-MISSING"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
