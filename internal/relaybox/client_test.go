package relaybox_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veilchess/veilchess/internal/mailbox"
	"github.com/veilchess/veilchess/internal/relay"
	"github.com/veilchess/veilchess/internal/relaybox"
)

func startBox(t *testing.T) (*relaybox.Client, func()) {
	t.Helper()
	box := mailbox.NewManager(mailbox.NewMemoryStore(), time.Minute)
	srv := httptest.NewServer(relay.NewServer(box).Handler())
	// The client accepts the websocket form of the relay URL.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return relaybox.NewClient(wsURL), srv.Close
}

func TestInviteExchange(t *testing.T) {
	client, stop := startBox(t)
	defer stop()
	ctx := context.Background()

	code, err := client.CreateInvite(ctx, "offer-blob")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if !strings.HasPrefix(code, "VC-") {
		t.Fatalf("code = %q, want VC- prefix", code)
	}

	offer, err := client.Offer(ctx, code)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer != "offer-blob" {
		t.Fatalf("offer = %q", offer)
	}

	// No answer posted yet.
	if _, err := client.Answer(ctx, code); !errors.Is(err, relaybox.ErrNoAnswer) {
		t.Fatalf("answer err = %v, want ErrNoAnswer", err)
	}

	if err := client.PostAnswer(ctx, code, "answer-blob"); err != nil {
		t.Fatalf("post answer: %v", err)
	}
	answer, err := client.Answer(ctx, code)
	if err != nil {
		t.Fatalf("get answer: %v", err)
	}
	if answer != "answer-blob" {
		t.Fatalf("answer = %q", answer)
	}

	// Exactly one answer is accepted.
	if err := client.PostAnswer(ctx, code, "second"); !errors.Is(err, relaybox.ErrHasAnswer) {
		t.Fatalf("second answer err = %v, want ErrHasAnswer", err)
	}
}

func TestUnknownCode(t *testing.T) {
	client, stop := startBox(t)
	defer stop()
	ctx := context.Background()

	if _, err := client.Offer(ctx, "VC-MISSING"); !errors.Is(err, relaybox.ErrNotFound) {
		t.Fatalf("offer err = %v, want ErrNotFound", err)
	}
	if err := client.PostAnswer(ctx, "VC-MISSING", "x"); !errors.Is(err, relaybox.ErrNotFound) {
		t.Fatalf("post answer err = %v, want ErrNotFound", err)
	}
}

func TestWaitAnswer(t *testing.T) {
	client, stop := startBox(t)
	defer stop()
	ctx := context.Background()

	code, err := client.CreateInvite(ctx, "offer-blob")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = client.PostAnswer(context.Background(), code, "late-answer")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	answer, err := client.WaitAnswer(waitCtx, code, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait answer: %v", err)
	}
	if answer != "late-answer" {
		t.Fatalf("answer = %q", answer)
	}
}
