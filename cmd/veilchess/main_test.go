package main

import (
	"context"
	"strings"
	"testing"

	appcfg "github.com/veilchess/veilchess/internal/config"
	"github.com/veilchess/veilchess/internal/cryptobox"
	"github.com/veilchess/veilchess/internal/session"
	"github.com/veilchess/veilchess/internal/transport"
)

func newTestController(t *testing.T) *session.Controller {
	t.Helper()
	crypto, err := cryptobox.NewManager()
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	ev := &cliEvents{done: make(chan struct{}), role: "White"}
	return session.New(transport.NewRelayChannel(""), crypto, ev, session.DefaultOptions())
}

func TestHandleCommandHistoryWithoutRepo(t *testing.T) {
	ctrl := newTestController(t)
	cfg := &appcfg.AppConfig{}

	if !handleCommand(context.Background(), cfg, ctrl, nil, "history") {
		t.Fatal("history should not terminate the loop")
	}
	if handleCommand(context.Background(), cfg, ctrl, nil, "quit") {
		t.Fatal("quit should terminate the loop")
	}
}

func TestAsciiBoardStartPosition(t *testing.T) {
	out := asciiBoard("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	if !strings.Contains(out, "8  r n b q k b n r") {
		t.Fatalf("missing black back rank:\n%s", out)
	}
	if !strings.Contains(out, "a b c d e f g h") {
		t.Fatalf("missing file labels:\n%s", out)
	}
}
