package transport_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veilchess/veilchess/internal/mailbox"
	"github.com/veilchess/veilchess/internal/relay"
	"github.com/veilchess/veilchess/internal/transport"
)

func startRelay(t *testing.T) (string, func()) {
	t.Helper()
	box := mailbox.NewManager(mailbox.NewMemoryStore(), time.Minute)
	srv := httptest.NewServer(relay.NewServer(box).Handler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, srv.Close
}

func waitState(t *testing.T, ch *transport.RelayChannel, want transport.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel state = %s, want %s", ch.State(), want)
}

func TestHostJoinPairsAndForwards(t *testing.T) {
	wsURL, stop := startRelay(t)
	defer stop()
	ctx := context.Background()

	host := transport.NewRelayChannel(wsURL)
	joiner := transport.NewRelayChannel("")
	defer host.Close(ctx)
	defer joiner.Close(ctx)

	var mu sync.Mutex
	var hostGot, joinGot []string
	host.OnMessage(func(p string) {
		mu.Lock()
		hostGot = append(hostGot, p)
		mu.Unlock()
	})
	joiner.OnMessage(func(p string) {
		mu.Lock()
		joinGot = append(joinGot, p)
		mu.Unlock()
	})

	offer, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	answer, err := joiner.Join(ctx, offer)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if answer == "" {
		t.Fatal("empty answer package")
	}

	waitState(t, host, transport.StateConnected)
	waitState(t, joiner, transport.StateConnected)

	// Ordered delivery in both directions.
	for i := 0; i < 10; i++ {
		if err := host.Send(ctx, fmt.Sprintf("h%d", i)); err != nil {
			t.Fatalf("host send: %v", err)
		}
		if err := joiner.Send(ctx, fmt.Sprintf("j%d", i)); err != nil {
			t.Fatalf("joiner send: %v", err)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(hostGot) == 10 && len(joinGot) == 10
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(joinGot) != 10 || len(hostGot) != 10 {
		t.Fatalf("got %d/%d messages, want 10/10", len(hostGot), len(joinGot))
	}
	for i := 0; i < 10; i++ {
		if joinGot[i] != fmt.Sprintf("h%d", i) {
			t.Fatalf("joiner[%d] = %q, out of order", i, joinGot[i])
		}
		if hostGot[i] != fmt.Sprintf("j%d", i) {
			t.Fatalf("host[%d] = %q, out of order", i, hostGot[i])
		}
	}
}

func TestPeerGoneSignalsDisconnect(t *testing.T) {
	wsURL, stop := startRelay(t)
	defer stop()
	ctx := context.Background()

	host := transport.NewRelayChannel(wsURL)
	joiner := transport.NewRelayChannel("")
	defer joiner.Close(ctx)

	offer, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	if _, err := joiner.Join(ctx, offer); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitState(t, joiner, transport.StateConnected)

	host.Close(ctx)
	waitState(t, joiner, transport.StateDisconnected)
}

func TestThirdPeerRejected(t *testing.T) {
	wsURL, stop := startRelay(t)
	defer stop()
	ctx := context.Background()

	host := transport.NewRelayChannel(wsURL)
	joiner := transport.NewRelayChannel("")
	defer host.Close(ctx)
	defer joiner.Close(ctx)

	offer, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	if _, err := joiner.Join(ctx, offer); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitState(t, host, transport.StateConnected)

	intruder := transport.NewRelayChannel("")
	defer intruder.Close(ctx)
	// The dial itself succeeds; the relay closes the socket right away
	// and the channel never reaches connected.
	if _, err := intruder.Join(ctx, offer); err != nil {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := intruder.State(); st == transport.StateDisconnected || st == transport.StateFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("third peer reached state %s, want disconnected", intruder.State())
}

func TestSignalPackageRoundTrip(t *testing.T) {
	wsURL, stop := startRelay(t)
	defer stop()
	ctx := context.Background()

	host := transport.NewRelayChannel(wsURL)
	defer host.Close(ctx)
	offer, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}

	joiner := transport.NewRelayChannel("")
	defer joiner.Close(ctx)
	if _, err := joiner.Join(ctx, "%%%not-base64%%%"); err == nil {
		t.Fatal("garbage offer accepted")
	}
	if _, err := joiner.Join(ctx, offer); err != nil {
		t.Fatalf("join with valid offer: %v", err)
	}
}
