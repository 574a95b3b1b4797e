package session

import (
	"github.com/veilchess/veilchess/internal/rules"
	"github.com/veilchess/veilchess/internal/transport"
)

// Role fixes who plays which color for the lifetime of one session.
// The host always plays White, the joiner Black; never renegotiated.
type Role string

const (
	RoleHost   Role = "host"
	RoleJoiner Role = "joiner"
)

// Color returns the chess side this role plays.
func (r Role) Color() rules.Color {
	if r == RoleHost {
		return rules.White
	}
	return rules.Black
}

// State is the controller lifecycle.
type State string

const (
	StateUninitialized       State = "uninitialized"
	StateAwaitingTransport   State = "awaiting_transport"
	StateEncryptionBootstrap State = "encryption_bootstrap"
	StateActive              State = "active"
	StateTerminated          State = "terminated"
)

// EncryptionState is surfaced explicitly instead of being a silent
// branch at send time.
type EncryptionState string

const (
	EncryptionBootstrapping EncryptionState = "bootstrapping"
	EncryptionEstablished   EncryptionState = "established"
)

// Origin tags chat delivery.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Outcome is always derived from the local board and the local role,
// never trusted from the remote peer.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Events is the port the controller drives. Callbacks run on the
// controller's dispatch goroutine after its internal lock is released,
// so handlers may call back into the controller.
type Events interface {
	OnMove(san string)
	OnChat(text string, origin Origin)
	OnGameEnd(outcome Outcome)
	OnConnectionChange(state transport.State)
	OnError(err error)
	// OnDrawOffer fires only when AutoAcceptDraw is disabled; respond
	// with RespondDraw.
	OnDrawOffer()
	OnDrawDeclined()
}

// Options tune session policy.
type Options struct {
	// AutoAcceptDraw accepts incoming draw offers immediately. This is
	// the default policy; disable it to route offers through
	// Events.OnDrawOffer.
	AutoAcceptDraw bool
	// AllowPlaintext sends application messages unencrypted while the
	// encryption session is still bootstrapping, surfacing each such
	// send through Events.OnError(ErrPlaintextSend). When disabled
	// (default) outbound messages are buffered until established.
	AllowPlaintext bool
}

// DefaultOptions matches the documented default policies.
func DefaultOptions() Options {
	return Options{AutoAcceptDraw: true, AllowPlaintext: false}
}

var (
	ErrNotInitialized = errf("session: controller not initialized")
	ErrAlreadyStarted = errf("session: controller already initialized")
	// ErrPlaintextSend is advisory: an application message left the
	// device unencrypted because the session was still bootstrapping.
	ErrPlaintextSend = errf("session: application message sent in plaintext before encryption was established")
	// ErrRemoteIllegalMove is an integrity signal: the peer submitted a
	// move that is illegal against the locally held board.
	ErrRemoteIllegalMove = errf("session: remote move rejected by local board")
	// ErrTransportDown reports that the channel failed; the session
	// cannot continue but the process keeps running.
	ErrTransportDown = errf("session: transport channel lost")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
