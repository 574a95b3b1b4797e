package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilchess/veilchess/internal/cryptobox"
	"github.com/veilchess/veilchess/internal/history"
	"github.com/veilchess/veilchess/internal/obslog"
	"github.com/veilchess/veilchess/internal/rules"
	"github.com/veilchess/veilchess/internal/transport"
	"github.com/veilchess/veilchess/internal/wire"
)

// HistorySink records finished games. Persistence failures never affect
// the session outcome.
type HistorySink interface {
	SaveResult(ctx context.Context, res *history.Result) error
}

// Controller sequences one encrypted game session end to end: transport
// setup, key exchange, message dispatch, turn enforcement, move
// validation against the local board, and secure teardown.
//
// A single mutex serializes transport callbacks and local calls, so
// every handler observes a consistent state and board. Event callbacks
// are collected under the lock and fired after it is released.
type Controller struct {
	mu sync.Mutex

	channel transport.Channel
	crypto  *cryptobox.Manager
	board   *rules.Board
	events  Events
	opts    Options

	state     State
	encState  EncryptionState
	role      Role
	peerID    string
	gameID    string
	startedAt time.Time

	// Outbound application messages held until encryption is
	// established, unless AllowPlaintext is set.
	outbox []*wire.Message

	offeredDraw bool
	pendingDraw bool
	bundleSent  bool

	sink HistorySink

	fires []func()
}

// New wires a controller over its ports. Events must not be nil.
func New(channel transport.Channel, crypto *cryptobox.Manager, events Events, opts Options) *Controller {
	return &Controller{
		channel:  channel,
		crypto:   crypto,
		board:    rules.NewBoard(),
		events:   events,
		opts:     opts,
		state:    StateUninitialized,
		encState: EncryptionBootstrapping,
	}
}

// AttachHistory sets an optional sink for finished games.
func (c *Controller) AttachHistory(sink HistorySink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Initialize starts the session. The host returns an offer package to
// hand to the peer out of band; the joiner consumes the peer's offer and
// returns the answer package. gameID keys the encryption session and the
// history record.
func (c *Controller) Initialize(ctx context.Context, role Role, gameID string, remoteOffer string) (string, error) {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	c.state = StateAwaitingTransport
	c.role = role
	c.peerID = gameID
	c.gameID = gameID
	c.mu.Unlock()

	c.channel.OnMessage(c.handleRaw)
	c.channel.OnStateChange(c.handleTransportState)

	var pkg string
	var err error
	if role == RoleHost {
		pkg, err = c.channel.Host(ctx)
	} else {
		pkg, err = c.channel.Join(ctx, remoteOffer)
	}
	if err != nil {
		return "", fmt.Errorf("session: start transport: %w", err)
	}
	obslog.L().Info("session initialized",
		zap.String("game_id", gameID),
		zap.String("role", string(role)))
	return pkg, nil
}

// State reports the controller lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EncryptionState reports whether the session key is established.
func (c *Controller) EncryptionState() EncryptionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encState
}

// FEN exposes the local board position for display.
func (c *Controller) FEN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.FEN()
}

// MakeMove validates and applies a local move (UCI or SAN), then sends
// it to the peer. Returns false without any side effect when it is not
// this device's turn, the move is illegal, or the session is not live.
func (c *Controller) MakeMove(ctx context.Context, move string) bool {
	c.mu.Lock()
	ok := c.makeMoveLocked(ctx, move)
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
	return ok
}

func (c *Controller) makeMoveLocked(ctx context.Context, move string) bool {
	if !c.liveLocked() {
		return false
	}
	if c.board.Turn() != c.role.Color() {
		return false
	}
	applied, err := c.board.Apply(move)
	if err != nil {
		return false
	}
	c.sendLocked(ctx, wire.KindMove, wire.MovePayload{UCI: applied.UCI})
	c.emit(func() { c.events.OnMove(applied.SAN) })
	c.checkTerminalLocked(ctx)
	return true
}

// SendChat delivers a text message to the peer. The local echo fires
// before any network write, so the sender always sees their own
// message first regardless of transport latency.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	c.mu.Lock()
	if !c.liveLocked() {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.emit(func() { c.events.OnChat(text, OriginLocal) })
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)

	c.mu.Lock()
	// A handler may have torn the session down during the echo.
	if c.liveLocked() {
		c.sendLocked(ctx, wire.KindChat, wire.ChatPayload{Text: text})
	}
	fires = c.takeFires()
	c.mu.Unlock()
	run(fires)
	return nil
}

// Resign concedes the game. The local device records a loss and tears
// the session down after notifying the peer.
func (c *Controller) Resign(ctx context.Context) {
	c.mu.Lock()
	if c.liveLocked() {
		c.sendLocked(ctx, wire.KindResign, nil)
		c.endGameLocked(ctx, OutcomeLoss, "resignation")
	}
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

// OfferDraw proposes a draw to the peer.
func (c *Controller) OfferDraw(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateActive {
		c.offeredDraw = true
		c.sendLocked(ctx, wire.KindDrawOffer, nil)
	}
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

// RespondDraw answers a pending draw offer from the peer. It is a no-op
// when no offer is pending.
func (c *Controller) RespondDraw(ctx context.Context, accept bool) {
	c.mu.Lock()
	if c.pendingDraw && c.state == StateActive {
		c.pendingDraw = false
		if accept {
			c.sendLocked(ctx, wire.KindDrawAccept, nil)
			c.endGameLocked(ctx, OutcomeDraw, "draw agreement")
		} else {
			c.sendLocked(ctx, wire.KindDrawDecline, nil)
		}
	}
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

// Cleanup tears the session down: closes the transport, destroys the
// session key, resets the board. Idempotent and callable from any
// state; after it returns every other method is an inert no-op.
func (c *Controller) Cleanup(ctx context.Context) {
	c.mu.Lock()
	c.cleanupLocked(ctx)
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

// handleRaw is the single dispatch point for inbound frames.
func (c *Controller) handleRaw(payload string) {
	ctx := context.Background()
	c.mu.Lock()
	c.dispatchLocked(ctx, payload)
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

func (c *Controller) dispatchLocked(ctx context.Context, payload string) {
	if c.state == StateTerminated || c.state == StateUninitialized {
		return
	}
	frame, err := wire.DecodeFrame([]byte(payload))
	if err != nil {
		c.reportLocked(fmt.Errorf("session: drop frame: %w", err))
		return
	}

	var msg *wire.Message
	if frame.Encrypted {
		plain, err := c.crypto.Decrypt(c.peerID, frame.Envelope)
		if err != nil {
			c.reportLocked(fmt.Errorf("session: drop envelope: %w", err))
			return
		}
		msg, err = wire.DecodeMessage(plain)
		if err != nil {
			c.reportLocked(fmt.Errorf("session: drop envelope: %w", err))
			return
		}
	} else {
		msg = frame.Message
	}

	switch msg.Kind {
	case wire.KindKeyBundle:
		c.handleBundleLocked(ctx, msg)
	case wire.KindMove:
		c.handleRemoteMoveLocked(ctx, msg)
	case wire.KindChat:
		p, err := msg.Chat()
		if err != nil {
			c.reportLocked(fmt.Errorf("session: drop chat: %w", err))
			return
		}
		text := p.Text
		c.emit(func() { c.events.OnChat(text, OriginRemote) })
	case wire.KindResign:
		c.endGameLocked(ctx, OutcomeWin, "resignation")
	case wire.KindDrawOffer:
		if c.state != StateActive {
			return
		}
		if c.opts.AutoAcceptDraw {
			c.sendLocked(ctx, wire.KindDrawAccept, nil)
			c.endGameLocked(ctx, OutcomeDraw, "draw agreement")
			return
		}
		c.pendingDraw = true
		c.emit(func() { c.events.OnDrawOffer() })
	case wire.KindDrawAccept:
		if c.offeredDraw {
			c.offeredDraw = false
			c.endGameLocked(ctx, OutcomeDraw, "draw agreement")
		}
	case wire.KindDrawDecline:
		c.offeredDraw = false
		c.emit(func() { c.events.OnDrawDeclined() })
	}
}

func (c *Controller) handleBundleLocked(ctx context.Context, msg *wire.Message) {
	p, err := msg.KeyBundle()
	if err != nil {
		c.reportLocked(fmt.Errorf("session: drop bundle: %w", err))
		return
	}
	if err := c.crypto.Import(c.peerID, p.Bundle); err != nil {
		c.reportLocked(fmt.Errorf("session: import bundle: %w", err))
		return
	}
	// The peer may have connected before we did and missed our bundle;
	// answering here makes the exchange order-independent.
	if !c.bundleSent {
		c.sendBundleLocked(ctx)
	}
	c.establishLocked(ctx)
}

func (c *Controller) handleRemoteMoveLocked(ctx context.Context, msg *wire.Message) {
	if c.state != StateActive {
		c.reportLocked(fmt.Errorf("session: move before session active"))
		return
	}
	p, err := msg.Move()
	if err != nil {
		c.reportLocked(fmt.Errorf("session: drop move: %w", err))
		return
	}
	if c.board.Turn() == c.role.Color() {
		c.reportLocked(fmt.Errorf("%w: %s out of turn", ErrRemoteIllegalMove, p.UCI))
		return
	}
	applied, err := c.board.Apply(p.UCI)
	if err != nil {
		c.reportLocked(fmt.Errorf("%w: %s", ErrRemoteIllegalMove, p.UCI))
		return
	}
	c.emit(func() { c.events.OnMove(applied.SAN) })
	c.checkTerminalLocked(ctx)
}

func (c *Controller) handleTransportState(st transport.State) {
	ctx := context.Background()
	c.mu.Lock()
	if c.state != StateTerminated {
		c.emit(func() { c.events.OnConnectionChange(st) })
		switch st {
		case transport.StateConnected:
			if c.state == StateAwaitingTransport {
				c.state = StateEncryptionBootstrap
				// If a key for this peer survives from an earlier
				// exchange, skip sending and wait for theirs only.
				if c.crypto.Has(c.peerID) {
					c.establishLocked(ctx)
				} else {
					c.sendBundleLocked(ctx)
				}
			}
		case transport.StateDisconnected, transport.StateFailed:
			c.reportLocked(ErrTransportDown)
		}
	}
	fires := c.takeFires()
	c.mu.Unlock()
	run(fires)
}

func (c *Controller) sendBundleLocked(ctx context.Context) {
	bundle, err := c.crypto.Bundle()
	if err != nil {
		c.reportLocked(fmt.Errorf("session: export bundle: %w", err))
		return
	}
	msg, err := wire.NewMessage(wire.KindKeyBundle, wire.BundlePayload{Bundle: bundle})
	if err != nil {
		c.reportLocked(err)
		return
	}
	// Key bundles are public material and always travel in plaintext.
	raw, err := wire.EncodePlain(msg)
	if err != nil {
		c.reportLocked(err)
		return
	}
	if err := c.channel.Send(ctx, string(raw)); err != nil {
		c.reportLocked(fmt.Errorf("session: send bundle: %w", err))
		return
	}
	c.bundleSent = true
}

// establishLocked is idempotent and order-independent: the peer's
// bundle may arrive before or after our own connected notification.
func (c *Controller) establishLocked(ctx context.Context) {
	if !c.crypto.Has(c.peerID) {
		return
	}
	if c.encState != EncryptionEstablished {
		c.encState = EncryptionEstablished
		obslog.L().Info("encryption established",
			zap.String("game_id", c.gameID),
			zap.String("peer_fp", c.crypto.Fingerprint()))
	}
	if c.state == StateEncryptionBootstrap {
		c.state = StateActive
		c.startedAt = time.Now().UTC()
	}
	queued := c.outbox
	c.outbox = nil
	for _, msg := range queued {
		c.sealAndSendLocked(ctx, msg)
	}
}

// sendLocked pushes an application message to the peer, encrypting when
// the session key is established, otherwise buffering or, with
// AllowPlaintext, sending in the clear and flagging it.
func (c *Controller) sendLocked(ctx context.Context, kind wire.Kind, payload any) {
	msg, err := wire.NewMessage(kind, payload)
	if err != nil {
		c.reportLocked(err)
		return
	}
	if c.encState == EncryptionEstablished {
		c.sealAndSendLocked(ctx, msg)
		return
	}
	if !c.opts.AllowPlaintext {
		c.outbox = append(c.outbox, msg)
		return
	}
	raw, err := wire.EncodePlain(msg)
	if err != nil {
		c.reportLocked(err)
		return
	}
	if err := c.channel.Send(ctx, string(raw)); err != nil {
		c.reportLocked(fmt.Errorf("session: send: %w", err))
		return
	}
	c.reportLocked(ErrPlaintextSend)
}

func (c *Controller) sealAndSendLocked(ctx context.Context, msg *wire.Message) {
	plain, err := json.Marshal(msg)
	if err != nil {
		c.reportLocked(fmt.Errorf("session: marshal: %w", err))
		return
	}
	env, err := c.crypto.Encrypt(c.peerID, plain)
	if err != nil {
		c.reportLocked(fmt.Errorf("session: encrypt: %w", err))
		return
	}
	raw, err := wire.EncodeSealed(env)
	if err != nil {
		c.reportLocked(err)
		return
	}
	if err := c.channel.Send(ctx, string(raw)); err != nil {
		c.reportLocked(fmt.Errorf("session: send: %w", err))
	}
}

// checkTerminalLocked ends the session when the board reached a
// terminal position after a move.
func (c *Controller) checkTerminalLocked(ctx context.Context) {
	var outcome Outcome
	switch c.board.Outcome() {
	case rules.OutcomeNone:
		return
	case rules.OutcomeDraw:
		outcome = OutcomeDraw
	case rules.OutcomeWhiteWon:
		outcome = relativeOutcome(rules.White, c.role)
	case rules.OutcomeBlackWon:
		outcome = relativeOutcome(rules.Black, c.role)
	}
	c.endGameLocked(ctx, outcome, c.board.Method())
}

func relativeOutcome(winner rules.Color, role Role) Outcome {
	if role.Color() == winner {
		return OutcomeWin
	}
	return OutcomeLoss
}

func (c *Controller) endGameLocked(ctx context.Context, outcome Outcome, method string) {
	if c.state == StateTerminated {
		return
	}
	c.recordLocked(outcome, method)
	c.emit(func() { c.events.OnGameEnd(outcome) })
	obslog.L().Info("game over",
		zap.String("game_id", c.gameID),
		zap.String("outcome", string(outcome)),
		zap.String("method", method))
	c.cleanupLocked(ctx)
}

func (c *Controller) recordLocked(outcome Outcome, method string) {
	if c.sink == nil {
		return
	}
	res := &history.Result{
		GameID:    c.gameID,
		Role:      string(c.role),
		Outcome:   string(outcome),
		Method:    method,
		MovesSAN:  c.board.MovesSAN(),
		MovesUCI:  c.board.MovesUCI(),
		StartedAt: c.startedAt,
		EndedAt:   time.Now().UTC(),
	}
	sink := c.sink
	// Off the dispatch path; the database must not stall teardown.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.SaveResult(ctx, res); err != nil {
			obslog.L().Warn("history save failed", zap.Error(err))
		}
	}()
}

func (c *Controller) cleanupLocked(ctx context.Context) {
	if c.state == StateTerminated {
		return
	}
	c.state = StateTerminated
	c.encState = EncryptionBootstrapping
	c.outbox = nil
	c.pendingDraw = false
	c.offeredDraw = false
	if err := c.channel.Close(ctx); err != nil {
		obslog.L().Warn("transport close", zap.Error(err))
	}
	c.crypto.Erase(c.peerID)
	c.board.Reset()
	obslog.L().Info("session destroyed", zap.String("game_id", c.gameID))
	c.role = ""
	c.peerID = ""
}

func (c *Controller) liveLocked() bool {
	return c.state == StateActive || c.state == StateEncryptionBootstrap
}

func (c *Controller) reportLocked(err error) {
	c.emit(func() { c.events.OnError(err) })
}

// emit queues a callback to run after the lock is released.
func (c *Controller) emit(fn func()) { c.fires = append(c.fires, fn) }

func (c *Controller) takeFires() []func() {
	fires := c.fires
	c.fires = nil
	return fires
}

func run(fires []func()) {
	for _, fn := range fires {
		fn()
	}
}
