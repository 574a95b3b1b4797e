package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/veilchess/veilchess/internal/obslog"
)

// SignalPackage is the out-of-band blob a host or joiner hands to the
// other side. Opaque to callers; versioned for forward compatibility.
type SignalPackage struct {
	V     int    `json:"v"`
	Relay string `json:"relay"`
	Room  string `json:"room"`
	Role  string `json:"role"`
}

// RelayFrame is what actually crosses the relay websocket. The relay
// forwards data frames verbatim and in order between the two peers of
// a room; control frames report pairing.
type RelayFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

const (
	FrameData     = "data"
	FramePaired   = "paired"
	FramePeerGone = "peer_gone"
)

type msgCallbackEntry struct {
	id int
	cb MessageCallback
}

type stateCallbackEntry struct {
	id int
	cb StateCallback
}

// RelayChannel is the websocket implementation of Channel: both peers
// dial a rendezvous relay that pairs them by room id and pipes frames
// between them. Once the encryption session is established the relay
// only ever sees opaque envelopes.
type RelayChannel struct {
	relayURL string
	room     string

	conn   *websocket.Conn
	writeM sync.Mutex

	state  State
	stateM sync.RWMutex

	msgCbs   []msgCallbackEntry
	stateCbs []stateCallbackEntry
	cbM      sync.RWMutex

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewRelayChannel(relayURL string) *RelayChannel {
	return &RelayChannel{
		relayURL:     strings.TrimRight(strings.TrimSpace(relayURL), "/"),
		state:        StateConnecting,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Host opens a fresh room at the relay and returns the offer package.
// The channel stays in connecting state until the joiner arrives.
func (c *RelayChannel) Host(ctx context.Context) (string, error) {
	if c.relayURL == "" {
		return "", fmt.Errorf("transport: relay URL required")
	}
	c.room = uuid.NewString()
	if err := c.dial(ctx); err != nil {
		return "", err
	}
	return encodeSignal(&SignalPackage{V: 1, Relay: c.relayURL, Room: c.room, Role: "host"})
}

// Join consumes a host's offer, dials the same room and returns the
// answer package.
func (c *RelayChannel) Join(ctx context.Context, offer string) (string, error) {
	pkg, err := decodeSignal(offer)
	if err != nil {
		return "", err
	}
	if c.relayURL == "" {
		c.relayURL = strings.TrimRight(pkg.Relay, "/")
	}
	c.room = pkg.Room
	if err := c.dial(ctx); err != nil {
		return "", err
	}
	return encodeSignal(&SignalPackage{V: 1, Relay: c.relayURL, Room: c.room, Role: "joiner"})
}

func (c *RelayChannel) dial(ctx context.Context) error {
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	c.setState(StateConnecting)

	wsURL := c.relayURL + "/v1/ws?room=" + url.QueryEscape(c.room)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("transport: dial relay: %w", err)
	}
	c.conn = conn

	c.wg.Add(2)
	go c.listen()
	go c.pingLoop()
	return nil
}

func (c *RelayChannel) listen() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		var frame RelayFrame
		if err := wsjson.Read(c.rootCtx, c.conn, &frame); err != nil {
			if c.isStopping() {
				return
			}
			obslog.L().Warn("relay_read_error", zap.String("room", c.room), zap.Error(err))
			c.setState(StateDisconnected)
			return
		}
		switch frame.Type {
		case FramePaired:
			c.setState(StateConnected)
		case FramePeerGone:
			c.setState(StateDisconnected)
		case FrameData:
			c.cbM.RLock()
			cbs := make([]msgCallbackEntry, len(c.msgCbs))
			copy(cbs, c.msgCbs)
			c.cbM.RUnlock()
			for _, entry := range cbs {
				if entry.cb != nil {
					entry.cb(frame.Payload)
				}
			}
		}
	}
}

func (c *RelayChannel) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				if c.isStopping() {
					return
				}
				c.setState(StateDisconnected)
				return
			}
		}
	}
}

func (c *RelayChannel) Send(ctx context.Context, payload string) error {
	if c.conn == nil {
		return fmt.Errorf("transport: channel not connected")
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return wsjson.Write(ctx, c.conn, &RelayFrame{Type: FrameData, Payload: payload})
}

func (c *RelayChannel) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	id := len(c.msgCbs) + 1
	c.msgCbs = append(c.msgCbs, msgCallbackEntry{id: id, cb: cb})
	return id
}

func (c *RelayChannel) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	id := len(c.stateCbs) + 1
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: id, cb: cb})
	return id
}

func (c *RelayChannel) setState(state State) {
	c.stateM.Lock()
	if c.state == state {
		c.stateM.Unlock()
		return
	}
	c.state = state
	c.stateM.Unlock()

	c.cbM.RLock()
	cbs := make([]stateCallbackEntry, len(c.stateCbs))
	copy(cbs, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range cbs {
		if entry.cb != nil {
			entry.cb(state)
		}
	}
}

// State returns the current connection state.
func (c *RelayChannel) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

// Close tears the connection down. It signals the read and ping loops
// and returns without waiting for them, so it is safe to call from a
// message callback.
func (c *RelayChannel) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "close")
		c.conn = nil
	}
	if c.rootCancel != nil {
		c.rootCancel()
	}
	return nil
}

func (c *RelayChannel) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func encodeSignal(pkg *SignalPackage) (string, error) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return "", fmt.Errorf("transport: encode signal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeSignal(blob string) (*SignalPackage, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("transport: decode signal: %w", err)
	}
	var pkg SignalPackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("transport: decode signal: %w", err)
	}
	if pkg.Room == "" {
		return nil, fmt.Errorf("transport: signal package missing room")
	}
	return &pkg, nil
}
