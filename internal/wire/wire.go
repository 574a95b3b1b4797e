package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a protocol message.
type Kind string

const (
	KindMove        Kind = "move"
	KindChat        Kind = "chat"
	KindResign      Kind = "resign"
	KindDrawOffer   Kind = "draw_offer"
	KindDrawAccept  Kind = "draw_accept"
	KindDrawDecline Kind = "draw_decline"
	KindKeyBundle   Kind = "key_bundle"
)

var knownKinds = map[Kind]bool{
	KindMove:        true,
	KindChat:        true,
	KindResign:      true,
	KindDrawOffer:   true,
	KindDrawAccept:  true,
	KindDrawDecline: true,
	KindKeyBundle:   true,
}

// Message is the unit placed on the wire before optional encryption.
// Payload is decoded per Kind; SentAt is advisory only, ordering comes
// from the transport.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

type MovePayload struct {
	UCI string `json:"uci"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type BundlePayload struct {
	Bundle []byte `json:"bundle"`
}

// EnvelopeHeader travels in the clear next to the ciphertext.
type EnvelopeHeader struct {
	Alg   string `json:"alg"`
	Nonce []byte `json:"nonce"`
	From  string `json:"from,omitempty"`
}

// Envelope wraps an encrypted Message.
type Envelope struct {
	Header     EnvelopeHeader `json:"header"`
	Ciphertext []byte         `json:"ciphertext"`
}

// Frame is the only unit handed to the transport. The Encrypted flag is
// a mandatory discriminant: a frame is either a plaintext Message or an
// Envelope, never decided by sniffing field shapes.
type Frame struct {
	Encrypted bool      `json:"encrypted"`
	Message   *Message  `json:"message,omitempty"`
	Envelope  *Envelope `json:"envelope,omitempty"`
}

var (
	ErrAmbiguousFrame = errf("wire: frame discriminant disagrees with body")
	ErrUnknownKind    = errf("wire: unknown message kind")
	ErrEmptyPayload   = errf("wire: missing payload")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// NewMessage stamps a message of the given kind. payload may be nil for
// kinds that carry none.
func NewMessage(kind Kind, payload any) (*Message, error) {
	if !knownKinds[kind] {
		return nil, ErrUnknownKind
	}
	m := &Message{Kind: kind, SentAt: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal payload: %w", err)
		}
		m.Payload = raw
	}
	return m, nil
}

// EncodePlain serializes a plaintext frame carrying msg.
func EncodePlain(msg *Message) ([]byte, error) {
	if msg == nil || !knownKinds[msg.Kind] {
		return nil, ErrUnknownKind
	}
	return json.Marshal(&Frame{Encrypted: false, Message: msg})
}

// EncodeSealed serializes an encrypted frame carrying env.
func EncodeSealed(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrAmbiguousFrame
	}
	return json.Marshal(&Frame{Encrypted: true, Envelope: env})
}

// DecodeFrame parses raw wire bytes and enforces the discriminant:
// an encrypted frame must carry an envelope and no message, a plain
// frame the opposite.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	if f.Encrypted {
		if f.Envelope == nil || f.Message != nil {
			return nil, ErrAmbiguousFrame
		}
		return &f, nil
	}
	if f.Message == nil || f.Envelope != nil {
		return nil, ErrAmbiguousFrame
	}
	if !knownKinds[f.Message.Kind] {
		return nil, ErrUnknownKind
	}
	return &f, nil
}

// DecodeMessage parses a decrypted plaintext back into a Message.
func DecodeMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wire: decode message: %w", err)
	}
	if !knownKinds[m.Kind] {
		return nil, ErrUnknownKind
	}
	return &m, nil
}

// Move extracts a move payload.
func (m *Message) Move() (*MovePayload, error) {
	if len(m.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var p MovePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("wire: move payload: %w", err)
	}
	return &p, nil
}

// Chat extracts a chat payload.
func (m *Message) Chat() (*ChatPayload, error) {
	if len(m.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var p ChatPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("wire: chat payload: %w", err)
	}
	return &p, nil
}

// KeyBundle extracts a key bundle payload.
func (m *Message) KeyBundle() (*BundlePayload, error) {
	if len(m.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var p BundlePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("wire: bundle payload: %w", err)
	}
	return &p, nil
}
