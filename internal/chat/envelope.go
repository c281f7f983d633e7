// Package chat implements the shared chat state of MiniChat: the message
// envelope model, the bounded history buffer, the participant roster, the
// connection manager that fans messages out to live sessions, and the
// per-connection session handler that drives it.
package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// Kind identifies the type of a message envelope. It is carried on the wire
// in the "type" field.
type Kind string

// Message kinds understood by the relay.
const (
	KindChat         Kind = "chat"
	KindImage        Kind = "image"
	KindFile         Kind = "file"
	KindSystem       Kind = "system"
	KindHistory      Kind = "history"
	KindParticipants Kind = "participants"
	KindError        Kind = "error"
)

// TimestampLayout is the fixed format of the "ts" field.
const TimestampLayout = time.RFC3339

// Retained reports whether envelopes of this kind are kept in the history
// buffer. System notices are ephemeral and never replayed to joiners.
func (k Kind) Retained() bool {
	switch k {
	case KindChat, KindImage, KindFile:
		return true
	default:
		return false
	}
}

// Envelope is one message delivered to clients. Which payload field is
// meaningful depends on Kind:
//
//	chat, system, error  Text
//	image, file          Text (resource URL) and optional Name
//	history              History
//	participants         Names
type Envelope struct {
	Kind      Kind
	Sender    string
	Text      string
	Name      string
	History   []Envelope
	Names     []string
	Timestamp string
}

type wireEnvelope struct {
	Type Kind            `json:"type"`
	User string          `json:"user,omitempty"`
	Data json.RawMessage `json:"data"`
	Name string          `json:"name,omitempty"`
	TS   string          `json:"ts,omitempty"`
}

// NewChat builds a chat envelope from sender with the given text.
func NewChat(sender, text string) Envelope {
	return Envelope{Kind: KindChat, Sender: sender, Text: text}
}

// NewResource builds an image or file envelope referencing url.
func NewResource(kind Kind, sender, url, name string) Envelope {
	return Envelope{Kind: kind, Sender: sender, Text: url, Name: name}
}

// NewSystem builds a system notice.
func NewSystem(text string) Envelope {
	return Envelope{Kind: KindSystem, Text: text}
}

// NewError builds a private rejection notice.
func NewError(reason string) Envelope {
	return Envelope{Kind: KindError, Text: reason}
}

// MarshalJSON encodes the envelope in its wire shape:
// {"type", "user", "data", "name", "ts"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindHistory:
		history := e.History
		if history == nil {
			history = []Envelope{}
		}
		payload = history
	case KindParticipants:
		names := e.Names
		if names == nil {
			names = []string{}
		}
		payload = names
	default:
		payload = e.Text
	}

	data, err := encode(payload)
	if err != nil {
		return nil, err
	}

	return encode(wireEnvelope{
		Type: e.Kind,
		User: e.Sender,
		Data: data,
		Name: e.Name,
		TS:   e.Timestamp,
	})
}

// Encode renders the envelope as a single wire frame.
func (e Envelope) Encode() ([]byte, error) {
	return e.MarshalJSON()
}

// encode marshals v without HTML escaping so chat text such as "<3" or "a&b"
// reaches clients unchanged.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
