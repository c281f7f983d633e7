package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validation errors returned by ParseRequest. Each maps to a private error
// envelope; none of them ends the session.
var (
	ErrMalformedFrame  = errors.New("malformed message")
	ErrEmptyChat       = errors.New("empty chat message")
	ErrIllegalResource = errors.New("illegal resource address")
	ErrRateLimited     = errors.New("sending too fast")
)

// UnknownKindError reports an inbound frame whose type is not understood.
type UnknownKindError struct {
	Type string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.Type)
}

// Request is a validated inbound frame. The concrete types are ChatRequest,
// ResourceRequest and ParticipantsRequest.
type Request interface {
	request()
}

// ChatRequest asks for Text to be broadcast as a chat message.
type ChatRequest struct {
	Text string
}

// ResourceRequest asks for an uploaded image or file to be broadcast.
type ResourceRequest struct {
	Kind Kind
	URL  string
	Name string
}

// ParticipantsRequest asks for the roster to be re-broadcast.
type ParticipantsRequest struct{}

func (ChatRequest) request()         {}
func (ResourceRequest) request()     {}
func (ParticipantsRequest) request() {}

type inboundFrame struct {
	Type *string        `json:"type"`
	Data json.RawMessage `json:"data"`
	Name string          `json:"name"`
}

// ParseRequest decodes and validates one inbound frame. Resource URLs must
// start with one of allowedPrefixes.
func ParseRequest(raw []byte, allowedPrefixes []string) (Request, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	kind := KindChat
	if frame.Type != nil {
		kind = Kind(*frame.Type)
	}

	switch kind {
	case KindChat:
		text, ok := stringData(frame.Data)
		if !ok {
			return nil, ErrEmptyChat
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, ErrEmptyChat
		}
		return ChatRequest{Text: text}, nil

	case KindImage, KindFile:
		ref, ok := stringData(frame.Data)
		ref = strings.TrimSpace(ref)
		if !ok || !hasAllowedPrefix(ref, allowedPrefixes) {
			return nil, ErrIllegalResource
		}
		return ResourceRequest{Kind: kind, URL: ref, Name: strings.TrimSpace(frame.Name)}, nil

	case KindParticipants:
		return ParticipantsRequest{}, nil

	default:
		return nil, &UnknownKindError{Type: string(kind)}
	}
}

func stringData(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

// hasAllowedPrefix reports whether ref lies under one of prefixes. Any "."
// or ".." path segment, escaped or not, disqualifies it; dots inside a
// segment such as "a..b.pdf" do not.
func hasAllowedPrefix(ref string, prefixes []string) bool {
	if strings.Contains(ref, "\\") {
		return false
	}
	for _, segment := range strings.Split(ref, "/") {
		unescaped, err := url.PathUnescape(segment)
		if err != nil || unescaped == "." || unescaped == ".." {
			return false
		}
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(ref, prefix) && len(ref) > len(prefix) {
			return true
		}
	}
	return false
}
