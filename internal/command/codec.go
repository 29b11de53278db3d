package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go2tv.app/beam-remote/internal/domain"
)

var errMissingType = errors.New("missing type")

// DecodeError reports a payload that is not a valid command object.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("decode command: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type wireCommand struct {
	Type    *string `json:"type"`
	VideoID string  `json:"videoId,omitempty"`
	URL     string  `json:"url,omitempty"`
}

// Decode parses one event payload. Unknown types decode to
// domain.UnrecognizedCommand; only malformed payloads return an error.
func Decode(payload string) (domain.Command, error) {
	trimmed := bytes.TrimSpace([]byte(payload))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Payload: payload, Err: errors.New("payload is not a JSON object")}
	}

	var wire wireCommand
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, &DecodeError{Payload: payload, Err: err}
	}
	if wire.Type == nil || *wire.Type == "" {
		return nil, &DecodeError{Payload: payload, Err: errMissingType}
	}

	switch *wire.Type {
	case domain.CommandTypeYoutube:
		return domain.YoutubeCommand{VideoID: wire.VideoID}, nil
	case domain.CommandTypeStream, domain.CommandTypeStreamAlt:
		return domain.StreamCommand{URL: wire.URL}, nil
	case domain.CommandTypeStop:
		return domain.StopCommand{}, nil
	case domain.CommandTypeHeartbeat:
		return domain.HeartbeatCommand{}, nil
	default:
		return domain.UnrecognizedCommand{RawType: *wire.Type}, nil
	}
}

// Encode renders a command in wire form. The server side and tests use it to
// produce payloads.
func Encode(cmd domain.Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("command is nil")
	}

	kind := cmd.Type()
	wire := wireCommand{Type: &kind}
	switch c := cmd.(type) {
	case domain.YoutubeCommand:
		wire.VideoID = c.VideoID
	case domain.StreamCommand:
		wire.URL = c.URL
	}
	return json.Marshal(wire)
}
