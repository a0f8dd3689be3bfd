package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned when the wire discriminator does not match
// any event the core understands.
var ErrUnknownMessage = errors.New("events: unknown message type")

// Decode parses a raw wire message into its typed event. It is the single
// place wire JSON is interpreted; everything past this boundary works with
// the closed event types of this package.
func Decode(raw []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}

	switch head.Type {
	case "tts":
		var msg struct {
			State string `json:"state"`
			Text  string `json:"text"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse tts message: %w", err)
		}
		switch msg.State {
		case "start":
			return NewTtsStarted(), nil
		case "stop":
			return NewTtsStopped(), nil
		case "sentence_start":
			return NewTtsSentence(msg.Text), nil
		default:
			return nil, fmt.Errorf("%w: tts state %q", ErrUnknownMessage, msg.State)
		}

	case "stt":
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse stt message: %w", err)
		}
		return NewSttResult(msg.Text), nil

	case "llm":
		var msg struct {
			Emotion string `json:"emotion"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse llm message: %w", err)
		}
		return NewLlmEmotion(msg.Emotion), nil

	case "mcp":
		var msg struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse mcp message: %w", err)
		}
		return NewMcpMessage(msg.Payload), nil

	case "system":
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse system message: %w", err)
		}
		return NewSystemCommand(msg.Command), nil

	case "alert":
		var msg struct {
			Status  string `json:"status"`
			Message string `json:"message"`
			Emotion string `json:"emotion"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse alert message: %w", err)
		}
		if msg.Status == "" || msg.Message == "" || msg.Emotion == "" {
			return nil, fmt.Errorf("%w: alert requires status, message and emotion", ErrUnknownMessage)
		}
		return NewAlertNotice(msg.Status, msg.Message, msg.Emotion), nil

	case "custom":
		var msg struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse custom message: %w", err)
		}
		return NewCustomMessage(msg.Payload), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, head.Type)
}
