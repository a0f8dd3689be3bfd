// Package websocket implements the protocols.Session contract over a single
// websocket connection. A connection is dialed per audio channel: opening the
// channel performs the hello handshake, closing it says goodbye and tears the
// connection down.
package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/junodevice/juno-core/core/events"
	"github.com/junodevice/juno-core/core/protocols"
)

const helloTimeout = 10 * time.Second

type Config struct {
	URL         string
	AccessToken string
	DeviceID    string
	ClientID    string

	// Audio parameters advertised in the client hello.
	SampleRate    int
	FrameDuration int
}

type Session struct {
	config    Config
	callbacks protocols.Callbacks

	connMu sync.Mutex
	conn   *websocket.Conn

	sessionID        string
	serverSampleRate int
	helloReceived    chan struct{}
}

var _ protocols.Session = (*Session)(nil)

func NewSession(config Config) *Session {
	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.FrameDuration == 0 {
		config.FrameDuration = 60
	}

	return &Session{config: config}
}

func (s *Session) SetCallbacks(callbacks protocols.Callbacks) {
	s.callbacks = callbacks
}

func (s *Session) Start() error {
	if s.config.URL == "" {
		return fmt.Errorf("websocket session requires a server url")
	}
	if s.callbacks.OnConnected != nil {
		s.callbacks.OnConnected()
	}
	return nil
}

// OpenAudioChannel dials the server and performs the hello handshake. It may
// block for up to the handshake timeout, so the core only calls it from a
// deferred task, never from a signal handler.
func (s *Session) OpenAudioChannel() bool {
	conn, err := s.connect()
	if err != nil {
		log.Println("Failed to open audio channel", "error", err)
		if s.callbacks.OnNetworkError != nil {
			s.callbacks.OnNetworkError(fmt.Sprintf("failed to connect: %v", err))
		}
		return false
	}

	s.connMu.Lock()
	s.conn = conn
	s.helloReceived = make(chan struct{})
	s.connMu.Unlock()

	go s.readAndProcessMessages(conn)

	if err := s.writeJSON(clientHello(s.config)); err != nil {
		log.Println("Failed to send client hello", "error", err)
		s.teardown(conn)
		return false
	}

	select {
	case <-s.helloReceived:
	case <-time.After(helloTimeout):
		if s.callbacks.OnNetworkError != nil {
			s.callbacks.OnNetworkError("timed out waiting for server hello")
		}
		s.teardown(conn)
		return false
	}

	if s.callbacks.OnAudioChannelOpened != nil {
		s.callbacks.OnAudioChannelOpened()
	}
	return true
}

func (s *Session) CloseAudioChannel() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	if err := s.writeJSON(map[string]string{
		"session_id": s.sessionID,
		"type":       "goodbye",
	}); err != nil {
		log.Println("Failed to send goodbye", "error", err)
	}
	s.teardown(conn)
}

func (s *Session) IsAudioChannelOpened() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

// SendAudio reports false when the frame could not be written; the core
// treats that as backpressure and stops draining its send queue.
func (s *Session) SendAudio(packet *protocols.AudioPacket) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, packet.Payload); err != nil {
		return false
	}
	return true
}

func (s *Session) SendStartListening(mode protocols.ListeningMode) {
	s.sendListenState("start", map[string]string{"mode": mode.String()})
}

func (s *Session) SendStopListening() {
	s.sendListenState("stop", nil)
}

func (s *Session) SendWakeWordDetected(wakeWord string) {
	s.sendListenState("detect", map[string]string{"text": wakeWord})
}

func (s *Session) SendAbortSpeaking(reason protocols.AbortReason) {
	msg := map[string]string{
		"session_id": s.sessionID,
		"type":       "abort",
	}
	if reason == protocols.AbortReasonWakeWordDetected {
		msg["reason"] = "wake_word_detected"
	}
	if err := s.writeJSON(msg); err != nil {
		log.Println("Failed to send abort", "error", err)
	}
}

func (s *Session) SendMcpMessage(payload string) {
	if err := s.writeJSON(map[string]json.RawMessage{
		"session_id": json.RawMessage(fmt.Sprintf("%q", s.sessionID)),
		"type":       json.RawMessage(`"mcp"`),
		"payload":    json.RawMessage(payload),
	}); err != nil {
		log.Println("Failed to send mcp message", "error", err)
	}
}

func (s *Session) ServerSampleRate() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.serverSampleRate == 0 {
		return s.config.SampleRate
	}
	return s.serverSampleRate
}

func (s *Session) Close() error {
	s.CloseAudioChannel()
	return nil
}

func (s *Session) connect() (*websocket.Conn, error) {
	header := http.Header{
		"Protocol-Version": {"1"},
		"Device-Id":        {s.config.DeviceID},
		"Client-Id":        {s.config.ClientID},
	}
	if s.config.AccessToken != "" {
		header.Set("Authorization", "Bearer "+s.config.AccessToken)
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to %s: %w", s.config.URL, err)
	}
	return conn, nil
}

func clientHello(config Config) any {
	return struct {
		Type        string `json:"type"`
		Version     int    `json:"version"`
		Transport   string `json:"transport"`
		AudioParams struct {
			Format        string `json:"format"`
			SampleRate    int    `json:"sample_rate"`
			Channels      int    `json:"channels"`
			FrameDuration int    `json:"frame_duration"`
		} `json:"audio_params"`
	}{
		Type:      "hello",
		Version:   1,
		Transport: string(protocols.TransportWebsocket),
		AudioParams: struct {
			Format        string `json:"format"`
			SampleRate    int    `json:"sample_rate"`
			Channels      int    `json:"channels"`
			FrameDuration int    `json:"frame_duration"`
		}{
			Format:        "opus",
			SampleRate:    config.SampleRate,
			Channels:      1,
			FrameDuration: config.FrameDuration,
		},
	}
}

func (s *Session) sendListenState(state string, extra map[string]string) {
	msg := map[string]string{
		"session_id": s.sessionID,
		"type":       "listen",
		"state":      state,
	}
	for key, value := range extra {
		msg[key] = value
	}
	if err := s.writeJSON(msg); err != nil {
		log.Println("Failed to send listen state", "state", state, "error", err)
	}
}

func (s *Session) writeJSON(msg any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("audio channel is not open")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to server: %w", err)
	}
	return nil
}

func (s *Session) teardown(conn *websocket.Conn) {
	s.connMu.Lock()
	stillCurrent := s.conn == conn
	if stillCurrent {
		s.conn = nil
	}
	s.connMu.Unlock()

	conn.Close()
	if stillCurrent && s.callbacks.OnAudioChannelClosed != nil {
		s.callbacks.OnAudioChannelClosed()
	}
}

func (s *Session) readAndProcessMessages(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Println("Failed to read websocket message", "error", err)
				if s.callbacks.OnNetworkError != nil {
					s.callbacks.OnNetworkError(fmt.Sprintf("connection lost: %v", err))
				}
			}
			s.teardown(conn)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if s.callbacks.OnIncomingAudio != nil {
				s.callbacks.OnIncomingAudio(&protocols.AudioPacket{Payload: msg})
			}
		case websocket.TextMessage:
			s.processMessage(msg)
		}
	}
}

func (s *Session) processMessage(msg []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.Println("Failed to unmarshal server message", "error", err)
		return
	}

	switch head.Type {
	case "hello":
		var hello struct {
			SessionID   string `json:"session_id"`
			AudioParams struct {
				SampleRate int `json:"sample_rate"`
			} `json:"audio_params"`
		}
		if err := json.Unmarshal(msg, &hello); err != nil {
			log.Println("Failed to unmarshal server hello", "error", err)
			return
		}
		s.connMu.Lock()
		s.sessionID = hello.SessionID
		if hello.AudioParams.SampleRate > 0 {
			s.serverSampleRate = hello.AudioParams.SampleRate
		}
		helloReceived := s.helloReceived
		s.helloReceived = nil
		s.connMu.Unlock()
		if helloReceived != nil {
			close(helloReceived)
		}

	case "goodbye":
		// Teardown happens when the server closes the connection.

	default:
		event, err := events.Decode(msg)
		if err != nil {
			log.Println("Ignoring server message", "error", err)
			return
		}
		if s.callbacks.OnIncomingEvent != nil {
			s.callbacks.OnIncomingEvent(event)
		}
	}
}
