package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by SendAudio with no live connection.
var ErrNotConnected = errors.New("speech: stream not connected")

// Handler receives speech-engine events. Bridge implements it.
type Handler interface {
	HandleFinal(text string)
	HandlePartial(text string)
	HandleVoiceActivity(active bool)
}

// StreamConfig configures the STT websocket client.
type StreamConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	HandshakeTimeout time.Duration

	// ReadTimeout closes a silent connection. The server is expected to ping.
	ReadTimeout time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       15 * time.Second,
		Logger:           slog.Default(),
	}
}

// Stream is a reconnecting websocket client for a streaming STT service.
type Stream struct {
	config  StreamConfig
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	connected atomic.Bool
	received  atomic.Int64
}

// sttMessage is the wire format in both directions.
type sttMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Active  *bool  `json:"active,omitempty"`
	EventID int    `json:"event_id,omitempty"`
}

// NewStream creates a stream client.
func NewStream(cfg StreamConfig, handler Handler) (*Stream, error) {
	if cfg.URL == "" {
		return nil, errors.New("speech: stream URL required")
	}
	if handler == nil {
		return nil, errors.New("speech: stream handler required")
	}
	def := DefaultStreamConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Stream{
		config:  cfg,
		handler: handler,
		logger:  cfg.Logger.With("component", "speech.stream"),
	}, nil
}

// Run connects and reads until ctx ends, reconnecting with exponential
// backoff. It always returns ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.config.MinBackoff
	for {
		live, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if live {
			backoff = s.config.MinBackoff
		}
		s.logger.Warn("stt stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.config.MaxBackoff)
	}
}

// Connected reports whether a connection is live.
func (s *Stream) Connected() bool { return s.connected.Load() }

// Received returns the number of messages read.
func (s *Stream) Received() int64 { return s.received.Load() }

// SendAudio forwards raw audio to the STT service as a binary message.
func (s *Stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// session runs one connection. live reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context) (live bool, err error) {
	header := http.Header{}
	if s.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.config.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.logger.Info("stt stream connected", "url", s.config.URL)

	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.connected.Store(false)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			s.mu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("stt stream closed normally")
				return true, nil
			}
			return true, fmt.Errorf("read failed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.received.Add(1)

		var msg sttMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("failed to parse message", "error", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(msg sttMessage) {
	switch msg.Type {
	case "final":
		s.handler.HandleFinal(msg.Text)
	case "partial":
		s.handler.HandlePartial(msg.Text)
	case "vad":
		if msg.Active != nil {
			s.handler.HandleVoiceActivity(*msg.Active)
		}
	case "ping":
		s.sendPong(msg.EventID)
	default:
		s.logger.Debug("unhandled message type", "type", msg.Type)
	}
}

func (s *Stream) sendPong(eventID int) {
	data, _ := json.Marshal(sttMessage{Type: "pong", EventID: eventID})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	_ = s.conn.WriteMessage(websocket.TextMessage, data)
}
