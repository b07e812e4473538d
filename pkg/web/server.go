// Package web serves the live dashboard and the control API.
//
// Server implements sink.Sink, so it can be fanned out to alongside the
// other presentation sinks. State, logs, the conversation and the latest
// detection set are kept in memory and pushed to websocket clients through
// one hub per stream.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/hub"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/sink"
)

// Controller receives commands from the dashboard.
type Controller interface {
	Start()
	AdvanceStep()
	HandleUtterance(text string)
}

// DashboardState is what the dashboard shows about the conversation.
type DashboardState struct {
	State          string                 `json:"state"`
	Step           *procedure.StepContext `json:"step,omitempty"`
	Highlight      string                 `json:"highlight,omitempty"`
	Completed      bool                   `json:"completed"`
	DetectionCount int                    `json:"detection_count"`
	Listening      bool                   `json:"listening"`
	Partial        string                 `json:"partial,omitempty"`
	LastUser       string                 `json:"last_user_message,omitempty"`
	LastAssistant  string                 `json:"last_assistant_message,omitempty"`
}

// LogEntry is a dashboard log line.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConversationEntry is one turn of the transcript.
type ConversationEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Config configures the server.
type Config struct {
	Addr string

	// StaticDir is served at / when set.
	StaticDir string

	MaxLogs         int
	MaxConversation int
	Logger          *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxLogs:         500,
		MaxConversation: 100,
		Logger:          slog.Default(),
	}
}

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	cfg    Config
	ctrl   Controller
	logger *slog.Logger

	stateMu sync.RWMutex
	state   DashboardState

	logsMu sync.RWMutex
	logs   []LogEntry

	conversationMu sync.RWMutex
	conversation   []ConversationEntry

	detectionsMu sync.RWMutex
	detections   detection.Set

	statusHub     *hub.Hub
	logHub        *hub.Hub
	detectionsHub *hub.Hub
}

var _ sink.Sink = (*Server)(nil)

// NewServer creates the server. ctrl may be nil, in which case the control
// endpoints answer 503.
func NewServer(cfg Config, ctrl Controller) *Server {
	d := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.MaxLogs <= 0 {
		cfg.MaxLogs = d.MaxLogs
	}
	if cfg.MaxConversation <= 0 {
		cfg.MaxConversation = d.MaxConversation
	}
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}

	s := &Server{
		cfg:           cfg,
		ctrl:          ctrl,
		logger:        cfg.Logger.With("component", "web"),
		state:         DashboardState{State: "Initializing"},
		logs:          make([]LogEntry, 0, cfg.MaxLogs),
		conversation:  make([]ConversationEntry, 0, cfg.MaxConversation),
		statusHub:     hub.New("status", cfg.Logger),
		logHub:        hub.New("logs", cfg.Logger),
		detectionsHub: hub.New("detections", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "MechAI Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/conversation", s.handleGetConversation)
	api.Get("/detections", s.handleGetDetections)
	api.Post("/start", s.handleStart)
	api.Post("/advance", s.handleAdvance)
	api.Post("/utterance", s.handleUtterance)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))

	s.app = app
	return s
}

// SetController sets the command target. Call before Run.
func (s *Server) SetController(ctrl Controller) { s.ctrl = ctrl }

// App returns the fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
	go s.detectionsHub.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listen(s.cfg.Addr) }()
	s.logger.Info("dashboard listening", "addr", s.cfg.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

// State returns a copy of the dashboard state.
func (s *Server) State() DashboardState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// UpdateState applies update and broadcasts the result.
func (s *Server) UpdateState(update func(*DashboardState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.broadcast(s.statusHub, envelope{Type: "status", Data: state})
}

// AddLog appends a dashboard log line.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{Time: time.Now().Format("15:04:05"), Type: logType, Message: message}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > s.cfg.MaxLogs {
		s.logs = s.logs[len(s.logs)-s.cfg.MaxLogs:]
	}
	s.logsMu.Unlock()

	s.broadcast(s.logHub, entry)
}

func (s *Server) addConversation(role, message string) {
	entry := ConversationEntry{Time: time.Now().Format("15:04:05"), Role: role, Message: message}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > s.cfg.MaxConversation {
		s.conversation = s.conversation[len(s.conversation)-s.cfg.MaxConversation:]
	}
	s.conversationMu.Unlock()
}

// SpeechLevel forwards the assistant's speech loudness (0..1) to status
// clients.
func (s *Server) SpeechLevel(level float64) {
	s.broadcast(s.statusHub, envelope{Type: "level", Data: level})
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) broadcast(h *hub.Hub, v any) {
	if err := h.BroadcastJSON(v); err != nil {
		s.logger.Warn("broadcast", "error", err)
	}
}

func (s *Server) StateChanged(old, new string) {
	s.UpdateState(func(st *DashboardState) { st.State = new })
	s.AddLog("state", old+" → "+new)
}

func (s *Server) StepChanged(step *procedure.StepContext) {
	var cp *procedure.StepContext
	if step != nil {
		c := *step
		cp = &c
	}
	s.UpdateState(func(st *DashboardState) {
		st.Step = cp
		if cp != nil {
			st.Completed = false
		}
	})
	if cp != nil {
		s.AddLog("step", cp.StepTitle)
	}
}

func (s *Server) Transcript(role, text string) {
	s.addConversation(role, text)
	s.UpdateState(func(st *DashboardState) {
		switch role {
		case sink.RoleUser:
			st.LastUser = text
			st.Partial = ""
		default:
			st.LastAssistant = text
		}
	})
	s.AddLog("speech", role+": "+text)
}

func (s *Server) Partial(text string) {
	s.UpdateState(func(st *DashboardState) { st.Partial = text })
}

func (s *Server) Detections(set detection.Set) {
	set = set.Clone()
	s.detectionsMu.Lock()
	s.detections = set
	s.detectionsMu.Unlock()

	s.stateMu.Lock()
	s.state.DetectionCount = set.Len()
	s.stateMu.Unlock()

	s.broadcast(s.detectionsHub, set)
}

func (s *Server) Highlight(class string) {
	s.UpdateState(func(st *DashboardState) { st.Highlight = class })
}

func (s *Server) Completed() {
	s.UpdateState(func(st *DashboardState) { st.Completed = true })
	s.AddLog("info", "procedure completed")
}

func (s *Server) latestDetections() detection.Set {
	s.detectionsMu.RLock()
	defer s.detectionsMu.RUnlock()
	return s.detections.Clone()
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
