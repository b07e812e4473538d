package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

var validate = validator.New()

// UtteranceRequest is the body of POST /api/utterance.
type UtteranceRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.State())
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return c.JSON(s.conversation)
}

func (s *Server) handleGetDetections(c *fiber.Ctx) error {
	return c.JSON(s.latestDetections())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if s.ctrl == nil {
		return errNoController(c)
	}
	s.ctrl.Start()
	s.AddLog("control", "start")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

func (s *Server) handleAdvance(c *fiber.Ctx) error {
	if s.ctrl == nil {
		return errNoController(c)
	}
	s.ctrl.AdvanceStep()
	s.AddLog("control", "advance")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

func (s *Server) handleUtterance(c *fiber.Ctx) error {
	if s.ctrl == nil {
		return errNoController(c)
	}
	var req UtteranceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	s.ctrl.HandleUtterance(req.Text)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

func errNoController(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "controller not configured"})
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.statusHub.Serve(c, mustJSON(envelope{Type: "status", Data: s.State()}))
}

func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	initial := make([][]byte, 0, len(s.logs))
	for _, entry := range s.logs {
		initial = append(initial, mustJSON(entry))
	}
	s.logsMu.RUnlock()
	s.logHub.Serve(c, initial...)
}

func (s *Server) handleDetectionsWS(c *websocket.Conn) {
	s.detectionsHub.Serve(c, mustJSON(s.latestDetections()))
}
