package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lumina-be/internal/dto"
	"lumina-be/internal/pkg/logger"
	"lumina-be/internal/repository/memory"
	"lumina-be/internal/service"
	internalWS "lumina-be/internal/websocket"
	"lumina-be/pkg/facilitation"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const handlerModule = "FacilitationHandler"

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoSupervisors  = errors.New("no supervisor connected")
)

type FacilitationHandler struct {
	hub      *internalWS.Hub
	alerts   service.IAlertService
	sessions *memory.SessionRepository
	cfg      facilitation.Config
	deps     facilitation.Dependencies
	validate *validator.Validate
	logger   logger.ILogger
}

// NewFacilitationHandler serves group and supervisor connections. Every group connection
// gets its own session built from cfg and deps; deps.Observer is replaced by the session
// repository.
func NewFacilitationHandler(
	hub *internalWS.Hub,
	alerts service.IAlertService,
	sessions *memory.SessionRepository,
	cfg facilitation.Config,
	deps facilitation.Dependencies,
	log logger.ILogger,
) *FacilitationHandler {
	deps.Observer = sessions.Observe
	if deps.Alerts == nil {
		deps.Alerts = alerts
	}
	if deps.Logger == nil {
		deps.Logger = log
	}
	return &FacilitationHandler{
		hub:      hub,
		alerts:   alerts,
		sessions: sessions,
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		logger:   log,
	}
}

// ServeWs upgrades the request. ?channel=supervisor (or teacher) joins the supervisor
// category; anything else is a discussion group.
func (h *FacilitationHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	category := internalWS.ParseCategory(c.Query("channel"))

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(handlerModule, "Starting WebSocket session", map[string]interface{}{"category": string(category)})
		internalWS.ServeWs(h.hub, conn, category, h.attach)
		h.logger.Info(handlerModule, "WebSocket session ended", map[string]interface{}{"category": string(category)})
	})(c)
}

func (h *FacilitationHandler) attach(client *internalWS.Client) internalWS.MessageHandler {
	if client.Category != internalWS.CategoryGroup {
		return h.onSupervisorMessage
	}
	client.Session = facilitation.NewSession(client.ID, client, h.cfg, h.deps)
	return h.onGroupMessage
}

func (h *FacilitationHandler) onSupervisorMessage(c *internalWS.Client, _ int, _ []byte) {
	h.logger.Debug(handlerModule, "Ignoring supervisor frame", map[string]interface{}{"client_id": c.ID})
}

func (h *FacilitationHandler) onGroupMessage(c *internalWS.Client, messageType int, data []byte) {
	var err error
	switch messageType {
	case websocket.BinaryMessage:
		err = c.Session.Dispatch(facilitation.AudioFragment{Data: data})
	case websocket.TextMessage:
		err = h.dispatchText(c.Session, data)
	default:
		return
	}
	if err == nil {
		return
	}

	h.logger.Warn(handlerModule, "Rejected client message", map[string]interface{}{
		"client_id": c.ID,
		"error":     err.Error(),
	})
	if sendErr := c.SendJSON(facilitation.NewErrorMessage(err)); sendErr != nil {
		h.logger.Debug(handlerModule, "Error reply dropped", map[string]interface{}{"client_id": c.ID, "error": sendErr.Error()})
	}
}

func (h *FacilitationHandler) dispatchText(session *facilitation.Session, data []byte) error {
	var env dto.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if err := h.validate.Struct(env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch strings.ToUpper(env.Type) {
	case dto.InboundInit:
		var payload dto.InitPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return fmt.Errorf("invalid INIT payload: %w", err)
			}
		}
		if err := h.validate.Struct(payload); err != nil {
			return fmt.Errorf("invalid INIT payload: %w", err)
		}
		return session.Dispatch(payload.ToEvent())
	case dto.InboundAck:
		return session.Dispatch(facilitation.Acknowledge{Speak: true})
	case dto.InboundDismiss:
		return session.Dispatch(facilitation.Acknowledge{Speak: false})
	default:
		return fmt.Errorf("%w %q", ErrUnknownMessage, env.Type)
	}
}

// PostAlert forwards a manual alert to every supervisor connection.
func (h *FacilitationHandler) PostAlert(c *fiber.Ctx) error {
	var req dto.AlertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.ErrEmptyAlert.Error()})
	}

	live := h.alerts.SupervisorCount()
	if live == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrNoSupervisors.Error()})
	}

	alert := facilitation.SupervisorAlert{Type: facilitation.AlertTypeManual, Message: req.Message}
	if err := h.alerts.RaiseAlert(c.UserContext(), alert); err != nil {
		h.logger.Error(handlerModule, "Failed to raise alert", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(dto.AlertResponse{Status: "Alert sent", Supervisors: live})
}

// ListGroups returns the latest snapshot of every live group session.
func (h *FacilitationHandler) ListGroups(c *fiber.Ctx) error {
	groups := h.sessions.List()
	return c.JSON(dto.GroupsResponse{Data: groups, Total: len(groups)})
}

func (h *FacilitationHandler) GetGroup(c *fiber.Ctx) error {
	snap, ok := h.sessions.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Group not found"})
	}
	return c.JSON(snap)
}

func (h *FacilitationHandler) Health(c *fiber.Ctx) error {
	return c.JSON(dto.HealthResponse{
		Status:      "ok",
		Groups:      h.hub.Count(internalWS.CategoryGroup),
		Supervisors: h.hub.Count(internalWS.CategorySupervisor),
		Time:        time.Now().UTC(),
	})
}

// RegisterRoutes mounts the websocket endpoint on the root and the REST routes under /api.
func (h *FacilitationHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/ws", h.ServeWs)

	api := app.Group("/api")
	api.Get("/ws", h.ServeWs)
	api.Post("/alert", h.PostAlert)
	api.Get("/groups", h.ListGroups)
	api.Get("/groups/:id", h.GetGroup)
	api.Get("/health", h.Health)
}
