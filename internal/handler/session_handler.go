package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

const (
	requestContextKey = "request_ctx"
	streamWriteWait   = 10 * time.Second
)

// Frame types written to session stream clients.
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
	FrameSession  = "session"
	FrameError    = "error"
)

// SessionFrame is one server-to-client websocket message.
type SessionFrame struct {
	Type    string               `json:"type"`
	Session *dto.SessionResponse `json:"session,omitempty"`
	Event   *service.DomainEvent `json:"event,omitempty"`
	Status  int                  `json:"status,omitempty"`
	Message string               `json:"message,omitempty"`
}

// SessionCommand is one client-to-server websocket message.
type SessionCommand struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Detail string `json:"detail"`
}

// SessionHandler exposes the timed session lifecycle over REST and a
// websocket stream.
type SessionHandler struct {
	service service.SessionService
	logger  zerolog.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(service service.SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register wires session routes.
func (h *SessionHandler) Register(router fiber.Router) {
	signedIn := middleware.AuthOptions{RequireUser: true}

	router.Post("/start", middleware.WithAuth(h.start, signedIn))
	router.Get("/:id", middleware.WithAuth(h.get, signedIn))
	router.Post("/:id/heartbeat", middleware.WithAuth(h.heartbeat, signedIn))
	router.Post("/:id/events", middleware.WithAuth(h.recordEvent, signedIn))
	router.Post("/:id/end", middleware.WithAuth(h.end, signedIn))
	router.Get("/:id/ws", middleware.WithAuth(h.upgrade, signedIn), websocket.New(h.stream))
}

func (h *SessionHandler) start(c *fiber.Ctx) error {
	var payload dto.SessionStartRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	device := service.DeviceInfo{UserAgent: c.Get(fiber.HeaderUserAgent), IPAddress: c.IP()}
	response, err := h.service.Start(requestContext(c), principalFromContext(c), payload, device)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "session started", response)
}

type sessionAction func(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error)

func (h *SessionHandler) run(c *fiber.Ctx, message string, action sessionAction) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	session, err := action(requestContext(c), principalFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, message, session)
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	return h.run(c, "session retrieved", h.service.Get)
}

func (h *SessionHandler) heartbeat(c *fiber.Ctx) error {
	return h.run(c, "heartbeat recorded", h.service.Heartbeat)
}

func (h *SessionHandler) end(c *fiber.Ctx) error {
	return h.run(c, "session ended", h.service.End)
}

func (h *SessionHandler) recordEvent(c *fiber.Ctx) error {
	var payload dto.ProctoringEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	return h.run(c, "event recorded", func(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error) {
		return h.service.RecordEvent(ctx, actor, id, payload)
	})
}

func (h *SessionHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := parseUintParam(c, "id"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	c.Locals(requestContextKey, requestContext(c))
	return c.Next()
}

// stream sends a snapshot, then forwards session events until the session
// closes or the client disconnects. Clients may send heartbeat and
// proctoring commands on the same socket.
func (h *SessionHandler) stream(conn *websocket.Conn) {
	ctx, _ := conn.Locals(requestContextKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	actor := websocketPrincipal(conn)
	parsed, _ := strconv.ParseUint(conn.Params("id"), 10, 64)
	id := uint(parsed)
	logger := h.logger.With().Uint("session_id", id).Uint("user_id", actor.ID).Logger()

	var writeMu sync.Mutex
	write := func(frame SessionFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(frame)
	}
	closeWith := func(code int, reason string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(streamWriteWait))
		_ = conn.Close()
	}

	snapshot, events, unsubscribe, err := h.service.Watch(ctx, actor, id)
	if err != nil {
		status := statusForError(err)
		_ = write(SessionFrame{Type: FrameError, Status: status, Message: streamErrorMessage(err, status)})
		closeWith(4000+status, fmt.Sprintf("status %d", status))
		return
	}
	defer unsubscribe()

	observability.SessionStreamsActive().Inc()
	defer observability.SessionStreamsActive().Dec()
	logger.Info().Msg("session stream connected")
	defer logger.Info().Msg("session stream disconnected")

	if err := write(SessionFrame{Type: FrameSnapshot, Session: &snapshot}); err != nil {
		return
	}
	if snapshot.Status != models.SessionStatusActive {
		closeWith(websocket.CloseNormalClosure, "session closed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var command SessionCommand
			if err := conn.ReadJSON(&command); err != nil {
				return
			}
			if err := write(h.handleCommand(ctx, actor, id, command)); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				closeWith(websocket.CloseGoingAway, "stream closed")
				<-done
				return
			}
			if err := write(SessionFrame{Type: FrameEvent, Event: &event}); err != nil {
				closeWith(websocket.CloseInternalServerErr, "write failed")
				<-done
				return
			}
			if event.Type == service.EventSessionEnded || event.Type == service.EventSessionExpired {
				closeWith(websocket.CloseNormalClosure, "session closed")
				<-done
				return
			}
		}
	}
}

func (h *SessionHandler) handleCommand(ctx context.Context, actor access.Principal, id uint, command SessionCommand) SessionFrame {
	var (
		session dto.SessionResponse
		err     error
	)

	switch command.Type {
	case "heartbeat":
		session, err = h.service.Heartbeat(ctx, actor, id)
	case "proctoring":
		session, err = h.service.RecordEvent(ctx, actor, id, dto.ProctoringEventRequest{Type: command.Event, Detail: command.Detail})
	default:
		return SessionFrame{Type: FrameError, Status: fiber.StatusBadRequest, Message: "unknown command"}
	}

	if err != nil {
		status := statusForError(err)
		if status == fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Uint("session_id", id).Msg("session command failed")
		}
		return SessionFrame{Type: FrameError, Status: status, Message: streamErrorMessage(err, status)}
	}
	return SessionFrame{Type: FrameSession, Session: &session}
}

func streamErrorMessage(err error, status int) string {
	var validationErrs validator.ValidationErrors
	switch {
	case status == fiber.StatusInternalServerError:
		return "internal server error"
	case errors.As(err, &validationErrs):
		return "validation failed"
	}
	return err.Error()
}

func websocketPrincipal(conn *websocket.Conn) access.Principal {
	principal := access.Principal{}
	if id, ok := conn.Locals(middleware.LocalUserID).(uint); ok {
		principal.ID = id
	}
	if role, ok := conn.Locals(middleware.LocalUserRole).(string); ok {
		principal.Role = role
	}
	if email, ok := conn.Locals(middleware.LocalUserEmail).(string); ok {
		principal.Email = email
	}
	return principal
}
