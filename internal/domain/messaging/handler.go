package messaging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/companion/companion/internal/platform/auth"
)

// assistantReplyTimeout bounds the background completion round-trip spawned
// after an AI-thread send.
const assistantReplyTimeout = 60 * time.Second

// AssistantResponder generates and persists the assistant's reply to a user
// message. Implemented by the assistant domain; nil disables replies.
type AssistantResponder interface {
	Respond(ctx context.Context, userID uuid.UUID, userText string) error
}

// Handler exposes the two conversation threads and the dashboard summary.
type Handler struct {
	manager   *SessionManager
	responder AssistantResponder
	logger    zerolog.Logger
}

func NewHandler(manager *SessionManager, responder AssistantResponder, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		responder: responder,
		logger:    logger.With().Str("handler", "messaging").Logger(),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/messages/doctor", h.DoctorThread)
	g.GET("/messages/ai", h.AIThread)
	g.POST("/messages", h.Send)
	g.POST("/messages/read", h.MarkRead)
	g.GET("/dashboard/messages", h.Dashboard)
}

func (h *Handler) session(c echo.Context) *SessionSync {
	ctx := c.Request().Context()
	return h.manager.ForSession(auth.SessionIDFromContext(ctx), auth.UserIDFromContext(ctx))
}

type threadResponse struct {
	Messages []Bubble `json:"messages"`
	Error    string   `json:"error,omitempty"`
}

func (h *Handler) loadThread(c echo.Context, kind ThreadKind) error {
	sync := h.session(c)

	bubbles, err := sync.LoadThread(c.Request().Context(), kind)
	if err != nil {
		if errors.Is(err, ErrNoDoctor) {
			// No assignment yet; an empty thread, not an error.
			return c.JSON(http.StatusOK, threadResponse{Messages: []Bubble{}})
		}
		// Keep the last good list visible alongside the error state.
		return c.JSON(http.StatusOK, threadResponse{Messages: bubbles, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, threadResponse{Messages: bubbles})
}

func (h *Handler) DoctorThread(c echo.Context) error {
	return h.loadThread(c, KindDoctor)
}

func (h *Handler) AIThread(c echo.Context) error {
	return h.loadThread(c, KindAI)
}

type sendRequest struct {
	Thread  ThreadKind `json:"thread"`
	Content string     `json:"content"`
	TypeID  int        `json:"type_id"`
}

func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Thread != KindDoctor && req.Thread != KindAI {
		return echo.NewHTTPError(http.StatusBadRequest, "thread must be doctor or ai")
	}

	sync := h.session(c)
	userID := auth.UserIDFromContext(c.Request().Context())

	bubble, err := sync.Send(c.Request().Context(), req.Thread, req.Content, req.TypeID)
	if err != nil {
		if errors.Is(err, ErrNoDoctor) {
			return echo.NewHTTPError(http.StatusConflict, ErrNoDoctor.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Thread == KindAI && h.responder != nil {
		go func(content string) {
			ctx, cancel := context.WithTimeout(context.Background(), assistantReplyTimeout)
			defer cancel()
			if err := h.responder.Respond(ctx, userID, content); err != nil {
				h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("assistant reply failed")
			}
		}(bubble.Content)
	}

	return c.JSON(http.StatusCreated, bubble)
}

type markReadRequest struct {
	Thread ThreadKind `json:"thread"`
}

func (h *Handler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Thread != KindDoctor && req.Thread != KindAI {
		return echo.NewHTTPError(http.StatusBadRequest, "thread must be doctor or ai")
	}

	sync := h.session(c)
	if err := sync.MarkRead(c.Request().Context(), req.Thread); err != nil {
		if errors.Is(err, ErrNoDoctor) {
			return c.JSON(http.StatusOK, map[string]string{"status": "no-op"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "read"})
}

func (h *Handler) Dashboard(c echo.Context) error {
	sync := h.session(c)

	summary, err := sync.Dashboard(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}
