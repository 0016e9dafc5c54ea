package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/companion/companion/internal/platform/auth"
)

// SessionRegistry is notified when an authenticated session begins or ends.
// The messaging sync manager uses it to start and stop per-session polling.
type SessionRegistry interface {
	Attach(sessionID string, userID uuid.UUID)
	Detach(sessionID string)
}

// Handler exposes authentication and profile endpoints.
type Handler struct {
	svc      *Service
	issuer   *auth.TokenIssuer
	sessions SessionRegistry
	logger   zerolog.Logger
}

func NewHandler(svc *Service, issuer *auth.TokenIssuer, sessions SessionRegistry, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		issuer:   issuer,
		sessions: sessions,
		logger:   logger.With().Str("handler", "identity").Logger(),
	}
}

// RegisterRoutes mounts login on the public group and the rest behind auth.
func (h *Handler) RegisterRoutes(public, protected *echo.Group) {
	public.POST("/auth/login", h.Login)
	protected.POST("/auth/logout", h.Logout)
	protected.GET("/profile", h.GetProfile)
	protected.PUT("/profile", h.UpdateProfile)
	protected.POST("/devices", h.RegisterDevice)
	protected.DELETE("/devices", h.RemoveDevice)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string   `json:"token"`
	Profile *Profile `json:"profile"`
}

// Login authenticates the user, issues a session token, and attaches the
// session to the sync manager so server-side polling begins immediately.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	u, err := h.svc.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	token, sessionID, err := h.issuer.Issue(u.ID, u.Role)
	if err != nil {
		h.logger.Error().Err(err).Msg("issue session token")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	prof, err := h.svc.Profile(ctx, u.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("load profile after login")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile")
	}

	h.sessions.Attach(sessionID, u.ID)

	return c.JSON(http.StatusOK, loginResponse{Token: token, Profile: prof})
}

// Logout detaches the session from the sync manager. The token itself simply
// expires; there is no revocation list.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if sid := auth.SessionIDFromContext(ctx); sid != "" {
		h.sessions.Detach(sid)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) GetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)

	prof, err := h.svc.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, prof)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req Patient
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)

	p, err := h.svc.UpdatePatient(ctx, userID, &req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient profile not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

type deviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)

	if err := h.svc.RegisterDevice(ctx, userID, req.Token, req.Platform); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *Handler) RemoveDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)

	if err := h.svc.RemoveDevice(ctx, userID, req.Token); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
}
