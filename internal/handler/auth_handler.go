package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkav-labs/auth-api/internal/middleware"
	"github.com/arkav-labs/auth-api/internal/models"
	"github.com/arkav-labs/auth-api/internal/service"
	appErrors "github.com/arkav-labs/auth-api/pkg/errors"
	"github.com/arkav-labs/auth-api/pkg/response"
)

// AuthHandler wires HTTP endpoints to the auth services.
type AuthHandler struct {
	auth    *service.AuthService
	users   *service.UserService
	metrics *service.MetricsService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth *service.AuthService, users *service.UserService, metrics *service.MetricsService) *AuthHandler {
	return &AuthHandler{auth: auth, users: users, metrics: metrics}
}

// Register godoc
// @Summary Register a new account
// @Description Create an account with username, email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	info, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, info)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordLogin(loginOutcome(err))
		response.Error(c, err)
		return
	}

	h.metrics.RecordLogin(service.MetricOutcomeSuccess)
	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Exchange a refresh token for a new token pair; the presented token is rotated out
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.auth.Refresh(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordRefresh(refreshOutcome(err))
		response.Error(c, err)
		return
	}

	h.metrics.RecordRefresh(service.MetricOutcomeSuccess)
	response.JSON(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh token; revoking an absent token succeeds
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LogoutRequest true "Logout payload"
// @Success 200 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.LogoutRequest
	// A missing or malformed body still results in a successful logout.
	_ = c.ShouldBindJSON(&req)
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	if err := h.auth.Logout(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"message": "logged out"})
}

// Me godoc
// @Summary Get current user
// @Description Returns the claims of the presented access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	accessClaims := claims.(*models.AccessClaims)
	info := models.UserInfo{
		ID:       accessClaims.UserID,
		Email:    accessClaims.Email,
		Username: accessClaims.Username,
	}

	response.JSON(c, http.StatusOK, info)
}

func loginOutcome(err error) string {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrInvalidCredentials.Code, appErrors.ErrValidation.Code:
		return service.MetricOutcomeRejected
	default:
		return service.MetricOutcomeError
	}
}

func refreshOutcome(err error) string {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrInvalidToken.Code, appErrors.ErrValidation.Code:
		return service.MetricOutcomeRejected
	default:
		return service.MetricOutcomeError
	}
}
