package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/dto"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/service"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"go.uber.org/zap"
)

// ConnectionHandlerOptions configures the browser-facing parts of the connection flow
type ConnectionHandlerOptions struct {
	// AppURL is the dashboard the callback returns the merchant to
	AppURL       string
	ConnectDebug bool
}

// ConnectionHandler handles integration connection requests
type ConnectionHandler struct {
	connections service.ConnectionService
	opts        ConnectionHandlerOptions
	logger      *zap.Logger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(connections service.ConnectionService, opts ConnectionHandlerOptions, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		opts:        opts,
		logger:      logger,
	}
}

// Connect starts the consent flow for a merchant
// @Summary Start provider authorization
// @Tags integrations
// @Param provider path string true "Provider tag"
// @Param merchantId query string true "Merchant ID"
// @Param loginHint query string false "Account to preselect on the consent screen"
// @Success 302
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/{provider}/connect [get]
func (h *ConnectionHandler) Connect(c *gin.Context) {
	providerName := providerParam(c)

	req, err := h.connections.BeginAuthorization(c.Request.Context(), c.Query("merchantId"), providerName, service.AuthorizeOptions{
		LoginHint: c.Query("loginHint"),
	})
	if err != nil {
		h.logger.Warn("Failed to start authorization", zap.String("provider", providerName), zap.Error(err))
		respondError(c, err)
		return
	}

	if h.opts.ConnectDebug && c.Query("debug") == "1" {
		c.JSON(http.StatusOK, dto.ConnectDiagnostics{
			AuthURL:     req.URL,
			MerchantID:  req.MerchantID,
			Provider:    req.Provider,
			ClientID:    utils.MaskSecret(req.ClientID),
			RedirectURI: req.RedirectURI,
			Scopes:      req.Scopes,
			PKCE:        req.PKCE,
			StateExpiry: req.ExpiresAt,
		})
		return
	}

	c.Redirect(http.StatusFound, req.URL)
}

// Callback receives the provider redirect and sends the merchant back to the dashboard
// @Summary Complete provider authorization
// @Tags integrations
// @Param provider path string true "Provider tag"
// @Success 302
// @Router /auth/{provider}/callback [get]
func (h *ConnectionHandler) Callback(c *gin.Context) {
	providerName := providerParam(c)

	if denied := c.Query("error"); denied != "" {
		details := c.Query("error_description")
		if details == "" {
			details = denied
		}
		h.logger.Info("Provider reported authorization error",
			zap.String("provider", providerName),
			zap.String("error", denied),
		)
		h.redirectFailure(c, providerName, "authorization_denied", details)
		return
	}

	conn, err := h.connections.CompleteAuthorization(c.Request.Context(), providerName, c.Query("code"), c.Query("state"))
	if err != nil {
		h.logger.Warn("Authorization callback failed", zap.String("provider", providerName), zap.Error(err))
		h.redirectFailure(c, providerName, domain.Kind(err), errorMessage(err))
		return
	}

	h.logger.Info("Authorization callback completed",
		zap.String("merchant_id", conn.MerchantID),
		zap.String("provider", conn.Provider),
	)

	q := url.Values{}
	q.Set("success", conn.Provider+"_connected")
	c.Redirect(http.StatusFound, h.integrationsURL(q))
}

// Status reports the connection status for a merchant
// @Summary Connection status
// @Tags integrations
// @Produce json
// @Param provider path string true "Provider tag"
// @Param merchantId query string true "Merchant ID"
// @Success 200 {object} domain.StatusReport
// @Failure 400 {object} dto.ErrorResponse
// @Router /auth/{provider}/status [get]
func (h *ConnectionHandler) Status(c *gin.Context) {
	report, err := h.connections.ResolveStatus(c.Request.Context(), c.Query("merchantId"), providerParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Refresh redeems the stored refresh token and returns the new status
// @Summary Refresh access token
// @Tags integrations
// @Accept json
// @Produce json
// @Param request body dto.RefreshRequest true "Refresh request"
// @Success 200 {object} domain.StatusReport
// @Failure 401 {object} dto.RefreshExpiredResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /auth/{provider}/refresh [post]
func (h *ConnectionHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   domain.Kind(domain.ErrInvalidRequest),
			Message: err.Error(),
		})
		return
	}

	providerName := providerParam(c)
	ctx := c.Request.Context()

	if _, err := h.connections.RefreshAccessToken(ctx, req.MerchantID, providerName); err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			c.JSON(http.StatusUnauthorized, dto.RefreshExpiredResponse{
				Error:      domain.Kind(err),
				Message:    err.Error(),
				Connected:  false,
				Status:     string(domain.StatusDisconnected),
				Suggestion: fmt.Sprintf("Reconnect %s to restore access", providerName),
			})
			return
		}
		respondError(c, err)
		return
	}

	report, err := h.connections.ResolveStatus(ctx, req.MerchantID, providerName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Disconnect removes the stored connection
// @Summary Remove connection
// @Tags internal
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /internal/connections/{provider} [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	providerName := providerParam(c)
	if err := h.connections.Disconnect(c.Request.Context(), c.Query("merchantId"), providerName); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: fmt.Sprintf("%s disconnected", providerName),
	})
}

// AccessToken hands a usable access token to an internal collaborator
// @Summary Usable access token
// @Tags internal
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.AccessTokenResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /internal/connections/{provider}/token [get]
func (h *ConnectionHandler) AccessToken(c *gin.Context) {
	conn, err := h.connections.AccessToken(c.Request.Context(), c.Query("merchantId"), providerParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AccessTokenResponse{
		AccessToken: conn.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   conn.ExpiresAt,
	})
}

func (h *ConnectionHandler) redirectFailure(c *gin.Context, providerName, kind, details string) {
	q := url.Values{}
	q.Set("error", kind)
	q.Set("provider", providerName)
	q.Set("details", details)
	c.Redirect(http.StatusFound, h.integrationsURL(q))
}

func (h *ConnectionHandler) integrationsURL(q url.Values) string {
	return strings.TrimRight(h.opts.AppURL, "/") + "/integrations?" + q.Encode()
}

func providerParam(c *gin.Context) string {
	return utils.NormalizeProviderName(c.Param("provider"))
}
