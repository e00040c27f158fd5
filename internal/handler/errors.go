package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/dto"
)

// errorStatus maps a service error onto its HTTP status code
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrTokenExchangeFailed), errors.Is(err, domain.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is safe to show to a caller. Configuration and unexpected errors are
// replaced with a generic text so credentials never leave the process.
func errorMessage(err error) string {
	switch domain.Kind(err) {
	case "configuration_error":
		return "Integration is not configured on the server"
	case "internal_error":
		return "Internal server error"
	default:
		return err.Error()
	}
}

func errorDetails(err error) interface{} {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return gin.H{
			"provider":    perr.Provider,
			"status":      perr.StatusCode,
			"code":        perr.Code,
			"description": perr.Description,
			"body":        perr.Body,
		}
	}
	return nil
}

// respondError writes the error body for err and aborts the chain
func respondError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), dto.ErrorResponse{
		Error:   domain.Kind(err),
		Message: errorMessage(err),
		Details: errorDetails(err),
	})
}
