package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	invoicedomain "github.com/smallbiznis/studiobook/internal/invoice/domain"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
	walletdomain "github.com/smallbiznis/studiobook/internal/wallet/domain"
	"github.com/smallbiznis/studiobook/internal/webhook"
)

// APIError is an error the handler layer already classified. Anything else
// reaching AbortWithError is treated as internal.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "unauthorized"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "validation_error", Message: "invalid request body"}
}

func newValidationError(field, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "validation_error", Message: field + ": " + message}
}

// classify maps domain sentinels onto the response taxonomy.
func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, occurrencedomain.ErrOccurrenceNotFound),
		errors.Is(err, registrationdomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return ErrNotFound
	case errors.Is(err, registrationdomain.ErrAlreadyRegistered):
		return &APIError{Status: http.StatusBadRequest, Code: "already_registered", Message: "customer already has an active registration for this occurrence"}
	case errors.Is(err, registrationdomain.ErrInvalidState),
		errors.Is(err, occurrencedomain.ErrNotScheduled),
		errors.Is(err, invoicedomain.ErrInvalidState):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_state", Message: "operation not allowed in the current state"}
	case errors.Is(err, idempotency.ErrInProgress):
		return &APIError{Status: http.StatusBadRequest, Code: "in_progress", Message: "a request with this idempotency key is still being processed"}
	case errors.Is(err, bookingdomain.ErrCancelCutoff):
		return &APIError{Status: http.StatusBadRequest, Code: "policy_violation", Message: "cancellation window has closed"}
	case errors.Is(err, bookingdomain.ErrRateLimited):
		return &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
	case errors.Is(err, bookingdomain.ErrPaymentFailed),
		errors.Is(err, walletdomain.ErrInsufficientFunds):
		return &APIError{Status: http.StatusPaymentRequired, Code: "payment_failed", Message: "payment could not be completed"}
	case errors.Is(err, paymentdomain.ErrUnknownRail):
		return newValidationError("rail", "unknown payment rail")
	case errors.Is(err, paymentdomain.ErrNotImplemented):
		return &APIError{Status: http.StatusBadRequest, Code: "unsupported_rail", Message: "payment rail is not available yet"}
	case errors.Is(err, walletdomain.ErrInvalidAmount), errors.Is(err, walletdomain.ErrInvalidCurrency):
		return newValidationError("amount", "invalid amount or currency")
	case errors.Is(err, webhook.ErrInvalidSignature):
		return ErrUnauthorized
	default:
		return &APIError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
	}
}

// AbortWithError writes the envelope for a failed request. Internal causes
// are logged with full context and never leaked to the client.
func AbortWithError(c *gin.Context, err error) {
	apiErr := classify(err)
	if apiErr.Status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	if apiErr.Status == http.StatusTooManyRequests {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"success": false,
		"error":   apiErr.Message,
		"code":    apiErr.Code,
	})
}
