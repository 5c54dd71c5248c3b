package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/gateway"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	changedomain "github.com/tvloop/billing/internal/planchange/domain"
	registrationdomain "github.com/tvloop/billing/internal/registration/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware turns errors attached to the gin context into a
// JSON error response. Handlers never write error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationField(code),
					Code:    code,
					Message: validationMessage(code),
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, gateway.ErrRejected):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "gateway_rejected",
			Message: rejectionMessage(err),
		}
	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, entitlement.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, entitlement.ErrFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "entitlement_failure",
			Message: "entitlement provider refused the operation",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, registrationdomain.ErrInvalidRegistration):
		return "invalid_request", true
	case errors.Is(err, orderdomain.ErrInvalidOrder):
		return "invalid_order", true
	case errors.Is(err, plandomain.ErrInvalidPlan):
		return "invalid_plan", true
	case errors.Is(err, coupondomain.ErrInvalidCoupon):
		return "invalid_coupon", true
	case errors.Is(err, coupondomain.ErrBelowMinimumCharge):
		return "below_minimum_charge", true
	default:
		return "", false
	}
}

func validationField(code string) string {
	switch code {
	case "invalid_coupon", "below_minimum_charge":
		return "coupon"
	case "invalid_order":
		return "order_id"
	case "invalid_plan":
		return "plan_id"
	default:
		return "request"
	}
}

func validationMessage(code string) string {
	switch code {
	case "invalid_coupon":
		return "coupon is unknown or inactive"
	case "below_minimum_charge":
		return "discounted value is below the minimum charge"
	case "invalid_order":
		return "invalid order id"
	case "invalid_plan":
		return "invalid plan id"
	default:
		return "invalid request"
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, changedomain.ErrSamePlan),
		errors.Is(err, changedomain.ErrPlanExpired),
		errors.Is(err, customerdomain.ErrLoginTaken),
		errors.Is(err, customerdomain.ErrDocumentTaken),
		errors.Is(err, customerdomain.ErrCardUnchanged):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, changedomain.ErrChangeNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func rejectionMessage(err error) string {
	var rejection *gateway.RejectionError
	if errors.As(err, &rejection) && rejection.Description != "" {
		return rejection.Description
	}
	return "payment gateway rejected the operation"
}
