package server

import (
	"errors"
	"net/http"
	"strings"

	adherencedomain "github.com/MMatviiuk/medtrack/internal/adherence/domain"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
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

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

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

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var ruleErr *recurrence.ValidationError
	if errors.As(err, &ruleErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   ruleErr.Field,
					Code:    ruleErr.Code,
					Message: "invalid value",
				},
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, medicationdomain.ErrActiveTemplateExists),
		errors.Is(err, doseeventdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
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

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		isMedicationValidationError(err),
		isDoseEventValidationError(err),
		isDayStatusValidationError(err),
		isAdherenceValidationError(err):
		return true
	default:
		return false
	}
}

func isMedicationValidationError(err error) bool {
	switch {
	case errors.Is(err, medicationdomain.ErrInvalidOwner),
		errors.Is(err, medicationdomain.ErrInvalidID),
		errors.Is(err, medicationdomain.ErrInvalidName),
		errors.Is(err, medicationdomain.ErrInvalidQuantity),
		errors.Is(err, medicationdomain.ErrInvalidUnits),
		errors.Is(err, medicationdomain.ErrInvalidDuration),
		errors.Is(err, medicationdomain.ErrInvalidMealTiming),
		errors.Is(err, medicationdomain.ErrInvalidTimezone):
		return true
	default:
		return false
	}
}

func isDoseEventValidationError(err error) bool {
	switch {
	case errors.Is(err, doseeventdomain.ErrInvalidOwner),
		errors.Is(err, doseeventdomain.ErrInvalidID),
		errors.Is(err, doseeventdomain.ErrInvalidStatus),
		errors.Is(err, doseeventdomain.ErrInvalidRange),
		errors.Is(err, doseeventdomain.ErrInvalidFilter):
		return true
	default:
		return false
	}
}

func isDayStatusValidationError(err error) bool {
	switch {
	case errors.Is(err, daystatusdomain.ErrInvalidOwner),
		errors.Is(err, daystatusdomain.ErrInvalidDate),
		errors.Is(err, daystatusdomain.ErrInvalidTimezone),
		errors.Is(err, daystatusdomain.ErrInvalidRange),
		errors.Is(err, daystatusdomain.ErrRangeTooLarge):
		return true
	default:
		return false
	}
}

func isAdherenceValidationError(err error) bool {
	return errors.Is(err, adherencedomain.ErrInvalidOwner) ||
		errors.Is(err, adherencedomain.ErrInvalidWindow)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, medicationdomain.ErrNotFound),
		errors.Is(err, doseeventdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, medicationdomain.ErrActiveTemplateExists):
		return "medication already has an active template"
	case errors.Is(err, doseeventdomain.ErrInvalidTransition):
		return "dose event cannot move back to planned"
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if code == "range_too_large" {
		return "range"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "range_too_large":
		return "range too large"
	default:
		return "invalid value"
	}
}
