package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/familyhub/contextd/pkg/contextapi"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
	"github.com/familyhub/contextd/pkg/prompt"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest            = "BAD_REQUEST"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternalServer        = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout        = "GATEWAY_TIMEOUT"
	ErrCodeDurabilityFailure     = "DURABILITY_FAILURE"
	ErrCodePromptBudgetExceeded  = "PROMPT_BUDGET_EXCEEDED"
	ErrCodeRequestEntityTooLarge = "REQUEST_TOO_LARGE"
)

// Common errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrValidationFailed   = errors.New("validation failed")
	ErrConflict           = errors.New("resource conflict")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("request timeout")
	ErrInternalServer     = errors.New("internal server error")
)

// HTTPStatusFromError maps transport and domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, memory.ErrNotFound),
		errors.Is(err, prompt.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, contextapi.ErrValidation),
		errors.Is(err, orchestrator.ErrMissingOwner),
		errors.Is(err, memory.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, memory.ErrDurability):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusRequestEntityTooLarge:
		return ErrCodeRequestEntityTooLarge
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// ErrorCodeFromError refines the status code with the domain failure where
// one applies.
func ErrorCodeFromError(err error) string {
	switch {
	case errors.Is(err, contextapi.ErrValidation),
		errors.Is(err, orchestrator.ErrMissingOwner),
		errors.Is(err, memory.ErrInvalidRecord),
		errors.Is(err, ErrValidationFailed):
		return ErrCodeValidationFailed
	case errors.Is(err, memory.ErrDurability):
		return ErrCodeDurabilityFailure
	case errors.Is(err, memory.ErrBudgetExceeded):
		return ErrCodePromptBudgetExceeded
	default:
		return ErrorCodeFromStatus(HTTPStatusFromError(err))
	}
}

// HandleError writes the error response for err. Validation failures carry
// the rejected fields as details. Unmapped errors are reported without their
// message so storage internals do not leak.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromError(err)

	var ve *contextapi.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]interface{}, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		ErrorWithDetails(w, status, code, "request validation failed", details, requestID)
		return
	}

	message := err.Error()
	if status == http.StatusInternalServerError && code == ErrCodeInternalServer {
		message = ErrInternalServer.Error()
	}
	if tier, ok := memory.TierOf(err); ok {
		ErrorWithDetails(w, status, code, message, map[string]interface{}{"tier": string(tier)}, requestID)
		return
	}
	Error(w, status, code, message, requestID)
}
