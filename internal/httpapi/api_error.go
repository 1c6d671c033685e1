package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/clashrules/internal/model"
	"github.com/John-Robertt/clashrules/internal/relay"
)

// APIError is used by the local endpoints for HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorFromErr(w, err)
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status, app := errorPayload(err)
	metricsIncAppError(app.Stage, app.Code)
	WriteError(w, status, app)
}

func errorPayload(err error) (int, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError
	}

	var re *relay.Error
	if errors.As(err, &re) {
		return re.Status, re.AppError
	}

	// Fallback: internal bug.
	return http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	}
}
