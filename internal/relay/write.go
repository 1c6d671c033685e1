package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/John-Robertt/clashrules/internal/model"
)

func writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status, app := ErrorPayload(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: app})
}

// ErrorPayload maps a relay failure to its status code and JSON body.
func ErrorPayload(err error) (int, model.AppError) {
	var re *Error
	if errors.As(err, &re) {
		return re.Status, re.AppError
	}
	return http.StatusBadGateway, model.AppError{
		Code:    "UPSTREAM_UNAVAILABLE",
		Message: "无法连接上游",
		Stage:   "relay",
		Hint:    err.Error(),
	}
}
