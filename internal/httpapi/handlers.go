package httpapi

import (
	"net/http"
	"strings"

	"github.com/John-Robertt/clashrules/internal/model"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

func handleReservedNotFound(w http.ResponseWriter, r *http.Request) {
	if _, ok := localMethods[r.URL.Path]; ok {
		// A local endpoint reached with a method it does not serve.
		handleMethodNotAllowed(w, r)
		return
	}
	writeErrorFromErr(w, apiError(http.StatusNotFound, model.AppError{
		Code:    "NOT_FOUND",
		Message: "未知的本地端点",
		Stage:   "route",
		Hint:    "paths under " + ReservedPrefix + " are served by the relay itself",
	}, nil))
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	allowed := strings.Join(localMethods[r.URL.Path], ", ")
	if allowed != "" {
		w.Header().Set("Allow", allowed)
	}
	writeErrorFromErr(w, apiError(http.StatusMethodNotAllowed, model.AppError{
		Code:    "METHOD_NOT_ALLOWED",
		Message: "本地端点不支持该请求方法",
		Stage:   "route",
		Hint:    "allowed: " + allowed,
	}, nil))
}
