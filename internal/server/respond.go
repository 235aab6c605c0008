package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeJSON(w, httpStatus(code), map[string]string{
		"code":  code.String(),
		"error": err.Error(),
	})
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: "error", Code: apperr.CodeOf(err).String(), Message: err.Error()}
}

// httpStatus maps an error code to the HTTP status returned to clients.
func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument, apperr.CodeParse, apperr.CodeAudioDecode:
		return http.StatusBadRequest
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeSessionActive:
		return http.StatusConflict
	case apperr.CodeLLMRateLimited:
		return http.StatusTooManyRequests
	case apperr.CodeConnectionFailed, apperr.CodeLLMAPIError:
		return http.StatusBadGateway
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
