package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/webq/pkg/webq"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Request string `json:"request_id,omitempty"`
}

// statusFor maps the webq error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, webq.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, webq.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webq.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, webq.ErrConversionNotApplicable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, webq.ErrConversionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, webq.ErrConversionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Request: RequestIDFrom(r.Context())}

	var vErr *webq.ValidationError
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
		resp.Code = vErr.Code
	}
	var dErr *webq.DuplicateKeyError
	if errors.As(err, &dErr) {
		resp.Field = dErr.Field
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", resp.Request),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		if status == http.StatusInternalServerError {
			resp.Error = http.StatusText(status)
		}
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func badRequest(field, message string) error {
	return &webq.ValidationError{Field: field, Code: webq.CodeInvalid, Message: message}
}
