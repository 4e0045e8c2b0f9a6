package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/requestid"
)

// NewErrorHandler logs the failure and answers with the error envelope.
// Event-stream clients get the error as an "error" signal patch instead.
// Client errors log at warn level, everything else at error.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Component("http"))

	return func(ctx Context, err error) {
		r := ctx.Request()
		status, detail := classify(err)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if IsEventStream(r) {
			payload, mErr := json.Marshal(map[string]any{"error": detail})
			if mErr == nil {
				mErr = datastar.NewSSE(ctx.ResponseWriter(), r).PatchSignals(payload)
			}
			if mErr != nil {
				log.ErrorContext(r.Context(), "failed to stream error", logger.Error(mErr))
			}
			return
		}

		_ = (&jsonResponse{status: status, body: JSONResponse{Error: detail}}).Render(ctx.ResponseWriter(), r)
	}
}
