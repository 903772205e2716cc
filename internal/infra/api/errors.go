package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"propulse/internal/domain"
	"propulse/internal/infra/logging"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrMalformedNotification):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPlanInactive),
		errors.Is(err, domain.ErrPlanExpired):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrPlanInUse),
		errors.Is(err, domain.ErrNoSubscription),
		errors.Is(err, domain.ErrPaymentNotVerifiable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrGenerationFailed),
		errors.Is(err, domain.ErrMissingGatewayResponse):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a use case error to a status. Unmapped errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), logger).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	if errors.Is(err, domain.ErrGenerationFailed) {
		// upstream detail stays in the logs
		logging.With(r.Context(), logger).Warn().Err(err).Msg("generation failed")
		msg = domain.ErrGenerationFailed.Error()
	}
	if code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, code, errorBody{Error: msg})
}
