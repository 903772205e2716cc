package api

import (
	"errors"
	"io"
	"net/http"

	"propulse/internal/domain"
	"propulse/internal/infra/logging"
)

// handleNotify acknowledges a gateway notification. The raw body is handed over
// untouched because its field order is part of the signature.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := s.webhooks.HandleNotification(r.Context(), raw)
	l := logging.With(r.Context(), s.log)
	switch {
	case err == nil:
		l.Info().Str("payment_id", res.PaymentID).Str("outcome", string(res.Outcome)).Msg("notification acknowledged")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case errors.Is(err, domain.ErrMalformedNotification):
		l.Warn().Err(err).Msg("malformed notification")
		http.Error(w, "bad request", http.StatusBadRequest)
	case errors.Is(err, domain.ErrPaymentNotFound):
		l.Warn().Err(err).Msg("notification for unknown payment")
		http.Error(w, "not found", http.StatusNotFound)
	default:
		// 5xx makes the gateway retry later
		l.Error().Err(err).Msg("notification processing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
