package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bedive-215/tech-store-sub000/pkg/logger"
)

// HeaderCorrelationID carries the correlation id across HTTP hops.
const HeaderCorrelationID = "X-Correlation-ID"

// Correlation puts the inbound correlation id, or a fresh one, into the
// request context and echoes it on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), id)))
	})
}
