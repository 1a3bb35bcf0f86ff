package httptransport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewIntrospection returns the handler served on the introspection address:
// liveness and prometheus metrics.
func NewIntrospection() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
