package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
)

// ListenAndServe exposes /metrics on the given port. A port of 0 disables
// the listener.
func ListenAndServe(promPort int) error {
	if promPort == 0 {
		return nil
	}
	listen := fmt.Sprintf("0.0.0.0:%d", promPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.LogNoTaskID(
		"Starting Prometheus metrics",
		"version", config.Version,
		"host", listen,
	)
	return http.ListenAndServe(listen, mux)
}
