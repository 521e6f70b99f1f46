package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry for the service's collectors. With runtime
// set, the Go runtime and process collectors are registered as well.
func NewRegistry(runtime bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
//
// Example:
//
//	reg := metrics.NewRegistry(true)
//	mux.Handle("/metrics", metrics.Handler(reg))
func Handler(g prometheus.Gatherer) http.Handler {
	return HandlerWithOptions(g, promhttp.HandlerOpts{
		// OpenMetrics is negotiated only when the scraper asks for it
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// HandlerWithOptions returns an HTTP handler with custom options.
func HandlerWithOptions(g prometheus.Gatherer, opts promhttp.HandlerOpts) http.Handler {
	return promhttp.HandlerFor(g, opts)
}
