// Package metrics exposes the instance's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts handled HTTP requests per service, method and
	// status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eludris",
		Name:      "http_requests_total",
		Help:      "Handled HTTP requests.",
	}, []string{"service", "method", "code"})

	// GatewayConnections tracks live gateway connections.
	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eludris",
		Name:      "gateway_connections",
		Help:      "Currently open gateway connections.",
	})

	// GatewayEvents counts events delivered to gateway clients.
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eludris",
		Name:      "gateway_events_total",
		Help:      "Events delivered to gateway clients.",
	}, []string{"op"})

	// OnlineUsers tracks users with at least one live gateway connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eludris",
		Name:      "online_users",
		Help:      "Users with at least one live gateway connection.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests for the given service name.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			HTTPRequests.WithLabelValues(service, r.Method, strconv.Itoa(rec.status)).Inc()
		})
	}
}
