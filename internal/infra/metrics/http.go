package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal) }

var httpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	},
	[]string{"route", "method", "code"},
)

func IncHTTPRequest(route, method string, code int) {
	httpRequestsTotal.WithLabelValues(route, strings.ToUpper(method), strconv.Itoa(code)).Inc()
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
