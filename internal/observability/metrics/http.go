package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics records API latency and rejected calls per API surface.
type HTTPMetrics struct {
	duration metric.Float64Histogram
	rejected metric.Int64Counter
}

func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "partnerledger"
	}
	meter := provider.Meter(name + "/http")

	duration, err := meter.Float64Histogram("partnerledger.http.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("API request latency by route template"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("partnerledger.http.rejected",
		metric.WithDescription("API calls answered with a 4xx or 5xx status"))
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{duration: duration, rejected: rejected}, nil
}

// Surface classifies a route template as webhook, operator or system.
func Surface(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/v1/webhooks/"):
		return "webhook"
	case strings.HasPrefix(route, "/api/v1/"):
		return "operator"
	case route == "":
		return "unmatched"
	default:
		return "system"
	}
}

// GinMiddleware labels by route template, never by raw path, so payout and
// commission ids stay out of the series.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		attrs := FilterAttributes(
			attribute.String("surface", Surface(route)),
			attribute.String("route", route),
			attribute.String("method", c.Request.Method),
			attribute.String("status_code", strconv.Itoa(status)),
		)
		ctx := c.Request.Context()
		m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrs...))
		if status >= 400 {
			m.rejected.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
}
