package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestSurface(t *testing.T) {
	cases := map[string]string{
		"/api/v1/webhooks/payments":  "webhook",
		"/api/v1/payouts/:id/cancel": "operator",
		"/healthz":                   "system",
		"":                           "unmatched",
	}
	for route, want := range cases {
		if got := Surface(route); got != want {
			t.Fatalf("Surface(%q) = %q, want %q", route, got, want)
		}
	}
}

func TestFilterAttributesDropsIdentifiers(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("route", "/api/v1/payouts/:id"),
		attribute.String("payout_id", "17"),
		attribute.String("Partner_ID", "9"),
		attribute.String("partner_id", "123"),
	)
	if len(attrs) != 1 || attrs[0].Key != "route" {
		t.Fatalf("expected only route to survive, got %v", attrs)
	}
}

func TestGinMiddlewarePassesThrough(t *testing.T) {
	m, err := NewHTTPMetrics(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/api/v1/payouts/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payouts/1", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected handler status to pass through, got %d", w.Code)
	}
}
