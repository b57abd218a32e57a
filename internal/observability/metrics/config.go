package metrics

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	ServiceName string
	Environment string
}

var highCardinalityKeys = []string{"partner_id", "payout_id", "commission_id", "external_event_id"}

// FilterAttributes drops identifiers that would explode series cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		drop := false
		for _, needle := range highCardinalityKeys {
			if key == needle {
				drop = true
				break
			}
		}
		if !drop {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
