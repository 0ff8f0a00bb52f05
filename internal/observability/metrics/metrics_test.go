package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("entity", "invoices"),
		attribute.String("customer_email", "alice@example.com"),
		attribute.String("stage", "due"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "entity" && attrs[1].Key != "entity" {
		t.Fatalf("expected entity to be retained")
	}
	if attrs[0].Key != "stage" && attrs[1].Key != "stage" {
		t.Fatalf("expected stage to be retained")
	}
}
