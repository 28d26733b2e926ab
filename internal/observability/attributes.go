// Package observability exports run metrics through OpenTelemetry and a
// Prometheus scrape endpoint.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrOutcome  = "outcome"
	attrFailed   = "failed"
	attrHostname = "hostname"
)

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func failedAttr(failed bool) attribute.KeyValue {
	return attribute.Bool(attrFailed, failed)
}

func hostnameAttr(hostname string) attribute.KeyValue {
	if hostname == "" {
		hostname = "unknown"
	}
	return attribute.String(attrHostname, hostname)
}

// WithOutcome returns a metric option with the outcome attribute.
func WithOutcome(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(outcomeAttr(outcome))
}
