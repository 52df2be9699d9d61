// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrSuccess   = "success"
	attrJobStatus = "job_status"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /v1/campaigns/abc123 -> /v1/campaigns/{id}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func statusNameAttr(status string) attribute.KeyValue {
	return attribute.String(attrJobStatus, status)
}

// normalizePath replaces dynamic id segments with placeholders. Every
// collection route follows the /v1/<collection>/<id>[/<action>] shape.
func normalizePath(path string) string {
	for _, prefix := range []string{"/v1/campaigns/", "/v1/runs/", "/v1/compounds/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
			if _, action, found := strings.Cut(rest, "/"); found {
				return prefix + "{id}/" + action
			}
			return prefix + "{id}"
		}
	}
	return path
}

// WithMethod returns a metric option with the method attribute.
func WithMethod(method string) metric.MeasurementOption {
	return metric.WithAttributes(methodAttr(method))
}

// WithStatus returns a metric option with the status attribute.
func WithStatus(code int) metric.MeasurementOption {
	return metric.WithAttributes(statusAttr(code))
}

// WithSuccess returns a metric option with the success attribute.
func WithSuccess(success bool) metric.MeasurementOption {
	return metric.WithAttributes(successAttr(success))
}
