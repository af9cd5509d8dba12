// Package metrics records preprocessing measurements behind a small Handler
// interface, backed by OpenTelemetry or by a no-op.
//
// Measurements are keyed by name and split by Tags: a refinement carries
// whether it was truncated, a verdict carries the verification mode, and a
// run carries its final compliance.
package metrics

import (
	"context"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"
)

// Tags label one measurement, for example {"mode": "incremental"}.
type Tags map[string]string

// Merge returns a new set holding t overlaid with over. Neither input is
// modified.
func (t Tags) Merge(over Tags) Tags {
	merged := make(Tags, len(t)+len(over))
	maps.Copy(merged, t)
	maps.Copy(merged, over)
	return merged
}

// attributes orders the tags by key so equal sets aggregate together.
func (t Tags) attributes() attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(t))
	for _, k := range slices.Sorted(maps.Keys(t)) {
		kvs = append(kvs, attribute.String(k, t[k]))
	}
	return attribute.NewSet(kvs...)
}

// Handler hands out instruments by name. Names are case-insensitive and the
// same name always yields the same instrument, including through handlers
// derived by WithTags, which stamp their tags under every measurement.
type Handler interface {
	Int64Counter(name string, description string, unit Unit) Int64Counter
	Int64Gauge(name string, description string, unit Unit) Int64Gauge
	Int64Histogram(name string, description string, unit Unit) Int64Histogram
	WithTags(tags Tags) Handler
}

// Int64Counter accumulates events, such as evaluated candidates.
type Int64Counter interface {
	Add(ctx context.Context, value int64, tags Tags)
}

// Int64Histogram samples a distribution: refinement rounds, recomputed
// nodes per incremental update, durations.
type Int64Histogram interface {
	Record(ctx context.Context, value int64, tags Tags)
}

// Int64Gauge holds the last value per tag set until the next collection.
type Int64Gauge interface {
	Observe(ctx context.Context, value int64, tags Tags)
}

// Unit is a UCUM unit string.
type Unit string

const (
	Dimensionless Unit = "1"
	Bytes         Unit = "By"
	Milliseconds  Unit = "ms"
	Nodes         Unit = "{node}"
)
