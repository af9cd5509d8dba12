package metrics

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// instruments is shared by a handler and every handler derived from it with
// WithTags, so an instrument is created once per name.
type instruments struct {
	meter otelmetric.Meter

	int64CountersMtx sync.Mutex
	int64Counters    map[string]otelmetric.Int64Counter
	int64HistosMtx   sync.Mutex
	int64Histos      map[string]otelmetric.Int64Histogram
	int64GaugesMtx   sync.Mutex
	int64Gauges      map[string]*syncInt64Gauge
}

type otelHandler struct {
	*instruments
	tags Tags
}

type otelInt64Histogram struct {
	h    otelmetric.Int64Histogram
	tags Tags
}

func (o *otelInt64Histogram) Record(ctx context.Context, value int64, tags Tags) {
	o.h.Record(ctx, value, otelmetric.WithAttributeSet(o.tags.Merge(tags).attributes()))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

type otelInt64Counter struct {
	c    otelmetric.Int64Counter
	tags Tags
}

func (o *otelInt64Counter) Add(ctx context.Context, value int64, tags Tags) {
	o.c.Add(ctx, value, otelmetric.WithAttributeSet(o.tags.Merge(tags).attributes()))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

// syncInt64Gauge reports the last observed value per attribute set.
type syncInt64Gauge struct {
	mu     sync.Mutex
	values map[attribute.Distinct]observation
	gauge  otelmetric.Int64ObservableGauge
}

type observation struct {
	value int64
	attrs attribute.Set
}

type taggedGauge struct {
	g    *syncInt64Gauge
	tags Tags
}

func (t *taggedGauge) Observe(_ context.Context, value int64, tags Tags) {
	attrs := t.tags.Merge(tags).attributes()
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	t.g.values[attrs.Equivalent()] = observation{value: value, attrs: attrs}
}

var _ Int64Gauge = (*taggedGauge)(nil)

func newSyncInt64Gauge(meter otelmetric.Meter, name string, description string, unit Unit) *syncInt64Gauge {
	g, err := meter.Int64ObservableGauge(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
	if err != nil {
		panic(err)
	}

	return &syncInt64Gauge{gauge: g, values: make(map[attribute.Distinct]observation)}
}

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h.int64HistosMtx.Lock()
	defer h.int64HistosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Histos[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Histos[name] = c
	}

	return &otelInt64Histogram{h: c, tags: h.tags}
}

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	h.int64CountersMtx.Lock()
	defer h.int64CountersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Counters[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Counters[name] = c
	}

	return &otelInt64Counter{c: c, tags: h.tags}
}

func (h *otelHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	h.int64GaugesMtx.Lock()
	defer h.int64GaugesMtx.Unlock()

	name = strings.ToLower(name)

	if g, ok := h.int64Gauges[name]; ok {
		return &taggedGauge{g: g, tags: h.tags}
	}

	newGauge := newSyncInt64Gauge(h.meter, name, description, unit)

	_, err := h.meter.RegisterCallback(func(ctx context.Context, observer otelmetric.Observer) error {
		newGauge.mu.Lock()
		defer newGauge.mu.Unlock()
		for _, o := range newGauge.values {
			observer.ObserveInt64(newGauge.gauge, o.value, otelmetric.WithAttributeSet(o.attrs))
		}
		return nil
	}, newGauge.gauge)

	if err != nil {
		panic(err)
	}

	h.int64Gauges[name] = newGauge

	return &taggedGauge{g: newGauge, tags: h.tags}
}

func (h *otelHandler) WithTags(tags Tags) Handler {
	return &otelHandler{instruments: h.instruments, tags: h.tags.Merge(tags)}
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		instruments: &instruments{
			meter:         provider.Meter(name),
			int64Counters: make(map[string]otelmetric.Int64Counter),
			int64Histos:   make(map[string]otelmetric.Int64Histogram),
			int64Gauges:   make(map[string]*syncInt64Gauge),
		},
	}
}

var _ Handler = (*otelHandler)(nil)
