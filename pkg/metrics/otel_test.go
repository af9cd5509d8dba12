package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type OtelHandlerTestSuite struct {
	suite.Suite
	reader   sdkmetric.Reader
	exporter sdkmetric.Exporter
	handler  Handler
	out      *bytes.Buffer
}

type metricsData struct {
	ScopeMetrics []struct {
		Metrics []struct {
			Name        string `json:"Name"`
			Description string `json:"Description"`
			Unit        string `json:"Unit"`
			Data        struct {
				DataPoints []struct {
					Attributes []struct {
						Key   string `json:"Key"`
						Value any    `json:"Value"`
					} `json:"Attributes"`
					Value        float64  `json:"Value,omitempty"`
					BucketCounts []uint64 `json:"BucketCounts,omitempty"`
				} `json:"DataPoints"`
			} `json:"Data"`
		} `json:"Metrics"`
	} `json:"ScopeMetrics"`
}

func (suite *OtelHandlerTestSuite) collect() metricsData {
	ctx := context.TODO()
	var rm metricdata.ResourceMetrics
	err := suite.reader.Collect(ctx, &rm)
	suite.Require().NoError(err)
	err = suite.exporter.Export(ctx, &rm)
	suite.Require().NoError(err)
	var data metricsData
	err = json.Unmarshal(suite.out.Bytes(), &data)
	suite.Require().NoError(err)
	return data
}

func (data metricsData) metric(name string) (found bool, points int, attrs []string) {
	for _, sm := range data.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.DataPoints {
				for _, a := range dp.Attributes {
					attrs = append(attrs, a.Key)
				}
			}
			return true, len(m.Data.DataPoints), attrs
		}
	}
	return false, 0, nil
}

func (suite *OtelHandlerTestSuite) SetupTest() {
	suite.out = new(bytes.Buffer)
	exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(suite.out)), stdoutmetric.WithoutTimestamps())
	assert.NoError(suite.T(), err)
	suite.exporter = exp
	suite.reader = sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(suite.reader))
	suite.handler = NewOtelHandler(context.TODO(), provider, "test")
}

func (suite *OtelHandlerTestSuite) TestCounterTags() {
	ctx := context.TODO()
	counter := suite.handler.Int64Counter("Test_Counter", "A counter for tests", Dimensionless)
	counter.Add(ctx, 1, nil)
	counter.Add(ctx, 1, map[string]string{"key": "value"})

	found, points, attrs := suite.collect().metric("test_counter")
	assert.True(suite.T(), found)
	assert.Equal(suite.T(), 2, points)
	assert.Equal(suite.T(), []string{"key"}, attrs)
}

func (suite *OtelHandlerTestSuite) TestSameNameSameInstrument() {
	ctx := context.TODO()
	suite.handler.Int64Counter("shared", "first", Dimensionless).Add(ctx, 1, nil)
	suite.handler.Int64Counter("SHARED", "second", Dimensionless).Add(ctx, 2, nil)

	found, points, _ := suite.collect().metric("shared")
	assert.True(suite.T(), found)
	assert.Equal(suite.T(), 1, points)
}

func (suite *OtelHandlerTestSuite) TestGaugeKeepsLastValuePerTags() {
	ctx := context.TODO()
	gauge := suite.handler.Int64Gauge("test_gauge", "A gauge for tests", Nodes)
	gauge.Observe(ctx, 1, nil)
	gauge.Observe(ctx, 5, nil)
	gauge.Observe(ctx, 2, map[string]string{"key": "value"})

	data := suite.collect()
	found, points, attrs := data.metric("test_gauge")
	assert.True(suite.T(), found)
	assert.Equal(suite.T(), 2, points)
	assert.Equal(suite.T(), []string{"key"}, attrs)
}

func (suite *OtelHandlerTestSuite) TestWithTags() {
	ctx := context.TODO()
	h := suite.handler.WithTags(map[string]string{"run_id": "abc"})
	h.Int64Histogram("test_histo", "A histogram for tests", Milliseconds).Record(ctx, 3, map[string]string{"mode": "full"})

	found, _, attrs := suite.collect().metric("test_histo")
	assert.True(suite.T(), found)
	assert.ElementsMatch(suite.T(), []string{"mode", "run_id"}, attrs)
}

func (suite *OtelHandlerTestSuite) TestInstrumentor() {
	ctx := context.TODO()
	m := New(suite.handler)
	m.RecordRefinement(ctx, 4, false, 12*time.Millisecond)
	m.RecordVerdict(ctx, ModeIncremental, true, false, 17, time.Millisecond)
	m.RecordVerdict(ctx, ModeFull, false, false, 0, time.Millisecond)
	m.RecordRun(ctx, 3, 2, true, time.Second)

	data := suite.collect()
	for _, name := range []string{
		refineRoundsHistoName,
		refineDurationHistoName,
		verdictCounterName,
		verdictDurationHistName,
		recomputedHistoName,
		runDurationHistoName,
		necessaryGaugeName,
		singletonGaugeName,
	} {
		found, _, _ := data.metric(name)
		assert.True(suite.T(), found, name)
	}
	_, points, _ := data.metric(verdictCounterName)
	assert.Equal(suite.T(), 2, points)
}

func TestOtelHandler(t *testing.T) {
	suite.Run(t, new(OtelHandlerTestSuite))
}

func TestNilInstrumentorAndNoop(t *testing.T) {
	ctx := context.Background()
	var m *M
	assert.NotPanics(t, func() {
		m.RecordRun(ctx, 1, 1, true, time.Second)
		m.RecordVerdict(ctx, ModeFull, true, false, 0, time.Second)
		m.RecordRefinement(ctx, 1, false, time.Second)
	})

	noop := New(NewNoOpHandler(ctx))
	assert.NotPanics(t, func() {
		noop.RecordRun(ctx, 1, 1, true, time.Second)
		NewNoOpHandler(ctx).WithTags(map[string]string{"a": "b"}).Int64Gauge("g", "", Nodes).Observe(ctx, 1, nil)
	})
}

func TestTagsMerge(t *testing.T) {
	base := Tags{"run_id": "abc", "mode": "full"}
	merged := base.Merge(Tags{"mode": "incremental"})
	assert.Equal(t, Tags{"run_id": "abc", "mode": "incremental"}, merged)
	assert.Equal(t, "full", base["mode"])

	var empty Tags
	assert.Empty(t, empty.Merge(nil))
	attrs := merged.attributes()
	assert.Equal(t, 2, attrs.Len())
}
