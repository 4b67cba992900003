package predictor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/cache"
	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/native/inproc"
	"github.com/wippyai/fxn/predictor"
	"github.com/wippyai/fxn/storage"
	"github.com/wippyai/fxn/value"
)

type endpoint struct {
	*httptest.Server
	creates   atomic.Int32
	downloads atomic.Int32
	inputs    map[string]api.Value
	mu        sync.Mutex
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	e := &endpoint{}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/resources/") {
			e.downloads.Add(1)
			_, _ = w.Write([]byte("weights"))
			return
		}

		e.creates.Add(1)
		var inputs map[string]api.Value
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inputs))
		e.mu.Lock()
		e.inputs = inputs
		e.mu.Unlock()

		tag := strings.TrimPrefix(r.URL.Path, "/predict/")
		if r.URL.Query().Get("stream") == "true" {
			w.Header().Set("Content-Type", "text/event-stream")
			for i := range 3 {
				rec, _ := json.Marshal(cloudRecord(tag, fmt.Sprintf("p%d", i)))
				fmt.Fprintf(w, "data: %s\n\n", rec)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if tag == "@test/cloud" {
			rec := cloudRecord(tag, "cloud_1")
			if x, ok := inputs["x"]; ok && !api.IsDataURL(x.Data) {
				rec.Results = []api.Value{x}
			}
			_ = json.NewEncoder(w).Encode(rec)
			return
		}
		_ = json.NewEncoder(w).Encode(edgeRecord(tag, e.URL))
	}))
	t.Cleanup(e.Close)
	return e
}

func (e *endpoint) lastInputs() map[string]api.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputs
}

func cloudRecord(tag, id string) *api.Prediction {
	return &api.Prediction{
		ID:      id,
		Tag:     tag,
		Type:    api.Cloud,
		Created: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Results: []api.Value{{Data: api.EncodeDataURL([]byte(id)), Type: value.String}},
		Latency: 3,
	}
}

func edgeRecord(tag, base string) *api.Prediction {
	return &api.Prediction{
		ID:            "edge_1",
		Tag:           tag,
		Type:          api.Edge,
		Configuration: "token",
		Resources: []api.Resource{
			{Type: cache.ReservedResourceType, URL: base + "/resources/libFunction.so"},
			{Type: "bin", URL: base + "/resources/weights.bin"},
		},
	}
}

type fixture struct {
	endpoint *endpoint
	runtime  *inproc.Runtime
	cache    *cache.Cache
	service  *predictor.Service
}

func newFixture(t *testing.T, opts ...predictor.Option) *fixture {
	t.Helper()
	e := newEndpoint(t)

	rt := inproc.New()
	rt.Register("@test/square", func(call *inproc.Call) (map[string]any, error) {
		x, err := call.Input("x")
		if err != nil {
			return nil, err
		}
		n := x.(int64)
		call.Logf("squaring %d", n)
		return map[string]any{"y": n * n}, nil
	})
	rt.Register("@test/fail", func(call *inproc.Call) (map[string]any, error) {
		return map[string]any{"partial": "half"}, fmt.Errorf("boom")
	})

	resources := cache.NewResourceCache(t.TempDir(), storage.NewHTTP("", 5*time.Second))
	c := cache.New(native.New(rt), resources)
	t.Cleanup(func() { _ = c.Close() })

	client := api.NewClient(api.Options{URL: e.URL})
	return &fixture{
		endpoint: e,
		runtime:  rt,
		cache:    c,
		service:  predictor.New(client, c, opts...),
	}
}

func TestCreate_LocalPrediction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.service.Create(ctx, "@test/square", map[string]any{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, api.Edge, p.Type)
	assert.Equal(t, "@test/square", p.Tag)
	assert.Equal(t, []any{int64(9)}, p.Results)
	assert.Equal(t, "squaring 3\n", p.Logs)
	assert.Empty(t, p.Error)
	assert.NotEmpty(t, p.ID)

	assert.Equal(t, int32(1), f.endpoint.creates.Load())
	assert.Equal(t, int32(1), f.endpoint.downloads.Load())
	assert.Equal(t, 1, f.runtime.Loads("@test/square"))
	assert.True(t, f.cache.Contains("@test/square"))

	p, err = f.service.Create(ctx, "@test/square", map[string]any{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(9)}, p.Results)
	assert.Equal(t, int32(1), f.endpoint.creates.Load())
	assert.Equal(t, int32(1), f.endpoint.downloads.Load())
	assert.Equal(t, 1, f.runtime.Loads("@test/square"))

	// Only the cached predictor stays alive.
	assert.Equal(t, inproc.Stats{Predictors: 1}, f.runtime.Stats())
}

func TestCreate_RawOutputs(t *testing.T) {
	f := newFixture(t)

	p, err := f.service.Create(context.Background(), "@test/square", map[string]any{"x": int64(4)}, predictor.WithRawOutputs())
	require.NoError(t, err)
	require.Len(t, p.Results, 1)
	v, ok := p.Results[0].(*value.Value)
	require.True(t, ok)
	defer v.Release()
	assert.Equal(t, value.Int64, v.Dtype())
	got, err := v.ToHost()
	require.NoError(t, err)
	assert.Equal(t, int64(16), got)
}

func TestCreate_TypeErrorBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), "@test/square", map[string]any{"f": func() {}})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTypeError), "got %v", err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"f"}, e.Path)
	assert.Equal(t, int32(0), f.endpoint.creates.Load())
	assert.Equal(t, 0, f.runtime.Stats().Total())
}

func TestCreate_LocalFailure(t *testing.T) {
	f := newFixture(t)

	p, err := f.service.Create(context.Background(), "@test/fail", nil)
	require.NoError(t, err)
	assert.Equal(t, "boom", p.Error)
	assert.Equal(t, []any{"half"}, p.Results)
}

func TestCreate_CloudPrediction(t *testing.T) {
	f := newFixture(t)

	p, err := f.service.Create(context.Background(), "@test/cloud", map[string]any{"name": "fxn"})
	require.NoError(t, err)
	assert.Equal(t, api.Cloud, p.Type)
	assert.Equal(t, "cloud_1", p.ID)
	assert.Equal(t, []any{"cloud_1"}, p.Results)
	assert.Equal(t, 3.0, p.Latency)
	assert.False(t, f.cache.Contains("@test/cloud"))

	inputs := f.endpoint.lastInputs()
	require.Contains(t, inputs, "name")
	assert.Equal(t, value.String, inputs["name"].Type)
	assert.Equal(t, api.EncodeDataURL([]byte("fxn")), inputs["name"].Data)
}

func TestCreate_UploadsLargeInputs(t *testing.T) {
	f := newFixture(t, predictor.WithDataURLLimit(4), predictor.WithStorage(storage.NewDisk(t.TempDir())))

	p, err := f.service.Create(context.Background(), "@test/cloud", map[string]any{"x": []float32{1.5, -2}})
	require.NoError(t, err)

	x := f.endpoint.lastInputs()["x"]
	assert.True(t, strings.HasPrefix(x.Data, "file://"), x.Data)
	assert.Equal(t, value.Float32, x.Type)
	assert.Equal(t, []int{2}, x.Shape)
	assert.Equal(t, []any{[]float32{1.5, -2}}, p.Results)
}

func TestCreate_LargeInputWithoutStorage(t *testing.T) {
	f := newFixture(t, predictor.WithDataURLLimit(1))

	_, err := f.service.Create(context.Background(), "@test/cloud", map[string]any{"x": "too long"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidOperation), "got %v", err)
	assert.Equal(t, int32(0), f.endpoint.creates.Load())
}

func TestCreate_Prewarmed(t *testing.T) {
	e := newEndpoint(t)
	f := newFixture(t, predictor.WithPrewarmed(edgeRecord("@test/square", e.URL)))

	p, err := f.service.Create(context.Background(), "@test/square", map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(25)}, p.Results)
	assert.Equal(t, int32(0), f.endpoint.creates.Load())
	assert.Equal(t, int32(1), e.downloads.Load())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.service.Delete("@test/square"))

	_, err := f.service.Create(ctx, "@test/square", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.True(t, f.service.Delete("@test/square"))
	assert.False(t, f.cache.Contains("@test/square"))

	_, err = f.service.Create(ctx, "@test/square", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.endpoint.creates.Load())
	assert.Equal(t, 2, f.runtime.Loads("@test/square"))
	assert.Equal(t, int32(1), f.endpoint.downloads.Load(), "resource stays on disk")
}

func TestStream(t *testing.T) {
	f := newFixture(t)

	var ids []string
	var results []any
	for p, err := range f.service.Stream(context.Background(), "@test/cloud", map[string]any{"x": 1}) {
		require.NoError(t, err)
		ids = append(ids, p.ID)
		results = append(results, p.Results...)
	}
	assert.Equal(t, []string{"p0", "p1", "p2"}, ids)
	assert.Equal(t, []any{"p0", "p1", "p2"}, results)
	assert.Equal(t, int32(1), f.endpoint.creates.Load())
}

func TestStream_LazyAndEarlyBreak(t *testing.T) {
	f := newFixture(t)

	seq := f.service.Stream(context.Background(), "@test/cloud", nil)
	assert.Equal(t, int32(0), f.endpoint.creates.Load())

	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, int32(1), f.endpoint.creates.Load())
}

func TestStream_TypeError(t *testing.T) {
	f := newFixture(t)

	for p, err := range f.service.Stream(context.Background(), "@test/cloud", map[string]any{"ch": make(chan int)}) {
		assert.Nil(t, p)
		assert.True(t, errors.IsKind(err, errors.KindTypeError), "got %v", err)
	}
	assert.Equal(t, int32(0), f.endpoint.creates.Load())
}

type recorder struct {
	*statsd.NoOpClient
	mu     sync.Mutex
	counts []string
}

func (r *recorder) Incr(name string, tags []string, _ float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, name+" "+strings.Join(tags, ","))
	return nil
}

func TestMetrics(t *testing.T) {
	m := &recorder{NoOpClient: &statsd.NoOpClient{}}
	f := newFixture(t, predictor.WithMetrics(m))

	_, err := f.service.Create(context.Background(), "@test/square", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = f.service.Create(context.Background(), "@test/square", map[string]any{"x": struct{}{}})
	require.Error(t, err)

	assert.Equal(t, []string{
		"fxn.prediction.count tag:@test/square,kind:EDGE,status:ok",
		"fxn.prediction.count tag:@test/square,kind:unknown,status:error",
	}, m.counts)
}
