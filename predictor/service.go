// Package predictor creates predictions, running them locally through cached
// native predictors when possible and remotely otherwise.
package predictor

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/cache"
	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/value"
)

// Prediction is the result of one prediction.
type Prediction struct {
	ID      string
	Tag     string
	Type    api.PredictionType
	Created time.Time
	// Results holds decoded Go values, or *value.Value with WithRawOutputs.
	Results []any
	// Latency in milliseconds.
	Latency float64
	// Error is set when the predictor itself failed. Results and Logs may
	// still hold partial output.
	Error string
	Logs  string
}

// Service dispatches predictions.
type Service struct {
	client       *api.Client
	cache        *cache.Cache
	storage      fxn.Storage
	metrics      statsd.ClientInterface
	dataURLLimit int
	clientID     string
	prewarmed    map[string]*api.Prediction
}

// New creates a service. The cache is shared with the caller, who owns its
// lifetime.
func New(client *api.Client, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		client:       client,
		cache:        c,
		metrics:      &statsd.NoOpClient{},
		dataURLLimit: DefaultDataURLLimit,
		prewarmed:    make(map[string]*api.Prediction),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create runs a prediction for tag. A tag whose predictor is already cached
// runs locally without contacting the endpoint.
func (s *Service) Create(ctx context.Context, tag string, inputs map[string]any, opts ...CreateOption) (*Prediction, error) {
	start := time.Now()
	p, err := s.create(ctx, tag, inputs, newCreateOptions(opts))
	s.observe(tag, p, err, time.Since(start))
	return p, err
}

func (s *Service) create(ctx context.Context, tag string, inputs map[string]any, o createOptions) (*Prediction, error) {
	values, err := toValues(inputs)
	if err != nil {
		return nil, err
	}
	defer releaseInputs(tag, values)

	if pred, ok := s.cache.Get(tag); ok {
		return s.runLocal(pred, values, o)
	}
	if rec, ok := s.prewarmed[tag]; ok {
		return s.resolve(ctx, rec, values, o)
	}

	wire, err := s.encode(ctx, values)
	if err != nil {
		return nil, err
	}
	rec, err := s.client.CreatePrediction(ctx, s.request(tag, wire))
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, rec, values, o)
}

// Stream runs a streamed prediction for tag, yielding records in arrival
// order. The request is issued when iteration starts and the response is
// closed when it stops. Edge records run locally.
func (s *Service) Stream(ctx context.Context, tag string, inputs map[string]any, opts ...CreateOption) iter.Seq2[*Prediction, error] {
	return func(yield func(*Prediction, error) bool) {
		o := newCreateOptions(opts)

		values, err := toValues(inputs)
		if err != nil {
			yield(nil, err)
			return
		}
		defer releaseInputs(tag, values)

		wire, err := s.encode(ctx, values)
		if err != nil {
			yield(nil, err)
			return
		}
		stream, err := s.client.StreamPrediction(ctx, s.request(tag, wire))
		if err != nil {
			yield(nil, err)
			return
		}
		defer stream.Close()

		for {
			start := time.Now()
			rec, err := stream.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			p, err := s.resolve(ctx, rec, values, o)
			s.observe(tag, p, err, time.Since(start))
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}

// Delete releases the cached predictor for tag. It reports whether one was
// cached.
func (s *Service) Delete(tag string) bool {
	return s.cache.Delete(tag)
}

func (s *Service) request(tag string, wire map[string]api.Value) api.CreatePredictionInput {
	return api.CreatePredictionInput{
		Tag:          tag,
		Inputs:       wire,
		DataURLLimit: s.dataURLLimit,
		ClientID:     s.clientID,
	}
}

// resolve turns a prediction record into a Prediction, running edge records
// locally.
func (s *Service) resolve(ctx context.Context, rec *api.Prediction, values *value.Map, o createOptions) (*Prediction, error) {
	if rec.Type == api.Edge {
		pred, err := s.cache.GetOrLoad(ctx, rec, o.acceleration, o.device)
		if err != nil {
			return nil, err
		}
		return s.runLocal(pred, values, o)
	}

	results, err := s.decode(ctx, rec.Results, o.raw)
	if err != nil {
		return nil, err
	}
	return &Prediction{
		ID:      rec.ID,
		Tag:     rec.Tag,
		Type:    rec.Type,
		Created: rec.Created,
		Results: results,
		Latency: rec.Latency,
		Error:   rec.Error,
		Logs:    rec.Logs,
	}, nil
}

func (s *Service) runLocal(pred *native.Predictor, values *value.Map, o createOptions) (*Prediction, error) {
	out, err := pred.Run(values)
	if err != nil {
		return nil, err
	}
	results, err := hostResults(out.Results, o.raw)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		Logger().Debug("local prediction failed", zap.String("tag", pred.Tag()), zap.String("error", out.Error))
	}
	return &Prediction{
		ID:      out.ID,
		Tag:     pred.Tag(),
		Type:    api.Edge,
		Created: time.Now().UTC(),
		Results: results,
		Latency: out.Latency,
		Error:   out.Error,
		Logs:    out.Logs,
	}, nil
}

func (s *Service) observe(tag string, p *Prediction, err error, elapsed time.Duration) {
	kind, status := "unknown", "ok"
	switch {
	case err != nil:
		status = "error"
	case p.Error != "":
		status = "failed"
	}
	if p != nil {
		kind = string(p.Type)
	}
	tags := []string{"tag:" + tag, "kind:" + kind, "status:" + status}
	_ = s.metrics.Incr("fxn.prediction.count", tags, 1)
	_ = s.metrics.Timing("fxn.prediction.latency", elapsed, tags, 1)
	if err != nil {
		Logger().Debug("prediction failed", zap.String("tag", tag), zap.Error(err))
	}
}

func releaseInputs(tag string, values *value.Map) {
	if err := values.Release(); err != nil {
		Logger().Warn("release inputs", zap.String("tag", tag), zap.Error(errors.Wrap(errors.PhaseDispatch, errors.KindOf(err), err, "release inputs")))
	}
}
