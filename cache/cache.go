// Package cache keeps loaded native predictors by tag and retrieves the
// resources they need.
package cache

import (
	"context"
	stderrors "errors"
	"slices"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/native"
)

// ReservedResourceType marks resources consumed by the runtime itself. They
// are never downloaded.
const ReservedResourceType = "fxn"

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics reports predictor load timings to m.
func WithMetrics(m statsd.ClientInterface) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache maps predictor tags to loaded predictors. It owns every predictor it
// holds; only Delete and Close release them.
type Cache struct {
	bridge     *native.Bridge
	resources  *ResourceCache
	metrics    statsd.ClientInterface
	group      singleflight.Group
	mu         sync.RWMutex
	predictors map[string]*native.Predictor
	closed     bool
}

// New creates an empty cache loading predictors through bridge.
func New(bridge *native.Bridge, resources *ResourceCache, opts ...Option) *Cache {
	c := &Cache{
		bridge:     bridge,
		resources:  resources,
		metrics:    &statsd.NoOpClient{},
		predictors: make(map[string]*native.Predictor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bridge returns the bridge predictors are loaded through.
func (c *Cache) Bridge() *native.Bridge {
	return c.bridge
}

// Get returns the cached predictor for tag.
func (c *Cache) Get(tag string) (*native.Predictor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.predictors[tag]
	return p, ok
}

// Contains reports whether tag has a cached predictor.
func (c *Cache) Contains(tag string) bool {
	_, ok := c.Get(tag)
	return ok
}

// Tags returns the cached tags in sorted order.
func (c *Cache) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tags := make([]string, 0, len(c.predictors))
	for tag := range c.predictors {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// GetOrLoad returns the cached predictor for p.Tag, loading it from p's
// configuration and resources if absent. Concurrent loads of one tag share a
// single load, so at most one predictor is ever created per tag.
func (c *Cache) GetOrLoad(ctx context.Context, p *api.Prediction, acceleration api.Acceleration, device uintptr) (*native.Predictor, error) {
	if pred, ok := c.Get(p.Tag); ok {
		return pred, nil
	}

	v, err, _ := c.group.Do(p.Tag, func() (any, error) {
		c.mu.RLock()
		pred, ok := c.predictors[p.Tag]
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return nil, errors.Closed(errors.PhaseLoad, "predictor cache")
		}
		if ok {
			return pred, nil
		}

		pred, err := c.load(ctx, p, acceleration, device)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			_ = pred.Release()
			return nil, errors.Closed(errors.PhaseLoad, "predictor cache")
		}
		c.predictors[p.Tag] = pred
		return pred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*native.Predictor), nil
}

func (c *Cache) load(ctx context.Context, p *api.Prediction, acceleration api.Acceleration, device uintptr) (*native.Predictor, error) {
	start := time.Now()

	resources, err := c.retrieve(ctx, p.Resources)
	if err != nil {
		return nil, err
	}

	config, err := c.bridge.NewConfiguration()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := config.Release(); err != nil {
			Logger().Warn("release configuration", zap.String("tag", p.Tag), zap.Error(err))
		}
	}()

	if err := config.SetTag(p.Tag); err != nil {
		return nil, err
	}
	if err := config.SetToken(p.Configuration); err != nil {
		return nil, err
	}
	if err := config.SetAcceleration(int32(acceleration)); err != nil {
		return nil, err
	}
	if device != 0 {
		if err := config.SetDevice(device); err != nil {
			return nil, err
		}
	}
	for _, r := range resources {
		if err := config.AddResource(r.Type, r.Path); err != nil {
			return nil, err
		}
	}

	pred, err := c.bridge.NewPredictor(config)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindOf(err), err, "create predictor "+p.Tag)
	}

	elapsed := time.Since(start)
	_ = c.metrics.Timing("fxn.predictor.load", elapsed, []string{"tag:" + p.Tag}, 1)
	Logger().Info("loaded predictor",
		zap.String("tag", p.Tag),
		zap.Int("resources", len(resources)),
		zap.Duration("elapsed", elapsed))
	return pred, nil
}

// retrieve downloads every non-reserved resource concurrently.
func (c *Cache) retrieve(ctx context.Context, resources []api.Resource) ([]CachedResource, error) {
	var wanted []api.Resource
	for _, r := range resources {
		if r.Type != ReservedResourceType {
			wanted = append(wanted, r)
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}
	if c.resources == nil {
		return nil, errors.InvalidOperation(errors.PhaseResource, "predictor needs resources but no resource cache is configured")
	}

	out := make([]CachedResource, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range wanted {
		g.Go(func() error {
			res, err := c.resources.Retrieve(gctx, r)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete releases and evicts the predictor for tag. It reports whether one was
// cached.
func (c *Cache) Delete(tag string) bool {
	c.mu.Lock()
	pred, ok := c.predictors[tag]
	delete(c.predictors, tag)
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := pred.Release(); err != nil {
		Logger().Warn("release predictor", zap.String("tag", tag), zap.Error(err))
	}
	return true
}

// Close releases every cached predictor. Later loads fail.
func (c *Cache) Close() error {
	c.mu.Lock()
	preds := c.predictors
	c.predictors = make(map[string]*native.Predictor)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for tag, pred := range preds {
		if err := pred.Release(); err != nil {
			errs = append(errs, errors.Wrap(errors.PhaseLoad, errors.KindOf(err), err, "release "+tag))
		}
	}
	return stderrors.Join(errs...)
}
