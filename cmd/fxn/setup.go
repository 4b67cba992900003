package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/cache"
	"github.com/wippyai/fxn/config"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/native/inproc"
	"github.com/wippyai/fxn/native/wasmrt"
	"github.com/wippyai/fxn/predictor"
	"github.com/wippyai/fxn/storage"
)

type options struct {
	configFile   string
	wasmFile     string
	acceleration string
	verbose      bool
}

type app struct {
	service      *predictor.Service
	cache        *cache.Cache
	metrics      statsd.ClientInterface
	acceleration api.Acceleration
	closers      []func(context.Context) error
}

func setup(ctx context.Context, opts options) (*app, error) {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		logger = l
	}
	api.SetLogger(logger.Named("api"))
	cache.SetLogger(logger.Named("cache"))
	native.SetLogger(logger.Named("native"))
	wasmrt.SetLogger(logger.Named("wasmrt"))
	predictor.SetLogger(logger.Named("predictor"))
	storage.SetLogger(logger.Named("storage"))

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.acceleration != "" {
		cfg.Acceleration = opts.acceleration
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{acceleration: cfg.AccelerationValue(), metrics: &statsd.NoOpClient{}}
	if cfg.StatsdAddr != "" {
		client, err := statsd.New(cfg.StatsdAddr)
		if err != nil {
			return nil, fmt.Errorf("create statsd client: %w", err)
		}
		a.metrics = client
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	}

	store, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(ctx, opts.wasmFile)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rt.close)

	a.cache = cache.New(native.New(rt.Runtime),
		cache.NewResourceCache(cfg.CacheDir, store),
		cache.WithMetrics(a.metrics))
	a.closers = append(a.closers, func(context.Context) error { return a.cache.Close() })

	a.service = predictor.New(api.NewClient(cfg.APIOptions()), a.cache,
		predictor.WithStorage(store),
		predictor.WithDataURLLimit(cfg.DataURLLimit),
		predictor.WithMetrics(a.metrics),
		predictor.WithClientID("fxn-go"))

	logger.Debug("ready",
		zap.String("url", cfg.URL),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Stringer("acceleration", a.acceleration))
	return a, nil
}

func (a *app) createOptions() []predictor.CreateOption {
	return []predictor.CreateOption{predictor.WithAcceleration(a.acceleration)}
}

// Close releases everything in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// newStorage routes downloads by scheme and uploads to the first configured
// backend among S3, HTTP and disk.
func newStorage(cfg *config.Config) (*storage.Router, error) {
	web := storage.NewHTTP(cfg.Storage.BaseURL, cfg.Timeout)
	var upload fxn.Storage
	var s3 *storage.S3
	if cfg.Storage.S3Bucket != "" {
		var err error
		s3, err = storage.NewS3(storage.Bucket{
			Name:   cfg.Storage.S3Bucket,
			Region: cfg.Storage.S3Region,
			Prefix: cfg.Storage.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		upload = s3
	}
	if upload == nil && cfg.Storage.BaseURL != "" {
		upload = web
	}

	var disk *storage.Disk
	if cfg.Storage.Dir != "" {
		disk = storage.NewDisk(cfg.Storage.Dir)
		if upload == nil {
			upload = disk
		}
	}

	r := storage.NewRouter(upload).Handle("http", web).Handle("https", web)
	if s3 != nil {
		r.Handle("s3", s3)
	}
	if disk != nil {
		r.Handle("file", disk)
	}
	return r, nil
}

type nativeRuntime struct {
	native.Runtime
	close func(context.Context) error
}

// newRuntime loads the WebAssembly build of the native runtime, or falls
// back to an empty in-process runtime that can only serve cloud predictions.
func newRuntime(ctx context.Context, wasmFile string) (*nativeRuntime, error) {
	if wasmFile == "" {
		rt := inproc.New()
		return &nativeRuntime{Runtime: rt, close: func(context.Context) error { return rt.Close() }}, nil
	}

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read wasm: %w", err)
	}
	start := time.Now()
	rt, err := wasmrt.Load(ctx, data, &wasmrt.Config{WASI: true})
	if err != nil {
		return nil, err
	}
	wasmrt.Logger().Debug("loaded native runtime", zap.Duration("elapsed", time.Since(start)))
	return &nativeRuntime{Runtime: rt, close: rt.Close}, nil
}
