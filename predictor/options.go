package predictor

import (
	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/wippyai/fxn"
	"github.com/wippyai/fxn/api"
)

// DefaultDataURLLimit is the largest input sent inline as a data URL.
const DefaultDataURLLimit = 4096

// Option configures a Service.
type Option func(*Service)

// WithStorage sets the storage used to upload large inputs and download
// results that are not inlined.
func WithStorage(s fxn.Storage) Option {
	return func(svc *Service) {
		svc.storage = s
	}
}

// WithDataURLLimit sets the inline size limit in bytes.
func WithDataURLLimit(n int) Option {
	return func(svc *Service) {
		svc.dataURLLimit = n
	}
}

// WithMetrics reports prediction counts and latencies to m.
func WithMetrics(m statsd.ClientInterface) Option {
	return func(svc *Service) {
		svc.metrics = m
	}
}

// WithClientID sets the client identifier sent with every request.
func WithClientID(id string) Option {
	return func(svc *Service) {
		svc.clientID = id
	}
}

// WithPrewarmed registers edge prediction records that were resolved ahead of
// time. A prewarmed tag is loaded locally without a create call. Records are
// matched by exact tag; records that are not edge records are ignored.
func WithPrewarmed(records ...*api.Prediction) Option {
	return func(svc *Service) {
		for _, rec := range records {
			if rec != nil && rec.Type == api.Edge {
				svc.prewarmed[rec.Tag] = rec
			}
		}
	}
}

// CreateOption configures a single Create or Stream call.
type CreateOption func(*createOptions)

type createOptions struct {
	raw          bool
	acceleration api.Acceleration
	device       uintptr
}

// WithRawOutputs returns results as *value.Value instead of Go values. The
// caller owns the returned values.
func WithRawOutputs() CreateOption {
	return func(o *createOptions) {
		o.raw = true
	}
}

// WithAcceleration selects the hardware used when the predictor is loaded.
func WithAcceleration(a api.Acceleration) CreateOption {
	return func(o *createOptions) {
		o.acceleration = a
	}
}

// WithDevice passes a native device handle when the predictor is loaded.
func WithDevice(device uintptr) CreateOption {
	return func(o *createOptions) {
		o.device = device
	}
}

func newCreateOptions(opts []CreateOption) createOptions {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
