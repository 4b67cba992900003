package native

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/fxn/handle"
	"github.com/wippyai/fxn/value"
)

// Configuration describes how to load a predictor.
type Configuration struct {
	b     *Bridge
	ref   ConfigRef
	guard handle.Guard
	tag   string
}

// Ref returns the raw runtime handle.
func (c *Configuration) Ref() ConfigRef {
	return c.ref
}

// SetTag sets the predictor tag.
func (c *Configuration) SetTag(tag string) error {
	if err := c.guard.Check("configuration"); err != nil {
		return err
	}
	if err := c.b.rt.ConfigurationSetTag(c.ref, tag).Err("ConfigurationSetTag"); err != nil {
		return err
	}
	c.tag = tag
	return nil
}

// SetToken sets the configuration token issued with the prediction.
func (c *Configuration) SetToken(token string) error {
	if err := c.guard.Check("configuration"); err != nil {
		return err
	}
	return c.b.rt.ConfigurationSetToken(c.ref, token).Err("ConfigurationSetToken")
}

// SetAcceleration sets the preferred hardware acceleration.
func (c *Configuration) SetAcceleration(acceleration int32) error {
	if err := c.guard.Check("configuration"); err != nil {
		return err
	}
	return c.b.rt.ConfigurationSetAcceleration(c.ref, acceleration).Err("ConfigurationSetAcceleration")
}

// SetDevice sets an opaque runtime device pointer. Zero leaves the default.
func (c *Configuration) SetDevice(device uintptr) error {
	if err := c.guard.Check("configuration"); err != nil {
		return err
	}
	return c.b.rt.ConfigurationSetDevice(c.ref, device).Err("ConfigurationSetDevice")
}

// AddResource registers a local resource file of the given type.
func (c *Configuration) AddResource(typ, path string) error {
	if err := c.guard.Check("configuration"); err != nil {
		return err
	}
	return c.b.rt.ConfigurationAddResource(c.ref, typ, path).Err("ConfigurationAddResource")
}

// Release releases the configuration.
func (c *Configuration) Release() error {
	return c.guard.Release(func() error {
		return c.b.rt.ConfigurationRelease(c.ref).Err("ConfigurationRelease")
	})
}

// Predictor is a loaded native predictor.
type Predictor struct {
	b     *Bridge
	ref   PredictorRef
	tag   string
	mu    sync.Mutex
	guard handle.Guard
}

// Tag returns the tag the predictor was configured with.
func (p *Predictor) Tag() string {
	return p.tag
}

// Ref returns the raw runtime handle.
func (p *Predictor) Ref() PredictorRef {
	return p.ref
}

// Released reports whether the predictor was released.
func (p *Predictor) Released() bool {
	return p.guard.Released()
}

// Predict runs the predictor on inputs. Calls on the same predictor are
// serialized.
func (p *Predictor) Predict(inputs *ValueMap) (*Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guard.Check("predictor"); err != nil {
		return nil, err
	}
	if err := inputs.guard.Check("value map"); err != nil {
		return nil, err
	}

	start := time.Now()
	ref, status := p.b.rt.PredictorPredict(p.ref, inputs.ref)
	if err := status.Err("PredictorPredict"); err != nil {
		return nil, err
	}
	Logger().Debug("native predict",
		zap.String("tag", p.tag),
		zap.Duration("elapsed", time.Since(start)))
	return &Prediction{b: p.b, ref: ref}, nil
}

// Release releases the predictor, waiting for an in-flight Predict to finish.
func (p *Predictor) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guard.Release(func() error {
		return p.b.rt.PredictorRelease(p.ref).Err("PredictorRelease")
	})
}

// Prediction is the native record of one predictor invocation.
type Prediction struct {
	b     *Bridge
	ref   PredictionRef
	guard handle.Guard
}

// ID returns the prediction id.
func (p *Prediction) ID() (string, error) {
	if err := p.guard.Check("prediction"); err != nil {
		return "", err
	}
	buf := make([]byte, idLength)
	if err := p.b.rt.PredictionGetID(p.ref, buf).Err("PredictionGetID"); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// Latency returns the prediction latency in milliseconds.
func (p *Prediction) Latency() (float64, error) {
	if err := p.guard.Check("prediction"); err != nil {
		return 0, err
	}
	latency, status := p.b.rt.PredictionGetLatency(p.ref)
	return latency, status.Err("PredictionGetLatency")
}

// Results returns the prediction's output map. The map is owned by the
// prediction and is invalid once the prediction is released.
func (p *Prediction) Results() (*ValueMap, error) {
	if err := p.guard.Check("prediction"); err != nil {
		return nil, err
	}
	ref, status := p.b.rt.PredictionGetResults(p.ref)
	if err := status.Err("PredictionGetResults"); err != nil {
		return nil, err
	}
	return &ValueMap{b: p.b, ref: ref, borrowed: true}, nil
}

// Failure returns the error the predictor raised, or "" if it succeeded.
func (p *Prediction) Failure() (string, error) {
	if err := p.guard.Check("prediction"); err != nil {
		return "", err
	}
	buf := make([]byte, errorLength)
	switch status := p.b.rt.PredictionGetError(p.ref, buf); status {
	case Ok:
		return CString(buf), nil
	case InvalidOperation:
		return "", nil
	default:
		return "", status.Err("PredictionGetError")
	}
}

// Logs returns the prediction logs.
func (p *Prediction) Logs() (string, error) {
	if err := p.guard.Check("prediction"); err != nil {
		return "", err
	}
	n, status := p.b.rt.PredictionGetLogLength(p.ref)
	if err := status.Err("PredictionGetLogLength"); err != nil {
		return "", err
	}
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n+1)
	if err := p.b.rt.PredictionGetLogs(p.ref, buf).Err("PredictionGetLogs"); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// Output is a Go-owned copy of a finished prediction.
type Output struct {
	ID      string
	Latency float64
	Results *value.Map
	Error   string
	Logs    string
}

// Output copies everything out of the prediction. The prediction can be
// released afterwards.
func (p *Prediction) Output() (*Output, error) {
	id, err := p.ID()
	if err != nil {
		return nil, err
	}
	latency, err := p.Latency()
	if err != nil {
		return nil, err
	}
	failure, err := p.Failure()
	if err != nil {
		return nil, err
	}
	logs, err := p.Logs()
	if err != nil {
		return nil, err
	}
	results, err := p.Results()
	if err != nil {
		return nil, err
	}
	values, err := results.Values()
	if err != nil {
		return nil, err
	}
	return &Output{ID: id, Latency: latency, Results: values, Error: failure, Logs: logs}, nil
}

// Release releases the prediction and its results.
func (p *Prediction) Release() error {
	return p.guard.Release(func() error {
		return p.b.rt.PredictionRelease(p.ref).Err("PredictionRelease")
	})
}

// Run packs inputs, invokes the predictor, copies the output and releases every
// native handle it created, on success and failure alike.
func (p *Predictor) Run(inputs *value.Map) (*Output, error) {
	nm, err := p.b.NewValueMap(inputs, value.FlagNone)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := nm.Release(); rerr != nil {
			Logger().Warn("release input map", zap.String("tag", p.tag), zap.Error(rerr))
		}
	}()

	prediction, err := p.Predict(nm)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := prediction.Release(); rerr != nil {
			Logger().Warn("release prediction", zap.String("tag", p.tag), zap.Error(rerr))
		}
	}()

	return prediction.Output()
}
