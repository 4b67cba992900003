package inproc

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/fxn/handle"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/value"
)

// Func is a predictor implementation. Returned outputs are converted with
// value.FromHost. A non-nil error is recorded on the prediction together with
// any outputs that were returned.
type Func func(call *Call) (map[string]any, error)

// Resource is a resource file registered on a configuration.
type Resource struct {
	Type string
	Path string
}

// Call is one predictor invocation.
type Call struct {
	Tag          string
	Acceleration int32
	Device       uintptr
	Resources    []Resource
	Inputs       *value.Map
	logs         strings.Builder
}

// Input decodes the named input into a Go value.
func (c *Call) Input(name string) (any, error) {
	v, err := c.Inputs.Get(name)
	if err != nil {
		return nil, err
	}
	return v.ToHost()
}

// Logf appends a line to the prediction logs.
func (c *Call) Logf(format string, args ...any) {
	fmt.Fprintf(&c.logs, format, args...)
	c.logs.WriteByte('\n')
}

// Stats counts live handles by kind.
type Stats struct {
	Values         int
	Maps           int
	Configurations int
	Predictors     int
	Predictions    int
}

// Total returns the number of live handles.
func (s Stats) Total() int {
	return s.Values + s.Maps + s.Configurations + s.Predictors + s.Predictions
}

type valueMap struct {
	mu     sync.Mutex
	keys   []string
	values map[string]native.ValueRef
}

type configuration struct {
	tag          string
	token        string
	acceleration int32
	device       uintptr
	resources    []Resource
}

type predictor struct {
	fn     Func
	config configuration
}

type prediction struct {
	id      string
	latency float64
	results native.MapRef
	err     string
	logs    string
}

// Runtime is an in-process native.Runtime.
type Runtime struct {
	id          string
	mu          sync.RWMutex
	funcs       map[string]Func
	values      *handle.Table[*value.Value]
	maps        *handle.Table[*valueMap]
	configs     *handle.Table[*configuration]
	predictors  *handle.Table[*predictor]
	predictions *handle.Table[*prediction]
	loads       map[string]int
}

var _ native.Runtime = (*Runtime)(nil)

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		id:          uuid.NewString(),
		funcs:       make(map[string]Func),
		values:      handle.NewTable[*value.Value](),
		maps:        handle.NewTable[*valueMap](),
		configs:     handle.NewTable[*configuration](),
		predictors:  handle.NewTable[*predictor](),
		predictions: handle.NewTable[*prediction](),
		loads:       make(map[string]int),
	}
}

// Register makes fn loadable under tag, replacing any earlier registration.
func (r *Runtime) Register(tag string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[tag] = fn
}

// Loads returns how many predictors were created for tag.
func (r *Runtime) Loads(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[tag]
}

// Stats returns live handle counts.
func (r *Runtime) Stats() Stats {
	return Stats{
		Values:         r.values.Len(),
		Maps:           r.maps.Len(),
		Configurations: r.configs.Len(),
		Predictors:     r.predictors.Len(),
		Predictions:    r.predictions.Len(),
	}
}

// Close drops every live handle.
func (r *Runtime) Close() error {
	for _, t := range []interface{ Close() error }{r.predictions, r.predictors, r.configs, r.maps, r.values} {
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) newValue(v *value.Value, err error) (native.ValueRef, native.Status) {
	if err != nil {
		return 0, native.InvalidArgument
	}
	h, err := r.values.Insert(v)
	if err != nil {
		return 0, native.InvalidOperation
	}
	return native.ValueRef(h), native.Ok
}

func (r *Runtime) ValueCreateArray(data []byte, shape []int32, dtype value.Dtype, flags value.Flags) (native.ValueRef, native.Status) {
	if !dtype.IsTensor() {
		return 0, native.InvalidArgument
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	return r.newValue(value.FromBytes(dtype, data, dims, flags))
}

func (r *Runtime) ValueCreateString(text string) (native.ValueRef, native.Status) {
	return r.newValue(value.FromString(text), nil)
}

func (r *Runtime) ValueCreateList(text string) (native.ValueRef, native.Status) {
	return r.newValue(value.FromBytes(value.List, []byte(text), nil, value.CopyData))
}

func (r *Runtime) ValueCreateDict(text string) (native.ValueRef, native.Status) {
	return r.newValue(value.FromBytes(value.Dict, []byte(text), nil, value.CopyData))
}

func (r *Runtime) ValueCreateImage(pixels []byte, width, height, channels int32, flags value.Flags) (native.ValueRef, native.Status) {
	return r.newValue(value.FromImage(value.Bitmap{
		Data:     pixels,
		Width:    int(width),
		Height:   int(height),
		Channels: int(channels),
	}, flags))
}

func (r *Runtime) ValueCreateBinary(data []byte, flags value.Flags) (native.ValueRef, native.Status) {
	return r.newValue(value.FromBinary(data, flags), nil)
}

func (r *Runtime) ValueCreateNull() (native.ValueRef, native.Status) {
	return r.newValue(value.NewNull(), nil)
}

func (r *Runtime) value(ref native.ValueRef) (*value.Value, native.Status) {
	v, ok := r.values.Get(handle.Handle(ref))
	if !ok {
		return nil, native.InvalidArgument
	}
	return v, native.Ok
}

func (r *Runtime) ValueGetData(ref native.ValueRef) ([]byte, native.Status) {
	v, status := r.value(ref)
	if status != native.Ok {
		return nil, status
	}
	data, err := v.Bytes()
	if err != nil {
		return nil, native.InvalidOperation
	}
	return data, native.Ok
}

func (r *Runtime) ValueGetType(ref native.ValueRef) (value.Dtype, native.Status) {
	v, status := r.value(ref)
	if status != native.Ok {
		return value.Null, status
	}
	return v.Dtype(), native.Ok
}

func (r *Runtime) ValueGetDimensions(ref native.ValueRef) (int32, native.Status) {
	v, status := r.value(ref)
	if status != native.Ok {
		return 0, status
	}
	return int32(v.Rank()), native.Ok
}

func (r *Runtime) ValueGetShape(ref native.ValueRef, shape []int32) native.Status {
	v, status := r.value(ref)
	if status != native.Ok {
		return status
	}
	s := v.Shape()
	if len(shape) < len(s) {
		return native.InvalidArgument
	}
	for i, d := range s {
		shape[i] = int32(d)
	}
	return native.Ok
}

func (r *Runtime) ValueRelease(ref native.ValueRef) native.Status {
	v, ok := r.values.Remove(handle.Handle(ref))
	if !ok {
		return native.InvalidArgument
	}
	_ = v.Release()
	return native.Ok
}

func (r *Runtime) ValueMapCreate() (native.MapRef, native.Status) {
	h, err := r.maps.Insert(&valueMap{values: make(map[string]native.ValueRef)})
	if err != nil {
		return 0, native.InvalidOperation
	}
	return native.MapRef(h), native.Ok
}

func (r *Runtime) valueMap(ref native.MapRef) (*valueMap, native.Status) {
	m, ok := r.maps.Get(handle.Handle(ref))
	if !ok {
		return nil, native.InvalidArgument
	}
	return m, native.Ok
}

func (r *Runtime) ValueMapGetSize(ref native.MapRef) (int32, native.Status) {
	m, status := r.valueMap(ref)
	if status != native.Ok {
		return 0, status
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int32(len(m.keys)), native.Ok
}

func (r *Runtime) ValueMapGetKey(ref native.MapRef, index int32, key []byte) native.Status {
	m, status := r.valueMap(ref)
	if status != native.Ok {
		return status
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || int(index) >= len(m.keys) {
		return native.InvalidArgument
	}
	native.PutCString(key, m.keys[index])
	return native.Ok
}

func (r *Runtime) ValueMapGetValue(ref native.MapRef, key string) (native.ValueRef, native.Status) {
	m, status := r.valueMap(ref)
	if status != native.Ok {
		return 0, status
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return 0, native.InvalidArgument
	}
	return v, native.Ok
}

func (r *Runtime) ValueMapSetValue(ref native.MapRef, key string, v native.ValueRef) native.Status {
	m, status := r.valueMap(ref)
	if status != native.Ok {
		return status
	}
	if _, status := r.value(v); status != native.Ok {
		return status
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		if old != v {
			r.ValueRelease(old)
		}
	} else {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
	return native.Ok
}

func (r *Runtime) ValueMapRelease(ref native.MapRef) native.Status {
	m, ok := r.maps.Remove(handle.Handle(ref))
	if !ok {
		return native.InvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		r.ValueRelease(v)
	}
	return native.Ok
}

func (r *Runtime) ConfigurationGetUniqueID(id []byte) native.Status {
	native.PutCString(id, r.id)
	return native.Ok
}

func (r *Runtime) ConfigurationCreate() (native.ConfigRef, native.Status) {
	h, err := r.configs.Insert(&configuration{})
	if err != nil {
		return 0, native.InvalidOperation
	}
	return native.ConfigRef(h), native.Ok
}

func (r *Runtime) configure(ref native.ConfigRef, fn func(*configuration)) native.Status {
	c, ok := r.configs.Get(handle.Handle(ref))
	if !ok {
		return native.InvalidArgument
	}
	fn(c)
	return native.Ok
}

func (r *Runtime) ConfigurationSetTag(ref native.ConfigRef, tag string) native.Status {
	return r.configure(ref, func(c *configuration) { c.tag = tag })
}

func (r *Runtime) ConfigurationSetToken(ref native.ConfigRef, token string) native.Status {
	return r.configure(ref, func(c *configuration) { c.token = token })
}

func (r *Runtime) ConfigurationSetAcceleration(ref native.ConfigRef, acceleration int32) native.Status {
	return r.configure(ref, func(c *configuration) { c.acceleration = acceleration })
}

func (r *Runtime) ConfigurationSetDevice(ref native.ConfigRef, device uintptr) native.Status {
	return r.configure(ref, func(c *configuration) { c.device = device })
}

func (r *Runtime) ConfigurationAddResource(ref native.ConfigRef, typ, path string) native.Status {
	if typ == "" || path == "" {
		return native.InvalidArgument
	}
	return r.configure(ref, func(c *configuration) {
		c.resources = append(c.resources, Resource{Type: typ, Path: path})
	})
}

func (r *Runtime) ConfigurationRelease(ref native.ConfigRef) native.Status {
	if _, ok := r.configs.Remove(handle.Handle(ref)); !ok {
		return native.InvalidArgument
	}
	return native.Ok
}

func (r *Runtime) PredictorCreate(ref native.ConfigRef) (native.PredictorRef, native.Status) {
	c, ok := r.configs.Get(handle.Handle(ref))
	if !ok || c.tag == "" {
		return 0, native.InvalidArgument
	}

	r.mu.Lock()
	fn, ok := r.funcs[c.tag]
	if ok {
		r.loads[c.tag]++
	}
	r.mu.Unlock()
	if !ok {
		return 0, native.InvalidOperation
	}

	config := *c
	config.resources = slices.Clone(c.resources)
	h, err := r.predictors.Insert(&predictor{fn: fn, config: config})
	if err != nil {
		return 0, native.InvalidOperation
	}
	return native.PredictorRef(h), native.Ok
}

func (r *Runtime) PredictorPredict(ref native.PredictorRef, inputs native.MapRef) (native.PredictionRef, native.Status) {
	p, ok := r.predictors.Get(handle.Handle(ref))
	if !ok {
		return 0, native.InvalidArgument
	}
	call, status := r.newCall(p, inputs)
	if status != native.Ok {
		return 0, status
	}
	defer call.Inputs.Release()

	start := time.Now()
	outputs, err := invoke(p.fn, call)
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	result := &prediction{id: uuid.NewString(), latency: latency, logs: call.logs.String()}
	if err != nil {
		result.err = err.Error()
	}
	results, convErr := r.outputMap(outputs)
	if convErr != nil && result.err == "" {
		result.err = convErr.Error()
	}
	result.results = results

	h, ierr := r.predictions.Insert(result)
	if ierr != nil {
		r.ValueMapRelease(results)
		return 0, native.InvalidOperation
	}
	return native.PredictionRef(h), native.Ok
}

func (r *Runtime) newCall(p *predictor, inputs native.MapRef) (*Call, native.Status) {
	m, status := r.valueMap(inputs)
	if status != native.Ok {
		return nil, status
	}
	call := &Call{
		Tag:          p.config.tag,
		Acceleration: p.config.acceleration,
		Device:       p.config.device,
		Resources:    p.config.resources,
		Inputs:       value.NewMap(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.keys {
		v, status := r.value(m.values[key])
		if status != native.Ok {
			call.Inputs.Release()
			return nil, status
		}
		view, err := v.View()
		if err != nil {
			call.Inputs.Release()
			return nil, native.InvalidOperation
		}
		_ = call.Inputs.Set(key, view)
	}
	return call, native.Ok
}

func invoke(fn Func, call *Call) (outputs map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("predictor panicked: %v", p)
		}
	}()
	return fn(call)
}

// outputMap converts outputs into a new native map in sorted key order. Keys
// that fail to convert are skipped and reported in the returned error.
func (r *Runtime) outputMap(outputs map[string]any) (native.MapRef, error) {
	ref, _ := r.ValueMapCreate()
	m, _ := r.valueMap(ref)

	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var firstErr error
	for _, key := range keys {
		v, err := value.FromHost(outputs[key], value.CopyData)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("output %q: %w", key, err)
			}
			continue
		}
		h, err := r.values.Insert(v)
		if err != nil {
			continue
		}
		m.keys = append(m.keys, key)
		m.values[key] = native.ValueRef(h)
	}
	return ref, firstErr
}

func (r *Runtime) prediction(ref native.PredictionRef) (*prediction, native.Status) {
	p, ok := r.predictions.Get(handle.Handle(ref))
	if !ok {
		return nil, native.InvalidArgument
	}
	return p, native.Ok
}

func (r *Runtime) PredictorRelease(ref native.PredictorRef) native.Status {
	if _, ok := r.predictors.Remove(handle.Handle(ref)); !ok {
		return native.InvalidArgument
	}
	return native.Ok
}

func (r *Runtime) PredictionGetID(ref native.PredictionRef, id []byte) native.Status {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return status
	}
	native.PutCString(id, p.id)
	return native.Ok
}

func (r *Runtime) PredictionGetLatency(ref native.PredictionRef) (float64, native.Status) {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return 0, status
	}
	return p.latency, native.Ok
}

func (r *Runtime) PredictionGetResults(ref native.PredictionRef) (native.MapRef, native.Status) {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return 0, status
	}
	return p.results, native.Ok
}

func (r *Runtime) PredictionGetError(ref native.PredictionRef, msg []byte) native.Status {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return status
	}
	if p.err == "" {
		return native.InvalidOperation
	}
	native.PutCString(msg, p.err)
	return native.Ok
}

func (r *Runtime) PredictionGetLogLength(ref native.PredictionRef) (int32, native.Status) {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return 0, status
	}
	return int32(len(p.logs)), native.Ok
}

func (r *Runtime) PredictionGetLogs(ref native.PredictionRef, logs []byte) native.Status {
	p, status := r.prediction(ref)
	if status != native.Ok {
		return status
	}
	native.PutCString(logs, p.logs)
	return native.Ok
}

func (r *Runtime) PredictionRelease(ref native.PredictionRef) native.Status {
	p, ok := r.predictions.Remove(handle.Handle(ref))
	if !ok {
		return native.InvalidArgument
	}
	r.ValueMapRelease(p.results)
	return native.Ok
}
