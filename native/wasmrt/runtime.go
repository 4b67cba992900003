package wasmrt

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/value"
)

// Guest exports.
const (
	exportMalloc = "malloc"
	exportFree   = "free"

	fnValueCreateArray   = "FXNValueCreateArray"
	fnValueCreateString  = "FXNValueCreateString"
	fnValueCreateList    = "FXNValueCreateList"
	fnValueCreateDict    = "FXNValueCreateDict"
	fnValueCreateImage   = "FXNValueCreateImage"
	fnValueCreateBinary  = "FXNValueCreateBinary"
	fnValueCreateNull    = "FXNValueCreateNull"
	fnValueGetData       = "FXNValueGetData"
	fnValueGetType       = "FXNValueGetType"
	fnValueGetDimensions = "FXNValueGetDimensions"
	fnValueGetShape      = "FXNValueGetShape"
	fnValueGetSize       = "FXNValueGetSize"
	fnValueRelease       = "FXNValueRelease"

	fnValueMapCreate   = "FXNValueMapCreate"
	fnValueMapGetSize  = "FXNValueMapGetSize"
	fnValueMapGetKey   = "FXNValueMapGetKey"
	fnValueMapGetValue = "FXNValueMapGetValue"
	fnValueMapSetValue = "FXNValueMapSetValue"
	fnValueMapRelease  = "FXNValueMapRelease"

	fnConfigurationGetUniqueID     = "FXNConfigurationGetUniqueID"
	fnConfigurationCreate          = "FXNConfigurationCreate"
	fnConfigurationSetTag          = "FXNConfigurationSetTag"
	fnConfigurationSetToken        = "FXNConfigurationSetToken"
	fnConfigurationSetAcceleration = "FXNConfigurationSetAcceleration"
	fnConfigurationSetDevice       = "FXNConfigurationSetDevice"
	fnConfigurationAddResource     = "FXNConfigurationAddResource"
	fnConfigurationRelease         = "FXNConfigurationRelease"

	fnPredictorCreate  = "FXNPredictorCreate"
	fnPredictorPredict = "FXNPredictorPredict"
	fnPredictorRelease = "FXNPredictorRelease"

	fnPredictionGetID        = "FXNPredictionGetID"
	fnPredictionGetLatency   = "FXNPredictionGetLatency"
	fnPredictionGetResults   = "FXNPredictionGetResults"
	fnPredictionGetError     = "FXNPredictionGetError"
	fnPredictionGetLogLength = "FXNPredictionGetLogLength"
	fnPredictionGetLogs      = "FXNPredictionGetLogs"
	fnPredictionRelease      = "FXNPredictionRelease"
)

var requiredExports = []string{
	exportMalloc, exportFree,
	fnValueCreateArray, fnValueCreateString, fnValueCreateList, fnValueCreateDict,
	fnValueCreateImage, fnValueCreateBinary, fnValueCreateNull, fnValueGetData,
	fnValueGetType, fnValueGetDimensions, fnValueGetShape, fnValueRelease,
	fnValueMapCreate, fnValueMapGetSize, fnValueMapGetKey, fnValueMapGetValue,
	fnValueMapSetValue, fnValueMapRelease,
	fnConfigurationGetUniqueID, fnConfigurationCreate, fnConfigurationSetTag,
	fnConfigurationSetToken, fnConfigurationSetAcceleration, fnConfigurationSetDevice,
	fnConfigurationAddResource, fnConfigurationRelease,
	fnPredictorCreate, fnPredictorPredict, fnPredictorRelease,
	fnPredictionGetID, fnPredictionGetLatency, fnPredictionGetResults,
	fnPredictionGetError, fnPredictionGetLogLength, fnPredictionGetLogs, fnPredictionRelease,
}

// Config holds configuration for loading a runtime module.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KB pages. 0 keeps wazero's default.
	MemoryLimitPages uint32

	// WASI instantiates wasi_snapshot_preview1 before the module.
	WASI bool

	// Imports instantiates host modules the runtime module imports. It runs
	// after WASI and before the module is compiled.
	Imports func(ctx context.Context, rt wazero.Runtime) error
}

// Runtime is a native.Runtime backed by a wazero module instance.
type Runtime struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	fns     map[string]api.Function
	mu      sync.Mutex
}

var _ native.Runtime = (*Runtime)(nil)

// Load compiles and instantiates a runtime module. ctx is retained for guest
// calls made through the native.Runtime interface.
func Load(ctx context.Context, wasm []byte, cfg *Config) (*Runtime, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	r, err := instantiate(ctx, rt, wasm, cfg)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return r, nil
}

func instantiate(ctx context.Context, rt wazero.Runtime, wasm []byte, cfg *Config) (*Runtime, error) {
	if cfg != nil && cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidOperation, err, "instantiate wasi")
		}
	}
	if cfg != nil && cfg.Imports != nil {
		if err := cfg.Imports(ctx, rt); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidOperation, err, "instantiate imports")
		}
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidArgument, err, "compile runtime module")
	}

	for _, name := range requiredExports {
		if _, ok := compiled.ExportedFunctions()[name]; !ok {
			return nil, errors.NotImplemented(errors.PhaseLoad, "runtime module does not export "+name)
		}
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return nil, errors.NotImplemented(errors.PhaseLoad, "runtime module does not export memory")
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidOperation, err, "instantiate runtime module")
	}

	r := &Runtime{
		ctx:     ctx,
		runtime: rt,
		module:  mod,
		memory:  mod.Memory(),
		fns:     make(map[string]api.Function, len(requiredExports)+1),
	}
	for _, name := range append(requiredExports, fnValueGetSize) {
		if fn := mod.ExportedFunction(name); fn != nil {
			r.fns[name] = fn
		}
	}
	return r, nil
}

// Close tears down the module and the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtime.Close(ctx)
}

// frame tracks guest allocations made for one call so they can be freed together.
type frame struct {
	r     *Runtime
	ptrs  []uint32
	fault bool
}

func (r *Runtime) begin() *frame {
	r.mu.Lock()
	return &frame{r: r}
}

func (f *frame) end() {
	for _, p := range f.ptrs {
		if _, err := f.r.fns[exportFree].Call(f.r.ctx, uint64(p)); err != nil {
			Logger().Warn("guest free failed", zap.Uint32("ptr", p), zap.Error(err))
		}
	}
	f.r.mu.Unlock()
}

func (f *frame) alloc(size uint32) uint32 {
	if f.fault {
		return 0
	}
	if size == 0 {
		size = 1
	}
	res, err := f.r.fns[exportMalloc].Call(f.r.ctx, uint64(size))
	if err != nil || len(res) == 0 || uint32(res[0]) == 0 {
		Logger().Warn("guest malloc failed", zap.Uint32("size", size), zap.Error(err))
		f.fault = true
		return 0
	}
	p := uint32(res[0])
	f.ptrs = append(f.ptrs, p)
	return p
}

func (f *frame) bytes(b []byte) uint32 {
	p := f.alloc(uint32(len(b)))
	if p != 0 && len(b) > 0 && !f.r.memory.Write(p, b) {
		f.fault = true
	}
	return p
}

func (f *frame) cstring(s string) uint32 {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return f.bytes(b)
}

func (f *frame) call(name string, args ...uint32) native.Status {
	if f.fault {
		return native.InvalidOperation
	}
	fn, ok := f.r.fns[name]
	if !ok {
		return native.NotImplemented
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = uint64(a)
	}
	res, err := fn.Call(f.r.ctx, params...)
	if err != nil {
		Logger().Error("guest call trapped", zap.String("function", name), zap.Error(err))
		f.fault = true
		return native.InvalidOperation
	}
	if len(res) == 0 {
		return native.Ok
	}
	return native.Status(int32(uint32(res[0])))
}

func (f *frame) u32(ptr uint32) uint32 {
	v, ok := f.r.memory.ReadUint32Le(ptr)
	if !ok {
		f.fault = true
	}
	return v
}

func (f *frame) read(ptr, n uint32) []byte {
	b, ok := f.r.memory.Read(ptr, n)
	if !ok {
		f.fault = true
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (f *frame) readInto(ptr uint32, buf []byte) {
	if len(buf) == 0 {
		return
	}
	copy(buf, f.read(ptr, uint32(len(buf))))
	buf[len(buf)-1] = 0
}

// create runs a constructor whose last parameter is an out pointer to a handle.
func (f *frame) create(name string, args ...uint32) (uint32, native.Status) {
	out := f.alloc(4)
	status := f.call(name, append(args, out)...)
	if status != native.Ok {
		return 0, status
	}
	ref := f.u32(out)
	if f.fault {
		return 0, native.InvalidOperation
	}
	return ref, native.Ok
}

// text calls a getter that fills a caller buffer of len(buf) bytes.
func (f *frame) text(name string, buf []byte, args ...uint32) native.Status {
	p := f.alloc(uint32(len(buf)))
	status := f.call(name, append(args, p, uint32(len(buf)))...)
	if status == native.Ok {
		f.readInto(p, buf)
	}
	if f.fault {
		return native.InvalidOperation
	}
	return status
}

func (r *Runtime) ValueCreateArray(data []byte, shape []int32, dtype value.Dtype, flags value.Flags) (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	shapeBuf := make([]byte, 4*len(shape))
	for i, d := range shape {
		putU32(shapeBuf[4*i:], uint32(d))
	}
	ref, status := f.create(fnValueCreateArray,
		f.bytes(data), f.bytes(shapeBuf), uint32(len(shape)), uint32(dtype), uint32(flags|value.CopyData))
	return native.ValueRef(ref), status
}

func (r *Runtime) createText(name, text string) (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(name, f.cstring(text))
	return native.ValueRef(ref), status
}

func (r *Runtime) ValueCreateString(text string) (native.ValueRef, native.Status) {
	return r.createText(fnValueCreateString, text)
}

func (r *Runtime) ValueCreateList(text string) (native.ValueRef, native.Status) {
	return r.createText(fnValueCreateList, text)
}

func (r *Runtime) ValueCreateDict(text string) (native.ValueRef, native.Status) {
	return r.createText(fnValueCreateDict, text)
}

func (r *Runtime) ValueCreateImage(pixels []byte, width, height, channels int32, flags value.Flags) (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnValueCreateImage,
		f.bytes(pixels), uint32(width), uint32(height), uint32(channels), uint32(flags|value.CopyData))
	return native.ValueRef(ref), status
}

func (r *Runtime) ValueCreateBinary(data []byte, flags value.Flags) (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnValueCreateBinary,
		f.bytes(data), uint32(len(data)), uint32(flags|value.CopyData))
	return native.ValueRef(ref), status
}

func (r *Runtime) ValueCreateNull() (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnValueCreateNull)
	return native.ValueRef(ref), status
}

func (r *Runtime) ValueGetData(v native.ValueRef) ([]byte, native.Status) {
	f := r.begin()
	defer f.end()

	dtypeRaw, status := f.create(fnValueGetType, uint32(v))
	if status != native.Ok {
		return nil, status
	}
	dtype := value.Dtype(int32(dtypeRaw))

	ptr, status := f.create(fnValueGetData, uint32(v))
	if status != native.Ok {
		return nil, status
	}

	var n uint32
	switch {
	case dtype == value.Null:
		return nil, native.Ok
	case dtype.HasShape():
		count, status := f.elementCount(uint32(v))
		if status != native.Ok {
			return nil, status
		}
		n = count * uint32(dtype.ElementSize())
	case dtype == value.Binary:
		size, status := f.create(fnValueGetSize, uint32(v))
		if status != native.Ok {
			return nil, status
		}
		n = size
	default:
		n = f.strlen(ptr)
	}
	data := f.read(ptr, n)
	if f.fault {
		return nil, native.InvalidOperation
	}
	return data, native.Ok
}

func (f *frame) elementCount(v uint32) (uint32, native.Status) {
	dims, status := f.create(fnValueGetDimensions, v)
	if status != native.Ok {
		return 0, status
	}
	if dims == 0 {
		return 1, native.Ok
	}
	shape := f.alloc(4 * dims)
	if status := f.call(fnValueGetShape, v, shape, dims); status != native.Ok {
		return 0, status
	}
	n := uint32(1)
	for i := range dims {
		n *= f.u32(shape + 4*i)
	}
	return n, native.Ok
}

// strlen faults the frame when no terminator appears before the end of memory.
func (f *frame) strlen(ptr uint32) uint32 {
	size := f.r.memory.Size()
	for n := uint32(0); ptr+n < size; n++ {
		b, ok := f.r.memory.ReadByte(ptr + n)
		if !ok {
			break
		}
		if b == 0 {
			return n
		}
	}
	f.fault = true
	return 0
}

func (r *Runtime) ValueGetType(v native.ValueRef) (value.Dtype, native.Status) {
	f := r.begin()
	defer f.end()
	dtype, status := f.create(fnValueGetType, uint32(v))
	return value.Dtype(int32(dtype)), status
}

func (r *Runtime) ValueGetDimensions(v native.ValueRef) (int32, native.Status) {
	f := r.begin()
	defer f.end()
	dims, status := f.create(fnValueGetDimensions, uint32(v))
	return int32(dims), status
}

func (r *Runtime) ValueGetShape(v native.ValueRef, shape []int32) native.Status {
	f := r.begin()
	defer f.end()
	p := f.alloc(uint32(4 * len(shape)))
	status := f.call(fnValueGetShape, uint32(v), p, uint32(len(shape)))
	if status != native.Ok {
		return status
	}
	for i := range shape {
		shape[i] = int32(f.u32(p + uint32(4*i)))
	}
	if f.fault {
		return native.InvalidOperation
	}
	return native.Ok
}

func (r *Runtime) release(name string, ref uint32) native.Status {
	f := r.begin()
	defer f.end()
	return f.call(name, ref)
}

func (r *Runtime) ValueRelease(v native.ValueRef) native.Status {
	return r.release(fnValueRelease, uint32(v))
}

func (r *Runtime) ValueMapCreate() (native.MapRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnValueMapCreate)
	return native.MapRef(ref), status
}

func (r *Runtime) ValueMapGetSize(m native.MapRef) (int32, native.Status) {
	f := r.begin()
	defer f.end()
	n, status := f.create(fnValueMapGetSize, uint32(m))
	return int32(n), status
}

func (r *Runtime) ValueMapGetKey(m native.MapRef, index int32, key []byte) native.Status {
	f := r.begin()
	defer f.end()
	return f.text(fnValueMapGetKey, key, uint32(m), uint32(index))
}

func (r *Runtime) ValueMapGetValue(m native.MapRef, key string) (native.ValueRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnValueMapGetValue, uint32(m), f.cstring(key))
	return native.ValueRef(ref), status
}

func (r *Runtime) ValueMapSetValue(m native.MapRef, key string, v native.ValueRef) native.Status {
	f := r.begin()
	defer f.end()
	return f.call(fnValueMapSetValue, uint32(m), f.cstring(key), uint32(v))
}

func (r *Runtime) ValueMapRelease(m native.MapRef) native.Status {
	return r.release(fnValueMapRelease, uint32(m))
}

func (r *Runtime) ConfigurationGetUniqueID(id []byte) native.Status {
	f := r.begin()
	defer f.end()
	return f.text(fnConfigurationGetUniqueID, id)
}

func (r *Runtime) ConfigurationCreate() (native.ConfigRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnConfigurationCreate)
	return native.ConfigRef(ref), status
}

func (r *Runtime) setText(name string, c native.ConfigRef, texts ...string) native.Status {
	f := r.begin()
	defer f.end()
	args := []uint32{uint32(c)}
	for _, s := range texts {
		args = append(args, f.cstring(s))
	}
	return f.call(name, args...)
}

func (r *Runtime) ConfigurationSetTag(c native.ConfigRef, tag string) native.Status {
	return r.setText(fnConfigurationSetTag, c, tag)
}

func (r *Runtime) ConfigurationSetToken(c native.ConfigRef, token string) native.Status {
	return r.setText(fnConfigurationSetToken, c, token)
}

func (r *Runtime) ConfigurationSetAcceleration(c native.ConfigRef, acceleration int32) native.Status {
	f := r.begin()
	defer f.end()
	return f.call(fnConfigurationSetAcceleration, uint32(c), uint32(acceleration))
}

func (r *Runtime) ConfigurationSetDevice(c native.ConfigRef, device uintptr) native.Status {
	f := r.begin()
	defer f.end()
	return f.call(fnConfigurationSetDevice, uint32(c), uint32(device))
}

func (r *Runtime) ConfigurationAddResource(c native.ConfigRef, typ, path string) native.Status {
	return r.setText(fnConfigurationAddResource, c, typ, path)
}

func (r *Runtime) ConfigurationRelease(c native.ConfigRef) native.Status {
	return r.release(fnConfigurationRelease, uint32(c))
}

func (r *Runtime) PredictorCreate(c native.ConfigRef) (native.PredictorRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnPredictorCreate, uint32(c))
	return native.PredictorRef(ref), status
}

func (r *Runtime) PredictorPredict(p native.PredictorRef, inputs native.MapRef) (native.PredictionRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnPredictorPredict, uint32(p), uint32(inputs))
	return native.PredictionRef(ref), status
}

func (r *Runtime) PredictorRelease(p native.PredictorRef) native.Status {
	return r.release(fnPredictorRelease, uint32(p))
}

func (r *Runtime) PredictionGetID(p native.PredictionRef, id []byte) native.Status {
	f := r.begin()
	defer f.end()
	return f.text(fnPredictionGetID, id, uint32(p))
}

func (r *Runtime) PredictionGetLatency(p native.PredictionRef) (float64, native.Status) {
	f := r.begin()
	defer f.end()
	out := f.alloc(8)
	if status := f.call(fnPredictionGetLatency, uint32(p), out); status != native.Ok {
		return 0, status
	}
	bits, ok := r.memory.ReadUint64Le(out)
	if !ok {
		return 0, native.InvalidOperation
	}
	return api.DecodeF64(bits), native.Ok
}

func (r *Runtime) PredictionGetResults(p native.PredictionRef) (native.MapRef, native.Status) {
	f := r.begin()
	defer f.end()
	ref, status := f.create(fnPredictionGetResults, uint32(p))
	return native.MapRef(ref), status
}

func (r *Runtime) PredictionGetError(p native.PredictionRef, msg []byte) native.Status {
	f := r.begin()
	defer f.end()
	return f.text(fnPredictionGetError, msg, uint32(p))
}

func (r *Runtime) PredictionGetLogLength(p native.PredictionRef) (int32, native.Status) {
	f := r.begin()
	defer f.end()
	n, status := f.create(fnPredictionGetLogLength, uint32(p))
	return int32(n), status
}

func (r *Runtime) PredictionGetLogs(p native.PredictionRef, logs []byte) native.Status {
	f := r.begin()
	defer f.end()
	return f.text(fnPredictionGetLogs, logs, uint32(p))
}

func (r *Runtime) PredictionRelease(p native.PredictionRef) native.Status {
	return r.release(fnPredictionRelease, uint32(p))
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
