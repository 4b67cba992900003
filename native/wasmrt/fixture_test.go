package wasmrt

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/value"
)

// fixtureID is what the fixture reports from FXNConfigurationGetUniqueID.
const fixtureID = "fixture-config"

const guestHeapBase = 1024

type guestValue struct {
	dtype value.Dtype
	ptr   uint32
	shape []uint32
	size  uint32
}

// guest is the host half of the fixture runtime module. The module defines
// and exports memory, and each of its exports forwards to an "env" import
// implemented here against that memory.
type guest struct {
	next     uint32
	live     map[uint32]uint32
	values   map[uint32]*guestValue
	lastRef  uint32
	mallocs  int
	frees    int
	releases int
}

func newGuest() *guest {
	return &guest{
		next:   guestHeapBase,
		live:   make(map[uint32]uint32),
		values: make(map[uint32]*guestValue),
	}
}

type guestFunc struct {
	name   string
	params int
	void   bool
	fn     func(g *guest, mem api.Memory, args []uint32) uint32
}

func notImplemented(*guest, api.Memory, []uint32) uint32 {
	return uint32(native.NotImplemented)
}

var guestFuncs = []guestFunc{
	{name: exportMalloc, params: 1, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		return g.malloc(mem, a[0])
	}},
	{name: exportFree, params: 1, void: true, fn: func(g *guest, _ api.Memory, a []uint32) uint32 {
		g.free(a[0])
		return 0
	}},

	{name: fnValueCreateArray, params: 6, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		dtype := value.Dtype(a[3])
		shape := make([]uint32, a[2])
		count := uint32(1)
		for i := range shape {
			shape[i], _ = mem.ReadUint32Le(a[1] + 4*uint32(i))
			count *= shape[i]
		}
		return g.create(mem, a[5], dtype, a[0], count*uint32(dtype.ElementSize()), shape)
	}},
	{name: fnValueCreateString, params: 2, fn: createText(value.String)},
	{name: fnValueCreateList, params: 2, fn: createText(value.List)},
	{name: fnValueCreateDict, params: 2, fn: createText(value.Dict)},
	{name: fnValueCreateImage, params: 6, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		shape := []uint32{a[2], a[1], a[3]}
		return g.create(mem, a[5], value.Image, a[0], a[1]*a[2]*a[3], shape)
	}},
	{name: fnValueCreateBinary, params: 4, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		return g.create(mem, a[3], value.Binary, a[0], a[1], nil)
	}},
	{name: fnValueCreateNull, params: 1, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		mem.WriteUint32Le(a[0], g.register(&guestValue{dtype: value.Null}))
		return uint32(native.Ok)
	}},
	{name: fnValueGetData, params: 2, fn: getter(func(v *guestValue) uint32 { return v.ptr })},
	{name: fnValueGetType, params: 2, fn: getter(func(v *guestValue) uint32 { return uint32(v.dtype) })},
	{name: fnValueGetDimensions, params: 2, fn: getter(func(v *guestValue) uint32 { return uint32(len(v.shape)) })},
	{name: fnValueGetSize, params: 2, fn: getter(func(v *guestValue) uint32 { return v.size })},
	{name: fnValueGetShape, params: 3, fn: func(g *guest, mem api.Memory, a []uint32) uint32 {
		v, ok := g.values[a[0]]
		if !ok || int(a[2]) < len(v.shape) {
			return uint32(native.InvalidArgument)
		}
		for i, d := range v.shape {
			mem.WriteUint32Le(a[1]+4*uint32(i), d)
		}
		return uint32(native.Ok)
	}},
	{name: fnValueRelease, params: 1, fn: func(g *guest, _ api.Memory, a []uint32) uint32 {
		v, ok := g.values[a[0]]
		if !ok {
			return uint32(native.InvalidArgument)
		}
		if v.dtype != value.Null {
			g.free(v.ptr)
		}
		delete(g.values, a[0])
		g.releases++
		return uint32(native.Ok)
	}},

	{name: fnValueMapCreate, params: 1, fn: notImplemented},
	{name: fnValueMapGetSize, params: 2, fn: notImplemented},
	{name: fnValueMapGetKey, params: 4, fn: notImplemented},
	{name: fnValueMapGetValue, params: 3, fn: notImplemented},
	{name: fnValueMapSetValue, params: 3, fn: notImplemented},
	{name: fnValueMapRelease, params: 1, fn: notImplemented},

	{name: fnConfigurationGetUniqueID, params: 2, fn: func(_ *guest, mem api.Memory, a []uint32) uint32 {
		id := append([]byte(fixtureID), 0)
		if int(a[1]) < len(id) {
			return uint32(native.InvalidArgument)
		}
		mem.Write(a[0], id)
		return uint32(native.Ok)
	}},
	{name: fnConfigurationCreate, params: 1, fn: notImplemented},
	{name: fnConfigurationSetTag, params: 2, fn: notImplemented},
	{name: fnConfigurationSetToken, params: 2, fn: notImplemented},
	{name: fnConfigurationSetAcceleration, params: 2, fn: notImplemented},
	{name: fnConfigurationSetDevice, params: 2, fn: notImplemented},
	{name: fnConfigurationAddResource, params: 3, fn: notImplemented},
	{name: fnConfigurationRelease, params: 1, fn: notImplemented},

	{name: fnPredictorCreate, params: 2, fn: notImplemented},
	{name: fnPredictorPredict, params: 3, fn: notImplemented},
	{name: fnPredictorRelease, params: 1, fn: notImplemented},

	{name: fnPredictionGetID, params: 3, fn: notImplemented},
	{name: fnPredictionGetLatency, params: 2, fn: notImplemented},
	{name: fnPredictionGetResults, params: 2, fn: notImplemented},
	{name: fnPredictionGetError, params: 3, fn: notImplemented},
	{name: fnPredictionGetLogLength, params: 2, fn: notImplemented},
	{name: fnPredictionGetLogs, params: 3, fn: notImplemented},
	{name: fnPredictionRelease, params: 1, fn: notImplemented},
}

func (g *guest) malloc(mem api.Memory, size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	p := (g.next + 7) &^ 7
	if uint64(p)+uint64(size) > uint64(mem.Size()) {
		return 0
	}
	g.next = p + size
	g.live[p] = size
	g.mallocs++
	return p
}

func (g *guest) free(p uint32) {
	if _, ok := g.live[p]; ok {
		delete(g.live, p)
		g.frees++
	}
}

func (g *guest) register(v *guestValue) uint32 {
	g.lastRef++
	g.values[g.lastRef] = v
	return g.lastRef
}

// create copies size bytes at src into a guest-owned buffer and writes the new
// value's handle to out.
func (g *guest) create(mem api.Memory, out uint32, dtype value.Dtype, src, size uint32, shape []uint32) uint32 {
	data, ok := mem.Read(src, size)
	if !ok {
		return uint32(native.InvalidArgument)
	}
	data = append([]byte(nil), data...)
	p := g.malloc(mem, size)
	if p == 0 || !mem.Write(p, data) {
		return uint32(native.InvalidOperation)
	}
	mem.WriteUint32Le(out, g.register(&guestValue{dtype: dtype, ptr: p, shape: shape, size: size}))
	return uint32(native.Ok)
}

func createText(dtype value.Dtype) func(*guest, api.Memory, []uint32) uint32 {
	return func(g *guest, mem api.Memory, a []uint32) uint32 {
		n := uint32(0)
		for {
			b, ok := mem.ReadByte(a[0] + n)
			if !ok {
				return uint32(native.InvalidArgument)
			}
			if b == 0 {
				break
			}
			n++
		}
		return g.create(mem, a[1], dtype, a[0], n+1, nil)
	}
}

func getter(field func(*guestValue) uint32) func(*guest, api.Memory, []uint32) uint32 {
	return func(g *guest, mem api.Memory, a []uint32) uint32 {
		v, ok := g.values[a[0]]
		if !ok {
			return uint32(native.InvalidArgument)
		}
		mem.WriteUint32Le(a[1], field(v))
		return uint32(native.Ok)
	}
}

func (g *guest) instantiate(ctx context.Context, rt wazero.Runtime) error {
	b := rt.NewHostModuleBuilder("env")
	for _, gf := range guestFuncs {
		params := make([]api.ValueType, gf.params)
		for i := range params {
			params[i] = api.ValueTypeI32
		}
		var results []api.ValueType
		if !gf.void {
			results = []api.ValueType{api.ValueTypeI32}
		}
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
				args := make([]uint32, gf.params)
				for i := range args {
					args[i] = api.DecodeU32(stack[i])
				}
				res := gf.fn(g, mod.Memory(), args)
				if !gf.void {
					stack[0] = api.EncodeU32(res)
				}
			}), params, results).
			Export(gf.name)
	}
	_, err := b.Instantiate(ctx)
	return err
}

func loadFixture(t *testing.T) (*Runtime, *guest) {
	t.Helper()
	g := newGuest()
	rt, err := Load(context.Background(), fixtureModule(), &Config{MemoryLimitPages: 16, Imports: g.instantiate})
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt, g
}

// fixtureModule encodes a core module with one page of exported memory and a
// local function per guestFuncs entry that forwards its parameters to the
// matching "env" import.
func fixtureModule() []byte {
	type sig struct {
		params int
		void   bool
	}
	var (
		types   []sig
		typeIdx = make(map[sig]int)
		fnTypes []int
	)
	for _, gf := range guestFuncs {
		s := sig{gf.params, gf.void}
		idx, ok := typeIdx[s]
		if !ok {
			idx = len(types)
			typeIdx[s] = idx
			types = append(types, s)
		}
		fnTypes = append(fnTypes, idx)
	}

	var typeSec [][]byte
	for _, s := range types {
		ft := []byte{0x60}
		ft = append(ft, uleb(uint32(s.params))...)
		for range s.params {
			ft = append(ft, 0x7f)
		}
		if s.void {
			ft = append(ft, 0x00)
		} else {
			ft = append(ft, 0x01, 0x7f)
		}
		typeSec = append(typeSec, ft)
	}

	var importSec, funcSec, exportSec, codeSec [][]byte
	imported := uint32(len(guestFuncs))
	for i, gf := range guestFuncs {
		imp := append(wasmName("env"), wasmName(gf.name)...)
		imp = append(imp, 0x00)
		importSec = append(importSec, append(imp, uleb(uint32(fnTypes[i]))...))

		funcSec = append(funcSec, uleb(uint32(fnTypes[i])))

		exp := append(wasmName(gf.name), 0x00)
		exportSec = append(exportSec, append(exp, uleb(imported+uint32(i))...))

		body := []byte{0x00}
		for p := range gf.params {
			body = append(body, 0x20)
			body = append(body, uleb(uint32(p))...)
		}
		body = append(body, 0x10)
		body = append(body, uleb(uint32(i))...)
		body = append(body, 0x0b)
		codeSec = append(codeSec, append(uleb(uint32(len(body))), body...))
	}
	exportSec = append(exportSec, append(wasmName("memory"), 0x02, 0x00))

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, wasmSection(1, typeSec)...)
	out = append(out, wasmSection(2, importSec)...)
	out = append(out, wasmSection(3, funcSec)...)
	out = append(out, wasmSection(5, [][]byte{{0x00, 0x01}})...)
	out = append(out, wasmSection(7, exportSec)...)
	out = append(out, wasmSection(10, codeSec)...)
	return out
}

func wasmSection(id byte, items [][]byte) []byte {
	content := uleb(uint32(len(items)))
	for _, it := range items {
		content = append(content, it...)
	}
	sec := []byte{id}
	sec = append(sec, uleb(uint32(len(content)))...)
	return append(sec, content...)
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
