package native_test

import (
	stderrors "errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/fxn/errors"
	"github.com/wippyai/fxn/native"
	"github.com/wippyai/fxn/native/inproc"
	"github.com/wippyai/fxn/value"
)

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		status native.Status
		kind   errors.Kind
	}{
		{native.InvalidArgument, errors.KindInvalidArgument},
		{native.InvalidOperation, errors.KindInvalidOperation},
		{native.NotImplemented, errors.KindNotImplemented},
	}
	if err := native.Ok.Err("op"); err != nil {
		t.Fatalf("Ok.Err = %v, want nil", err)
	}
	for _, tt := range tests {
		err := tt.status.Err("ValueCreateNull")
		if errors.KindOf(err) != tt.kind {
			t.Errorf("%v: kind = %q, want %q", tt.status, errors.KindOf(err), tt.kind)
		}
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Phase != errors.PhaseBridge {
			t.Errorf("%v: expected bridge phase error, got %v", tt.status, err)
		}
	}
}

func TestCString(t *testing.T) {
	buf := make([]byte, 4)
	native.PutCString(buf, "abcdef")
	if got := native.CString(buf); got != "abc" {
		t.Fatalf("truncated = %q, want %q", got, "abc")
	}
	native.PutCString(buf, "x")
	if got := native.CString(buf); got != "x" {
		t.Fatalf("got %q, want %q", got, "x")
	}
	native.PutCString(nil, "ignored")
}

func TestBridge_ValueRoundTrip(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	tensor, _ := value.FromArray([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3}, value.CopyData)
	list, _ := value.FromList([]any{"a", 1.0})
	dict, _ := value.FromDict(map[string]any{"k": "v"})
	img, _ := value.FromImage(value.Bitmap{Data: make([]byte, 2*3*4), Width: 3, Height: 2, Channels: 4}, value.CopyData)

	inputs := []*value.Value{
		value.NewNull(),
		value.FromScalar(int64(-7)),
		value.FromScalar(true),
		tensor,
		value.FromString("hello"),
		list,
		dict,
		img,
		value.FromBinary([]byte{0, 1, 2}, value.CopyData),
	}

	for _, in := range inputs {
		nv, err := b.NewValue(in, value.FlagNone)
		if err != nil {
			t.Fatalf("NewValue(%v): %v", in.Dtype(), err)
		}
		out, err := nv.Read()
		if err != nil {
			t.Fatalf("Read(%v): %v", in.Dtype(), err)
		}
		if !out.Equal(in) {
			t.Fatalf("%v: round trip mismatch", in.Dtype())
		}
		if !out.Owned() {
			t.Fatalf("%v: read value must own its data", in.Dtype())
		}
		if err := nv.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("leaked %d handles", n)
	}
}

func TestBridge_RankLimit(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	v, err := value.FromBytes(value.Int8, nil, make([]int, 33), value.CopyData)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if _, err := b.NewValue(v, value.CopyData); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("leaked %d handles", n)
	}
}

func TestBridge_DoubleRelease(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	nv, err := b.NewValue(value.FromString("x"), value.CopyData)
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	if err := nv.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := nv.Release(); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("second release: expected invalid_operation, got %v", err)
	}
	if _, err := nv.Read(); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("read after release: expected invalid_operation, got %v", err)
	}
}

func TestBridge_ValueMap(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	m := value.NewMap()
	_ = m.Set("b", value.FromScalar(int32(2)))
	_ = m.Set("a", value.FromString("one"))

	nm, err := b.NewValueMap(m, value.FlagNone)
	if err != nil {
		t.Fatalf("NewValueMap: %v", err)
	}
	n, err := nm.Len()
	if err != nil || n != 2 {
		t.Fatalf("Len = %d, %v; want 2", n, err)
	}
	if key, _ := nm.Key(0); key != "b" {
		t.Fatalf("Key(0) = %q, want %q", key, "b")
	}

	got, err := nm.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !reflect.DeepEqual(got.Keys(), []string{"b", "a"}) {
		t.Fatalf("keys = %v", got.Keys())
	}
	a, _ := got.Get("a")
	if host, _ := a.ToHost(); host != "one" {
		t.Fatalf("a = %#v, want %q", host, "one")
	}

	if _, err := nm.Get("missing"); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Fatalf("Get missing: expected invalid_argument, got %v", err)
	}

	borrowed, err := nm.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := borrowed.Release(); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("releasing a borrowed value: expected invalid_operation, got %v", err)
	}

	if err := nm.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("leaked %d handles: %+v", n, rt.Stats())
	}
}

func TestBridge_SetTransfersOwnership(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	nm, err := b.NewValueMap(value.NewMap(), value.FlagNone)
	if err != nil {
		t.Fatalf("NewValueMap: %v", err)
	}
	nv, _ := b.NewValue(value.FromString("x"), value.CopyData)
	if err := nm.Set("x", nv); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := nv.Release(); err == nil {
		t.Fatal("value owned by a map must not be released by the caller")
	}
	_ = nm.Release()
	if n := rt.Stats().Values; n != 0 {
		t.Fatalf("map release left %d values", n)
	}
}

func newPredictor(t *testing.T, rt *inproc.Runtime, tag string) *native.Predictor {
	t.Helper()
	b := native.New(rt)
	c, err := b.NewConfiguration()
	if err != nil {
		t.Fatalf("NewConfiguration: %v", err)
	}
	defer c.Release()

	if err := c.SetTag(tag); err != nil {
		t.Fatalf("SetTag: %v", err)
	}
	if err := c.SetToken("token"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := c.SetAcceleration(1); err != nil {
		t.Fatalf("SetAcceleration: %v", err)
	}
	if err := c.SetDevice(0); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	p, err := b.NewPredictor(c)
	if err != nil {
		t.Fatalf("NewPredictor: %v", err)
	}
	return p
}

func TestPredictor_Run(t *testing.T) {
	rt := inproc.New()
	rt.Register("@test/square", func(call *inproc.Call) (map[string]any, error) {
		x, err := call.Input("x")
		if err != nil {
			return nil, err
		}
		call.Logf("squaring %v", x)
		n := x.(int64)
		return map[string]any{"y": n * n}, nil
	})

	p := newPredictor(t, rt, "@test/square")
	if p.Tag() != "@test/square" {
		t.Fatalf("Tag = %q", p.Tag())
	}

	inputs := value.NewMap()
	_ = inputs.Set("x", value.FromScalar(int64(3)))
	out, err := p.Run(inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ID == "" {
		t.Fatal("missing prediction id")
	}
	if out.Error != "" {
		t.Fatalf("unexpected error %q", out.Error)
	}
	if out.Logs != "squaring 3\n" {
		t.Fatalf("logs = %q", out.Logs)
	}
	y, _ := out.Results.Get("y")
	if host, _ := y.ToHost(); host != int64(9) {
		t.Fatalf("y = %#v, want 9", host)
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("leaked handles: %+v", rt.Stats())
	}
}

func TestPredictor_ErrorWithPartialResults(t *testing.T) {
	rt := inproc.New()
	rt.Register("@test/fail", func(call *inproc.Call) (map[string]any, error) {
		call.Logf("starting")
		return map[string]any{"partial": "yes"}, stderrors.New("out of memory")
	})

	p := newPredictor(t, rt, "@test/fail")
	defer p.Release()

	out, err := p.Run(value.NewMap())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Error != "out of memory" {
		t.Fatalf("Error = %q", out.Error)
	}
	if out.Results.Len() != 1 {
		t.Fatalf("partial results dropped")
	}
}

func TestPredictor_Panic(t *testing.T) {
	rt := inproc.New()
	rt.Register("@test/panic", func(*inproc.Call) (map[string]any, error) {
		panic("boom")
	})
	p := newPredictor(t, rt, "@test/panic")
	defer p.Release()

	out, err := p.Run(value.NewMap())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Error == "" {
		t.Fatal("panic not surfaced as prediction error")
	}
}

func TestBridge_UnknownPredictor(t *testing.T) {
	rt := inproc.New()
	b := native.New(rt)

	c, _ := b.NewConfiguration()
	_ = c.SetTag("@test/missing")
	_, err := b.NewPredictor(c)
	if !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("expected invalid_operation, got %v", err)
	}
	_ = c.Release()

	if _, err := b.NewPredictor(c); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("released configuration: expected invalid_operation, got %v", err)
	}
	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("leaked handles: %+v", rt.Stats())
	}
}

func TestPredictor_UseAfterRelease(t *testing.T) {
	rt := inproc.New()
	rt.Register("@test/noop", func(*inproc.Call) (map[string]any, error) { return nil, nil })
	p := newPredictor(t, rt, "@test/noop")
	_ = p.Release()

	if !p.Released() {
		t.Fatal("Released() = false")
	}
	if _, err := p.Run(value.NewMap()); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("expected invalid_operation, got %v", err)
	}
	if n := rt.Stats().Total(); n != 0 {
		t.Fatalf("failed run leaked handles: %+v", rt.Stats())
	}
}

func TestPredictor_SerializesCalls(t *testing.T) {
	var active, peak atomic.Int32
	rt := inproc.New()
	rt.Register("@test/slow", func(*inproc.Call) (map[string]any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		for range 1000 {
		}
		return nil, nil
	})
	p := newPredictor(t, rt, "@test/slow")
	defer p.Release()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(value.NewMap()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("observed %d concurrent calls on one predictor", peak.Load())
	}
}

func TestBridge_UniqueID(t *testing.T) {
	b := native.New(inproc.New())
	id, err := b.UniqueID()
	if err != nil || id == "" {
		t.Fatalf("UniqueID = %q, %v", id, err)
	}
}
