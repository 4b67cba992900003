package value

import (
	"testing"

	"github.com/wippyai/fxn/errors"
)

func TestMap_SetGet(t *testing.T) {
	m := NewMap()
	v, _ := FromArray([]float32{1, 2}, nil, CopyData)
	if err := m.Set("x", v); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(v) {
		t.Fatal("Get returned a different value")
	}
	if _, err := m.Get("X"); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("Get absent key: expected not_found, got %v", err)
	}
}

func TestMap_Order(t *testing.T) {
	m := NewMap()
	for _, k := range []string{"b", "a", "c"} {
		if err := m.Set(k, NewNull()); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	for i, want := range []string{"b", "a", "c"} {
		got, err := m.KeyAt(i)
		if err != nil || got != want {
			t.Fatalf("KeyAt(%d) = %q, %v; want %q", i, got, err, want)
		}
	}
	if _, err := m.KeyAt(3); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Fatalf("KeyAt out of range: expected invalid_argument, got %v", err)
	}
}

func TestMap_OverwriteReleasesPrevious(t *testing.T) {
	m := NewMap()
	first := FromString("one")
	second := FromString("two")
	_ = m.Set("k", first)
	_ = m.Set("k", second)

	if !first.Released() {
		t.Fatal("overwritten value was not released")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	got, _ := m.Get("k")
	if got != second {
		t.Fatal("Get did not return the latest value")
	}
}

func TestMap_ReleaseAndWithdraw(t *testing.T) {
	m := NewMap()
	kept := FromString("kept")
	taken := FromString("taken")
	_ = m.Set("kept", kept)
	_ = m.Set("taken", taken)

	w, err := m.Withdraw("taken")
	if err != nil || w != taken {
		t.Fatalf("Withdraw: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len after withdraw = %d, want 1", m.Len())
	}

	if err := m.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !kept.Released() {
		t.Fatal("map release did not release its value")
	}
	if taken.Released() {
		t.Fatal("withdrawn value was released with the map")
	}
	if err := m.Release(); !errors.IsKind(err, errors.KindInvalidOperation) {
		t.Fatalf("double release: expected invalid_operation, got %v", err)
	}
	if err := m.Set("x", NewNull()); err == nil {
		t.Fatal("Set on released map should fail")
	}
}
