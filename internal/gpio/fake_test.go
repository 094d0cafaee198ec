package gpio

import (
	"errors"
	"testing"
)

func TestFakeLinesSetGet(t *testing.T) {
	f := NewFakeLines()

	on, err := f.Get(26)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if on {
		t.Error("unset channel should read off")
	}

	if err := f.Set(26, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Set(25, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	on, _ = f.Get(26)
	if !on {
		t.Error("channel 26 should read on after Set(true)")
	}

	writes := f.WriteLog()
	want := []Write{{Channel: 26, On: true}, {Channel: 25, On: false}}
	if len(writes) != len(want) {
		t.Fatalf("expected %d writes, got %d", len(want), len(writes))
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d: expected %+v, got %+v", i, want[i], writes[i])
		}
	}
}

func TestFakeLinesErrors(t *testing.T) {
	f := NewFakeLines()
	f.SetError = errors.New("line busy")
	f.GetError = errors.New("line gone")

	if err := f.Set(26, true); err == nil {
		t.Error("expected Set error")
	}
	if _, err := f.Get(26); err == nil {
		t.Error("expected Get error")
	}
	if len(f.WriteLog()) != 0 {
		t.Error("failed Set should not be recorded")
	}
}

func TestFakeLinesClose(t *testing.T) {
	f := NewFakeLines()
	if f.Closed {
		t.Error("new lines should not be closed")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("Close should mark lines closed")
	}
}
