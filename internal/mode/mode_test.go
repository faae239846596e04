package mode

import (
	"testing"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInitialState(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if m.Mode() != types.ModeDisarmed {
		t.Errorf("initial mode = %s, want DISARMED", m.Mode())
	}
	if m.PanicStop() {
		t.Error("initial panic should be false")
	}
	if m.MayExecute() || m.IsAutoExecute() || m.IsConfirmMode() {
		t.Error("disarmed manager must not permit execution")
	}
}

func TestArmedConfirm(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Set(types.ModeArmedConfirm, at)
	if !m.MayExecute() {
		t.Error("armed confirm should allow execution")
	}
	if !m.IsConfirmMode() {
		t.Error("expected confirm mode")
	}
	if m.IsAutoExecute() {
		t.Error("confirm mode must not auto-execute")
	}
}

func TestArmedAuto(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Set(types.ModeArmedAuto, at)
	if !m.IsAutoExecute() {
		t.Error("expected auto-execute")
	}
	if m.IsConfirmMode() {
		t.Error("auto mode is not confirm mode")
	}
}

func TestPanicDisarms(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Set(types.ModeArmedAuto, at)
	m.Panic(at)

	if m.Mode() != types.ModeDisarmed {
		t.Errorf("mode after panic = %s, want DISARMED", m.Mode())
	}
	if !m.PanicStop() {
		t.Error("panic flag should be set")
	}
	if m.MayExecute() || m.IsAutoExecute() || m.IsConfirmMode() {
		t.Error("panic must block all execution predicates")
	}

	// Idempotent.
	m.Panic(at)
	if !m.PanicStop() {
		t.Error("second panic should keep the flag set")
	}
}

func TestExplicitTransitionLeavesPanic(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Panic(at)
	m.Set(types.ModeArmedConfirm, at.Add(time.Minute))

	if m.PanicStop() {
		t.Error("explicit mode set should clear panic")
	}
	if !m.IsConfirmMode() {
		t.Error("expected confirm mode after re-arm")
	}
}

func TestTransitionCallback(t *testing.T) {
	t.Parallel()

	type change struct {
		mode  types.ExecMode
		panic bool
	}
	var changes []change
	m := NewManager(func(mode types.ExecMode, panicStop bool, _ time.Time) {
		changes = append(changes, change{mode, panicStop})
	})

	m.Set(types.ModeArmedAuto, at)
	m.Panic(at)
	m.Set(types.ModeDisarmed, at)

	want := []change{
		{types.ModeArmedAuto, false},
		{types.ModeDisarmed, true},
		{types.ModeDisarmed, false},
	}
	if len(changes) != len(want) {
		t.Fatalf("callback count = %d, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}
}
