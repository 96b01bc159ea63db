package level

import (
	"testing"

	"github.com/GoCodeAlone/pagelock/resource"
)

func TestBitsRoundTrip(t *testing.T) {
	for _, l := range All() {
		if l == None {
			continue
		}
		bits := l.Bits()
		if bits == 0 {
			t.Errorf("level %q has no bit value", l)
		}
		if bits&(bits-1) != 0 {
			t.Errorf("level %q bit %d is not a power of two", l, bits)
		}
		if got := FromBits(bits); got != l {
			t.Errorf("FromBits(Bits(%q)) = %q", l, got)
		}
	}
}

func TestFromBitsUnknown(t *testing.T) {
	for _, bits := range []uint64{3, 1 << 20, FullBitmask()} {
		if got := FromBits(bits); got != None {
			t.Errorf("FromBits(%d) = %q, want none", bits, got)
		}
	}
}

func TestFromBitsZero(t *testing.T) {
	if got := FromBits(0); got != None {
		t.Errorf("FromBits(0) = %q, want none", got)
	}
}

func TestParse(t *testing.T) {
	l, err := Parse("edit-semi")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l != EditSemi {
		t.Errorf("expected edit-semi, got %q", l)
	}

	if _, err := Parse("sysop"); err == nil {
		t.Error("expected error for unknown level name")
	}
}

func TestFullBitmask(t *testing.T) {
	var want uint64
	for _, l := range All() {
		want |= l.Bits()
	}
	if got := FullBitmask(); got != want {
		t.Errorf("FullBitmask() = %d, want %d", got, want)
	}
}

func TestCompareOrdering(t *testing.T) {
	// create > edit > edit-semi > edit-full > read > read-semi > read-full > none
	ordered := []Level{None, ReadFull, ReadSemi, Read, EditFull, EditSemi, Edit, Create}
	for i := 1; i < len(ordered); i++ {
		if Compare(ordered[i], ordered[i-1]) <= 0 {
			t.Errorf("expected %q more restrictive than %q", ordered[i], ordered[i-1])
		}
	}
	if Compare(Edit, Edit) != 0 {
		t.Error("expected Compare(edit, edit) == 0")
	}
}

func TestAllowedFor(t *testing.T) {
	tests := []struct {
		level Level
		phase resource.Phase
		want  bool
	}{
		{Create, resource.PhasePending, true},
		{Create, resource.PhaseExisting, false},
		{Edit, resource.PhaseExisting, true},
		{Edit, resource.PhasePending, false},
		{Read, resource.PhaseExisting, true},
		{None, resource.PhaseExisting, true},
		{None, resource.PhasePending, true},
		{Edit, resource.PhaseVirtual, false},
		{Level("bogus"), resource.PhaseExisting, false},
	}
	for _, tt := range tests {
		if got := AllowedFor(tt.level, tt.phase); got != tt.want {
			t.Errorf("AllowedFor(%q, %s) = %v, want %v", tt.level, tt.phase, got, tt.want)
		}
	}
}

func TestAllowedLevels(t *testing.T) {
	pending := AllowedLevels(resource.PhasePending)
	if len(pending) != 2 || pending[0] != None || pending[1] != Create {
		t.Errorf("pending levels = %v, want [none create]", pending)
	}

	existing := AllowedLevels(resource.PhaseExisting)
	if len(existing) != 7 {
		t.Errorf("expected 7 assignable levels for existing resources, got %v", existing)
	}
	for _, l := range existing {
		if l == Create {
			t.Error("create must not be assignable to existing resources")
		}
	}
}
