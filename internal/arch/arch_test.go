package arch

import "testing"

func TestFromELFMachine(t *testing.T) {
	cases := []struct {
		em   uint16
		want Machine
	}{
		{3, I386},
		{40, ARM},
		{62, X86_64},
		{183, AArch64},
		{243, RISCV64},
	}
	for _, c := range cases {
		got, err := FromELFMachine(c.em)
		if err != nil {
			t.Fatalf("FromELFMachine(%d): %v", c.em, err)
		}
		if got != c.want {
			t.Errorf("FromELFMachine(%d) = %v, want %v", c.em, got, c.want)
		}
	}
	if _, err := FromELFMachine(9999); err == nil {
		t.Error("expected error for unrecognized machine")
	}
}

func TestPointerBits(t *testing.T) {
	if X86_64.PointerBits() != 64 {
		t.Error("x86_64 should be 64-bit")
	}
	if ARM.PointerBits() != 32 {
		t.Error("arm should be 32-bit")
	}
	if I386.PointerBits() != 32 {
		t.Error("i386 should be 32-bit")
	}
}

func TestStripPointerTag(t *testing.T) {
	// AArch64 TBI: top byte masked off.
	tagged := uint64(0xBF00000012345678)
	want := uint64(0x0000000012345678)
	if got := AArch64.StripPointerTag(tagged); got != want {
		t.Errorf("AArch64.StripPointerTag(0x%x) = 0x%x, want 0x%x", tagged, got, want)
	}

	// ARM Thumb entry points are code+1.
	if got := ARM.StripPointerTag(0x1000); got != 0x1001 {
		t.Errorf("ARM.StripPointerTag(0x1000) = 0x%x, want 0x1001", got)
	}

	// x86_64 is unchanged.
	if got := X86_64.StripPointerTag(0xdeadbeef); got != 0xdeadbeef {
		t.Errorf("X86_64.StripPointerTag should be identity, got 0x%x", got)
	}
}

func TestVabitsMask(t *testing.T) {
	if I386.VabitsMask() != 0xFFFFFFFF {
		t.Error("i386 vabits mask should be 32-bit")
	}
	if AArch64.VabitsMask() != (uint64(1)<<56)-1 {
		t.Error("aarch64 vabits mask should strip the top byte")
	}
	if X86_64.VabitsMask() != ^uint64(0) {
		t.Error("x86_64 vabits mask should be full width")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, m := range []Machine{X86_64, I386, AArch64, ARM, RISCV64} {
		parsed, err := Parse(m.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", m.String(), err)
		}
		if parsed != m {
			t.Errorf("Parse(%q) = %v, want %v", m.String(), parsed, m)
		}
	}
}
