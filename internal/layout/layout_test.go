package layout

import (
	"fmt"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// renderQuickHeaderTable formats an offset table deterministically so
// two versions' tables can be compared field-by-field with a
// line-oriented diff instead of a brittle struct equality check.
func renderQuickHeaderTable(o QuickMethodHeaderOffsets) string {
	return fmt.Sprintf(
		"vmap_table_offset_=%d\nmethod_info_offset_=%d\nframe_info_=%d\ncode_size_=%d\ndata_=%d\ncode_info_offset_=%d\ncode_=%d\nsize=%d\n",
		o.VmapTableOffset, o.MethodInfo, o.FrameInfo, o.CodeSize, o.Data, o.CodeInfoOffset, o.Code, o.Size,
	)
}

// TestQuickHeaderTableDiffersAcrossVersionFamilies asserts that the
// OAT 124 and OAT 239 layouts are not accidentally identical, using a
// text diff to pinpoint exactly which fields changed (and giving a
// human-readable artifact when this test fails after an intentional
// layout change).
func TestQuickHeaderTableDiffersAcrossVersionFamilies(t *testing.T) {
	v124 := resolveQuickHeaderTable(124)
	v239 := resolveQuickHeaderTable(239)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(renderQuickHeaderTable(v124), renderQuickHeaderTable(v239), false)

	changed := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatalf("expected OAT 124 and 239 quick-header layouts to differ, got identical render:\n%s", dmp.DiffPrettyText(diffs))
	}
}

func TestResolveQuickHeaderTableVersionGating(t *testing.T) {
	cases := []struct {
		version int
		want    QuickMethodHeaderOffsets
	}{
		{124, quickMethodHeaderTables[124]},
		{130, quickMethodHeaderTables[124]}, // between 124 and 156: still the 124 family
		{156, quickMethodHeaderTables[156]},
		{158, quickMethodHeaderTables[158]},
		{192, quickMethodHeaderTables[192]},
		{238, quickMethodHeaderTables[192]}, // 238 only changes masks, not offsets
		{239, quickMethodHeaderTables[239]},
		{250, quickMethodHeaderTables[239]},
	}
	for _, c := range cases {
		got := resolveQuickHeaderTable(c.version)
		if got != c.want {
			t.Errorf("resolveQuickHeaderTable(%d) = %+v, want %+v", c.version, got, c.want)
		}
	}
}

func TestMasksChangeValueAtV238(t *testing.T) {
	before := masksForVersion(237)
	after := masksForVersion(238)
	if before.IsCodeInfoMask != 0x40000000 || after.IsCodeInfoMask != 0x80000000 {
		t.Errorf("IsCodeInfoMask should move from 0x40000000 to 0x80000000 at v238, got %x -> %x",
			before.IsCodeInfoMask, after.IsCodeInfoMask)
	}
}

// TestNewBuildsIndependentRegistries guards against the Registry
// regressing into a process-wide global: two constructor calls with
// different parameters must return distinct Registries rather than one
// call's state leaking into or clobbering the other's.
func TestNewBuildsIndependentRegistries(t *testing.T) {
	a := New(64, 225)
	b := New(32, 124)

	if a.Bits() != 64 || b.Bits() != 32 {
		t.Errorf("Bits() = %d, %d, want 64, 32", a.Bits(), b.Bits())
	}
	if a == b {
		t.Fatal("New returned the same Registry pointer for different parameters")
	}

	// Calling New again with a's original parameters must not be
	// affected by having built b in between.
	c := New(64, 225)
	if c.Bits() != 64 {
		t.Errorf("Bits() = %d, want 64", c.Bits())
	}
}

func TestOffsetofAndSizeof(t *testing.T) {
	reg := New(64, 225)
	off, err := reg.Offsetof("Ehdr", "e_phoff")
	if err != nil {
		t.Fatalf("Offsetof: %v", err)
	}
	if reg.Bits() == 64 && off != 32 {
		t.Errorf("Ehdr.e_phoff at 64-bit = %d, want 32", off)
	}

	if _, err := reg.Offsetof("Ehdr", "no_such_field"); err == nil {
		t.Error("expected NotFound for an unknown field")
	}
	if _, err := reg.Sizeof("NoSuchStruct"); err == nil {
		t.Error("expected NotFound for an unknown struct")
	}
}

