package types

import "testing"

func TestSectionFlagSplit(t *testing.T) {
	f := SectionFlag(uint32(SCStringLiterals)) | AttrPureInstructions | AttrNoDeadStrip
	if f.Type() != SCStringLiterals {
		t.Fatalf("got type %v, want SCStringLiterals", f.Type())
	}
	attrs := f.List()
	if len(attrs) != 2 {
		t.Fatalf("got %d attrs, want 2: %v", len(attrs), attrs)
	}
}

func TestSectionFlagString(t *testing.T) {
	f := SectionFlag(uint32(SRegular)) | AttrSomeInstructions
	got := f.String()
	if got != "Regular,SomeInstructions" {
		t.Fatalf("got %q", got)
	}
}

func TestSectionFlagNoAttrs(t *testing.T) {
	f := SectionFlag(uint32(SZeroFill))
	if len(f.List()) != 0 {
		t.Fatalf("got %v, want no attributes", f.List())
	}
	if f.String() != "Zerofill" {
		t.Fatalf("got %q", f.String())
	}
}
