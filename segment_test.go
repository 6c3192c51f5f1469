package macho

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

func textSegmentFixture() *MachOHeader {
	sec := buildSection64(binary.LittleEndian, "__text", "__TEXT", 0x1000, 0x20, 0x1000, 0, 0x80000400)
	seg := buildSegment64(binary.LittleEndian, "__TEXT", 0x0, 0x2000, 0x0, 0x2000, [][]byte{sec})
	lc := buildLC(binary.LittleEndian, uint32(types.LC_SEGMENT_64), seg)
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})
	h, err := ParseHeader(data)
	if err != nil {
		panic(err)
	}
	return h
}

func TestBuildSegmentMap(t *testing.T) {
	h := textSegmentFixture()
	m, err := BuildSegmentMap(h)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}
	if len(m.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(m.Segments))
	}
	seg := m.Segments[0]
	if seg.Name != "__TEXT" || seg.VMAddr != 0 || seg.VMSize != 0x2000 {
		t.Fatalf("unexpected segment: %+v", seg)
	}
	if len(seg.Sections) != 1 || seg.Sections[0].Name != "__text" {
		t.Fatalf("unexpected sections: %+v", seg.Sections)
	}
}

func TestVMToFile(t *testing.T) {
	h := textSegmentFixture()
	m, err := BuildSegmentMap(h)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}

	off, err := m.VMToFile(0x1004)
	if err != nil {
		t.Fatalf("VMToFile: %v", err)
	}
	if off != 0x1004 {
		t.Fatalf("got offset %#x, want %#x", off, 0x1004)
	}

	_, err = m.VMToFile(0xdead)
	if !errors.Is(err, diag.ErrUnmappedAddress) {
		t.Fatalf("got %v, want ErrUnmappedAddress", err)
	}
}

func TestVMToFileZeroFill(t *testing.T) {
	// __DATA covers vmsize 0x2000 but filesize only 0x1000: the tail is BSS.
	seg := buildSegment64(binary.LittleEndian, "__DATA", 0x4000, 0x2000, 0x1000, 0x1000, nil)
	lc := buildLC(binary.LittleEndian, uint32(types.LC_SEGMENT_64), seg)
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	m, err := BuildSegmentMap(h)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}

	_, err = m.VMToFile(0x5800)
	if !errors.Is(err, diag.ErrZeroFill) {
		t.Fatalf("got %v, want ErrZeroFill", err)
	}
}

func TestSegmentMapLookups(t *testing.T) {
	h := textSegmentFixture()
	m, err := BuildSegmentMap(h)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}
	if _, ok := m.Segment("__TEXT"); !ok {
		t.Fatal("expected __TEXT segment")
	}
	if _, ok := m.Section("__TEXT", "__text"); !ok {
		t.Fatal("expected __TEXT,__text section")
	}
	if _, ok := m.Section("__TEXT", "__nope"); ok {
		t.Fatal("expected no section named __nope")
	}
	base, ok := m.VMBase()
	if !ok || base != 0 {
		t.Fatalf("got (%#x, %v), want (0, true)", base, ok)
	}
}

// TestBuildSegmentMapIsDeterministic rebuilds the map from the same bytes
// twice and diffs the results: two decodes of identical input must produce
// structurally identical SegmentMaps, independent of any nondeterminism in
// map/slice construction order.
func TestBuildSegmentMapIsDeterministic(t *testing.T) {
	h1 := textSegmentFixture()
	m1, err := BuildSegmentMap(h1)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}
	h2 := textSegmentFixture()
	m2, err := BuildSegmentMap(h2)
	if err != nil {
		t.Fatalf("BuildSegmentMap: %v", err)
	}
	if diff := cmp.Diff(m1.Segments, m2.Segments); diff != "" {
		t.Fatalf("two decodes of the same bytes diverged:\n%s", diff)
	}
}
