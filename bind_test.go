package macho

import "testing"

func TestDecodeBindOpcodes(t *testing.T) {
	stream := []byte{
		0x11,                               // SET_DYLIB_ORDINAL_IMM(1)
		0x40, 'n', 'a', 'm', 'e', 0x00,      // SET_SYMBOL_TRAILING_FLAGS_IMM(0) "name"
		0x51,                               // SET_TYPE_IMM(pointer)
		0x70, 0x10,                         // SET_SEGMENT_AND_OFFSET_ULEB(seg=0, off=0x10)
		0x90,                               // DO_BIND
		0x00,                               // DONE
	}
	dylibs := &DylibTable{Imports: []DylibImport{{InstallName: "/usr/lib/libFoo.dylib", Ordinal: 1}}}
	segs := &SegmentMap{Segments: []Segment{{Name: "__DATA", VMAddr: 0x2000, VMSize: 0x1000}}}

	actions, err := decodeBindOpcodes(stream, 8, dylibs, segs)
	if err != nil {
		t.Fatalf("decodeBindOpcodes: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	a := actions[0]
	if a.SymbolName != "name" || a.DylibOrdinal != 1 || a.DylibName != "/usr/lib/libFoo.dylib" {
		t.Fatalf("unexpected action: %+v", a)
	}
	if a.Type != BindTypePointer {
		t.Fatalf("got type %v, want BindTypePointer", a.Type)
	}
	if a.Addr != 0x2010 {
		t.Fatalf("got addr %#x, want %#x", a.Addr, 0x2010)
	}
}

func TestDecodeBindOpcodesMultiChainResets(t *testing.T) {
	// Two chains back to back, each setting its own ordinal/segment offset;
	// the second chain's DO_BIND must not see state left over from the
	// first (§9: every DONE resets state for every stream kind).
	stream := []byte{
		0x11, 0x70, 0x00, 0x90, 0x00, // chain 1: ordinal 1, seg 0 off 0, DO_BIND, DONE
		0x12, 0x70, 0x04, 0x90, 0x00, // chain 2: ordinal 2, seg 0 off 4, DO_BIND, DONE
	}
	dylibs := &DylibTable{Imports: []DylibImport{
		{InstallName: "/usr/lib/libA.dylib", Ordinal: 1},
		{InstallName: "/usr/lib/libB.dylib", Ordinal: 2},
	}}
	segs := &SegmentMap{Segments: []Segment{{Name: "__DATA", VMAddr: 0x1000, VMSize: 0x100}}}

	actions, err := decodeBindOpcodes(stream, 4, dylibs, segs)
	if err != nil {
		t.Fatalf("decodeBindOpcodes: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].DylibOrdinal != 1 || actions[1].DylibOrdinal != 2 {
		t.Fatalf("ordinal leaked across DONE: %+v", actions)
	}
	if actions[1].SegmentOffset != 4 {
		t.Fatalf("offset leaked across DONE: %+v", actions[1])
	}
}
