package macho

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

func paddedLibraryFixture(t *testing.T) *Library {
	order := binary.LittleEndian
	uuidLC := buildLC(order, uint32(types.LC_UUID), make([]byte, 16))
	seg := buildSegment64(order, "__TEXT", 0, 0x1000, 0x1000, 0x1000, nil)
	segLC := buildLC(order, uint32(types.LC_SEGMENT_64), seg)

	header := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{uuidLC, segLC})
	data := append(header, make([]byte, 0x1000-len(header))...)
	data = append(data, make([]byte, 0x1000)...)

	lib, err := NewLibrary(data)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	return lib
}

func TestInsertAndRemoveLoadCommand(t *testing.T) {
	lib := paddedLibraryFixture(t)
	editor := NewMachOEditor(lib)

	out, err := editor.InsertLoadCommand(types.LC_SOURCE_VERSION, make([]byte, 8), "", 1)
	if err != nil {
		t.Fatalf("InsertLoadCommand: %v", err)
	}
	lib2, err := NewLibrary(out)
	if err != nil {
		t.Fatalf("reparse after insert: %v", err)
	}
	if len(lib2.Header.Commands) != 3 {
		t.Fatalf("got %d commands, want 3", len(lib2.Header.Commands))
	}
	if lib2.Header.Commands[1].Cmd != types.LC_SOURCE_VERSION {
		t.Fatalf("got cmd %v at index 1, want LC_SOURCE_VERSION", lib2.Header.Commands[1].Cmd)
	}

	removed, err := NewMachOEditor(lib2).RemoveLoadCommand(1)
	if err != nil {
		t.Fatalf("RemoveLoadCommand: %v", err)
	}
	lib3, err := NewLibrary(removed)
	if err != nil {
		t.Fatalf("reparse after remove: %v", err)
	}
	if len(lib3.Header.Commands) != 2 {
		t.Fatalf("got %d commands, want 2", len(lib3.Header.Commands))
	}
	if lib3.Header.Commands[0].Cmd != types.LC_UUID || lib3.Header.Commands[1].Cmd != types.LC_SEGMENT_64 {
		t.Fatalf("unexpected commands after remove: %+v", lib3.Header.Commands)
	}
}

func TestInsertLoadCommandNoHeaderPadding(t *testing.T) {
	order := binary.LittleEndian
	uuidLC := buildLC(order, uint32(types.LC_UUID), make([]byte, 16))
	// Placeholder segment command; its fileoff is patched below to sit
	// exactly at the end of the load-command region, leaving zero slack
	// for any insert.
	seg := buildSegment64(order, "__TEXT", 0, 0x1000, 0, 0x1000, nil)
	segLC := buildLC(order, uint32(types.LC_SEGMENT_64), seg)

	full := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{uuidLC, segLC})
	lcEnd := uint64(32 + len(uuidLC) + len(segLC))
	// fileoff lives 40 bytes into the segment command body (8-byte cmd
	// header + 32 bytes of name/vmaddr/vmsize).
	fileoffOff := 32 + len(uuidLC) + 40
	order.PutUint64(full[fileoffOff:fileoffOff+8], lcEnd)

	lib, err := NewLibrary(full)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	_, err = NewMachOEditor(lib).InsertLoadCommand(types.LC_SOURCE_VERSION, make([]byte, 8), "", 1)
	if !errors.Is(err, diag.ErrNoHeaderPadding) {
		t.Fatalf("got %v, want ErrNoHeaderPadding", err)
	}
}

func TestSetInstallName(t *testing.T) {
	order := binary.LittleEndian
	idBody := make([]byte, 16)
	order.PutUint32(idBody[0:4], 24)
	order.PutUint32(idBody[4:8], 2)
	order.PutUint32(idBody[8:12], 0x00010000)
	order.PutUint32(idBody[12:16], 0x00010000)
	idBody = append(idBody, []byte("/usr/lib/libOld.dylib\x00\x00\x00")...)
	idLC := buildLC(order, uint32(types.LC_ID_DYLIB), idBody)
	seg := buildSegment64(order, "__TEXT", 0, 0x1000, 0x1000, 0x1000, nil)
	segLC := buildLC(order, uint32(types.LC_SEGMENT_64), seg)

	header := buildHeader(order, true, uint32(types.CPUAmd64), 0x6, [][]byte{idLC, segLC})
	data := append(header, make([]byte, 0x1000-len(header))...)
	data = append(data, make([]byte, 0x1000)...)

	lib, err := NewLibrary(data)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	out, err := NewMachOEditor(lib).SetInstallName("/usr/lib/libNew.dylib")
	if err != nil {
		t.Fatalf("SetInstallName: %v", err)
	}
	lib2, err := NewLibrary(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	name, ok := lib2.InstallName()
	if !ok || name != "/usr/lib/libNew.dylib" {
		t.Fatalf("got (%q, %v)", name, ok)
	}

	var idCmd *LoadCommand
	for i := range lib2.Header.Commands {
		if lib2.Header.Commands[i].Cmd == types.LC_ID_DYLIB {
			idCmd = &lib2.Header.Commands[i]
		}
	}
	if idCmd == nil {
		t.Fatal("no LC_ID_DYLIB after rename")
	}
	view := types.NewByteView(idCmd.Raw, order)
	ts, _ := view.ReadU32(12)
	if ts != 2 {
		t.Fatalf("got timestamp %d, want 2 (preserved)", ts)
	}
}

func TestAddHeaderPadding(t *testing.T) {
	order := binary.LittleEndian
	sec := buildSection64(order, "__text", "__TEXT", 0x1000, 0x20, 0x1000, 0, 0)
	seg := buildSegment64(order, "__TEXT", 0, 0x1000, 0x1000, 0x1000, [][]byte{sec})
	segLC := buildLC(order, uint32(types.LC_SEGMENT_64), seg)

	header := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{segLC})
	data := append(header, make([]byte, 0x1000-len(header))...)
	data = append(data, make([]byte, 0x1000)...)

	lib, err := NewLibrary(data)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	out, err := NewMachOEditor(lib).AddHeaderPadding(0x100)
	if err != nil {
		t.Fatalf("AddHeaderPadding: %v", err)
	}
	if len(out) != len(data)+0x100 {
		t.Fatalf("got length %d, want %d", len(out), len(data)+0x100)
	}

	lib2, err := NewLibrary(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(lib2.Segments.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(lib2.Segments.Segments))
	}
	got := lib2.Segments.Segments[0]
	if got.FileOff != 0x1100 {
		t.Fatalf("got fileoff %#x, want %#x", got.FileOff, 0x1100)
	}
	if got.FileSize != 0x1100 {
		t.Fatalf("got filesize %#x, want %#x", got.FileSize, 0x1100)
	}
	if got.VMSize != 0x1100 {
		t.Fatalf("got vmsize %#x, want %#x", got.VMSize, 0x1100)
	}
	if len(got.Sections) != 1 || got.Sections[0].Offset != 0x1100 {
		t.Fatalf("section offset not shifted: %+v", got.Sections)
	}
}
