package macho

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

func TestNewLibraryWiresEverySubTable(t *testing.T) {
	order := binary.LittleEndian
	uuidLC := buildLC(order, uint32(types.LC_UUID), make([]byte, 16))
	idBody := make([]byte, 16)
	order.PutUint32(idBody[0:4], 24)
	idBody = append(idBody, []byte("/usr/lib/libFoo.dylib\x00\x00\x00")...)
	idLC := buildLC(order, uint32(types.LC_ID_DYLIB), idBody)
	dylibLC := buildLC(order, uint32(types.LC_LOAD_DYLIB), dylibCmdBody(order, "/usr/lib/libSystem.B.dylib", 2, 0x10000, 0x10000))
	seg := buildSegment64(order, "__TEXT", 0, 0x1000, 0, 0x1000, nil)
	segLC := buildLC(order, uint32(types.LC_SEGMENT_64), seg)

	data := buildHeader(order, true, uint32(types.CPUAmd64), 0x6, [][]byte{uuidLC, idLC, dylibLC, segLC})
	data = append(data, make([]byte, 0x1000-len(data))...)

	lib, err := NewLibrary(data)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	if lib.Header == nil || lib.Segments == nil || lib.Symbols == nil || lib.Dylibs == nil || lib.Binding == nil {
		t.Fatal("NewLibrary left a sub-table nil")
	}
	if len(lib.Segments.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(lib.Segments.Segments))
	}
	if len(lib.Dylibs.Imports) != 1 {
		t.Fatalf("got %d dylibs, want 1", len(lib.Dylibs.Imports))
	}
	name, ok := lib.InstallName()
	if !ok || name != "/usr/lib/libFoo.dylib" {
		t.Fatalf("got (%q, %v)", name, ok)
	}
	if lib.LibraryOrdinalName(1) != "/usr/lib/libSystem.B.dylib" {
		t.Fatalf("got %q", lib.LibraryOrdinalName(1))
	}
	if _, ok := lib.UUID(); !ok {
		t.Fatal("expected a UUID")
	}
}

func TestOpenRejectsFat(t *testing.T) {
	order := binary.BigEndian
	header := make([]byte, 8)
	order.PutUint32(header[0:4], uint32(types.MagicFat))
	order.PutUint32(header[4:8], 0)

	if !IsFat(header) {
		t.Fatal("expected IsFat to recognize a bare fat header")
	}

	path := filepath.Join(t.TempDir(), "fat.bin")
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, diag.ErrBadMagic) {
		t.Fatalf("Open on a fat file: got %v, want ErrBadMagic", err)
	}
}
