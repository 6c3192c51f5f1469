package macho

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

func TestParseHeaderThin64(t *testing.T) {
	lc := buildLC(binary.LittleEndian, uint32(types.LC_UUID), make([]byte, 16))
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})

	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.Is64 {
		t.Fatal("expected 64-bit header")
	}
	if len(h.Commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(h.Commands))
	}
	if h.Commands[0].Cmd != types.LC_UUID {
		t.Fatalf("got cmd %v, want LC_UUID", h.Commands[0].Cmd)
	}
}

func TestParseHeaderRejectsBigEndian(t *testing.T) {
	lc := buildLC(binary.BigEndian, uint32(types.LC_UUID), make([]byte, 16))
	data := buildHeader(binary.BigEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})

	_, err := ParseHeader(data)
	if !errors.Is(err, diag.ErrUnsupportedEndianness) {
		t.Fatalf("got %v, want ErrUnsupportedEndianness", err)
	}
}

func TestParseHeaderRejectsZeroCmdsize(t *testing.T) {
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, nil)
	// Hand-craft one command with cmdsize 0 to hit the infinite-loop guard.
	binary.LittleEndian.PutUint32(data[16:20], 1) // ncmds = 1
	data = append(data, make([]byte, 8)...)       // cmd=0, cmdsize=0

	_, err := ParseHeader(data)
	if !errors.Is(err, diag.ErrMalformedLoadCommands) {
		t.Fatalf("got %v, want ErrMalformedLoadCommands", err)
	}
}

func TestParseHeaderRejectsSizeMismatch(t *testing.T) {
	lc := buildLC(binary.LittleEndian, uint32(types.LC_UUID), make([]byte, 16))
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})
	// Declare a sizeofcmds that doesn't match the one command's actual size.
	binary.LittleEndian.PutUint32(data[20:24], uint32(len(lc)+4))

	_, err := ParseHeader(data)
	if !errors.Is(err, diag.ErrMalformedLoadCommands) {
		t.Fatalf("got %v, want ErrMalformedLoadCommands", err)
	}
}

func TestHeaderUUID(t *testing.T) {
	var uuidBytes [16]byte
	for i := range uuidBytes {
		uuidBytes[i] = byte(i)
	}
	lc := buildLC(binary.LittleEndian, uint32(types.LC_UUID), uuidBytes[:])
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})

	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	id, ok := h.UUID()
	if !ok {
		t.Fatal("expected UUID to be present")
	}
	if id.String() != "00010203-0405-0607-0809-0a0b0c0d0e0f" {
		t.Fatalf("got %s", id.String())
	}
}

func TestHeaderInstallName(t *testing.T) {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint32(body[0:4], 24) // name offset
	body = append(body, []byte("/usr/lib/libFoo.dylib\x00\x00\x00")...)
	lc := buildLC(binary.LittleEndian, uint32(types.LC_ID_DYLIB), body)
	data := buildHeader(binary.LittleEndian, true, uint32(types.CPUAmd64), 0x6, [][]byte{lc})

	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	name, ok := h.InstallName()
	if !ok || name != "/usr/lib/libFoo.dylib" {
		t.Fatalf("got (%q, %v)", name, ok)
	}
}
