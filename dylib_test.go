package macho

import (
	"encoding/binary"
	"testing"

	"github.com/saagarjha/ktool/types"
)

func dylibCmdBody(order binary.ByteOrder, name string, ts, cur, compat uint32) []byte {
	body := make([]byte, 16)
	order.PutUint32(body[0:4], 24)
	order.PutUint32(body[4:8], ts)
	order.PutUint32(body[8:12], cur)
	order.PutUint32(body[12:16], compat)
	body = append(body, []byte(name)...)
	body = append(body, 0)
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	return body
}

func TestBuildDylibTable(t *testing.T) {
	order := binary.LittleEndian
	lc1 := buildLC(order, uint32(types.LC_LOAD_DYLIB), dylibCmdBody(order, "/usr/lib/libSystem.B.dylib", 2, 0x00010000, 0x00010000))
	lc2 := buildLC(order, uint32(types.LC_LOAD_WEAK_DYLIB), dylibCmdBody(order, "/usr/lib/libweak.dylib", 2, 0x00010000, 0x00010000))
	data := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc1, lc2})

	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	table, err := BuildDylibTable(h)
	if err != nil {
		t.Fatalf("BuildDylibTable: %v", err)
	}
	if len(table.Imports) != 2 {
		t.Fatalf("got %d imports, want 2", len(table.Imports))
	}
	if table.Imports[0].InstallName != "/usr/lib/libSystem.B.dylib" || table.Imports[0].Ordinal != 1 {
		t.Fatalf("unexpected import 0: %+v", table.Imports[0])
	}
	if !table.Imports[1].Weak || table.Imports[1].Ordinal != 2 {
		t.Fatalf("unexpected import 1: %+v", table.Imports[1])
	}
}

func TestDylibTableResolve(t *testing.T) {
	order := binary.LittleEndian
	lc := buildLC(order, uint32(types.LC_LOAD_DYLIB), dylibCmdBody(order, "/usr/lib/libSystem.B.dylib", 2, 0x10000, 0x10000))
	data := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	table, err := BuildDylibTable(h)
	if err != nil {
		t.Fatalf("BuildDylibTable: %v", err)
	}

	cases := map[int]string{
		BindSpecialDylibSelf:           "this-image",
		BindSpecialDylibMainExecutable: "main-executable",
		BindSpecialDylibFlatLookup:     "flat-lookup",
		BindSpecialDylibWeakLookup:     "weak-lookup",
		1:                              "/usr/lib/libSystem.B.dylib",
		2:                              "",
	}
	for ordinal, want := range cases {
		if got := table.Resolve(ordinal); got != want {
			t.Errorf("Resolve(%d) = %q, want %q", ordinal, got, want)
		}
	}
}
