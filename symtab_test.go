package macho

import (
	"encoding/binary"
	"testing"

	"github.com/saagarjha/ktool/types"
)

func TestBuildSymbolTable(t *testing.T) {
	order := binary.LittleEndian
	strtab := []byte("\x00_main\x00_helper\x00")

	nlist := func(strx uint32, typ uint8, value uint64) []byte {
		b := make([]byte, types.Nlist64Size)
		order.PutUint32(b[0:4], strx)
		b[4] = typ
		b[5] = 0
		order.PutUint16(b[6:8], 0)
		order.PutUint64(b[8:16], value)
		return b
	}
	symtabEntries := append(nlist(1, 0x0f, 0x1000), nlist(7, 0x0f, 0x1020)...)

	symCmdBody := make([]byte, 16)
	symoff := uint32(200)
	stroff := symoff + uint32(len(symtabEntries))
	order.PutUint32(symCmdBody[0:4], symoff)
	order.PutUint32(symCmdBody[4:8], 2)
	order.PutUint32(symCmdBody[8:12], stroff)
	order.PutUint32(symCmdBody[12:16], uint32(len(strtab)))
	lc := buildLC(order, uint32(types.LC_SYMTAB), symCmdBody)

	header := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, [][]byte{lc})
	// Pad file bytes out to symoff, then append the nlist array and string table.
	data := make([]byte, symoff)
	copy(data, header)
	data = append(data, symtabEntries...)
	data = append(data, strtab...)

	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	file := types.NewByteView(data, order)
	table, err := BuildSymbolTable(file, h)
	if err != nil {
		t.Fatalf("BuildSymbolTable: %v", err)
	}
	if len(table.Symbols) != 2 {
		t.Fatalf("got %d symbols, want 2", len(table.Symbols))
	}
	if table.Symbols[0].FullName != "_main" || table.Symbols[0].Addr() != 0x1000 {
		t.Fatalf("unexpected symbol 0: %+v", table.Symbols[0])
	}
	if table.Symbols[1].FullName != "_helper" || table.Symbols[1].Addr() != 0x1020 {
		t.Fatalf("unexpected symbol 1: %+v", table.Symbols[1])
	}
}

func TestBuildSymbolTableNoSymtab(t *testing.T) {
	order := binary.LittleEndian
	data := buildHeader(order, true, uint32(types.CPUAmd64), 0x2, nil)
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	table, err := BuildSymbolTable(types.NewByteView(data, order), h)
	if err != nil {
		t.Fatalf("BuildSymbolTable: %v", err)
	}
	if len(table.Symbols) != 0 {
		t.Fatalf("got %d symbols, want 0", len(table.Symbols))
	}
}
