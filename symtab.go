package macho

import (
	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// SymbolEntry is one resolved nlist entry: the raw fields plus the string
// table lookup a caller would otherwise have to redo for every symbol.
type SymbolEntry struct {
	StringIndex uint32
	Type        types.NType
	Sect        uint8
	Desc        uint16
	Value       uint64
	FullName    string
}

// Addr is an alias for Value, §3's SymbolEntry.addr.
func (s SymbolEntry) Addr() uint64 { return s.Value }

// SymbolTable is the decoded LC_SYMTAB: the nlist array plus the string
// table each entry's StringIndex is resolved against.
type SymbolTable struct {
	Symbols []SymbolEntry
}

// BuildSymbolTable locates the LC_SYMTAB command (if any) and decodes its
// nlist array and string table out of the slice's full byte view — symoff
// and stroff are absolute file offsets, not relative to the command.
func BuildSymbolTable(file types.ByteView, h *MachOHeader) (*SymbolTable, error) {
	for _, c := range h.Commands {
		if c.Cmd != types.LC_SYMTAB {
			continue
		}
		cmd := types.NewByteView(c.Raw, h.Order)
		symoff, e1 := cmd.ReadU32(8)
		nsyms, e2 := cmd.ReadU32(12)
		stroff, e3 := cmd.ReadU32(16)
		strsize, e4 := cmd.ReadU32(20)
		if err := firstErr(e1, e2, e3, e4); err != nil {
			return nil, errors.Wrap(diag.ErrTruncated, "symtab_command fields")
		}

		strtab, err := file.Sub(int(stroff), int(strsize))
		if err != nil {
			return nil, errors.Wrap(err, "string table")
		}

		entrySize := types.Nlist32Size
		if h.Is64 {
			entrySize = types.Nlist64Size
		}
		table := &SymbolTable{Symbols: make([]SymbolEntry, 0, nsyms)}
		for i := uint32(0); i < nsyms; i++ {
			off := int(symoff) + int(i)*entrySize
			entry, err := decodeNlist(file, off, h.Is64)
			if err != nil {
				return nil, errors.Wrapf(err, "nlist entry %d", i)
			}
			// Empty-name entries are retained (§4.5: needed for stabs) —
			// ReadCString on an index-0/empty run returns "" without error.
			name, err := strtab.ReadCString(int(entry.StringIndex))
			if err == nil {
				entry.FullName = name
			}
			table.Symbols = append(table.Symbols, entry)
		}
		return table, nil
	}
	return &SymbolTable{}, nil
}

func decodeNlist(v types.ByteView, off int, is64 bool) (SymbolEntry, error) {
	strx, e1 := v.ReadU32(off)
	typ, e2 := v.ReadU8(off + 4)
	sect, e3 := v.ReadU8(off + 5)
	desc, e4 := v.ReadU16(off + 6)
	if err := firstErr(e1, e2, e3, e4); err != nil {
		return SymbolEntry{}, errors.Wrap(diag.ErrTruncated, "nlist fields")
	}
	var value uint64
	var err error
	if is64 {
		value, err = v.ReadU64(off + 8)
	} else {
		var v32 uint32
		v32, err = v.ReadU32(off + 8)
		value = uint64(v32)
	}
	if err != nil {
		return SymbolEntry{}, errors.Wrap(diag.ErrTruncated, "nlist value")
	}
	return SymbolEntry{
		StringIndex: strx,
		Type:        types.NType(typ),
		Sect:        sect,
		Desc:        desc,
		Value:       value,
	}, nil
}
