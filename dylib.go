package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// Special bind ordinals, §4.7: reserved values that never index DylibTable.
const (
	BindSpecialDylibSelf           = 0
	BindSpecialDylibMainExecutable = -1
	BindSpecialDylibFlatLookup     = -2
	BindSpecialDylibWeakLookup     = -3
)

// DylibImport is one imported library, §3's DylibImport.
type DylibImport struct {
	InstallName    string
	Timestamp      uint32
	CurrentVersion types.Version
	CompatVersion  types.Version
	Weak           bool
	Ordinal        int // 1-based, matches bind ordinals
}

// DylibTable is the ordered, 1-indexed list of a slice's imported
// libraries, built from every dylib-loading load command.
type DylibTable struct {
	Imports []DylibImport
}

var dylibLoadCmds = map[types.LoadCmd]bool{
	types.LC_LOAD_DYLIB:        true,
	types.LC_LOAD_WEAK_DYLIB:   true,
	types.LC_REEXPORT_DYLIB:    true,
	types.LC_LOAD_UPWARD_DYLIB: true,
	types.LC_LAZY_LOAD_DYLIB:   true,
}

// BuildDylibTable walks the load commands in order, assigning ordinal 1..N
// to each LOAD_DYLIB/LOAD_WEAK_DYLIB/REEXPORT_DYLIB/LOAD_UPWARD_DYLIB/
// LAZY_LOAD_DYLIB command, per §4.7.
func BuildDylibTable(h *MachOHeader) (*DylibTable, error) {
	t := &DylibTable{}
	for i, c := range h.Commands {
		if !dylibLoadCmds[c.Cmd] {
			continue
		}
		imp, err := decodeDylibCmd(c, h.Order)
		if err != nil {
			return nil, errors.Wrapf(err, "load command %d", i)
		}
		imp.Weak = c.Cmd == types.LC_LOAD_WEAK_DYLIB
		imp.Ordinal = len(t.Imports) + 1
		t.Imports = append(t.Imports, imp)
	}
	return t, nil
}

func decodeDylibCmd(c LoadCommand, order binary.ByteOrder) (DylibImport, error) {
	v := types.NewByteView(c.Raw, order)
	nameOff, e1 := v.ReadU32(8)
	ts, e2 := v.ReadU32(12)
	cur, e3 := v.ReadU32(16)
	compat, e4 := v.ReadU32(20)
	if err := firstErr(e1, e2, e3, e4); err != nil {
		return DylibImport{}, errors.Wrap(diag.ErrTruncated, "dylib_command fields")
	}
	name, err := v.ReadCString(int(nameOff))
	if err != nil {
		return DylibImport{}, errors.Wrap(err, "dylib_command name")
	}
	return DylibImport{
		InstallName:    name,
		Timestamp:      ts,
		CurrentVersion: types.Version(cur),
		CompatVersion:  types.Version(compat),
	}, nil
}

// Resolve maps a bind ordinal to its install name, resolving the special
// negative/zero ordinals to the markers the original implementation names
// (self/main-executable/flat-namespace/weak-lookup) rather than indexing
// Imports — the supplemented re-export-ordinal-resolution feature.
func (t *DylibTable) Resolve(ordinal int) string {
	switch ordinal {
	case BindSpecialDylibSelf:
		return "this-image"
	case BindSpecialDylibMainExecutable:
		return "main-executable"
	case BindSpecialDylibFlatLookup:
		return "flat-lookup"
	case BindSpecialDylibWeakLookup:
		return "weak-lookup"
	}
	if ordinal < 1 || ordinal > len(t.Imports) {
		return ""
	}
	return t.Imports[ordinal-1].InstallName
}
