package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/pkg/trie"
	"github.com/saagarjha/ktool/types"
)

// Bind opcode bytes: high nibble is the opcode, low nibble is its
// immediate operand. Grounded directly on the classic dyld_info_command
// bind/weak-bind/lazy-bind stream (§4.6) — not the modern chained-fixups
// encoding, which uses a different wire format entirely.
const (
	bindOpcodeMask                           = 0xf0
	bindImmediateMask                        = 0x0f
	bindOpcodeDone                           = 0x00
	bindOpcodeSetDylibOrdinalImm              = 0x10
	bindOpcodeSetDylibOrdinalULEB             = 0x20
	bindOpcodeSetDylibSpecialImm              = 0x30
	bindOpcodeSetSymbolTrailingFlagsImm       = 0x40
	bindOpcodeSetTypeImm                      = 0x50
	bindOpcodeSetAddendSLEB                   = 0x60
	bindOpcodeSetSegmentAndOffsetULEB         = 0x70
	bindOpcodeAddAddrULEB                     = 0x80
	bindOpcodeDoBind                          = 0x90
	bindOpcodeDoBindAddAddrULEB               = 0xa0
	bindOpcodeDoBindAddAddrImmScaled          = 0xb0
	bindOpcodeDoBindULEBTimesSkippingULEB     = 0xc0
)

// BindType is the pointer-fixup kind set by SET_TYPE_IMM.
type BindType uint8

const (
	BindTypePointer BindType = 1
	BindTypeTextAbsolute32 BindType = 2
	BindTypeTextPCRel32 BindType = 3
)

// BindingAction is one resolved bind/weak-bind/lazy-bind target, §3's
// BindingAction, with its DylibName already resolved from the ordinal —
// the supplemented re-export-ordinal-resolution feature.
type BindingAction struct {
	SegmentIndex int
	SegmentOffset uint64
	SymbolName    string
	DylibOrdinal  int
	DylibName     string
	Addend        int64
	Type          BindType
	Flags         uint8
	Addr          uint64 // computed: segment.VMAddr + SegmentOffset
}

// bindState is the opcode VM's mutable state, §9: "an explicit
// record-and-emit loop with a mutable state struct", not mutual recursion.
type bindState struct {
	segIndex int
	offset   uint64
	typ      BindType
	ordinal  int
	symbol   string
	flags    uint8
	addend   int64
}

func (s *bindState) reset() { *s = bindState{} }

// decodeBindOpcodes runs the opcode VM described by §4.6 over stream,
// emitting one BindingAction per bind a DO_BIND* opcode performs (count of
// them for DO_BIND_ULEB_TIMES_SKIPPING_ULEB). ptrSize is 8 for 64-bit
// headers, 4 otherwise. dylibs resolves ordinals to install names; segs
// resolves a segment index to its base VM address for Addr computation.
func decodeBindOpcodes(stream []byte, ptrSize int, dylibs *DylibTable, segs *SegmentMap) ([]BindingAction, error) {
	v := types.NewByteView(stream, binary.LittleEndian)
	var actions []BindingAction
	var st bindState
	pos := 0

	emit := func() {
		addr := st.offset
		if st.segIndex >= 0 && st.segIndex < len(segs.Segments) {
			addr = segs.Segments[st.segIndex].VMAddr + st.offset
		}
		actions = append(actions, BindingAction{
			SegmentIndex:  st.segIndex,
			SegmentOffset: st.offset,
			SymbolName:    st.symbol,
			DylibOrdinal:  st.ordinal,
			DylibName:     dylibs.Resolve(st.ordinal),
			Addend:        st.addend,
			Type:          st.typ,
			Flags:         st.flags,
			Addr:          addr,
		})
	}

	for pos < len(stream) {
		b, err := v.ReadU8(pos)
		if err != nil {
			return actions, errors.Wrap(diag.ErrTruncated, "bind opcode stream")
		}
		opcode := b & bindOpcodeMask
		imm := int(b & bindImmediateMask)
		pos++

		switch opcode {
		case bindOpcodeDone:
			// The stream packs multiple bind "chains" back to back, each
			// terminated by DONE; every stream kind resets state here and
			// keeps decoding until the buffer is exhausted (§4.6, §9).
			st.reset()
		case bindOpcodeSetDylibOrdinalImm:
			st.ordinal = imm
		case bindOpcodeSetDylibOrdinalULEB:
			val, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			st.ordinal, pos = int(val), next
		case bindOpcodeSetDylibSpecialImm:
			// sign-extend the 4-bit immediate (self/main/flat/weak markers).
			st.ordinal = int(int8(imm<<4) >> 4)
		case bindOpcodeSetSymbolTrailingFlagsImm:
			st.flags = uint8(imm)
			name, err := v.ReadCString(pos)
			if err != nil {
				return actions, errors.Wrap(diag.ErrTruncated, "bind symbol name")
			}
			st.symbol = name
			pos += len(name) + 1
		case bindOpcodeSetTypeImm:
			st.typ = BindType(imm)
		case bindOpcodeSetAddendSLEB:
			val, next, err := v.ReadSLEB128(pos)
			if err != nil {
				return actions, err
			}
			st.addend, pos = val, next
		case bindOpcodeSetSegmentAndOffsetULEB:
			st.segIndex = imm
			val, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			st.offset, pos = val, next
		case bindOpcodeAddAddrULEB:
			val, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			st.offset += val
			pos = next
		case bindOpcodeDoBind:
			emit()
			st.offset += uint64(ptrSize)
		case bindOpcodeDoBindAddAddrULEB:
			emit()
			st.offset += uint64(ptrSize)
			val, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			st.offset += val
			pos = next
		case bindOpcodeDoBindAddAddrImmScaled:
			emit()
			st.offset += uint64(ptrSize) * uint64(1+imm)
		case bindOpcodeDoBindULEBTimesSkippingULEB:
			count, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			pos = next
			skip, next, err := v.ReadULEB128(pos)
			if err != nil {
				return actions, err
			}
			pos = next
			for i := uint64(0); i < count; i++ {
				emit()
				st.offset += uint64(ptrSize) + skip
			}
		default:
			return actions, errors.Wrapf(diag.ErrUnknownOpcode, "bind opcode %#x at offset %#x", b, pos-1)
		}
	}
	return actions, nil
}

// BindingTables holds the three opcode-stream decodes plus the export
// trie walk, §4.6's full surface.
type BindingTables struct {
	Bind     []BindingAction
	Weak     []BindingAction
	Lazy     []BindingAction
	Exports  []trie.TrieEntry
}

// BuildBindingTables locates LC_DYLD_INFO[_ONLY] and decodes its bind,
// weak-bind, lazy-bind, and export streams.
func BuildBindingTables(file types.ByteView, h *MachOHeader, dylibs *DylibTable, segs *SegmentMap) (*BindingTables, error) {
	ptrSize := 4
	if h.Is64 {
		ptrSize = 8
	}
	bt := &BindingTables{}
	for _, c := range h.Commands {
		if c.Cmd != types.LC_DYLD_INFO && c.Cmd != types.LC_DYLD_INFO_ONLY {
			continue
		}
		cmd := types.NewByteView(c.Raw, h.Order)
		fields := make([]uint32, 10)
		for i := range fields {
			val, err := cmd.ReadU32(8 + i*4)
			if err != nil {
				return nil, errors.Wrap(diag.ErrTruncated, "dyld_info_command fields")
			}
			fields[i] = val
		}
		bindOff, bindSize := fields[2], fields[3]
		weakOff, weakSize := fields[4], fields[5]
		lazyOff, lazySize := fields[6], fields[7]
		exportOff, exportSize := fields[8], fields[9]

		decode := func(off, size uint32) ([]BindingAction, error) {
			if size == 0 {
				return nil, nil
			}
			stream, err := file.ReadBytes(int(off), int(size))
			if err != nil {
				return nil, errors.Wrap(err, "bind opcode stream bounds")
			}
			return decodeBindOpcodes(stream, ptrSize, dylibs, segs)
		}

		var err error
		bt.Bind, err = decode(bindOff, bindSize)
		if err != nil {
			return nil, errors.Wrap(err, "bind stream")
		}
		bt.Weak, err = decode(weakOff, weakSize)
		if err != nil {
			return nil, errors.Wrap(err, "weak bind stream")
		}
		bt.Lazy, err = decode(lazyOff, lazySize)
		if err != nil {
			return nil, errors.Wrap(err, "lazy bind stream")
		}

		if exportSize != 0 {
			exportBytes, err := file.ReadBytes(int(exportOff), int(exportSize))
			if err != nil {
				return nil, errors.Wrap(err, "export trie bounds")
			}
			base, _ := segs.VMBase()
			entries, err := trie.ParseTrie(exportBytes, base)
			if err != nil {
				return nil, errors.Wrap(err, "export trie")
			}
			bt.Exports = entries
		}
		break
	}
	return bt, nil
}
