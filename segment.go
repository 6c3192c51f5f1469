package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// Section is one section within a segment, decoded from the fixed-width
// section[_64] struct embedded after a segment command's own fields.
type Section struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     types.SectionFlag
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

// Segment is one decoded LC_SEGMENT[_64] command.
type Segment struct {
	Name     string
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  types.VmProtection
	InitProt types.VmProtection
	Flags    types.SegFlag
	Sections []Section
}

func readFixedString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// decodeSegment parses a segment command's raw bytes (raw includes the
// cmd/cmdsize header), choosing the 32- or 64-bit section layout.
func decodeSegment(raw []byte, order binary.ByteOrder, is64 bool) (Segment, error) {
	v := types.NewByteView(raw, order)
	var s Segment
	var nsects uint32
	var sectOff int
	if is64 {
		name, err := v.ReadBytes(8, 16)
		if err != nil {
			return s, errors.Wrap(diag.ErrTruncated, "segment_command_64 name")
		}
		s.Name = readFixedString(name)
		vmaddr, e1 := v.ReadU64(24)
		vmsize, e2 := v.ReadU64(32)
		fileoff, e3 := v.ReadU64(40)
		filesize, e4 := v.ReadU64(48)
		maxprot, e5 := v.ReadU32(56)
		initprot, e6 := v.ReadU32(60)
		n, e7 := v.ReadU32(64)
		flags, e8 := v.ReadU32(68)
		if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8); err != nil {
			return s, errors.Wrap(diag.ErrTruncated, "segment_command_64 fields")
		}
		s.VMAddr, s.VMSize, s.FileOff, s.FileSize = vmaddr, vmsize, fileoff, filesize
		s.MaxProt, s.InitProt, s.Flags = types.VmProtection(maxprot), types.VmProtection(initprot), types.SegFlag(flags)
		nsects = n
		sectOff = 72
	} else {
		name, err := v.ReadBytes(8, 16)
		if err != nil {
			return s, errors.Wrap(diag.ErrTruncated, "segment_command name")
		}
		s.Name = readFixedString(name)
		vmaddr, e1 := v.ReadU32(24)
		vmsize, e2 := v.ReadU32(28)
		fileoff, e3 := v.ReadU32(32)
		filesize, e4 := v.ReadU32(36)
		maxprot, e5 := v.ReadU32(40)
		initprot, e6 := v.ReadU32(44)
		n, e7 := v.ReadU32(48)
		flags, e8 := v.ReadU32(52)
		if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8); err != nil {
			return s, errors.Wrap(diag.ErrTruncated, "segment_command fields")
		}
		s.VMAddr, s.VMSize, s.FileOff, s.FileSize = uint64(vmaddr), uint64(vmsize), uint64(fileoff), uint64(filesize)
		s.MaxProt, s.InitProt, s.Flags = types.VmProtection(maxprot), types.VmProtection(initprot), types.SegFlag(flags)
		nsects = n
		sectOff = 56
	}

	secSize := types.Section32Size
	if is64 {
		secSize = types.Section64Size
	}
	for i := uint32(0); i < nsects; i++ {
		off := sectOff + int(i)*secSize
		sec, err := decodeSection(v, off, is64)
		if err != nil {
			return s, errors.Wrapf(err, "section %d of segment %s", i, s.Name)
		}
		s.Sections = append(s.Sections, sec)
	}
	return s, nil
}

func decodeSection(v types.ByteView, off int, is64 bool) (Section, error) {
	var sec Section
	name, err := v.ReadBytes(off, 16)
	if err != nil {
		return sec, errors.Wrap(diag.ErrTruncated, "section name")
	}
	seg, err := v.ReadBytes(off+16, 16)
	if err != nil {
		return sec, errors.Wrap(diag.ErrTruncated, "section segname")
	}
	sec.Name, sec.Seg = readFixedString(name), readFixedString(seg)

	if is64 {
		addr, e1 := v.ReadU64(off + 32)
		size, e2 := v.ReadU64(off + 40)
		fo, e3 := v.ReadU32(off + 48)
		align, e4 := v.ReadU32(off + 52)
		reloff, e5 := v.ReadU32(off + 56)
		nreloc, e6 := v.ReadU32(off + 60)
		flags, e7 := v.ReadU32(off + 64)
		r1, e8 := v.ReadU32(off + 68)
		r2, e9 := v.ReadU32(off + 72)
		r3, e10 := v.ReadU32(off + 76)
		if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8, e9, e10); err != nil {
			return sec, errors.Wrap(diag.ErrTruncated, "section_64 fields")
		}
		sec.Addr, sec.Size, sec.Offset, sec.Align = addr, size, fo, align
		sec.Reloff, sec.Nreloc, sec.Flags = reloff, nreloc, types.SectionFlag(flags)
		sec.Reserved1, sec.Reserved2, sec.Reserved3 = r1, r2, r3
	} else {
		addr, e1 := v.ReadU32(off + 32)
		size, e2 := v.ReadU32(off + 36)
		fo, e3 := v.ReadU32(off + 40)
		align, e4 := v.ReadU32(off + 44)
		reloff, e5 := v.ReadU32(off + 48)
		nreloc, e6 := v.ReadU32(off + 52)
		flags, e7 := v.ReadU32(off + 56)
		r1, e8 := v.ReadU32(off + 60)
		r2, e9 := v.ReadU32(off + 64)
		if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8, e9); err != nil {
			return sec, errors.Wrap(diag.ErrTruncated, "section fields")
		}
		sec.Addr, sec.Size, sec.Offset, sec.Align = uint64(addr), uint64(size), fo, align
		sec.Reloff, sec.Nreloc, sec.Flags = reloff, nreloc, types.SectionFlag(flags)
		sec.Reserved1, sec.Reserved2 = r1, r2
	}
	return sec, nil
}

// SegmentMap is the ordered list of a slice's segments plus the
// VM-address-to-file-offset translation it supports.
type SegmentMap struct {
	Segments []Segment
}

// BuildSegmentMap collects every LC_SEGMENT[_64] command's decoded Segment,
// preserving load-command order (§4.4: "ordered list").
func BuildSegmentMap(h *MachOHeader) (*SegmentMap, error) {
	m := &SegmentMap{}
	for i, c := range h.Commands {
		switch c.Cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			seg, err := decodeSegment(c.Raw, h.Order, c.Cmd == types.LC_SEGMENT_64)
			if err != nil {
				return nil, errors.Wrapf(err, "load command %d", i)
			}
			m.Segments = append(m.Segments, seg)
		}
	}
	return m, nil
}

// VMToFile translates a virtual address to a file offset, per §4.4: the
// first segment whose VM range contains vaddr wins (overlapping segments
// are an input invariant violation, not a runtime check).
func (m *SegmentMap) VMToFile(vaddr uint64) (uint64, error) {
	for _, s := range m.Segments {
		if vaddr < s.VMAddr || vaddr >= s.VMAddr+s.VMSize {
			continue
		}
		delta := vaddr - s.VMAddr
		if delta >= s.FileSize {
			return 0, errors.Wrapf(diag.ErrZeroFill, "address %#x is zero-fill in segment %s", vaddr, s.Name)
		}
		return s.FileOff + delta, nil
	}
	return 0, errors.Wrapf(diag.ErrUnmappedAddress, "address %#x is not mapped by any segment", vaddr)
}

// VMBase is the supplemented VM-base heuristic (SPEC_FULL, from
// ktool.macho._VirtualMemoryMap.get_vm_start): the preferred load address
// of the image, taken as the lowest mapped vmaddr among segments that
// actually occupy VM space.
func (m *SegmentMap) VMBase() (uint64, bool) {
	var base uint64
	found := false
	for _, s := range m.Segments {
		if s.VMSize == 0 {
			continue
		}
		if !found || s.VMAddr < base {
			base = s.VMAddr
			found = true
		}
	}
	return base, found
}

// Segment looks a segment up by name, e.g. "__TEXT".
func (m *SegmentMap) Segment(name string) (Segment, bool) {
	for _, s := range m.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return Segment{}, false
}

// Section looks a section up by segment and section name.
func (m *SegmentMap) Section(seg, name string) (Section, bool) {
	s, ok := m.Segment(seg)
	if !ok {
		return Section{}, false
	}
	for _, sec := range s.Sections {
		if sec.Name == name {
			return sec, true
		}
	}
	return Section{}, false
}
