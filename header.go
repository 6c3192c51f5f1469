package macho

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// LoadCommand is one parsed load command. Every command — known kind or
// not — keeps its Raw bytes, which the per-kind decoders read fields from,
// so a round-trip edit of one command never disturbs the bytes of another.
type LoadCommand struct {
	Cmd     types.LoadCmd
	CmdSize uint32
	// Offset is the command's byte offset within the load-command region
	// (relative to the end of the fixed header), for MachOEditor splicing.
	Offset int
	Raw    []byte
}

// MachOHeader is the parsed mach_header[_64] plus the ordered load-command
// list it introduces.
type MachOHeader struct {
	types.FileHeader
	Is64     bool
	Order    binary.ByteOrder
	Commands []LoadCommand
}

// HeaderSize is the on-disk width of this header's fixed portion.
func (h *MachOHeader) HeaderSize() int {
	if h.Is64 {
		return types.FileHeaderSize64
	}
	return types.FileHeaderSize32
}

// detectOrder sniffs the four-byte magic for both byte orders, since a fat
// slice's endianness isn't known until the magic itself is decoded.
func detectOrder(raw uint32) (binary.ByteOrder, types.Magic, bool) {
	switch types.Magic(raw) {
	case types.Magic32:
		return binary.LittleEndian, types.Magic32, false
	case types.Magic64:
		return binary.LittleEndian, types.Magic64, true
	}
	swapped := (raw>>24&0xff) | (raw>>8&0xff00) | (raw<<8&0xff0000) | (raw<<24&0xff000000)
	switch types.Magic(swapped) {
	case types.Magic32:
		return binary.BigEndian, types.Magic32, false
	case types.Magic64:
		return binary.BigEndian, types.Magic64, true
	}
	return nil, 0, false
}

// ParseHeader reads the mach_header[_64] and its load-command array from
// data, dispatching each command's cmd field but always retaining the raw
// bytes of the command body — callers interested in a specific load
// command decode it further with the matching decode function
// (decodeSegment, decodeDylibCmd, ...).
func ParseHeader(data []byte) (*MachOHeader, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(diag.ErrTruncated, "mach-o header")
	}
	rawMagic := binary.LittleEndian.Uint32(data)
	order, magic, is64 := detectOrder(rawMagic)
	if order == nil {
		return nil, errors.Wrapf(diag.ErrBadMagic, "magic %#x is not a thin mach-o", rawMagic)
	}
	if order == binary.BigEndian {
		return nil, errors.Wrap(diag.ErrUnsupportedEndianness, "big-endian (PPC) mach-o")
	}

	view := types.NewByteView(data, order)
	h := &MachOHeader{Is64: is64, Order: order}
	h.Magic = magic

	cpu, err1 := view.ReadU32(4)
	sub, err2 := view.ReadU32(8)
	ftype, err3 := view.ReadU32(12)
	ncmds, err4 := view.ReadU32(16)
	sizecmds, err5 := view.ReadU32(20)
	flags, err6 := view.ReadU32(24)
	if err := firstErr(err1, err2, err3, err4, err5, err6); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "mach-o header fields")
	}
	h.CPU = types.CPU(cpu)
	h.SubCPU = types.CPUSubtype(sub)
	h.Type = types.HeaderFileType(ftype)
	h.NCommands = ncmds
	h.SizeCommands = sizecmds
	h.Flags = types.HeaderFlag(flags)

	cmds, err := parseLoadCommands(view, h.HeaderSize(), int(ncmds), sizecmds)
	if err != nil {
		return nil, err
	}
	h.Commands = cmds
	return h, nil
}

// parseLoadCommands walks the load-command array starting at off,
// enforcing that the declared sizes sum to sizeofcmds (§4.3's invariant)
// and that no cmdsize is zero (which would loop forever).
func parseLoadCommands(view types.ByteView, off, ncmds int, sizeofcmds uint32) ([]LoadCommand, error) {
	cmds := make([]LoadCommand, 0, ncmds)
	pos := off
	var total uint32
	for i := 0; i < ncmds; i++ {
		cmdVal, err := view.ReadU32(pos)
		if err != nil {
			return nil, errors.Wrapf(diag.ErrTruncated, "load command %d", i)
		}
		size, err := view.ReadU32(pos + 4)
		if err != nil {
			return nil, errors.Wrapf(diag.ErrTruncated, "load command %d size", i)
		}
		if size == 0 {
			return nil, errors.Wrapf(diag.ErrMalformedLoadCommands, "load command %d has cmdsize 0", i)
		}
		raw, err := view.ReadBytes(pos, int(size))
		if err != nil {
			return nil, errors.Wrapf(diag.ErrMalformedLoadCommands, "load command %d body (cmdsize %d)", i, size)
		}
		cmds = append(cmds, LoadCommand{Cmd: types.LoadCmd(cmdVal), CmdSize: size, Offset: pos - off, Raw: raw})
		total += size
		pos += int(size)
	}
	if total != sizeofcmds {
		return nil, errors.Wrapf(diag.ErrMalformedLoadCommands, "load commands sum to %d bytes, header declares %d", total, sizeofcmds)
	}
	return cmds, nil
}

// UUID decodes the LC_UUID command's payload, if present.
func (h *MachOHeader) UUID() (uuid.UUID, bool) {
	for _, c := range h.Commands {
		if c.Cmd == types.LC_UUID && len(c.Raw) >= 24 {
			id, err := uuid.FromBytes(c.Raw[8:24])
			if err == nil {
				return id, true
			}
		}
	}
	return uuid.UUID{}, false
}

// Platform, MinOS, and SDK decode the LC_BUILD_VERSION command, falling
// back to LC_VERSION_MIN_* for older binaries that predate it.
func (h *MachOHeader) Platform() (types.Platform, bool) {
	for _, c := range h.Commands {
		if c.Cmd == types.LC_BUILD_VERSION && len(c.Raw) >= 12 {
			return types.Platform(h.Order.Uint32(c.Raw[8:12])), true
		}
	}
	for _, c := range h.Commands {
		switch c.Cmd {
		case types.LC_VERSION_MIN_MACOSX:
			return types.PlatformMacOS, true
		case types.LC_VERSION_MIN_IPHONEOS:
			return types.PlatformIOS, true
		case types.LC_VERSION_MIN_TVOS:
			return types.PlatformTvOS, true
		case types.LC_VERSION_MIN_WATCHOS:
			return types.PlatformWatchOS, true
		}
	}
	return types.PlatformUnknown, false
}

func (h *MachOHeader) MinOS() (types.Version, bool) {
	for _, c := range h.Commands {
		if c.Cmd == types.LC_BUILD_VERSION && len(c.Raw) >= 16 {
			return types.Version(h.Order.Uint32(c.Raw[12:16])), true
		}
		if (c.Cmd == types.LC_VERSION_MIN_MACOSX || c.Cmd == types.LC_VERSION_MIN_IPHONEOS ||
			c.Cmd == types.LC_VERSION_MIN_TVOS || c.Cmd == types.LC_VERSION_MIN_WATCHOS) && len(c.Raw) >= 12 {
			return types.Version(h.Order.Uint32(c.Raw[8:12])), true
		}
	}
	return 0, false
}

func (h *MachOHeader) SDK() (types.Version, bool) {
	for _, c := range h.Commands {
		if c.Cmd == types.LC_BUILD_VERSION && len(c.Raw) >= 20 {
			return types.Version(h.Order.Uint32(c.Raw[16:20])), true
		}
		if (c.Cmd == types.LC_VERSION_MIN_MACOSX || c.Cmd == types.LC_VERSION_MIN_IPHONEOS ||
			c.Cmd == types.LC_VERSION_MIN_TVOS || c.Cmd == types.LC_VERSION_MIN_WATCHOS) && len(c.Raw) >= 16 {
			return types.Version(h.Order.Uint32(c.Raw[12:16])), true
		}
	}
	return 0, false
}

// InstallName decodes the LC_ID_DYLIB command's trailing path string, if
// this slice is a dylib.
func (h *MachOHeader) InstallName() (string, bool) {
	for _, c := range h.Commands {
		if c.Cmd == types.LC_ID_DYLIB {
			view := types.NewByteView(c.Raw, h.Order)
			off, err := view.ReadU32(8)
			if err != nil {
				continue
			}
			name, err := view.ReadCString(int(off))
			if err != nil {
				continue
			}
			return name, true
		}
	}
	return "", false
}
