package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// FatSlice is one architecture's entry in a fat archive: its CPU selector
// and the byte range of the thin Mach-O it wraps.
type FatSlice struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint64
	Size   uint64
	Align  uint32
	Data   []byte
}

// IsFat reports whether data begins with a fat archive magic, read either
// as big-endian (the wire format) or little-endian (what a little-endian
// host sees if it naively decodes the first four bytes — ktool's own
// detection sniffs both so a byte-swapped read doesn't get mistaken for a
// thin Mach-O).
func IsFat(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	be := binary.BigEndian.Uint32(data)
	le := binary.LittleEndian.Uint32(data)
	return be == uint32(types.MagicFat) || be == uint32(types.MagicFat64) ||
		le == uint32(types.MagicFat) || le == uint32(types.MagicFat64)
}

// ReadFat is the FatReader: it parses a fat archive's header and arch
// table and returns the ordered list of slices it describes, each holding
// a copy of its thin Mach-O bytes. Fat integers are always big-endian.
func ReadFat(data []byte) ([]FatSlice, error) {
	view := types.NewByteView(data, binary.BigEndian)

	magic, err := view.ReadU32(0)
	if err != nil {
		return nil, errors.Wrap(diag.ErrBadMagic, "fat header")
	}
	is64 := false
	switch types.Magic(magic) {
	case types.MagicFat:
	case types.MagicFat64:
		is64 = true
	default:
		return nil, errors.Wrapf(diag.ErrBadMagic, "magic %#x is not a fat archive", magic)
	}

	nArch, err := view.ReadU32(4)
	if err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "fat header")
	}
	if nArch > 1024 {
		return nil, errors.Wrapf(diag.ErrTruncated, "fat archive declares %d arches", nArch)
	}

	archSize := types.FatArchSize
	if is64 {
		archSize = types.FatArch64Size
	}

	slices := make([]FatSlice, 0, nArch)
	tableOff := types.FatHeaderSize
	for i := uint32(0); i < nArch; i++ {
		off := tableOff + int(i)*archSize
		var s FatSlice
		if is64 {
			cpu, err1 := view.ReadU32(off)
			sub, err2 := view.ReadU32(off + 4)
			fileOff, err3 := view.ReadU64(off + 8)
			size, err4 := view.ReadU64(off + 16)
			align, err5 := view.ReadU32(off + 24)
			if err := firstErr(err1, err2, err3, err4, err5); err != nil {
				return nil, errors.Wrapf(diag.ErrTruncated, "fat_arch_64[%d]", i)
			}
			s = FatSlice{CPU: types.CPU(cpu), SubCPU: types.CPUSubtype(sub), Offset: fileOff, Size: size, Align: align}
		} else {
			cpu, err1 := view.ReadU32(off)
			sub, err2 := view.ReadU32(off + 4)
			fileOff, err3 := view.ReadU32(off + 8)
			size, err4 := view.ReadU32(off + 12)
			align, err5 := view.ReadU32(off + 16)
			if err := firstErr(err1, err2, err3, err4, err5); err != nil {
				return nil, errors.Wrapf(diag.ErrTruncated, "fat_arch[%d]", i)
			}
			s = FatSlice{CPU: types.CPU(cpu), SubCPU: types.CPUSubtype(sub), Offset: uint64(fileOff), Size: uint64(size), Align: align}
		}
		body, err := view.ReadBytes(int(s.Offset), int(s.Size))
		if err != nil {
			return nil, errors.Wrapf(err, "slice %d body (cpu %s)", i, s.CPU)
		}
		s.Data = body
		slices = append(slices, s)
	}
	return slices, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// DefaultFatAlign is the alignment exponent (2^14 = 16 KiB) FatWriter uses
// for a slice that doesn't specify its own.
const DefaultFatAlign = 14

// WriteFat is the FatWriter: it lays the given slices out at ascending,
// alignment-respecting offsets and serializes the fat header and arch
// table ahead of the concatenated slice bodies.
func WriteFat(slices []FatSlice, use64 bool) ([]byte, error) {
	if len(slices) == 0 {
		return nil, errors.New("no slices to pack")
	}

	archSize := types.FatArchSize
	if use64 {
		archSize = types.FatArch64Size
	}
	headerSize := types.FatHeaderSize + len(slices)*archSize

	offsets := make([]uint64, len(slices))
	pos := uint64(headerSize)
	for i, s := range slices {
		align := s.Align
		if align == 0 {
			align = DefaultFatAlign
		}
		stride := uint64(1) << align
		if rem := pos % stride; rem != 0 {
			pos += stride - rem
		}
		offsets[i] = pos
		pos += uint64(len(s.Data))
	}

	out := make([]byte, pos)
	order := binary.BigEndian
	magic := types.MagicFat
	if use64 {
		magic = types.MagicFat64
	}
	order.PutUint32(out[0:], uint32(magic))
	order.PutUint32(out[4:], uint32(len(slices)))

	for i, s := range slices {
		off := types.FatHeaderSize + i*archSize
		if use64 {
			a := types.FatArch64{CPU: s.CPU, SubCPU: s.SubCPU, Offset: offsets[i], Size: uint64(len(s.Data)), Align: orDefault(s.Align)}
			a.Put(out[off:])
		} else {
			a := types.FatArch{CPU: s.CPU, SubCPU: s.SubCPU, Offset: uint32(offsets[i]), Size: uint32(len(s.Data)), Align: orDefault(s.Align)}
			a.Put(out[off:])
		}
		copy(out[offsets[i]:], s.Data)
	}

	for i := 0; i+1 < len(slices); i++ {
		if offsets[i]+uint64(len(slices[i].Data)) > offsets[i+1] {
			return nil, errors.Errorf("slice %d overlaps slice %d", i, i+1)
		}
	}

	return out, nil
}

func orDefault(align uint32) uint32 {
	if align == 0 {
		return DefaultFatAlign
	}
	return align
}
