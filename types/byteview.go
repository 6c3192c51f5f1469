package types

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
)

// ByteView is a bounds-checked, endian-aware window over an in-memory
// buffer. It is the primitive every other reader (SegmentMap, SymbolTable,
// BindingDecoder, ObjCReader) is built on: none of them touch a []byte
// directly, they all go through a ByteView so a truncated or malformed
// input fails uniformly with diag.ErrTruncated instead of panicking on a
// slice bounds error.
type ByteView struct {
	data  []byte
	order binary.ByteOrder
}

// NewByteView wraps data for reads in the given byte order. The order is
// fixed for the lifetime of the view; a caller that discovers the file is
// big-endian after sniffing the magic constructs a new view with
// binary.BigEndian rather than mutating one in place.
func NewByteView(data []byte, order binary.ByteOrder) ByteView {
	return ByteView{data: data, order: order}
}

// Len reports the number of bytes backing the view.
func (v ByteView) Len() int {
	return len(v.data)
}

// Order reports the byte order reads are decoded with.
func (v ByteView) Order() binary.ByteOrder {
	return v.order
}

// Sub returns a new view over data[off:off+n], sharing the same byte order.
func (v ByteView) Sub(off, n int) (ByteView, error) {
	b, err := v.ReadBytes(off, n)
	if err != nil {
		return ByteView{}, err
	}
	return ByteView{data: b, order: v.order}, nil
}

func (v ByteView) bounds(off, n int) error {
	if off < 0 || n < 0 || off+n < off || off+n > len(v.data) {
		return errors.Wrapf(diag.ErrTruncated, "read of %d bytes at offset %#x exceeds %d-byte input", n, off, len(v.data))
	}
	return nil
}

// ReadU8 reads a single byte at off.
func (v ByteView) ReadU8(off int) (uint8, error) {
	if err := v.bounds(off, 1); err != nil {
		return 0, err
	}
	return v.data[off], nil
}

// ReadU16 reads a 16-bit value at off in the view's byte order.
func (v ByteView) ReadU16(off int) (uint16, error) {
	if err := v.bounds(off, 2); err != nil {
		return 0, err
	}
	return v.order.Uint16(v.data[off:]), nil
}

// ReadU32 reads a 32-bit value at off in the view's byte order.
func (v ByteView) ReadU32(off int) (uint32, error) {
	if err := v.bounds(off, 4); err != nil {
		return 0, err
	}
	return v.order.Uint32(v.data[off:]), nil
}

// ReadU64 reads a 64-bit value at off in the view's byte order.
func (v ByteView) ReadU64(off int) (uint64, error) {
	if err := v.bounds(off, 8); err != nil {
		return 0, err
	}
	return v.order.Uint64(v.data[off:]), nil
}

// ReadBytes returns a copy of n bytes starting at off.
func (v ByteView) ReadBytes(off, n int) ([]byte, error) {
	if err := v.bounds(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, v.data[off:off+n])
	return out, nil
}

// ReadCString reads a NUL-terminated string starting at off. The terminator
// is not included in the result. An unterminated run to the end of the
// buffer is treated as diag.ErrTruncated.
func (v ByteView) ReadCString(off int) (string, error) {
	if off < 0 || off > len(v.data) {
		return "", errors.Wrapf(diag.ErrTruncated, "cstring at offset %#x is out of bounds", off)
	}
	end := off
	for end < len(v.data) && v.data[end] != 0 {
		end++
	}
	if end == len(v.data) {
		return "", errors.Wrapf(diag.ErrTruncated, "cstring at offset %#x is not NUL-terminated", off)
	}
	return string(v.data[off:end]), nil
}

// ReadULEB128 decodes an unsigned LEB128 integer starting at off, returning
// the value and the offset immediately after it.
func (v ByteView) ReadULEB128(off int) (uint64, int, error) {
	var result uint64
	var shift uint
	pos := off
	for {
		b, err := v.ReadU8(pos)
		if err != nil {
			return 0, pos, errors.Wrap(diag.ErrTruncated, "truncated ULEB128")
		}
		pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, pos, errors.New("ULEB128 exceeds 64 bits")
		}
	}
	return result, pos, nil
}

// ReadSLEB128 decodes a signed LEB128 integer starting at off, returning the
// value and the offset immediately after it.
func (v ByteView) ReadSLEB128(off int) (int64, int, error) {
	var result int64
	var shift uint
	pos := off
	var b uint8
	var err error
	for {
		b, err = v.ReadU8(pos)
		if err != nil {
			return 0, pos, errors.Wrap(diag.ErrTruncated, "truncated SLEB128")
		}
		pos++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, pos, errors.New("SLEB128 exceeds 64 bits")
		}
	}
	if shift < 64 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, pos, nil
}

// StructField describes one fixed-width field of a StructCodec schema, in
// on-disk declaration order.
type StructField struct {
	Name  string
	Width int // 1, 2, 4, or 8
}

// StructCodec decodes and encodes a fixed-layout, schema-described record —
// the same shape as a Mach-O load-command payload or an nlist entry — to
// and from a field-name-to-value map. The schema drives both directions, so
// StructCodec.Assemble(codec.Parse(b)) reproduces b byte-for-byte.
type StructCodec struct {
	Fields []StructField
	Order  binary.ByteOrder
}

// Size is the total encoded width of the schema in bytes.
func (c StructCodec) Size() int {
	n := 0
	for _, f := range c.Fields {
		n += f.Width
	}
	return n
}

// Parse decodes a struct instance from v at off, returning a field map.
func (c StructCodec) Parse(v ByteView, off int) (map[string]uint64, error) {
	out := make(map[string]uint64, len(c.Fields))
	pos := off
	for _, f := range c.Fields {
		var value uint64
		var err error
		switch f.Width {
		case 1:
			var b uint8
			b, err = v.ReadU8(pos)
			value = uint64(b)
		case 2:
			var h uint16
			h, err = v.ReadU16(pos)
			value = uint64(h)
		case 4:
			var w uint32
			w, err = v.ReadU32(pos)
			value = uint64(w)
		case 8:
			value, err = v.ReadU64(pos)
		default:
			err = errors.Errorf("unsupported field width %d for %q", f.Width, f.Name)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %q", f.Name)
		}
		out[f.Name] = value
		pos += f.Width
	}
	return out, nil
}

// Assemble encodes values into raw bytes following the schema's field
// order and widths, the inverse of Parse.
func (c StructCodec) Assemble(values map[string]uint64) ([]byte, error) {
	buf := make([]byte, c.Size())
	pos := 0
	for _, f := range c.Fields {
		value, ok := values[f.Name]
		if !ok {
			return nil, errors.Errorf("missing field %q", f.Name)
		}
		switch f.Width {
		case 1:
			buf[pos] = uint8(value)
		case 2:
			c.Order.PutUint16(buf[pos:], uint16(value))
		case 4:
			c.Order.PutUint32(buf[pos:], uint32(value))
		case 8:
			c.Order.PutUint64(buf[pos:], value)
		default:
			return nil, errors.Errorf("unsupported field width %d for %q", f.Width, f.Name)
		}
		pos += f.Width
	}
	return buf, nil
}
