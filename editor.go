package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// MachOEditor rewrites a Library's load commands, producing a fresh byte
// buffer for each edit rather than mutating in place (§4.11): editing is
// "Library -> MachOEditor -> new bytes", keeping the core's read side pure.
type MachOEditor struct {
	lib *Library
}

// NewMachOEditor wraps lib for editing. The returned editor reads lib's
// bytes but never mutates them; every operation returns a new buffer.
func NewMachOEditor(lib *Library) *MachOEditor {
	return &MachOEditor{lib: lib}
}

func ptrAlign(is64 bool) int {
	if is64 {
		return 8
	}
	return 4
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// headerGap returns the byte range between the end of the current load
// commands and the first segment's file offset — the padding an insert
// must fit within without disturbing anything already laid out after it.
func (e *MachOEditor) headerGap() (lcEnd, firstSegOff int, ok bool) {
	h := e.lib.Header
	lcEnd = h.HeaderSize() + int(h.SizeOfCmds)
	if len(e.lib.Segments.Segments) == 0 {
		return lcEnd, lcEnd, true
	}
	first := e.lib.Segments.Segments[0].FileOff
	for _, s := range e.lib.Segments.Segments {
		if s.FileOff < first {
			first = s.FileOff
		}
	}
	return lcEnd, int(first), true
}

// InsertLoadCommand splices a new load command at index, §4.11. structBytes
// is the command's fixed-width body after the cmd/cmdsize header fields,
// which the editor prepends and fills in; trailing is an optional string,
// NUL-terminated and padded to pointer alignment when appended, e.g. a
// dylib's install name.
func (e *MachOEditor) InsertLoadCommand(kind types.LoadCmd, structBytes []byte, trailing string, index int) ([]byte, error) {
	h := e.lib.Header
	if index < 0 || index > len(h.Commands) {
		return nil, errors.Wrapf(diag.ErrUnsupportedEdit, "insert index %d out of range [0,%d]", index, len(h.Commands))
	}

	align := ptrAlign(h.Is64)
	body := append([]byte{}, structBytes...)
	if trailing != "" {
		body = append(body, []byte(trailing)...)
		body = append(body, 0)
	}
	padded := roundUp(len(body), align)
	body = append(body, make([]byte, padded-len(body))...)

	cmdsize := 8 + len(body)
	raw := make([]byte, cmdsize)
	h.Order.PutUint32(raw[0:4], uint32(kind))
	h.Order.PutUint32(raw[4:8], uint32(cmdsize))
	copy(raw[8:], body)

	newSizeOfCmds := int(h.SizeOfCmds) + cmdsize
	_, firstSegOff, _ := e.headerGap()
	if h.HeaderSize()+newSizeOfCmds > firstSegOff {
		return nil, errors.Wrapf(diag.ErrNoHeaderPadding,
			"inserting %d bytes needs %d but only %d available before first segment",
			cmdsize, h.HeaderSize()+newSizeOfCmds, firstSegOff)
	}

	// The new command consumes existing header padding — it does not grow
	// the file. Every byte from firstSegOff onward keeps its absolute file
	// offset, so every fileoff already baked into the segment/section and
	// symbol-table commands stays correct without being rewritten.
	out := make([]byte, 0, len(e.lib.raw))
	out = append(out, e.lib.raw[:h.HeaderSize()]...)

	for i, c := range h.Commands {
		if i == index {
			out = append(out, raw...)
		}
		out = append(out, c.Raw...)
	}
	if index == len(h.Commands) {
		out = append(out, raw...)
	}
	out = append(out, make([]byte, firstSegOff-h.HeaderSize()-newSizeOfCmds)...)
	out = append(out, e.lib.raw[firstSegOff:]...)

	if err := rewriteCommandCounts(out, h, len(h.Commands)+1, newSizeOfCmds); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveLoadCommand deletes the load command at index, shifting the
// following commands left and zero-filling the vacated tail (§4.11).
func (e *MachOEditor) RemoveLoadCommand(index int) ([]byte, error) {
	h := e.lib.Header
	if index < 0 || index >= len(h.Commands) {
		return nil, errors.Wrapf(diag.ErrUnsupportedEdit, "remove index %d out of range [0,%d)", index, len(h.Commands))
	}
	removed := h.Commands[index]

	out := make([]byte, 0, len(e.lib.raw))
	out = append(out, e.lib.raw[:h.HeaderSize()]...)
	for i, c := range h.Commands {
		if i == index {
			continue
		}
		out = append(out, c.Raw...)
	}
	out = append(out, make([]byte, len(removed.Raw))...)
	out = append(out, e.lib.raw[h.HeaderSize()+int(h.SizeOfCmds):]...)

	newSizeOfCmds := int(h.SizeOfCmds) - len(removed.Raw)
	if err := rewriteCommandCounts(out, h, len(h.Commands)-1, newSizeOfCmds); err != nil {
		return nil, err
	}
	return out, nil
}

// SetInstallName rewrites LC_ID_DYLIB's name, preserving its timestamp and
// current/compatibility versions (§9's Open Question: an install-name edit
// is a metadata rename, not a re-release, so the version fields it carries
// should survive unchanged rather than reset to zero).
func (e *MachOEditor) SetInstallName(newName string) ([]byte, error) {
	h := e.lib.Header
	index := -1
	var old LoadCommand
	for i, c := range h.Commands {
		if c.Cmd == types.LC_ID_DYLIB {
			index, old = i, c
			break
		}
	}
	if index < 0 {
		return nil, errors.Wrap(diag.ErrUnsupportedEdit, "no LC_ID_DYLIB command to rename")
	}

	v := types.NewByteView(old.Raw, h.Order)
	ts, e1 := v.ReadU32(12)
	cur, e2 := v.ReadU32(16)
	compat, e3 := v.ReadU32(20)
	if err := firstErr(e1, e2, e3); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "dylib_command fields")
	}

	body := make([]byte, 16)
	h.Order.PutUint32(body[0:4], 24) // name offset, always right after the fixed fields
	h.Order.PutUint32(body[4:8], ts)
	h.Order.PutUint32(body[8:12], cur)
	h.Order.PutUint32(body[12:16], compat)

	removed, err := e.RemoveLoadCommand(index)
	if err != nil {
		return nil, errors.Wrap(err, "remove old LC_ID_DYLIB")
	}

	// Re-derive an editor over the post-removal bytes so InsertLoadCommand
	// computes cmdsize/header-gap checks against the now-current layout.
	afterRemoval, err := NewLibrary(removed)
	if err != nil {
		return nil, errors.Wrap(err, "reparse after remove")
	}
	return NewMachOEditor(afterRemoval).InsertLoadCommand(types.LC_ID_DYLIB, body, newName, index)
}

// AddHeaderPadding shifts every segment's fileoff/section offset forward
// by n bytes, grows the first segment's filesize/vmsize by n, and moves
// the corresponding file data forward to match (§4.11). Used to make room
// for an insert that would otherwise overflow NoHeaderPadding.
func (e *MachOEditor) AddHeaderPadding(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Wrap(diag.ErrUnsupportedEdit, "padding amount must be positive")
	}
	h := e.lib.Header
	segs := e.lib.Segments.Segments
	if len(segs) == 0 {
		return nil, errors.Wrap(diag.ErrUnsupportedEdit, "no segments to pad")
	}

	out := make([]byte, len(e.lib.raw)+n)
	copy(out, e.lib.raw[:h.HeaderSize()+int(h.SizeOfCmds)])
	copy(out[h.HeaderSize()+int(h.SizeOfCmds)+n:], e.lib.raw[h.HeaderSize()+int(h.SizeOfCmds):])

	firstFileOff := segs[0].FileOff
	for _, s := range segs[1:] {
		if s.FileOff < firstFileOff {
			firstFileOff = s.FileOff
		}
	}

	for i, c := range h.Commands {
		if c.Cmd != types.LC_SEGMENT && c.Cmd != types.LC_SEGMENT_64 {
			continue
		}
		isFirst := segmentFileOffAt(out, h, i) == firstFileOff
		if err := shiftSegmentCommand(out, h, i, n, isFirst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func segmentFileOffAt(out []byte, h *MachOHeader, cmdIndex int) uint64 {
	c := h.Commands[cmdIndex]
	is64 := c.Cmd == types.LC_SEGMENT_64
	v := types.NewByteView(out, h.Order)
	off := h.HeaderSize() + c.Offset
	field := off + 32
	if is64 {
		field = off + 40
	}
	fo, _ := readUintField(v, field, is64)
	return fo
}

// shiftSegmentCommand rewrites one segment command's fileoff/sections in
// place within out, adding n to every file-relative field. isFirst marks
// the lowest-fileoff segment, whose filesize/vmsize also grow by n to
// cover the new padding (§4.11).
func shiftSegmentCommand(out []byte, h *MachOHeader, cmdIndex, n int, isFirst bool) error {
	c := h.Commands[cmdIndex]
	// The command's own bytes stay put — AddHeaderPadding only opens a gap
	// after sizeofcmds. Only the fileoff/section-offset fields inside it,
	// which point past that gap, need to move. c.Offset is relative to the
	// end of the fixed header; out is indexed from the start of the file.
	off := h.HeaderSize() + c.Offset
	is64 := c.Cmd == types.LC_SEGMENT_64
	v := types.NewByteView(out, h.Order)

	fileOffField := off + 32
	nsectsField := off + 48
	sectOff := off + 56
	if is64 {
		fileOffField = off + 40
		nsectsField = off + 64
		sectOff = off + 72
	}

	fileOff, err := readUintField(v, fileOffField, is64)
	if err != nil {
		return err
	}
	if err := writeUintField(out, h.Order, fileOffField, fileOff+uint64(n), is64); err != nil {
		return err
	}

	if isFirst {
		var sizeField int
		if is64 {
			sizeField = off + 48
		} else {
			sizeField = off + 36
		}
		fileSize, err := readUintField(v, sizeField, is64)
		if err != nil {
			return err
		}
		if err := writeUintField(out, h.Order, sizeField, fileSize+uint64(n), is64); err != nil {
			return err
		}
		vmSizeField := off + 32
		if !is64 {
			vmSizeField = off + 28
		}
		vmSize, err := readUintField(v, vmSizeField, is64)
		if err != nil {
			return err
		}
		if err := writeUintField(out, h.Order, vmSizeField, vmSize+uint64(n), is64); err != nil {
			return err
		}
	}

	nsects, err := v.ReadU32(nsectsField)
	if err != nil {
		return err
	}
	secSize := types.Section32Size
	if is64 {
		secSize = types.Section64Size
	}
	offsetFieldDelta := 40
	if is64 {
		offsetFieldDelta = 48
	}
	for i := uint32(0); i < nsects; i++ {
		secOff := sectOff + int(i)*secSize + offsetFieldDelta
		fo, err := v.ReadU32(secOff)
		if err != nil {
			return err
		}
		h.Order.PutUint32(out[secOff:secOff+4], fo+uint32(n))
	}
	return nil
}

func readUintField(v types.ByteView, off int, is64 bool) (uint64, error) {
	if is64 {
		return v.ReadU64(off)
	}
	u, err := v.ReadU32(off)
	return uint64(u), err
}

func writeUintField(out []byte, order binary.ByteOrder, off int, val uint64, is64 bool) error {
	if is64 {
		order.PutUint64(out[off:off+8], val)
	} else {
		order.PutUint32(out[off:off+4], uint32(val))
	}
	return nil
}

// rewriteCommandCounts patches ncmds/sizeofcmds in out's header in place.
func rewriteCommandCounts(out []byte, h *MachOHeader, ncmds, sizeofcmds int) error {
	if len(out) < h.HeaderSize() {
		return errors.Wrap(diag.ErrTruncated, "header too short to patch")
	}
	ncmdsOff, sizeofcmdsOff := 16, 20
	h.Order.PutUint32(out[ncmdsOff:ncmdsOff+4], uint32(ncmds))
	h.Order.PutUint32(out[sizeofcmdsOff:sizeofcmdsOff+4], uint32(sizeofcmds))
	return nil
}
