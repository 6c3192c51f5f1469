package macho

import (
	"encoding/binary"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
)

// LibraryConfig mirrors the teacher's FileConfig: the pieces of a parse a
// caller occasionally wants to override. ktool has no VM-address-converter
// concept of its own — VMToFile/VMBase already cover that — so this stays
// narrower than the original, but keeps the same "config struct, optional
// positional arg" shape.
type LibraryConfig struct {
	// No fields: all load commands are always decoded (§5 treats a
	// slice's bytes as a pure function input, with no partial-parse mode).
}

// Library is the top-level decoded view of one Mach-O slice: §3's
// aggregate owning the slice's bytes and every derived table. Every
// construction path is a pure function of the byte slice — no file
// handles, no global state (§5).
type Library struct {
	file types.ByteView
	raw  []byte

	Header   *MachOHeader
	Segments *SegmentMap
	Symbols  *SymbolTable
	Dylibs   *DylibTable
	Binding  *BindingTables
}

// NewLibrary decodes one Mach-O slice's bytes into a Library. data must be
// the full, addressable byte range for this slice — if it came from a fat
// binary, that is the slice FatReader already carved out, not the whole
// fat file.
func NewLibrary(data []byte, _ ...LibraryConfig) (*Library, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, errors.Wrap(err, "header")
	}
	file := types.NewByteView(data, h.Order)

	segs, err := BuildSegmentMap(h)
	if err != nil {
		return nil, errors.Wrap(err, "segments")
	}
	syms, err := BuildSymbolTable(file, h)
	if err != nil {
		return nil, errors.Wrap(err, "symbols")
	}
	dylibs, err := BuildDylibTable(h)
	if err != nil {
		return nil, errors.Wrap(err, "dylibs")
	}
	binding, err := BuildBindingTables(file, h, dylibs, segs)
	if err != nil {
		return nil, errors.Wrap(err, "binding")
	}

	return &Library{
		file:     file,
		raw:      data,
		Header:   h,
		Segments: segs,
		Symbols:  syms,
		Dylibs:   dylibs,
		Binding:  binding,
	}, nil
}

// Open reads name and decodes it as a single-slice Mach-O binary. Fat
// binaries should go through ReadFat and NewLibrary per slice instead.
func Open(name string) (*Library, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	if IsFat(data) {
		return nil, errors.Wrap(diag.ErrBadMagic, "fat binary: use ReadFat and NewLibrary per slice")
	}
	return NewLibrary(data)
}

// Bytes returns the slice's underlying bytes, the same data NewLibrary was
// constructed from.
func (l *Library) Bytes() []byte { return l.raw }

// ObjC lazily builds an ObjCReader over this library's bytes and segment
// map. Each call walks the classlist/protolist/catlist fresh — callers
// that need all three should call ReadClasses/ReadProtocols/ReadCategories
// on the same reader so the visited-class cache is shared across them.
func (l *Library) ObjC() *ObjCReader {
	return NewObjCReader(l.file, l.Segments)
}

// UUID returns the image's LC_UUID value, if present.
func (l *Library) UUID() (uuid.UUID, bool) { return l.Header.UUID() }

// Platform, MinOS, and SDK expose the deployment target recorded in
// LC_BUILD_VERSION or the older LC_VERSION_MIN_* commands.
func (l *Library) Platform() (types.Platform, bool) { return l.Header.Platform() }
func (l *Library) MinOS() (types.Version, bool)     { return l.Header.MinOS() }
func (l *Library) SDK() (types.Version, bool)       { return l.Header.SDK() }

// InstallName returns the LC_ID_DYLIB name for a dylib image.
func (l *Library) InstallName() (string, bool) { return l.Header.InstallName() }

// LibraryOrdinalName resolves a bind ordinal against this library's
// DylibTable, the supplemented convenience the original implementation
// exposes directly on its top-level object.
func (l *Library) LibraryOrdinalName(ordinal int) string {
	return l.Dylibs.Resolve(ordinal)
}

// byteOrder exposes the detected byte order for editors that need to
// re-encode fields in place.
func (l *Library) byteOrder() binary.ByteOrder { return l.Header.Order }
