// Package diag holds the error kinds and logger shared across the core
// parsing and editing packages.
package diag

import "errors"

// Sentinel error kinds. Call sites wrap these with pkg/errors.Wrapf to add
// a path ("while parsing load command 4") without losing errors.Is matching.
var (
	// ErrBadMagic means the input is not a recognized Mach-O/fat file.
	ErrBadMagic = errors.New("not a mach-o or fat file")
	// ErrTruncated means a declared offset or count exceeds the input length.
	ErrTruncated = errors.New("truncated input")
	// ErrMalformedLoadCommands means the load command sizes don't sum to sizeofcmds.
	ErrMalformedLoadCommands = errors.New("malformed load commands")
	// ErrUnknownOpcode means a bind/export opcode stream contains an
	// opcode this decoder doesn't recognize. Callers may treat this as
	// non-fatal and preserve the remainder as a raw tail.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrUnmappedAddress means a VM address doesn't fall inside any segment.
	ErrUnmappedAddress = errors.New("unmapped virtual address")
	// ErrZeroFill means a VM address falls inside a zero-fill region with no file backing.
	ErrZeroFill = errors.New("address is zero-fill, has no file backing")
	// ErrExportTrieCycle means an export trie node's child offset loops back on an ancestor.
	ErrExportTrieCycle = errors.New("export trie contains a cycle")
	// ErrNoHeaderPadding means an edit would grow the load commands past the
	// lowest file offset of any segment.
	ErrNoHeaderPadding = errors.New("not enough header padding for edit")
	// ErrUnsupportedEdit means the requested edit is not valid for this file's kind.
	ErrUnsupportedEdit = errors.New("edit not supported for this file")
	// ErrUnsupportedEndianness means a slice declared a byte order (big-endian,
	// as on PPC) this build chose not to support.
	ErrUnsupportedEndianness = errors.New("unsupported byte order")
)
