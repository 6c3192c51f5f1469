package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Fat archive magic numbers. Fat integers are always big-endian,
// regardless of the byte order of the slices they describe.
const (
	MagicFat64 Magic = 0xcafebabf
)

// FatHeader is the fixed-size header at the start of a fat archive.
type FatHeader struct {
	Magic    Magic
	NFatArch uint32
}

const FatHeaderSize = 8

func (h *FatHeader) Put(b []byte) {
	binary.BigEndian.PutUint32(b[0:], uint32(h.Magic))
	binary.BigEndian.PutUint32(b[4:], h.NFatArch)
}

// FatArch is one 32-bit fat_arch table entry: a slice's CPU selector, its
// file range, and its required alignment (as a power of two).
type FatArch struct {
	CPU        CPU
	SubCPU     CPUSubtype
	Offset     uint32
	Size       uint32
	Align      uint32
}

const FatArchSize = 20

func (a *FatArch) Put(b []byte) {
	binary.BigEndian.PutUint32(b[0:], uint32(a.CPU))
	binary.BigEndian.PutUint32(b[4:], uint32(a.SubCPU))
	binary.BigEndian.PutUint32(b[8:], a.Offset)
	binary.BigEndian.PutUint32(b[12:], a.Size)
	binary.BigEndian.PutUint32(b[16:], a.Align)
}

// FatArch64 is the 64-bit fat_arch_64 table entry used when the archive
// magic is MagicFat64, letting slice offsets exceed 4 GiB.
type FatArch64 struct {
	CPU        CPU
	SubCPU     CPUSubtype
	Offset     uint64
	Size       uint64
	Align      uint32
	Reserved   uint32
}

const FatArch64Size = 32

func (a *FatArch64) Put(b []byte) {
	binary.BigEndian.PutUint32(b[0:], uint32(a.CPU))
	binary.BigEndian.PutUint32(b[4:], uint32(a.SubCPU))
	binary.BigEndian.PutUint64(b[8:], a.Offset)
	binary.BigEndian.PutUint64(b[16:], a.Size)
	binary.BigEndian.PutUint32(b[24:], a.Align)
	binary.BigEndian.PutUint32(b[28:], a.Reserved)
}

func (h *FatHeader) Write(buf *bytes.Buffer) error {
	var b [FatHeaderSize]byte
	h.Put(b[:])
	if _, err := buf.Write(b[:]); err != nil {
		return fmt.Errorf("failed to write fat header to buffer: %v", err)
	}
	return nil
}

func (a *FatArch) Write(buf *bytes.Buffer) error {
	var b [FatArchSize]byte
	a.Put(b[:])
	if _, err := buf.Write(b[:]); err != nil {
		return fmt.Errorf("failed to write fat arch to buffer: %v", err)
	}
	return nil
}

func (a *FatArch64) Write(buf *bytes.Buffer) error {
	var b [FatArch64Size]byte
	a.Put(b[:])
	if _, err := buf.Write(b[:]); err != nil {
		return fmt.Errorf("failed to write fat arch64 to buffer: %v", err)
	}
	return nil
}
