package macho

import "encoding/binary"

// buildLC encodes one load command's raw bytes: cmd, cmdsize, then body.
// body should NOT include the 8-byte cmd/cmdsize prefix.
func buildLC(order binary.ByteOrder, cmd uint32, body []byte) []byte {
	raw := make([]byte, 8+len(body))
	order.PutUint32(raw[0:4], cmd)
	order.PutUint32(raw[4:8], uint32(len(raw)))
	copy(raw[8:], body)
	return raw
}

// buildHeader assembles a minimal mach_header[_64] plus the given
// already-encoded load commands, in the teacher's in-memory-fixture style
// (synthetic fixtures built by these test-only encoders, not checked-in
// binary blobs).
func buildHeader(order binary.ByteOrder, is64 bool, cpu, filetype uint32, cmds [][]byte) []byte {
	var sizeofcmds int
	for _, c := range cmds {
		sizeofcmds += len(c)
	}

	hdrSize := 28
	if is64 {
		hdrSize = 32
	}
	out := make([]byte, hdrSize)
	if is64 {
		order.PutUint32(out[0:4], 0xfeedfacf)
	} else {
		order.PutUint32(out[0:4], 0xfeedface)
	}
	order.PutUint32(out[4:8], cpu)
	order.PutUint32(out[8:12], 0)
	order.PutUint32(out[12:16], filetype)
	order.PutUint32(out[16:20], uint32(len(cmds)))
	order.PutUint32(out[20:24], uint32(sizeofcmds))
	order.PutUint32(out[24:28], 0)
	// out[28:32] reserved, already zero for 64-bit.

	for _, c := range cmds {
		out = append(out, c...)
	}
	return out
}

// buildSegment64 encodes a minimal LC_SEGMENT_64 body (without the 8-byte
// cmd/cmdsize prefix buildLC adds) with the given sections appended.
func buildSegment64(order binary.ByteOrder, name string, vmaddr, vmsize, fileoff, filesize uint64, sections [][]byte) []byte {
	body := make([]byte, 64)
	copy(body[0:16], name)
	order.PutUint64(body[16:24], vmaddr)
	order.PutUint64(body[24:32], vmsize)
	order.PutUint64(body[32:40], fileoff)
	order.PutUint64(body[40:48], filesize)
	order.PutUint32(body[48:52], 7) // maxprot rwx
	order.PutUint32(body[52:56], 7) // initprot rwx
	order.PutUint32(body[56:60], uint32(len(sections)))
	order.PutUint32(body[60:64], 0)
	for _, s := range sections {
		body = append(body, s...)
	}
	return body
}

// buildSection64 encodes one section_64 struct.
func buildSection64(order binary.ByteOrder, name, seg string, addr, size uint64, fileoff, align, flags uint32) []byte {
	body := make([]byte, 80)
	copy(body[0:16], name)
	copy(body[16:32], seg)
	order.PutUint64(body[32:40], addr)
	order.PutUint64(body[40:48], size)
	order.PutUint32(body[48:52], fileoff)
	order.PutUint32(body[52:56], align)
	order.PutUint32(body[56:60], 0) // reloff
	order.PutUint32(body[60:64], 0) // nreloc
	order.PutUint32(body[64:68], flags)
	return body
}
