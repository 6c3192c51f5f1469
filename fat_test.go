package macho

import (
	"bytes"
	"testing"

	"github.com/saagarjha/ktool/types"
)

func TestIsFat(t *testing.T) {
	be := make([]byte, 8)
	be[0], be[1], be[2], be[3] = 0xca, 0xfe, 0xba, 0xbe
	if !IsFat(be) {
		t.Fatal("expected big-endian fat magic to be recognized")
	}
	if IsFat([]byte{0xfe, 0xed, 0xfa, 0xce}) {
		t.Fatal("thin 32-bit magic misidentified as fat")
	}
	if IsFat([]byte{0x01}) {
		t.Fatal("too-short input misidentified as fat")
	}
}

func TestWriteFatThenReadFatRoundTrips(t *testing.T) {
	slices := []FatSlice{
		{CPU: types.CPUAmd64, SubCPU: 0, Align: 14, Data: bytes.Repeat([]byte{0xAA}, 100)},
		{CPU: types.CPUArm64, SubCPU: 0, Align: 14, Data: bytes.Repeat([]byte{0xBB}, 200)},
	}
	out, err := WriteFat(slices, false)
	if err != nil {
		t.Fatalf("WriteFat: %v", err)
	}
	if !IsFat(out) {
		t.Fatal("WriteFat output not recognized by IsFat")
	}

	got, err := ReadFat(out)
	if err != nil {
		t.Fatalf("ReadFat: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d slices, want 2", len(got))
	}
	if got[0].CPU != types.CPUAmd64 || !bytes.Equal(got[0].Data, slices[0].Data) {
		t.Fatalf("slice 0 mismatch: %+v", got[0])
	}
	if got[1].CPU != types.CPUArm64 || !bytes.Equal(got[1].Data, slices[1].Data) {
		t.Fatalf("slice 1 mismatch: %+v", got[1])
	}
	if got[0].Offset%(1<<14) != 0 || got[1].Offset%(1<<14) != 0 {
		t.Fatalf("slices not aligned to 2^14: %+v %+v", got[0], got[1])
	}
}

func TestWriteFatNoSlices(t *testing.T) {
	if _, err := WriteFat(nil, false); err == nil {
		t.Fatal("expected an error packing zero slices")
	}
}
