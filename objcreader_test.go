package macho

import (
	"encoding/binary"
	"testing"

	"github.com/saagarjha/ktool/types"
)

// objcFixture lays out a minimal __DATA segment containing one subclass, one
// root superclass, a single instance method, and a classlist pointing at the
// subclass — enough to exercise class_t/class_ro_t/method_list_t decoding
// and the superclass-walk in one pass.
type objcFixture struct {
	data  []byte
	order binary.ByteOrder
	segs  *SegmentMap
	file  types.ByteView
}

func buildObjcFixture(t *testing.T) objcFixture {
	order := binary.LittleEndian
	const vmBase = 0x10000
	buf := make([]byte, 0x1000)
	put64 := func(off int, v uint64) { order.PutUint64(buf[off:off+8], v) }
	put32 := func(off int, v uint32) { order.PutUint32(buf[off:off+4], v) }
	putStr := func(off int, s string) { copy(buf[off:], s) }

	// Layout (all addresses are vmBase + file offset, 1:1 mapped):
	//   0x000 classlist: one pointer -> subclass (0x100)
	//   0x100 subclass class_t (super @0x200, isa 0, data -> 0x140)
	//   0x140 subclass class_ro_t (name -> 0x300, methods -> 0x180)
	//   0x180 method_list_t: entsize=24 (absolute), count 1, one method_t
	//   0x188 method_t (name -> 0x340, types -> 0x350, imp 0)
	//   0x200 root superclass class_t (super 0, isa 0, data -> 0x240)
	//   0x240 root class_ro_t (name -> 0x320, no methods)
	//   0x300 "Subclass\0"
	//   0x320 "Root\0"
	//   0x340 "doIt\0"
	//   0x350 "v16@0:8\0"

	const classlistAddr = vmBase + 0x000
	const subAddr = vmBase + 0x100
	const subROAddr = vmBase + 0x140
	const methodsAddr = vmBase + 0x180
	const superAddr = vmBase + 0x200
	const superROAddr = vmBase + 0x240
	const subNameAddr = vmBase + 0x300
	const superNameAddr = vmBase + 0x320
	const methodNameAddr = vmBase + 0x340
	const methodTypesAddr = vmBase + 0x350

	put64(0x000, subAddr)

	// subclass class_t
	put64(0x100, 0)        // isa
	put64(0x100+8, superAddr) // superclass
	put64(0x100+32, subROAddr)

	// subclass class_ro_t
	put32(0x140, 0)     // flags
	put32(0x140+4, 0)   // instanceStart
	put64(0x140+8, 8)   // instanceSize
	put64(0x140+16, 0)  // ivarLayout
	put64(0x140+24, subNameAddr)
	put64(0x140+32, methodsAddr)
	put64(0x140+40, 0) // protocols
	put64(0x140+48, 0) // ivars
	put64(0x140+56, 0) // weakIvarLayout
	put64(0x140+64, 0) // properties

	// method_list_t (absolute encoding: entsize=24, top bits clear)
	put32(0x180, 24)
	put32(0x180+4, 1)
	put64(0x188, methodNameAddr)
	put64(0x188+8, methodTypesAddr)
	put64(0x188+16, 0)

	// root superclass class_t
	put64(0x200, 0)
	put64(0x200+8, 0)
	put64(0x200+32, superROAddr)

	// root class_ro_t (RO_ROOT bit set)
	put32(0x240, 0x2)
	put64(0x240+24, superNameAddr)

	putStr(0x300, "Subclass\x00")
	putStr(0x320, "Root\x00")
	putStr(0x340, "doIt\x00")
	putStr(0x350, "v16@0:8\x00")

	classlistSec := Section{Name: "__objc_classlist", Seg: "__DATA", Addr: classlistAddr, Size: 8, Offset: 0}
	dataSeg := Segment{Name: "__DATA", VMAddr: vmBase, VMSize: uint64(len(buf)), FileOff: 0, FileSize: uint64(len(buf)), Sections: []Section{classlistSec}}
	segs := &SegmentMap{Segments: []Segment{dataSeg}}

	return objcFixture{data: buf, order: order, segs: segs, file: types.NewByteView(buf, order)}
}

func TestReadClassesWalksSuperclassAndMethods(t *testing.T) {
	fx := buildObjcFixture(t)
	reader := NewObjCReader(fx.file, fx.segs)

	classes, err := reader.ReadClasses()
	if err != nil {
		t.Fatalf("ReadClasses: %v", err)
	}
	if len(classes) != 1 {
		t.Fatalf("got %d classes, want 1", len(classes))
	}
	c := classes[0]
	if c.Name != "Subclass" {
		t.Fatalf("got name %q, want Subclass", c.Name)
	}
	if c.SuperClass != "Root" {
		t.Fatalf("got superclass %q, want Root", c.SuperClass)
	}
	if len(c.InstanceMethods) != 1 {
		t.Fatalf("got %d instance methods, want 1", len(c.InstanceMethods))
	}
	m := c.InstanceMethods[0]
	if m.Name != "doIt" || m.Types != "v16@0:8" {
		t.Fatalf("unexpected method: %+v", m)
	}
}

func TestReadClassesNoClasslistReturnsNil(t *testing.T) {
	order := binary.LittleEndian
	segs := &SegmentMap{Segments: []Segment{{Name: "__TEXT", VMAddr: 0, VMSize: 0x1000}}}
	reader := NewObjCReader(types.NewByteView(make([]byte, 0x1000), order), segs)

	classes, err := reader.ReadClasses()
	if err != nil {
		t.Fatalf("ReadClasses: %v", err)
	}
	if classes != nil {
		t.Fatalf("got %v, want nil", classes)
	}
}
