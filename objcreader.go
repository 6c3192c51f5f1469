package macho

import (
	"github.com/pkg/errors"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/types"
	"github.com/saagarjha/ktool/types/objc"
)

const (
	fastDataMask64  = 0x00007ffffffffff8
	fastFlagsMask64 = 0x0000000000000007
)

// objcVM is the address space an ObjCReader walks: every read goes
// through VMToFile before touching the underlying file bytes, so a
// dangling or out-of-image pointer fails the same way a truncated file
// offset would.
type objcVM struct {
	file  types.ByteView
	segs  *SegmentMap
}

func (m objcVM) u32(addr uint64) (uint32, error) {
	off, err := m.segs.VMToFile(addr)
	if err != nil {
		return 0, err
	}
	return m.file.ReadU32(int(off))
}

func (m objcVM) u64(addr uint64) (uint64, error) {
	off, err := m.segs.VMToFile(addr)
	if err != nil {
		return 0, err
	}
	return m.file.ReadU64(int(off))
}

func (m objcVM) cstring(addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	off, err := m.segs.VMToFile(addr)
	if err != nil {
		return "", err
	}
	return m.file.ReadCString(int(off))
}

// ObjCReader walks __objc_classlist/__objc_protolist and produces the
// decoded class/protocol model, §4.8. A visited-address set defends
// against superclass/protocol cycles and dangling cross-image pointers
// (§9): a re-encountered address is linked by name only, never re-walked.
type ObjCReader struct {
	vm            objcVM
	visited       map[uint64]*objc.Class
	visitedProtos map[uint64]*objc.Protocol
}

// NewObjCReader builds a reader over a slice's full bytes and segment map.
func NewObjCReader(file types.ByteView, segs *SegmentMap) *ObjCReader {
	return &ObjCReader{
		vm:            objcVM{file: file, segs: segs},
		visited:       map[uint64]*objc.Class{},
		visitedProtos: map[uint64]*objc.Protocol{},
	}
}

// ReadClasses walks the pointer array in __objc_classlist, returning one
// *objc.Class per entry in declaration order.
func (r *ObjCReader) ReadClasses() ([]*objc.Class, error) {
	sec, ok := r.vm.segs.Section("__DATA", "__objc_classlist")
	if !ok {
		sec, ok = r.vm.segs.Section("__DATA_CONST", "__objc_classlist")
	}
	if !ok {
		return nil, nil
	}
	n := int(sec.Size / 8)
	classes := make([]*objc.Class, 0, n)
	for i := 0; i < n; i++ {
		ptrAddr := sec.Addr + uint64(i)*8
		classAddr, err := r.vm.u64(ptrAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "classlist entry %d", i)
		}
		c, err := r.readClass(classAddr, false)
		if err != nil {
			return nil, errors.Wrapf(err, "class at %#x", classAddr)
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// ReadProtocols walks __objc_protolist.
func (r *ObjCReader) ReadProtocols() ([]*objc.Protocol, error) {
	sec, ok := r.vm.segs.Section("__DATA", "__objc_protolist")
	if !ok {
		sec, ok = r.vm.segs.Section("__DATA_CONST", "__objc_protolist")
	}
	if !ok {
		return nil, nil
	}
	n := int(sec.Size / 8)
	protos := make([]*objc.Protocol, 0, n)
	for i := 0; i < n; i++ {
		ptrAddr := sec.Addr + uint64(i)*8
		protoAddr, err := r.vm.u64(ptrAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "protolist entry %d", i)
		}
		p, err := r.readProtocol(protoAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol at %#x", protoAddr)
		}
		protos = append(protos, p)
	}
	return protos, nil
}

// readClass decodes one class_t + class_ro_t. If the class address has
// already been visited (e.g. a cycle through the superclass chain), the
// cached node is returned by reference rather than re-walked.
func (r *ObjCReader) readClass(addr uint64, isMeta bool) (*objc.Class, error) {
	if addr == 0 {
		return nil, nil
	}
	if c, ok := r.visited[addr]; ok {
		return c, nil
	}

	isaAddr, err := r.vm.u64(addr)
	if err != nil {
		return nil, errors.Wrap(err, "class isa")
	}
	superAddr, err := r.vm.u64(addr + 8)
	if err != nil {
		return nil, errors.Wrap(err, "class superclass")
	}
	dataAndFlags, err := r.vm.u64(addr + 32)
	if err != nil {
		return nil, errors.Wrap(err, "class data")
	}
	dataAddr := dataAndFlags & fastDataMask64
	flags := dataAndFlags & fastFlagsMask64

	c := &objc.Class{
		ClassPtr:         addr,
		IsaVMAddr:        isaAddr,
		SuperclassVMAddr: superAddr,
		DataVMAddr:       dataAddr,
		IsSwiftLegacy:    flags&0x1 != 0,
		IsSwiftStable:    flags&0x2 != 0,
	}
	// Register before recursing into the superclass/metaclass so a cycle
	// back to this address sees the (partially filled) node instead of
	// recursing forever.
	r.visited[addr] = c

	ro, err := r.readClassRO(dataAddr)
	if err != nil {
		return nil, errors.Wrap(err, "class_ro_t")
	}
	c.ReadOnlyData = ro
	c.Name, err = r.vm.cstring(ro.NameVMAddr)
	if err != nil {
		return nil, errors.Wrap(err, "class name")
	}

	if !isMeta {
		if superAddr != 0 {
			super, err := r.readClass(superAddr, false)
			if err == nil && super != nil {
				c.SuperClass = super.Name
			}
		}
		if isaAddr != 0 {
			meta, err := r.readClass(isaAddr, true)
			if err == nil && meta != nil {
				c.Isa = meta.Name
				c.ClassMethods = meta.InstanceMethods
			}
		}
	}

	c.InstanceMethods, err = r.readMethodList(ro.BaseMethodsVMAddr)
	if err != nil {
		return nil, errors.Wrap(err, "base methods")
	}
	c.Ivars, err = r.readIvars(ro.IvarsVMAddr)
	if err != nil {
		return nil, errors.Wrap(err, "ivars")
	}
	c.Props, err = r.readProperties(ro.BasePropertiesVMAddr)
	if err != nil {
		return nil, errors.Wrap(err, "base properties")
	}
	protoAddrs, err := r.readProtocolList(ro.BaseProtocolsVMAddr)
	if err != nil {
		return nil, errors.Wrap(err, "base protocols")
	}
	for _, pa := range protoAddrs {
		p, err := r.readProtocol(pa)
		if err != nil {
			return nil, errors.Wrap(err, "class protocol")
		}
		c.Protocols = append(c.Protocols, *p)
	}

	return c, nil
}

func (r *ObjCReader) readClassRO(addr uint64) (objc.ClassRO64, error) {
	var ro objc.ClassRO64
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return ro, err
	}
	v := r.vm.file
	flags, e1 := v.ReadU32(int(off))
	instStart, e2 := v.ReadU32(int(off) + 4)
	instSize, e3 := v.ReadU64(int(off) + 8)
	ivarLayout, e4 := v.ReadU64(int(off) + 16)
	name, e5 := v.ReadU64(int(off) + 24)
	methods, e6 := v.ReadU64(int(off) + 32)
	protocols, e7 := v.ReadU64(int(off) + 40)
	ivars, e8 := v.ReadU64(int(off) + 48)
	weakLayout, e9 := v.ReadU64(int(off) + 56)
	props, e10 := v.ReadU64(int(off) + 64)
	if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8, e9, e10); err != nil {
		return ro, errors.Wrap(diag.ErrTruncated, "class_ro_t fields")
	}
	ro.Flags = objc.ClassRoFlags(flags)
	ro.InstanceStart = instStart
	ro.InstanceSize = instSize
	ro.IvarLayoutVMAddr = ivarLayout
	ro.NameVMAddr = name
	ro.BaseMethodsVMAddr = methods
	ro.BaseProtocolsVMAddr = protocols
	ro.IvarsVMAddr = ivars
	ro.WeakIvarLayoutVMAddr = weakLayout
	ro.BasePropertiesVMAddr = props
	return ro, nil
}

// readMethodList handles both the classic absolute-pointer method_t array
// and the "small" relative-offset encoding used by modern binaries (§9):
// bit 31 of entsize_and_flags selects the encoding, and within relative
// lists, bit 30 says whether the name offset already points straight at
// the selector string or at a selector-reference slot one indirection away.
func (r *ObjCReader) readMethodList(addr uint64) ([]objc.Method, error) {
	if addr == 0 {
		return nil, nil
	}
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return nil, err
	}
	v := r.vm.file
	entSizeAndFlags, err := v.ReadU32(int(off))
	if err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "method_list_t header")
	}
	count, err := v.ReadU32(int(off) + 4)
	if err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "method_list_t count")
	}
	ml := objc.MethodList{EntSizeAndFlags: entSizeAndFlags, Count: count}
	base := addr + 8
	entSize := uint64(ml.EntSize())
	if entSize == 0 {
		entSize = 12
		if !ml.UsesRelativeOffsets() {
			entSize = 24
		}
	}

	methods := make([]objc.Method, 0, count)
	for i := uint32(0); i < count; i++ {
		entryAddr := base + uint64(i)*entSize
		m, err := r.readMethodEntry(entryAddr, ml.UsesRelativeOffsets(), ml.UsesDirectOffsetsToSelectors())
		if err != nil {
			return nil, errors.Wrapf(err, "method %d", i)
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func (r *ObjCReader) readMethodEntry(entryAddr uint64, relative, direct bool) (objc.Method, error) {
	var m objc.Method
	if !relative {
		name, e1 := r.vm.u64(entryAddr)
		types_, e2 := r.vm.u64(entryAddr + 8)
		imp, e3 := r.vm.u64(entryAddr + 16)
		if err := firstErr(e1, e2, e3); err != nil {
			return m, errors.Wrap(diag.ErrTruncated, "method_t fields")
		}
		m.NameVMAddr, m.TypesVMAddr, m.ImpVMAddr = name, types_, imp
	} else {
		nameOff, e1 := r.readRelativeOffset(entryAddr)
		typesOff, e2 := r.readRelativeOffset(entryAddr + 4)
		impOff, e3 := r.readRelativeOffset(entryAddr + 8)
		if err := firstErr(e1, e2, e3); err != nil {
			return m, errors.Wrap(diag.ErrTruncated, "relative method_t fields")
		}
		nameTarget := uint64(int64(entryAddr) + int64(nameOff))
		if !direct {
			resolved, err := r.vm.u64(nameTarget)
			if err != nil {
				return m, errors.Wrap(err, "selector reference")
			}
			nameTarget = resolved
		}
		m.NameVMAddr = nameTarget
		m.TypesVMAddr = uint64(int64(entryAddr+4) + int64(typesOff))
		m.ImpVMAddr = uint64(int64(entryAddr+8) + int64(impOff))
	}
	name, err := r.vm.cstring(m.NameVMAddr)
	if err != nil {
		return m, errors.Wrap(err, "method name")
	}
	types_, err := r.vm.cstring(m.TypesVMAddr)
	if err != nil {
		return m, errors.Wrap(err, "method types")
	}
	m.Name, m.Types = name, types_
	return m, nil
}

func (r *ObjCReader) readRelativeOffset(addr uint64) (int32, error) {
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return 0, err
	}
	u, err := r.vm.file.ReadU32(int(off))
	if err != nil {
		return 0, err
	}
	return int32(u), nil
}

func (r *ObjCReader) readIvars(addr uint64) ([]objc.Ivar, error) {
	if addr == 0 {
		return nil, nil
	}
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return nil, err
	}
	v := r.vm.file
	entSize, e1 := v.ReadU32(int(off))
	count, e2 := v.ReadU32(int(off) + 4)
	if err := firstErr(e1, e2); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "ivar_list_t header")
	}
	if entSize == 0 {
		entSize = 32
	}
	base := addr + 8
	ivars := make([]objc.Ivar, 0, count)
	for i := uint32(0); i < count; i++ {
		entryAddr := base + uint64(i)*uint64(entSize)
		offsetAddr, e1 := r.vm.u64(entryAddr)
		nameAddr, e2 := r.vm.u64(entryAddr + 8)
		typesAddr, e3 := r.vm.u64(entryAddr + 16)
		align, e4 := r.vm.u32(entryAddr + 24)
		size, e5 := r.vm.u32(entryAddr + 28)
		if err := firstErr(e1, e2, e3, e4, e5); err != nil {
			return nil, errors.Wrapf(diag.ErrTruncated, "ivar_t %d fields", i)
		}
		var ivarOffset uint32
		if foff, err := r.vm.segs.VMToFile(offsetAddr); err == nil {
			if o32, err := v.ReadU32(int(foff)); err == nil {
				ivarOffset = o32
			}
		}
		name, err := r.vm.cstring(nameAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "ivar %d name", i)
		}
		typeStr, err := r.vm.cstring(typesAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "ivar %d type", i)
		}
		ivars = append(ivars, objc.Ivar{
			Name:   name,
			Type:   typeStr,
			Offset: ivarOffset,
			IvarT: objc.IvarT{
				Offset:       offsetAddr,
				NameVMAddr:   nameAddr,
				TypesVMAddr:  typesAddr,
				AlignmentRaw: align,
				Size:         size,
			},
		})
	}
	return ivars, nil
}

func (r *ObjCReader) readProperties(addr uint64) ([]objc.Property, error) {
	if addr == 0 {
		return nil, nil
	}
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return nil, err
	}
	v := r.vm.file
	entSize, e1 := v.ReadU32(int(off))
	count, e2 := v.ReadU32(int(off) + 4)
	if err := firstErr(e1, e2); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "property_list_t header")
	}
	if entSize == 0 {
		entSize = 16
	}
	base := addr + 8
	props := make([]objc.Property, 0, count)
	for i := uint32(0); i < count; i++ {
		entryAddr := base + uint64(i)*uint64(entSize)
		nameAddr, e1 := r.vm.u64(entryAddr)
		attrsAddr, e2 := r.vm.u64(entryAddr + 8)
		if err := firstErr(e1, e2); err != nil {
			return nil, errors.Wrapf(diag.ErrTruncated, "property_t %d fields", i)
		}
		name, err := r.vm.cstring(nameAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "property %d name", i)
		}
		attrs, err := r.vm.cstring(attrsAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "property %d attrs", i)
		}
		props = append(props, objc.Property{
			PropertyT:         objc.PropertyT{NameVMAddr: nameAddr, AttributesVMAddr: attrsAddr},
			Name:              name,
			EncodedAttributes: attrs,
		})
	}
	return props, nil
}

func (r *ObjCReader) readProtocolList(addr uint64) ([]uint64, error) {
	if addr == 0 {
		return nil, nil
	}
	count, err := r.vm.u64(addr)
	if err != nil {
		return nil, err
	}
	addrs := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		p, err := r.vm.u64(addr + 8 + i*8)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, p)
	}
	return addrs, nil
}

// ReadCategories walks __objc_catlist, resolving each category's target
// class through the same visited set used by ReadClasses so a category on
// an already-decoded class reuses that node instead of re-walking it.
func (r *ObjCReader) ReadCategories() ([]*objc.Category, error) {
	sec, ok := r.vm.segs.Section("__DATA", "__objc_catlist")
	if !ok {
		sec, ok = r.vm.segs.Section("__DATA_CONST", "__objc_catlist")
	}
	if !ok {
		return nil, nil
	}
	n := int(sec.Size / 8)
	cats := make([]*objc.Category, 0, n)
	for i := 0; i < n; i++ {
		ptrAddr := sec.Addr + uint64(i)*8
		catAddr, err := r.vm.u64(ptrAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "catlist entry %d", i)
		}
		cat, err := r.readCategory(catAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "category at %#x", catAddr)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

func (r *ObjCReader) readCategory(addr uint64) (*objc.Category, error) {
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return nil, err
	}
	v := r.vm.file
	name, e1 := v.ReadU64(int(off))
	cls, e2 := v.ReadU64(int(off) + 8)
	instMethods, e3 := v.ReadU64(int(off) + 16)
	classMethods, e4 := v.ReadU64(int(off) + 24)
	protocols, e5 := v.ReadU64(int(off) + 32)
	instProps, e6 := v.ReadU64(int(off) + 40)
	if err := firstErr(e1, e2, e3, e4, e5, e6); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "category_t fields")
	}

	cat := &objc.Category{
		VMAddr: addr,
		CategoryT: objc.CategoryT{
			NameVMAddr: name, ClsVMAddr: cls, InstanceMethodsVMAddr: instMethods,
			ClassMethodsVMAddr: classMethods, ProtocolsVMAddr: protocols,
			InstancePropertiesVMAddr: instProps,
		},
	}
	cat.Name, err = r.vm.cstring(name)
	if err != nil {
		return nil, errors.Wrap(err, "category name")
	}
	if cls != 0 {
		class, err := r.readClass(cls, false)
		if err == nil {
			cat.Class = class
		}
	}
	cat.ClassMethods, err = r.readMethodList(classMethods)
	if err != nil {
		return nil, errors.Wrap(err, "category class methods")
	}
	cat.InstanceMethods, err = r.readMethodList(instMethods)
	if err != nil {
		return nil, errors.Wrap(err, "category instance methods")
	}
	cat.Properties, err = r.readProperties(instProps)
	if err != nil {
		return nil, errors.Wrap(err, "category properties")
	}
	protoAddrs, err := r.readProtocolList(protocols)
	if err != nil {
		return nil, errors.Wrap(err, "category protocols")
	}
	for _, pa := range protoAddrs {
		p, err := r.readProtocol(pa)
		if err != nil {
			return nil, errors.Wrap(err, "category protocol")
		}
		cat.Protocols = append(cat.Protocols, *p)
	}
	return cat, nil
}

// readProtocol decodes one protocol_t. The struct grew optional trailing
// fields over time (extendedMethodTypes, demangledName, classProperties);
// Size records how much of it this binary actually emitted.
func (r *ObjCReader) readProtocol(addr uint64) (*objc.Protocol, error) {
	if p, ok := r.visitedProtos[addr]; ok {
		return p, nil
	}
	off, err := r.vm.segs.VMToFile(addr)
	if err != nil {
		return nil, err
	}
	v := r.vm.file
	isa, e1 := v.ReadU64(int(off))
	name, e2 := v.ReadU64(int(off) + 8)
	protocols, e3 := v.ReadU64(int(off) + 16)
	instMethods, e4 := v.ReadU64(int(off) + 24)
	classMethods, e5 := v.ReadU64(int(off) + 32)
	optInstMethods, e6 := v.ReadU64(int(off) + 40)
	optClassMethods, e7 := v.ReadU64(int(off) + 48)
	instProps, e8 := v.ReadU64(int(off) + 56)
	size, e9 := v.ReadU32(int(off) + 64)
	flags, e10 := v.ReadU32(int(off) + 68)
	if err := firstErr(e1, e2, e3, e4, e5, e6, e7, e8, e9, e10); err != nil {
		return nil, errors.Wrap(diag.ErrTruncated, "protocol_t fields")
	}

	p := &objc.Protocol{
		Ptr: addr,
		ProtocolT: objc.ProtocolT{
			IsaVMAddr: isa, NameVMAddr: name, ProtocolsVMAddr: protocols,
			InstanceMethodsVMAddr: instMethods, ClassMethodsVMAddr: classMethods,
			OptionalInstanceMethodsVMAddr: optInstMethods, OptionalClassMethodsVMAddr: optClassMethods,
			InstancePropertiesVMAddr: instProps, Size: size, Flags: flags,
		},
	}
	// Register before recursing into inherited protocols so a cycle back
	// to this address sees the (partially filled) node.
	r.visitedProtos[addr] = p
	if size >= 80 {
		if v, err := v.ReadU64(int(off) + 72); err == nil {
			p.ExtendedMethodTypesVMAddr = v
		}
	}

	p.Name, err = r.vm.cstring(name)
	if err != nil {
		return nil, errors.Wrap(err, "protocol name")
	}
	p.InstanceMethods, err = r.readMethodList(instMethods)
	if err != nil {
		return nil, errors.Wrap(err, "protocol instance methods")
	}
	p.ClassMethods, err = r.readMethodList(classMethods)
	if err != nil {
		return nil, errors.Wrap(err, "protocol class methods")
	}
	p.OptionalInstanceMethods, err = r.readMethodList(optInstMethods)
	if err != nil {
		return nil, errors.Wrap(err, "protocol optional instance methods")
	}
	p.OptionalClassMethods, err = r.readMethodList(optClassMethods)
	if err != nil {
		return nil, errors.Wrap(err, "protocol optional class methods")
	}
	p.InstanceProperties, err = r.readProperties(instProps)
	if err != nil {
		return nil, errors.Wrap(err, "protocol properties")
	}

	protoAddrs, err := r.readProtocolList(protocols)
	if err != nil {
		return nil, errors.Wrap(err, "protocol inherited protocols")
	}
	for _, pa := range protoAddrs {
		sub, err := r.readProtocol(pa)
		if err != nil {
			return nil, errors.Wrap(err, "inherited protocol")
		}
		p.Prots = append(p.Prots, *sub)
	}
	return p, nil
}
