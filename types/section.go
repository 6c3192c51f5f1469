package types

// SectionFlag packs a section's type (low byte) and attributes (top three
// bytes) the same way the kernel does on disk — callers split the two
// halves with Type and Attributes rather than testing SectionFlag bits
// directly.
type SectionFlag uint32

const sectionTypeMask SectionFlag = 0x000000ff
const sectionAttrsMask SectionFlag = 0xffffff00

// SectionType is the low byte of a SectionFlag: what kind of data the
// section holds and how the linker should treat it.
type SectionType uint8

const (
	SRegular                       SectionType = 0x0
	SZeroFill                      SectionType = 0x1
	SCStringLiterals                SectionType = 0x2
	SFourByteLiterals               SectionType = 0x3
	SEightByteLiterals              SectionType = 0x4
	SLiteralPointers                SectionType = 0x5
	SNonLazySymbolPointers          SectionType = 0x6
	SLazySymbolPointers             SectionType = 0x7
	SSymbolStubs                    SectionType = 0x8
	SModInitFuncPointers            SectionType = 0x9
	SModTermFuncPointers            SectionType = 0xa
	SCoalesced                      SectionType = 0xb
	SGBZeroFill                     SectionType = 0xc
	SInterposing                    SectionType = 0xd
	SSixteenByteLiterals            SectionType = 0xe
	SDtraceDof                      SectionType = 0xf
	SLazyDylibSymbolPointers        SectionType = 0x10
	SThreadLocalRegular             SectionType = 0x11
	SThreadLocalZeroFill            SectionType = 0x12
	SThreadLocalVariables           SectionType = 0x13
	SThreadLocalVariablePointers    SectionType = 0x14
	SThreadLocalInitFunctionPointers SectionType = 0x15
	SInitFuncOffsets                SectionType = 0x16
)

var sectionTypeStrings = []intName{
	{uint32(SRegular), "Regular"},
	{uint32(SZeroFill), "Zerofill"},
	{uint32(SCStringLiterals), "Cstring Literals"},
	{uint32(SFourByteLiterals), "4Byte Literals"},
	{uint32(SEightByteLiterals), "8Byte Literals"},
	{uint32(SLiteralPointers), "Literal Pointers"},
	{uint32(SNonLazySymbolPointers), "Non-lazy Symbol Pointers"},
	{uint32(SLazySymbolPointers), "Lazy Symbol Pointers"},
	{uint32(SSymbolStubs), "Symbol Stubs"},
	{uint32(SModInitFuncPointers), "Mod Init Funcs"},
	{uint32(SModTermFuncPointers), "Mod Term Funcs"},
	{uint32(SCoalesced), "Coalesced"},
	{uint32(SGBZeroFill), "GB Zerofill"},
	{uint32(SInterposing), "Interposing"},
	{uint32(SSixteenByteLiterals), "16Byte Literals"},
	{uint32(SDtraceDof), "Dtrace DOF"},
	{uint32(SLazyDylibSymbolPointers), "Lazy Dylib Symbol Pointers"},
	{uint32(SThreadLocalRegular), "Thread Local Regular"},
	{uint32(SThreadLocalZeroFill), "Thread Local Zerofill"},
	{uint32(SThreadLocalVariables), "Thread Local Variables"},
	{uint32(SThreadLocalVariablePointers), "Thread Local Variable Pointers"},
	{uint32(SThreadLocalInitFunctionPointers), "Thread Local Init Function Pointers"},
	{uint32(SInitFuncOffsets), "Init Func Offsets"},
}

func (t SectionType) String() string { return stringName(uint32(t), sectionTypeStrings, false) }

// Attribute bits occupying the top three bytes of a SectionFlag.
const (
	AttrPureInstructions   SectionFlag = 0x80000000
	AttrNoToc              SectionFlag = 0x40000000
	AttrStripStaticSyms    SectionFlag = 0x20000000
	AttrNoDeadStrip        SectionFlag = 0x10000000
	AttrLiveSupport        SectionFlag = 0x08000000
	AttrSelfModifyingCode  SectionFlag = 0x04000000
	AttrDebug              SectionFlag = 0x02000000
	AttrSomeInstructions   SectionFlag = 0x00000400
	AttrExtReloc           SectionFlag = 0x00000200
	AttrLocReloc           SectionFlag = 0x00000100
)

var sectionAttrNames = []struct {
	bit  SectionFlag
	name string
}{
	{AttrPureInstructions, "PureInstructions"},
	{AttrNoToc, "NoToc"},
	{AttrStripStaticSyms, "StripStaticSyms"},
	{AttrNoDeadStrip, "NoDeadStrip"},
	{AttrLiveSupport, "LiveSupport"},
	{AttrSelfModifyingCode, "SelfModifyingCode"},
	{AttrDebug, "SomeDebug"},
	{AttrSomeInstructions, "SomeInstructions"},
	{AttrExtReloc, "ExtReloc"},
	{AttrLocReloc, "LocReloc"},
}

// Type isolates the section-type byte.
func (f SectionFlag) Type() SectionType { return SectionType(f & sectionTypeMask) }

// Attributes isolates the attribute bits, discarding the type byte.
func (f SectionFlag) Attributes() SectionFlag { return f & sectionAttrsMask }

// List names every attribute bit set, in descending bit order.
func (f SectionFlag) List() []string {
	var out []string
	attrs := f.Attributes()
	for _, a := range sectionAttrNames {
		if attrs&a.bit != 0 {
			out = append(out, a.name)
		}
	}
	return out
}

func (f SectionFlag) String() string {
	s := f.Type().String()
	for _, name := range f.List() {
		s += "," + name
	}
	return s
}

const (
	// Section32Size is the on-disk width of a 32-bit section header.
	Section32Size = 16 + 16 + 4*9
	// Section64Size is the on-disk width of a 64-bit section header.
	Section64Size = 16 + 16 + 8*2 + 4*8
)
