package types

// NType is the n_type byte of an nlist entry: a bitfield of N_STAB | N_PEXT
// | N_TYPE | N_EXT.
type NType uint8

const (
	N_STAB NType = 0xe0 // if any of these bits set, a symbolic debugging entry
	N_PEXT NType = 0x10 // private external symbol bit
	N_TYPE NType = 0x0e // mask for the type bits
	N_EXT  NType = 0x01 // external symbol bit, set for external symbols

	N_UNDF NType = 0x0 // undefined, n_sect == NO_SECT
	N_ABS  NType = 0x2 // absolute, n_sect == NO_SECT
	N_SECT NType = 0xe // defined in section number n_sect
	N_PBUD NType = 0xc // prebound undefined (defined in a dylib)
	N_INDR NType = 0xa // indirect
)

func (t NType) IsStab() bool       { return t&N_STAB != 0 }
func (t NType) IsPrivateExt() bool { return t&N_PEXT != 0 }
func (t NType) IsExternal() bool   { return t&N_EXT != 0 }
func (t NType) Kind() NType        { return t & N_TYPE }

// NDescReferenceFlag is the low 3 bits of n_desc (ReferenceTypeMask) for
// undefined symbols, giving dyld's reference type.
type NDescReferenceFlag uint16

const (
	ReferenceFlagUndefinedNonLazy         NDescReferenceFlag = 0
	ReferenceFlagUndefinedLazy            NDescReferenceFlag = 1
	ReferenceFlagDefined                  NDescReferenceFlag = 2
	ReferenceFlagPrivateDefined           NDescReferenceFlag = 3
	ReferenceFlagPrivateUndefinedNonLazy  NDescReferenceFlag = 4
	ReferenceFlagPrivateUndefinedLazy     NDescReferenceFlag = 5
	ReferenceTypeMask                     NDescReferenceFlag = 0x7
	NDescWeakRef                          NDescReferenceFlag = 0x40
	NDescWeakDef                          NDescReferenceFlag = 0x80
)

// Nlist32 is the 32-bit on-disk symbol table entry (struct nlist).
type Nlist32 struct {
	NStrx  uint32
	NType  NType
	NSect  uint8
	NDesc  uint16
	NValue uint32
}

const Nlist32Size = 12

// Nlist64 is the 64-bit on-disk symbol table entry (struct nlist_64).
type Nlist64 struct {
	NStrx  uint32
	NType  NType
	NSect  uint8
	NDesc  uint16
	NValue uint64
}

const Nlist64Size = 16
