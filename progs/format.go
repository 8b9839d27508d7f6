package progs

import "fmt"

// ---------------------------------------------------------------------------
// Format constants
// ---------------------------------------------------------------------------

// Version is the only program image version this package accepts.
const Version int32 = 6

// On-disk record sizes in bytes.
const (
	HeaderSize    = 60 // 15 int32 words
	StatementSize = 8  // op + a + b + c, 16 bits each
	DefSize       = 8  // type(16) + ofs(16) + s_name(32)
	FunctionSize  = 36 // 7 int32 + parm_size[8]
	WordSize      = 4
)

// MaxParms is the largest number of parameters a function can declare.
const MaxParms = 8

// Reserved global slots. Every parameter slot is three words wide so a
// vector fits.
const (
	OfsNull     = 0
	OfsReturn   = 1
	OfsParm0    = 4
	OfsParm1    = 7
	OfsParm2    = 10
	OfsParm3    = 13
	OfsParm4    = 16
	OfsParm5    = 19
	OfsParm6    = 22
	OfsParm7    = 25
	ReservedOfs = 28
)

// ParmOffset returns the global slot of argument n.
func ParmOffset(n int) int {
	return OfsParm0 + n*3
}

// ---------------------------------------------------------------------------
// Def types
// ---------------------------------------------------------------------------

// Type is the type tag carried by a global or field def.
type Type uint16

const (
	TypeVoid Type = iota
	TypeString
	TypeFloat
	TypeVector
	TypeEntity
	TypeField
	TypeFunction
	TypePointer
	TypeInteger
)

// DefSaveGlobal marks a global that is written to savegames.
const DefSaveGlobal Type = 1 << 15

// Base strips the save flag.
func (t Type) Base() Type {
	return t &^ DefSaveGlobal
}

// Saved reports whether the save flag is set.
func (t Type) Saved() bool {
	return t&DefSaveGlobal != 0
}

// Words is the number of 32-bit slots a value of this type occupies.
func (t Type) Words() int {
	if t.Base() == TypeVector {
		return 3
	}
	return 1
}

var typeNames = [...]string{
	TypeVoid:     "void",
	TypeString:   "string",
	TypeFloat:    "float",
	TypeVector:   "vector",
	TypeEntity:   "entity",
	TypeField:    "field",
	TypeFunction: "function",
	TypePointer:  "pointer",
	TypeInteger:  "integer",
}

func (t Type) String() string {
	b := t.Base()
	if int(b) < len(typeNames) {
		if t.Saved() {
			return "saved " + typeNames[b]
		}
		return typeNames[b]
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}
