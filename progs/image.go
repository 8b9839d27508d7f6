package progs

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// ByteOrder is the byte order of every multi-byte field in a program image.
var ByteOrder = binary.LittleEndian

// ---------------------------------------------------------------------------
// Load errors
// ---------------------------------------------------------------------------

var (
	ErrTruncated          = errors.New("image shorter than its header")
	ErrVersion            = errors.New("wrong version number")
	ErrLumpBounds         = errors.New("lump outside image")
	ErrStringsPastEnd     = errors.New("strings go past end of file")
	ErrFieldDefSaveGlobal = errors.New("field def has the save-global flag")
	ErrBadFunction        = errors.New("malformed function")
)

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Lump locates one table inside the image. Count is in records, except
// for the string lump (bytes) and the global lump (words).
type Lump struct {
	Offset int32
	Count  int32
}

// Header is the fixed-size block at the start of every image.
type Header struct {
	Version      int32
	CRC          int32
	Statements   Lump
	GlobalDefs   Lump
	FieldDefs    Lump
	Functions    Lump
	Strings      Lump
	Globals      Lump
	EntityFields int32 // words per edict field block
}

// Statement is one instruction. The operands are slot indices, branch
// deltas or unused depending on Op.
type Statement struct {
	Op      uint16
	A, B, C int16
}

// Function describes a script function or a builtin placeholder.
type Function struct {
	FirstStatement int32 // >0 script entry, <0 negated builtin slot, 0 unresolved
	ParmStart      int32
	Locals         int32
	Profile        int32
	Name           int32
	File           int32
	NumParms       int32
	ParmSize       [MaxParms]uint8
}

// IsBuiltin reports whether calls dispatch to the builtin table.
func (f *Function) IsBuiltin() bool {
	return f.FirstStatement < 0
}

// BuiltinIndex is the builtin slot for a builtin function.
func (f *Function) BuiltinIndex() int {
	return int(-f.FirstStatement)
}

// ParmWords is the total number of words the declared parameters occupy.
func (f *Function) ParmWords() int {
	n := 0
	for i := 0; i < int(f.NumParms) && i < MaxParms; i++ {
		n += int(f.ParmSize[i])
	}
	return n
}

// Def names a global slot or an entity field.
type Def struct {
	Type Type
	Ofs  uint16
	Name int32
}

// ---------------------------------------------------------------------------
// Image
// ---------------------------------------------------------------------------

// Image is a validated program. Statements, functions and defs are decoded
// copies; Strings and Globals alias the buffer passed to Load.
type Image struct {
	Header     Header
	Statements []Statement
	Functions  []Function
	GlobalDefs []Def
	FieldDefs  []Def
	Strings    []byte
	Globals    []byte

	Size int
	Hash [sha256.Size]byte
}

// NumGlobals is the number of words in the global arena.
func (img *Image) NumGlobals() int {
	return len(img.Globals) / WordSize
}

// Load validates data and decodes it into an Image. The global lump is not
// copied, so data must not be reused while the Image is alive.
func Load(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	img := &Image{
		Header: DecodeHeader(data),
		Size:   len(data),
		Hash:   sha256.Sum256(data),
	}
	h := &img.Header

	if h.Version != Version {
		return nil, fmt.Errorf("%w (%d should be %d)", ErrVersion, h.Version, Version)
	}

	if h.Strings.Offset < 0 || h.Strings.Count < 0 ||
		int64(h.Strings.Offset)+int64(h.Strings.Count) > int64(len(data)) {
		return nil, ErrStringsPastEnd
	}

	lumps := []struct {
		name string
		lump Lump
		size int
	}{
		{"statements", h.Statements, StatementSize},
		{"globaldefs", h.GlobalDefs, DefSize},
		{"fielddefs", h.FieldDefs, DefSize},
		{"functions", h.Functions, FunctionSize},
		{"globals", h.Globals, WordSize},
	}
	for _, l := range lumps {
		if err := checkLump(l.lump, l.size, len(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", l.name, err)
		}
	}
	if h.EntityFields < 0 {
		return nil, fmt.Errorf("%w: %d entity fields", ErrLumpBounds, h.EntityFields)
	}

	img.Strings = data[h.Strings.Offset : h.Strings.Offset+h.Strings.Count]
	gEnd := h.Globals.Offset + h.Globals.Count*WordSize
	img.Globals = data[h.Globals.Offset:gEnd:gEnd]

	img.Statements = make([]Statement, h.Statements.Count)
	for i := range img.Statements {
		img.Statements[i] = DecodeStatement(data[int(h.Statements.Offset)+i*StatementSize:])
	}

	img.GlobalDefs = decodeDefs(data, h.GlobalDefs)
	img.FieldDefs = decodeDefs(data, h.FieldDefs)
	for i, d := range img.FieldDefs {
		if d.Type.Saved() {
			return nil, fmt.Errorf("%w: fielddef %d", ErrFieldDefSaveGlobal, i)
		}
	}

	numGlobals := int64(h.Globals.Count)
	img.Functions = make([]Function, h.Functions.Count)
	for i := range img.Functions {
		f := DecodeFunction(data[int(h.Functions.Offset)+i*FunctionSize:])
		if err := checkFunction(&f, numGlobals); err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		img.Functions[i] = f
	}

	return img, nil
}

func checkLump(l Lump, size, total int) error {
	if l.Offset < 0 || l.Count < 0 {
		return fmt.Errorf("%w: offset %d count %d", ErrLumpBounds, l.Offset, l.Count)
	}
	if int64(l.Offset)+int64(l.Count)*int64(size) > int64(total) {
		return fmt.Errorf("%w: %d records at %d exceed %d bytes", ErrLumpBounds, l.Count, l.Offset, total)
	}
	return nil
}

func checkFunction(f *Function, numGlobals int64) error {
	if f.NumParms < 0 || f.NumParms > MaxParms {
		return fmt.Errorf("%w: %d parameters", ErrBadFunction, f.NumParms)
	}
	for i := 0; i < int(f.NumParms); i++ {
		if f.ParmSize[i] > 3 {
			return fmt.Errorf("%w: parameter %d is %d words", ErrBadFunction, i, f.ParmSize[i])
		}
	}
	if f.ParmStart < 0 || f.Locals < 0 {
		return fmt.Errorf("%w: parm_start %d locals %d", ErrBadFunction, f.ParmStart, f.Locals)
	}
	if int64(f.ParmStart)+int64(f.Locals) > numGlobals ||
		int64(f.ParmStart)+int64(f.ParmWords()) > numGlobals {
		return fmt.Errorf("%w: locals [%d,+%d) outside %d globals", ErrBadFunction, f.ParmStart, f.Locals, numGlobals)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Byte-order normalization
// ---------------------------------------------------------------------------

// DecodeHeader reads a header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	w := func(i int) int32 { return int32(ByteOrder.Uint32(b[i*4:])) }
	return Header{
		Version:      w(0),
		CRC:          w(1),
		Statements:   Lump{w(2), w(3)},
		GlobalDefs:   Lump{w(4), w(5)},
		FieldDefs:    Lump{w(6), w(7)},
		Functions:    Lump{w(8), w(9)},
		Strings:      Lump{w(10), w(11)},
		Globals:      Lump{w(12), w(13)},
		EntityFields: w(14),
	}
}

// DecodeStatement reads one statement record.
func DecodeStatement(b []byte) Statement {
	return Statement{
		Op: ByteOrder.Uint16(b[0:]),
		A:  int16(ByteOrder.Uint16(b[2:])),
		B:  int16(ByteOrder.Uint16(b[4:])),
		C:  int16(ByteOrder.Uint16(b[6:])),
	}
}

// DecodeDef reads one global or field def.
func DecodeDef(b []byte) Def {
	return Def{
		Type: Type(ByteOrder.Uint16(b[0:])),
		Ofs:  ByteOrder.Uint16(b[2:]),
		Name: int32(ByteOrder.Uint32(b[4:])),
	}
}

// DecodeFunction reads one function record.
func DecodeFunction(b []byte) Function {
	w := func(i int) int32 { return int32(ByteOrder.Uint32(b[i*4:])) }
	f := Function{
		FirstStatement: w(0),
		ParmStart:      w(1),
		Locals:         w(2),
		Profile:        w(3),
		Name:           w(4),
		File:           w(5),
		NumParms:       w(6),
	}
	copy(f.ParmSize[:], b[28:36])
	return f
}

func decodeDefs(data []byte, l Lump) []Def {
	defs := make([]Def, l.Count)
	for i := range defs {
		defs[i] = DecodeDef(data[int(l.Offset)+i*DefSize:])
	}
	return defs
}
