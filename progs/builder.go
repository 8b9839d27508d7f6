package progs

import (
	"bytes"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Builder: assembles a program image in memory
// ---------------------------------------------------------------------------

// Builder assembles a program image the way a QuakeC compiler lays one
// out: string 0 is empty, statement 0 and function 0 are null entries and
// the first ReservedOfs globals hold the return and parameter slots.
// Builders are meant for tools and tests; they panic on misuse.
type Builder struct {
	version int32
	crc     int32

	strings     bytes.Buffer
	stringIndex map[string]int32

	statements   []Statement
	functions    []Function
	globalDefs   []Def
	fieldDefs    []Def
	globals      []uint32
	entityFields int32

	current *FuncBuilder
}

// NewBuilder creates a builder with the reserved entries in place.
func NewBuilder() *Builder {
	b := &Builder{
		version:     Version,
		stringIndex: make(map[string]int32),
		statements:  []Statement{{}},
		functions:   []Function{{}},
		globals:     make([]uint32, ReservedOfs),
	}
	b.String("")
	return b
}

// SetVersion overrides the version written to the header.
func (b *Builder) SetVersion(v int32) { b.version = v }

// SetCRC sets the header checksum field.
func (b *Builder) SetCRC(crc int32) { b.crc = crc }

// String interns s in the static string blob and returns its offset.
func (b *Builder) String(s string) int32 {
	if ofs, ok := b.stringIndex[s]; ok {
		return ofs
	}
	ofs := int32(b.strings.Len())
	b.strings.WriteString(s)
	b.strings.WriteByte(0)
	b.stringIndex[s] = ofs
	return ofs
}

// NumGlobals is the number of global words allocated so far.
func (b *Builder) NumGlobals() int { return len(b.globals) }

// Global allocates slots for a value of type t and returns its offset. A
// def is recorded when name is not empty. Missing initial words are zero.
func (b *Builder) Global(name string, t Type, words ...uint32) int {
	ofs := b.alloc(t.Words())
	copy(b.globals[ofs:ofs+t.Words()], words)
	if name != "" {
		b.globalDefs = append(b.globalDefs, Def{Type: t, Ofs: uint16(ofs), Name: b.String(name)})
	}
	return ofs
}

// Float allocates a float global.
func (b *Builder) Float(name string, f float32) int {
	return b.Global(name, TypeFloat, math.Float32bits(f))
}

// Int allocates a global holding a raw 32-bit integer.
func (b *Builder) Int(name string, v int32) int {
	return b.Global(name, TypeInteger, uint32(v))
}

// Vector allocates a three word vector global.
func (b *Builder) Vector(name string, x, y, z float32) int {
	return b.Global(name, TypeVector, math.Float32bits(x), math.Float32bits(y), math.Float32bits(z))
}

// StringGlobal allocates a string global initialised to s.
func (b *Builder) StringGlobal(name, s string) int {
	return b.Global(name, TypeString, uint32(b.String(s)))
}

// FunctionGlobal allocates a global holding a function index.
func (b *Builder) FunctionGlobal(name string, fn int) int {
	return b.Global(name, TypeFunction, uint32(fn))
}

// Temp allocates anonymous words.
func (b *Builder) Temp(words int) int {
	return b.alloc(words)
}

// SetGlobal overwrites the initial value at ofs.
func (b *Builder) SetGlobal(ofs int, words ...uint32) {
	copy(b.globals[ofs:], words)
}

// Field declares an entity field and the global that holds its offset,
// returning both.
func (b *Builder) Field(name string, t Type) (field, global int) {
	field = int(b.entityFields)
	b.entityFields += int32(t.Words())
	b.fieldDefs = append(b.fieldDefs, Def{Type: t, Ofs: uint16(field), Name: b.String(name)})
	global = b.Global(name, TypeField, uint32(field))
	return field, global
}

// EntityFields is the number of field words declared so far.
func (b *Builder) EntityFields() int { return int(b.entityFields) }

func (b *Builder) alloc(words int) int {
	ofs := len(b.globals)
	b.globals = append(b.globals, make([]uint32, words)...)
	return ofs
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// FuncBuilder emits the body of one script function.
type FuncBuilder struct {
	b      *Builder
	index  int
	locals int
}

// Function starts a script function with the given parameter widths (1 or
// 3 words each) followed by locals extra words. Parameters occupy the
// start of the local range.
func (b *Builder) Function(name, file string, locals int, parms ...int) *FuncBuilder {
	if len(parms) > MaxParms {
		panic(fmt.Sprintf("progs: %s declares %d parameters", name, len(parms)))
	}
	f := Function{
		FirstStatement: int32(len(b.statements)),
		ParmStart:      int32(len(b.globals)),
		Name:           b.String(name),
		File:           b.String(file),
		NumParms:       int32(len(parms)),
	}
	for i, p := range parms {
		f.ParmSize[i] = uint8(p)
		f.Locals += int32(p)
	}
	f.Locals += int32(locals)
	b.alloc(int(f.Locals))
	b.functions = append(b.functions, f)

	fb := &FuncBuilder{b: b, index: len(b.functions) - 1, locals: locals}
	b.current = fb
	return fb
}

// Builtin declares a function whose body is builtin slot n. Slot 0 leaves
// an unresolved placeholder that a host can bind by name.
func (b *Builder) Builtin(name string, n int, parms ...int) int {
	f := Function{
		FirstStatement: int32(-n),
		Name:           b.String(name),
		File:           b.String("builtin"),
		NumParms:       int32(len(parms)),
	}
	for i, p := range parms {
		f.ParmSize[i] = uint8(p)
	}
	b.functions = append(b.functions, f)
	return len(b.functions) - 1
}

// Index is the function's position in the function table.
func (f *FuncBuilder) Index() int { return f.index }

// Parm returns the global offset of parameter n.
func (f *FuncBuilder) Parm(n int) int {
	fn := &f.b.functions[f.index]
	ofs := int(fn.ParmStart)
	for i := 0; i < n; i++ {
		ofs += int(fn.ParmSize[i])
	}
	return ofs
}

// Local returns the global offset of local word i, counted after the
// parameters.
func (f *FuncBuilder) Local(i int) int {
	if i < 0 || i >= f.locals {
		panic(fmt.Sprintf("progs: local %d out of %d", i, f.locals))
	}
	fn := &f.b.functions[f.index]
	return int(fn.ParmStart) + fn.ParmWords() + i
}

// Emit appends a statement and returns its index.
func (f *FuncBuilder) Emit(op uint16, a, b, c int) int {
	if f.b.current != f {
		panic("progs: emitting into a function that is not the current one")
	}
	f.b.statements = append(f.b.statements, Statement{Op: op, A: int16(a), B: int16(b), C: int16(c)})
	return len(f.b.statements) - 1
}

// Here is the index the next emitted statement will get.
func (f *FuncBuilder) Here() int { return len(f.b.statements) }

// Patch replaces statement i.
func (b *Builder) Patch(i int, st Statement) { b.statements[i] = st }

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Bytes encodes the image. Lumps follow the header in the order
// statements, globaldefs, fielddefs, functions, strings, globals.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	h := Header{Version: b.version, CRC: b.crc, EntityFields: b.entityFields}

	off := int32(HeaderSize)
	h.Statements = Lump{off, int32(len(b.statements))}
	off += int32(len(b.statements) * StatementSize)
	h.GlobalDefs = Lump{off, int32(len(b.globalDefs))}
	off += int32(len(b.globalDefs) * DefSize)
	h.FieldDefs = Lump{off, int32(len(b.fieldDefs))}
	off += int32(len(b.fieldDefs) * DefSize)
	h.Functions = Lump{off, int32(len(b.functions))}
	off += int32(len(b.functions) * FunctionSize)
	h.Strings = Lump{off, int32(b.strings.Len())}
	off += int32(b.strings.Len())
	h.Globals = Lump{off, int32(len(b.globals))}

	out.Write(EncodeHeader(h))
	for _, st := range b.statements {
		out.Write(EncodeStatement(st))
	}
	for _, d := range b.globalDefs {
		out.Write(EncodeDef(d))
	}
	for _, d := range b.fieldDefs {
		out.Write(EncodeDef(d))
	}
	for i := range b.functions {
		out.Write(EncodeFunction(&b.functions[i]))
	}
	out.Write(b.strings.Bytes())
	word := make([]byte, WordSize)
	for _, g := range b.globals {
		ByteOrder.PutUint32(word, g)
		out.Write(word)
	}
	return out.Bytes()
}

// EncodeHeader is the inverse of DecodeHeader.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	words := []int32{
		h.Version, h.CRC,
		h.Statements.Offset, h.Statements.Count,
		h.GlobalDefs.Offset, h.GlobalDefs.Count,
		h.FieldDefs.Offset, h.FieldDefs.Count,
		h.Functions.Offset, h.Functions.Count,
		h.Strings.Offset, h.Strings.Count,
		h.Globals.Offset, h.Globals.Count,
		h.EntityFields,
	}
	for i, w := range words {
		ByteOrder.PutUint32(buf[i*4:], uint32(w))
	}
	return buf
}

// EncodeStatement is the inverse of DecodeStatement.
func EncodeStatement(st Statement) []byte {
	buf := make([]byte, StatementSize)
	ByteOrder.PutUint16(buf[0:], st.Op)
	ByteOrder.PutUint16(buf[2:], uint16(st.A))
	ByteOrder.PutUint16(buf[4:], uint16(st.B))
	ByteOrder.PutUint16(buf[6:], uint16(st.C))
	return buf
}

// EncodeDef is the inverse of DecodeDef.
func EncodeDef(d Def) []byte {
	buf := make([]byte, DefSize)
	ByteOrder.PutUint16(buf[0:], uint16(d.Type))
	ByteOrder.PutUint16(buf[2:], d.Ofs)
	ByteOrder.PutUint32(buf[4:], uint32(d.Name))
	return buf
}

// EncodeFunction is the inverse of DecodeFunction.
func EncodeFunction(f *Function) []byte {
	buf := make([]byte, FunctionSize)
	words := []int32{f.FirstStatement, f.ParmStart, f.Locals, f.Profile, f.Name, f.File, f.NumParms}
	for i, w := range words {
		ByteOrder.PutUint32(buf[i*4:], uint32(w))
	}
	copy(buf[28:], f.ParmSize[:])
	return buf
}
