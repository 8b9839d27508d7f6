package progs

import (
	"errors"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// buildSample returns a small image with one global, one field and one
// function "main" that returns immediately.
func buildSample() []byte {
	b := NewBuilder()
	b.Float("gravity", 800)
	b.Field("health", TypeFloat)
	fb := b.Function("main", "sample.qc", 1)
	fb.Emit(0, 0, 0, 0)
	b.Builtin("print", 0, 1)
	return b.Bytes()
}

func setWord(data []byte, i int, v int32) {
	ByteOrder.PutUint32(data[i*4:], uint32(v))
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadSample(t *testing.T) {
	data := buildSample()
	img, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Header.Version != Version {
		t.Errorf("Version = %d, want %d", img.Header.Version, Version)
	}
	if img.Size != len(data) {
		t.Errorf("Size = %d, want %d", img.Size, len(data))
	}
	if len(img.Functions) != 3 {
		t.Fatalf("len(Functions) = %d, want 3", len(img.Functions))
	}
	if len(img.Statements) != 2 {
		t.Errorf("len(Statements) = %d, want 2", len(img.Statements))
	}
	if img.Header.EntityFields != 1 {
		t.Errorf("EntityFields = %d, want 1", img.Header.EntityFields)
	}
	if len(img.FieldDefs) != 1 || len(img.GlobalDefs) != 2 {
		t.Errorf("defs = %d global, %d field; want 2, 1", len(img.GlobalDefs), len(img.FieldDefs))
	}

	main := img.Functions[1]
	if main.FirstStatement != 1 || main.Locals != 1 || main.NumParms != 0 {
		t.Errorf("main = %+v", main)
	}
	if img.Functions[2].FirstStatement != 0 {
		t.Errorf("print placeholder = %+v", img.Functions[2])
	}

	g := img.GlobalDefs[0]
	got := math.Float32frombits(ByteOrder.Uint32(img.Globals[int(g.Ofs)*WordSize:]))
	if got != 800 {
		t.Errorf("gravity = %v, want 800", got)
	}
}

func TestLoadAliasesGlobals(t *testing.T) {
	data := buildSample()
	img, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	img.Globals[0] = 0xAB
	if data[img.Header.Globals.Offset] != 0xAB {
		t.Error("Globals does not alias the input buffer")
	}
	if cap(img.Globals) != len(img.Globals) {
		t.Errorf("cap(Globals) = %d, want %d", cap(img.Globals), len(img.Globals))
	}
}

func TestLoadHashIsStable(t *testing.T) {
	a, err := Load(buildSample())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(buildSample())
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash != b.Hash {
		t.Error("identical images hash differently")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"truncated", func(d []byte) []byte { return d[:HeaderSize-1] }, ErrTruncated},
		{"version", func(d []byte) []byte { setWord(d, 0, 7); return d }, ErrVersion},
		{"strings past end", func(d []byte) []byte { setWord(d, 11, int32(len(d))); return d }, ErrStringsPastEnd},
		{"negative strings", func(d []byte) []byte { setWord(d, 10, -1); return d }, ErrStringsPastEnd},
		{"statements past end", func(d []byte) []byte { setWord(d, 3, 1000); return d }, ErrLumpBounds},
		{"negative globals", func(d []byte) []byte { setWord(d, 13, -4); return d }, ErrLumpBounds},
		{"negative entity fields", func(d []byte) []byte { setWord(d, 14, -1); return d }, ErrLumpBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.mutate(buildSample()))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadVersionMessage(t *testing.T) {
	data := buildSample()
	setWord(data, 0, 5)
	_, err := Load(data)
	if err == nil || err.Error() != "wrong version number (5 should be 6)" {
		t.Errorf("err = %v", err)
	}
}

func TestLoadStringsExactlyAtEnd(t *testing.T) {
	b := NewBuilder()
	b.String("tail")
	data := b.Bytes()
	h := DecodeHeader(data)
	// Move the string lump to the very end of the file.
	tail := append([]byte(nil), data[h.Strings.Offset:h.Strings.Offset+h.Strings.Count]...)
	data = append(data, tail...)
	h.Strings.Offset = int32(len(data) - len(tail))
	copy(data, EncodeHeader(h))
	if _, err := Load(data); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadRejectsSavedFieldDef(t *testing.T) {
	data := buildSample()
	h := DecodeHeader(data)
	d := DecodeDef(data[h.FieldDefs.Offset:])
	d.Type |= DefSaveGlobal
	copy(data[h.FieldDefs.Offset:], EncodeDef(d))
	if _, err := Load(data); !errors.Is(err, ErrFieldDefSaveGlobal) {
		t.Errorf("err = %v, want ErrFieldDefSaveGlobal", err)
	}
}

func TestLoadRejectsBadFunctions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Function)
	}{
		{"too many parms", func(f *Function) { f.NumParms = 9 }},
		{"wide parm", func(f *Function) { f.NumParms = 1; f.ParmSize[0] = 4 }},
		{"locals past globals", func(f *Function) { f.Locals = 100000 }},
		{"negative parm start", func(f *Function) { f.ParmStart = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildSample()
			h := DecodeHeader(data)
			at := int(h.Functions.Offset) + FunctionSize
			f := DecodeFunction(data[at:])
			tt.mutate(&f)
			copy(data[at:], EncodeFunction(&f))
			if _, err := Load(data); !errors.Is(err, ErrBadFunction) {
				t.Errorf("err = %v, want ErrBadFunction", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func TestDecodeFunctionRecord(t *testing.T) {
	f := Function{
		FirstStatement: -5,
		ParmStart:      40,
		Locals:         7,
		Profile:        99,
		Name:           12,
		File:           20,
		NumParms:       3,
		ParmSize:       [MaxParms]uint8{1, 3, 1},
	}
	got := DecodeFunction(EncodeFunction(&f))
	if got != f {
		t.Errorf("DecodeFunction = %+v, want %+v", got, f)
	}
	if !got.IsBuiltin() || got.BuiltinIndex() != 5 {
		t.Errorf("builtin = %v #%d", got.IsBuiltin(), got.BuiltinIndex())
	}
	if got.ParmWords() != 5 {
		t.Errorf("ParmWords = %d, want 5", got.ParmWords())
	}
}

func TestStatementSignedOperands(t *testing.T) {
	st := DecodeStatement([]byte{0x3D, 0x00, 0xFE, 0xFF, 0x02, 0x00, 0xFF, 0x7F})
	if st.Op != 61 || st.A != -2 || st.B != 2 || st.C != 32767 {
		t.Errorf("DecodeStatement = %+v", st)
	}
}

func TestTypeHelpers(t *testing.T) {
	saved := TypeFloat | DefSaveGlobal
	if saved.Base() != TypeFloat || !saved.Saved() {
		t.Errorf("saved float: base %v saved %v", saved.Base(), saved.Saved())
	}
	if TypeVector.Words() != 3 || TypeEntity.Words() != 1 {
		t.Error("wrong word counts")
	}
	if saved.String() != "saved float" {
		t.Errorf("String = %q", saved.String())
	}
	if ParmOffset(7) != OfsParm7 {
		t.Errorf("ParmOffset(7) = %d, want %d", ParmOffset(7), OfsParm7)
	}
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuilderLayout(t *testing.T) {
	b := NewBuilder()
	if b.NumGlobals() != ReservedOfs {
		t.Fatalf("NumGlobals = %d, want %d", b.NumGlobals(), ReservedOfs)
	}
	fb := b.Function("f", "f.qc", 2, 1, 3)
	if fb.Parm(0) != ReservedOfs || fb.Parm(1) != ReservedOfs+1 {
		t.Errorf("parms at %d, %d", fb.Parm(0), fb.Parm(1))
	}
	if fb.Local(0) != ReservedOfs+4 || fb.Local(1) != ReservedOfs+5 {
		t.Errorf("locals at %d, %d", fb.Local(0), fb.Local(1))
	}
	if b.NumGlobals() != ReservedOfs+6 {
		t.Errorf("NumGlobals = %d, want %d", b.NumGlobals(), ReservedOfs+6)
	}

	img, err := Load(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	f := img.Functions[fb.Index()]
	if f.Locals != 6 || f.NumParms != 2 || f.ParmSize[1] != 3 {
		t.Errorf("function = %+v", f)
	}
}

func TestBuilderInternsStrings(t *testing.T) {
	b := NewBuilder()
	if b.String("") != 0 {
		t.Error("empty string is not at offset 0")
	}
	x := b.String("abc")
	if b.String("abc") != x {
		t.Error("String did not intern")
	}
}
