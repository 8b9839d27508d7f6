package vm

import (
	"math"

	"github.com/nethervm/nethervm/progs"
)

// ---------------------------------------------------------------------------
// Memory: a word-addressed view over raw bytes
// ---------------------------------------------------------------------------

// Memory is a sequence of 32-bit slots stored in program byte order. Each
// slot can be read as a float, an int32 or a raw word; nothing is cached,
// so the same bytes can be viewed as any type.
//
// Every access is bounds checked. An out-of-range index panics with a
// memoryFault, which the interpreter turns into ErrMemoryAccess.
type Memory []byte

// memoryFault is the panic payload for an out-of-range slot access.
type memoryFault struct {
	index int
	words int
}

// Words is the number of slots.
func (m Memory) Words() int {
	return len(m) / progs.WordSize
}

func (m Memory) check(i, n int) {
	if i < 0 || i+n > len(m)/progs.WordSize {
		panic(memoryFault{index: i, words: len(m) / progs.WordSize})
	}
}

// Word reads slot i as a raw 32-bit word.
func (m Memory) Word(i int) uint32 {
	m.check(i, 1)
	return progs.ByteOrder.Uint32(m[i*4:])
}

// SetWord writes a raw word to slot i.
func (m Memory) SetWord(i int, w uint32) {
	m.check(i, 1)
	progs.ByteOrder.PutUint32(m[i*4:], w)
}

// Int reads slot i as a signed integer (entity, function, string handle
// or field offset).
func (m Memory) Int(i int) int32 {
	return int32(m.Word(i))
}

// SetInt writes a signed integer to slot i.
func (m Memory) SetInt(i int, v int32) {
	m.SetWord(i, uint32(v))
}

// Float reads slot i as an IEEE float.
func (m Memory) Float(i int) float32 {
	return math.Float32frombits(m.Word(i))
}

// SetFloat writes an IEEE float to slot i.
func (m Memory) SetFloat(i int, f float32) {
	m.SetWord(i, math.Float32bits(f))
}

// Vector reads slots i..i+2.
func (m Memory) Vector(i int) Vec3 {
	m.check(i, 3)
	return Vec3{m.Float(i), m.Float(i + 1), m.Float(i + 2)}
}

// SetVector writes slots i..i+2.
func (m Memory) SetVector(i int, v Vec3) {
	m.check(i, 3)
	m.SetFloat(i, v[0])
	m.SetFloat(i+1, v[1])
	m.SetFloat(i+2, v[2])
}

// Copy copies n words from src to dst one word at a time in ascending
// order, so an overlapping copy to a higher slot repeats the first word.
func (m Memory) Copy(dst, src, n int) {
	m.check(dst, n)
	m.check(src, n)
	for i := 0; i < n; i++ {
		copy(m[(dst+i)*4:(dst+i+1)*4], m[(src+i)*4:(src+i+1)*4])
	}
}

// ---------------------------------------------------------------------------
// Vec3
// ---------------------------------------------------------------------------

// Vec3 is a script vector.
type Vec3 [3]float32

// Add returns a+b.
func (a Vec3) Add(b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub returns a-b.
func (a Vec3) Sub(b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Dot returns the dot product of a and b.
func (a Vec3) Dot(b Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Scale returns a scaled by s.
func (a Vec3) Scale(s float32) Vec3 {
	return Vec3{s * a[0], s * a[1], s * a[2]}
}

// IsZero reports whether every component is zero.
func (a Vec3) IsZero() bool {
	return a[0] == 0 && a[1] == 0 && a[2] == 0
}

func boolFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
