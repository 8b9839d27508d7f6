package vm

import (
	"fmt"

	"github.com/nethervm/nethervm/progs"
)

// EdictHeaderSize is the size of the fixed part of an edict record: free
// flag, free time, then the alpha, send interval and on-ladder bytes.
const EdictHeaderSize = 12

const (
	edictFree      = 0 // word
	edictFreeTime  = 1 // word
	edictHintBytes = 8 // byte offset of alpha, then sendinterval, onladder
	edictFirstWord = EdictHeaderSize / progs.WordSize
)

// Seconds a freed edict stays out of reuse, and the time before which
// freed edicts are always reusable.
const (
	edictReuseDelay = 0.5
	edictReuseStart = 2
)

// ---------------------------------------------------------------------------
// Edict store
// ---------------------------------------------------------------------------

type edictStore struct {
	fields   int // field words per edict
	stride   int // bytes per edict
	arena    Memory
	capacity int
	num      int
	reserved int
	host     []any
}

func newEdictStore(fields int) edictStore {
	stride := EdictHeaderSize + fields*progs.WordSize
	stride = (stride + 7) &^ 7
	return edictStore{fields: fields, stride: stride}
}

// index converts an arena byte offset to an edict number.
func (s *edictStore) index(ptr int32) (int, error) {
	if s.arena == nil {
		return 0, ErrNoEdicts
	}
	if ptr < 0 || int(ptr)%s.stride != 0 || int(ptr)/s.stride >= s.capacity {
		return 0, fmt.Errorf("%w: offset %d", ErrBadEdict, ptr)
	}
	return int(ptr) / s.stride, nil
}

// word is the arena slot of field word field of edict n.
func (s *edictStore) word(n, field, words int) int {
	if field < 0 || field+words > s.fields {
		panic(memoryFault{index: field, words: s.fields})
	}
	return n*s.stride/progs.WordSize + edictFirstWord + field
}

// AllocateEdicts reserves a zeroed arena for capacity edicts. Edict 0, the
// world, and the reserved client edicts are in use from the start.
func (vm *VM) AllocateEdicts(capacity int) error {
	if vm.img == nil {
		return ErrNotLoaded
	}
	if vm.running > 0 {
		return ErrBusy
	}
	if capacity < 1 {
		return fmt.Errorf("%w: %d edicts", ErrAllocation, capacity)
	}
	s := &vm.edicts
	size := capacity * s.stride
	buf, err := vm.cfg.Allocator.Alloc(size, "edicts")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if len(buf) < size {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrAllocation, len(buf), size)
	}
	buf = buf[:size:size]
	clear(buf)

	s.arena = Memory(buf)
	s.capacity = capacity
	s.host = make([]any, capacity)
	if s.reserved >= capacity {
		s.reserved = capacity - 1
	}
	s.num = s.reserved + 1
	log.Debugf("allocated %d edicts of %d bytes", capacity, s.stride)
	return nil
}

// EdictStride is the size in bytes of one edict record.
func (vm *VM) EdictStride() int {
	return vm.edicts.stride
}

// MaxEdicts is the edict capacity.
func (vm *VM) MaxEdicts() int {
	return vm.edicts.capacity
}

// NumEdicts is one past the highest edict handed out so far.
func (vm *VM) NumEdicts() int {
	return vm.edicts.num
}

// Arena is the raw edict memory. STOREP and ADDRESS offsets index it.
func (vm *VM) Arena() Memory {
	return vm.edicts.arena
}

// SetReservedEdicts keeps edicts 1..n out of Spawn's reuse, for clients.
func (vm *VM) SetReservedEdicts(n int) {
	if n < 0 {
		n = 0
	}
	vm.edicts.reserved = n
	if vm.edicts.num < n+1 && n < vm.edicts.capacity {
		vm.edicts.num = n + 1
	}
}

// EdictNum returns edict n.
func (vm *VM) EdictNum(n int) (Edict, error) {
	s := &vm.edicts
	if s.arena == nil {
		return Edict{}, ErrNoEdicts
	}
	if n < 0 || n >= s.capacity {
		return Edict{}, fmt.Errorf("%w: number %d of %d", ErrBadEdict, n, s.capacity)
	}
	return Edict{s: s, n: n}, nil
}

// EdictIndex converts an entity value (an arena byte offset) to an edict
// number.
func (vm *VM) EdictIndex(ptr int32) (int, error) {
	return vm.edicts.index(ptr)
}

// EdictFor returns the edict an entity value refers to.
func (vm *VM) EdictFor(ptr int32) (Edict, error) {
	n, err := vm.edicts.index(ptr)
	if err != nil {
		return Edict{}, err
	}
	return Edict{s: &vm.edicts, n: n}, nil
}

// Spawn hands out a cleared edict. A freed edict is reused once it has
// been free for half a second, or at any time during the first two
// seconds; otherwise the next unused edict is taken.
func (vm *VM) Spawn() (Edict, error) {
	s := &vm.edicts
	if s.arena == nil {
		return Edict{}, ErrNoEdicts
	}
	now := vm.currentTime()
	for i := s.reserved + 1; i < s.num; i++ {
		e := Edict{s: s, n: i}
		if e.Free() && (e.FreeTime() < edictReuseStart || now-e.FreeTime() > edictReuseDelay) {
			e.reset()
			return e, nil
		}
	}
	if s.num >= s.capacity {
		return Edict{}, fmt.Errorf("%w: %d in use", ErrNoFreeEdicts, s.num)
	}
	e := Edict{s: s, n: s.num}
	s.num++
	e.reset()
	return e, nil
}

// Remove frees e and stamps it with the current time.
func (vm *VM) Remove(e Edict) error {
	if e.s != &vm.edicts || e.n <= 0 || e.n >= vm.edicts.capacity {
		return fmt.Errorf("%w: cannot remove edict %d", ErrBadEdict, e.n)
	}
	e.clearFields()
	e.s.host[e.n] = nil
	e.s.arena.SetWord(e.base()+edictFree, 1)
	e.s.arena.SetFloat(e.base()+edictFreeTime, vm.currentTime())
	return nil
}

// ---------------------------------------------------------------------------
// Edict view
// ---------------------------------------------------------------------------

// Edict is a view of one record in the edict arena. Field accessors take
// the word offset of a field, as found by FindField.
type Edict struct {
	s *edictStore
	n int
}

// Valid reports whether e refers to an edict.
func (e Edict) Valid() bool { return e.s != nil }

// Index is the edict number.
func (e Edict) Index() int { return e.n }

// Ptr is the entity value scripts use for e.
func (e Edict) Ptr() int32 { return int32(e.n * e.s.stride) }

func (e Edict) base() int { return e.n * e.s.stride / progs.WordSize }

func (e Edict) byteAt(i int) int { return e.n*e.s.stride + edictHintBytes + i }

// Free reports whether e is on the free list.
func (e Edict) Free() bool { return e.s.arena.Word(e.base()+edictFree) != 0 }

// FreeTime is the VM time at which e was last freed.
func (e Edict) FreeTime() float32 { return e.s.arena.Float(e.base() + edictFreeTime) }

// Alpha is the transparency hint byte.
func (e Edict) Alpha() byte { return e.s.arena[e.byteAt(0)] }

// SetAlpha sets the transparency hint byte.
func (e Edict) SetAlpha(v byte) { e.s.arena[e.byteAt(0)] = v }

// SendInterval is the network send interval hint byte.
func (e Edict) SendInterval() byte { return e.s.arena[e.byteAt(1)] }

// SetSendInterval sets the network send interval hint byte.
func (e Edict) SetSendInterval(v byte) { e.s.arena[e.byteAt(1)] = v }

// OnLadder is the ladder hint byte.
func (e Edict) OnLadder() byte { return e.s.arena[e.byteAt(2)] }

// SetOnLadder sets the ladder hint byte.
func (e Edict) SetOnLadder(v byte) { e.s.arena[e.byteAt(2)] = v }

// HasField reports whether words field words starting at field lie inside
// the edict's field block. The accessors below panic when it does not;
// inside Execute that panic becomes ErrMemoryAccess, so hosts passing
// untrusted offsets should check first.
func (e Edict) HasField(field, words int) bool {
	return field >= 0 && words > 0 && field+words <= e.s.fields
}

// Float reads a float field.
func (e Edict) Float(field int) float32 { return e.s.arena.Float(e.s.word(e.n, field, 1)) }

// SetFloat writes a float field.
func (e Edict) SetFloat(field int, f float32) { e.s.arena.SetFloat(e.s.word(e.n, field, 1), f) }

// Int reads a field as a raw integer (entity, function or string handle).
func (e Edict) Int(field int) int32 { return e.s.arena.Int(e.s.word(e.n, field, 1)) }

// SetInt writes a raw integer field.
func (e Edict) SetInt(field int, v int32) { e.s.arena.SetInt(e.s.word(e.n, field, 1), v) }

// Vector reads the three words of a vector field.
func (e Edict) Vector(field int) Vec3 { return e.s.arena.Vector(e.s.word(e.n, field, 3)) }

// SetVector writes a vector field.
func (e Edict) SetVector(field int, v Vec3) { e.s.arena.SetVector(e.s.word(e.n, field, 3), v) }

// HostData is the host payload carried alongside e.
func (e Edict) HostData() any { return e.s.host[e.n] }

// SetHostData attaches a host payload to e.
func (e Edict) SetHostData(v any) { e.s.host[e.n] = v }

func (e Edict) clearFields() {
	start := (e.base() + edictFirstWord) * progs.WordSize
	clear(e.s.arena[start : start+e.s.fields*progs.WordSize])
}

// reset clears the header and the fields of a newly spawned edict.
func (e Edict) reset() {
	start := e.n * e.s.stride
	clear(e.s.arena[start : start+e.s.stride])
	e.s.host[e.n] = nil
}
