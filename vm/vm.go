package vm

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/nethervm/nethervm/progs"
)

var log = commonlog.GetLogger("nethervm.vm")

// Default limits.
const (
	DefaultMaxStackDepth   = 1024
	DefaultLocalStackSize  = 16384
	DefaultMaxInstructions = 0x10000000
)

// ---------------------------------------------------------------------------
// Host callbacks
// ---------------------------------------------------------------------------

// Printer receives diagnostic and script output. debug marks developer
// messages.
type Printer func(msg string, debug bool)

// ErrorHandler is told about fatal errors. Execution has already been
// abandoned when it runs; the error is also returned to the caller.
type ErrorHandler func(msg string)

// Allocator provides the memory for the edict arena. tag names the
// allocation for diagnostics.
type Allocator interface {
	Alloc(size int, tag string) ([]byte, error)
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

// Alloc returns size zeroed bytes.
func (HeapAllocator) Alloc(size int, tag string) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %s: negative size %d", ErrAllocation, tag, size)
	}
	return make([]byte, size), nil
}

// Config carries the host callbacks and limits for a VM. Zero values pick
// the defaults; nil callbacks log through commonlog.
type Config struct {
	Allocator    Allocator
	Printer      Printer
	ErrorHandler ErrorHandler
	UserData     any

	MaxStackDepth   int
	LocalStackSize  int
	MaxInstructions int
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

type frame struct {
	statement int
	function  *progs.Function
}

// stateFields are the global and field offsets the STATE opcode writes.
type stateFields struct {
	self, nextthink, frame, think int
	ok                            bool
}

// VM is one execution context: a loaded program, its globals, edicts,
// strings, builtins and call stacks. A VM must not be used from more than
// one goroutine at a time; separate VMs share nothing.
type VM struct {
	cfg Config

	name    string
	img     *progs.Image
	globals Memory
	strings *StringTable
	edicts  edictStore

	builtins    []Builtin
	numBuiltins int
	nextAuto    int

	stack      []frame
	depth      int
	localStack []uint32
	localUsed  int
	xfunction  *progs.Function
	xstatement int
	argc       int
	running    int
	aborted    *RuntimeError // set by a fatal error until the outermost Execute returns

	time      float32
	timeGlob  int
	trace     bool
	stateDefs stateFields
}

// New creates an empty VM. A program must be loaded before anything can
// run.
func New(cfg Config) *VM {
	if cfg.Allocator == nil {
		cfg.Allocator = HeapAllocator{}
	}
	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = DefaultMaxStackDepth
	}
	if cfg.LocalStackSize <= 0 {
		cfg.LocalStackSize = DefaultLocalStackSize
	}
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = DefaultMaxInstructions
	}
	vm := &VM{
		cfg:      cfg,
		builtins: make([]Builtin, MaxBuiltins),
		nextAuto: MaxBuiltins - 1,
		timeGlob: -1,
	}
	vm.builtins[0] = unimplementedBuiltin
	vm.numBuiltins = 1
	return vm
}

// UserData returns the value the host passed in Config.
func (vm *VM) UserData() any {
	return vm.cfg.UserData
}

// Name is the name the current program was loaded under.
func (vm *VM) Name() string {
	return vm.name
}

// Image returns the loaded program, or nil.
func (vm *VM) Image() *progs.Image {
	return vm.img
}

// Globals is the word view over the global arena.
func (vm *VM) Globals() Memory {
	return vm.globals
}

// Strings is the string table of the loaded program.
func (vm *VM) Strings() *StringTable {
	return vm.strings
}

// Depth is the current call depth.
func (vm *VM) Depth() int {
	return vm.depth
}

// LocalsUsed is the current locals stack cursor.
func (vm *VM) LocalsUsed() int {
	return vm.localUsed
}

// Time is the VM clock used by STATE and edict reuse.
func (vm *VM) Time() float32 {
	return vm.time
}

// SetTime sets the VM clock. If the program declares a float global named
// "time" it is updated too.
func (vm *VM) SetTime(t float32) {
	vm.time = t
	if vm.timeGlob >= 0 {
		vm.globals.SetFloat(vm.timeGlob, t)
	}
}

// currentTime is the clock STATE and Spawn see: the "time" global when
// the program has one, else the host clock.
func (vm *VM) currentTime() float32 {
	if vm.timeGlob >= 0 {
		return vm.globals.Float(vm.timeGlob)
	}
	return vm.time
}

// SetTrace turns per-statement tracing on or off.
func (vm *VM) SetTrace(on bool) {
	vm.trace = on
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (vm *VM) print(msg string, debug bool) {
	if vm.cfg.Printer != nil {
		vm.cfg.Printer(msg, debug)
		return
	}
	msg = strings.TrimRight(msg, "\n")
	if debug {
		log.Debug(msg)
	} else {
		log.Info(msg)
	}
}

func (vm *VM) printf(format string, args ...any) {
	vm.print(fmt.Sprintf(format, args...), false)
}

func (vm *VM) fail(msg string) {
	if vm.cfg.ErrorHandler != nil {
		vm.cfg.ErrorHandler(msg)
		return
	}
	log.Error(msg)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadProgram validates data and makes it the VM's program. The global
// lump is not copied: data must stay untouched while the program is in use.
//
// On failure the previous program, if any, is kept. With fatal set the
// ErrorHandler is told; otherwise the message only goes to the Printer.
func (vm *VM) LoadProgram(name string, data []byte, fatal bool) error {
	if vm.running > 0 {
		return ErrBusy
	}
	img, err := progs.Load(data)
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
		if fatal {
			vm.fail(err.Error())
		} else {
			vm.print(err.Error()+"\n", false)
		}
		return err
	}

	vm.name = name
	vm.img = img
	vm.globals = Memory(img.Globals)
	vm.strings = NewStringTable(img.Strings)
	vm.strings.Register("")
	reserved := vm.edicts.reserved
	vm.edicts = newEdictStore(int(img.Header.EntityFields))
	vm.edicts.reserved = reserved

	vm.stack = make([]frame, vm.cfg.MaxStackDepth+1)
	vm.localStack = make([]uint32, vm.cfg.LocalStackSize)
	vm.depth = 0
	vm.localUsed = 0
	vm.xfunction = nil
	vm.xstatement = 0

	vm.timeGlob = -1
	if d := vm.findDef(img.GlobalDefs, "time"); d != nil && d.Type.Base() == progs.TypeFloat {
		vm.timeGlob = int(d.Ofs)
	}
	vm.stateDefs = vm.lookupStateFields()

	log.Infof("loaded %s: %d functions, %d statements, %d globals, %d field words",
		name, len(img.Functions), len(img.Statements), img.NumGlobals(), img.Header.EntityFields)
	return nil
}

func (vm *VM) lookupStateFields() stateFields {
	var s stateFields
	self := vm.findDef(vm.img.GlobalDefs, "self")
	next := vm.findDef(vm.img.FieldDefs, "nextthink")
	fr := vm.findDef(vm.img.FieldDefs, "frame")
	think := vm.findDef(vm.img.FieldDefs, "think")
	if self == nil || next == nil || fr == nil || think == nil {
		return s
	}
	return stateFields{
		self:      int(self.Ofs),
		nextthink: int(next.Ofs),
		frame:     int(fr.Ofs),
		think:     int(think.Ofs),
		ok:        true,
	}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// str resolves a name handle, returning "" for bad handles.
func (vm *VM) str(handle int32) string {
	s, err := vm.strings.Resolve(handle)
	if err != nil {
		return ""
	}
	return s
}

func (vm *VM) findDef(defs []progs.Def, name string) *progs.Def {
	for i := range defs {
		if vm.str(defs[i].Name) == name {
			return &defs[i]
		}
	}
	return nil
}

// FindFunction returns the index of the named function, or -1.
func (vm *VM) FindFunction(name string) int {
	if vm.img == nil {
		return -1
	}
	for i := range vm.img.Functions {
		if vm.str(vm.img.Functions[i].Name) == name {
			return i
		}
	}
	return -1
}

// FindGlobal returns the slot of the named global, or -1.
func (vm *VM) FindGlobal(name string) int {
	if vm.img == nil {
		return -1
	}
	if d := vm.findDef(vm.img.GlobalDefs, name); d != nil {
		return int(d.Ofs)
	}
	return -1
}

// FindField returns the word offset of the named entity field, or -1.
func (vm *VM) FindField(name string) int {
	if vm.img == nil {
		return -1
	}
	if d := vm.findDef(vm.img.FieldDefs, name); d != nil {
		return int(d.Ofs)
	}
	return -1
}

// GetString resolves a string handle.
func (vm *VM) GetString(handle int32) (string, error) {
	if vm.strings == nil {
		return "", ErrNotLoaded
	}
	return vm.strings.Resolve(handle)
}

// NewString registers s as a known string and returns its handle.
func (vm *VM) NewString(s string) (int32, error) {
	if vm.strings == nil {
		return 0, ErrNotLoaded
	}
	return vm.strings.Register(s), nil
}

// Function returns function fn, or nil when fn is out of range.
func (vm *VM) Function(fn int) *progs.Function {
	if vm.img == nil || fn < 0 || fn >= len(vm.img.Functions) {
		return nil
	}
	return &vm.img.Functions[fn]
}

// FunctionName is the name of function fn.
func (vm *VM) FunctionName(fn int) string {
	if f := vm.Function(fn); f != nil {
		return vm.str(f.Name)
	}
	return ""
}
