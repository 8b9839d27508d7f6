package vm

import (
	"errors"
	"fmt"

	"github.com/nethervm/nethervm/progs"
)

// MaxBuiltins is the size of the builtin table.
const MaxBuiltins = 1024

// Builtin is a host function callable from scripts. Arguments are read
// with the Arg helpers and results written with the Return helpers. A
// returned error aborts the running Execute.
type Builtin func(vm *VM) error

// unimplementedBuiltin occupies slot 0, where calls to unknown slots land.
func unimplementedBuiltin(vm *VM) error {
	return vm.runError(ErrUnimplementedBuiltin, "unimplemented builtin")
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterBuiltin installs fn. A nonzero index binds that slot directly.
// Index 0 binds by name: the first placeholder function (no body, no
// locals, no parameter block) called name gets the highest free slot and
// its entry is rewritten to point at it.
func (vm *VM) RegisterBuiltin(index int, name string, fn Builtin) error {
	if index < 0 || index >= MaxBuiltins {
		return fmt.Errorf("%w: %d", ErrBadBuiltin, index)
	}
	if index != 0 {
		vm.bind(index, fn)
		log.Debugf("builtin %q bound to slot %d", name, index)
		return nil
	}

	if vm.img == nil {
		return ErrNotLoaded
	}
	f := vm.placeholder(name)
	if f == nil {
		return fmt.Errorf("%w: %q", ErrNoBuiltin, name)
	}
	for vm.nextAuto > 0 && vm.builtins[vm.nextAuto] != nil {
		vm.nextAuto--
	}
	if vm.nextAuto <= 0 {
		return fmt.Errorf("%w: table full binding %q", ErrBadBuiltin, name)
	}
	slot := vm.nextAuto
	vm.nextAuto--
	vm.bind(slot, fn)
	f.FirstStatement = int32(-slot)
	log.Debugf("builtin %q bound to slot %d", name, slot)
	return nil
}

func (vm *VM) bind(slot int, fn Builtin) {
	vm.builtins[slot] = fn
	if slot >= vm.numBuiltins {
		vm.numBuiltins = slot + 1
	}
}

func (vm *VM) placeholder(name string) *progs.Function {
	if name == "" {
		return nil
	}
	for i := range vm.img.Functions {
		f := &vm.img.Functions[i]
		if f.FirstStatement == 0 && f.ParmStart == 0 && f.Locals == 0 && vm.str(f.Name) == name {
			return f
		}
	}
	return nil
}

// LoadBuiltins replaces the whole builtin table. Slot 0 falls back to the
// unimplemented handler when table leaves it empty.
func (vm *VM) LoadBuiltins(table []Builtin) error {
	if len(table) > MaxBuiltins {
		return fmt.Errorf("%w: %d entries exceed %d", ErrBadBuiltin, len(table), MaxBuiltins)
	}
	vm.builtins = make([]Builtin, MaxBuiltins)
	copy(vm.builtins, table)
	if vm.builtins[0] == nil {
		vm.builtins[0] = unimplementedBuiltin
	}
	vm.numBuiltins = max(len(table), 1)
	vm.nextAuto = MaxBuiltins - 1
	return nil
}

// NumBuiltins is one past the highest bound slot.
func (vm *VM) NumBuiltins() int {
	return vm.numBuiltins
}

// callBuiltin runs builtin slot of function f without pushing a frame.
func (vm *VM) callBuiltin(f *progs.Function) error {
	slot := f.BuiltinIndex()
	if slot >= vm.numBuiltins {
		slot = 0
	}
	fn := vm.builtins[slot]
	if fn == nil {
		return vm.runError(ErrUnimplementedBuiltin, "unimplemented builtin #%d (%s)", slot, vm.str(f.Name))
	}
	xf, xs := vm.xfunction, vm.xstatement
	err := fn(vm)
	if vm.aborted != nil {
		// a nested Execute failed; the chain is dead even if the builtin
		// swallowed the error
		return vm.aborted
	}
	vm.xfunction, vm.xstatement = xf, xs
	if err == nil {
		return nil
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return err
	}
	return vm.wrapError(ErrBuiltin, err, "%s: %v", vm.str(f.Name), err)
}

// ---------------------------------------------------------------------------
// Arguments and results
// ---------------------------------------------------------------------------

// Argc is the argument count of the current builtin call.
func (vm *VM) Argc() int {
	return vm.argc
}

// ArgFloat reads argument n as a float.
func (vm *VM) ArgFloat(n int) float32 {
	return vm.globals.Float(progs.ParmOffset(n))
}

// ArgInt reads argument n as a raw integer.
func (vm *VM) ArgInt(n int) int32 {
	return vm.globals.Int(progs.ParmOffset(n))
}

// ArgVector reads argument n as a vector.
func (vm *VM) ArgVector(n int) Vec3 {
	return vm.globals.Vector(progs.ParmOffset(n))
}

// ArgString resolves argument n as a string handle.
func (vm *VM) ArgString(n int) (string, error) {
	return vm.strings.Resolve(vm.ArgInt(n))
}

// ArgEdict resolves argument n as an entity.
func (vm *VM) ArgEdict(n int) (Edict, error) {
	return vm.EdictFor(vm.ArgInt(n))
}

// ReturnFloat sets the return value.
func (vm *VM) ReturnFloat(f float32) {
	vm.globals.SetFloat(progs.OfsReturn, f)
}

// ReturnInt sets the return value to a raw integer.
func (vm *VM) ReturnInt(v int32) {
	vm.globals.SetInt(progs.OfsReturn, v)
}

// ReturnVector sets the three return words.
func (vm *VM) ReturnVector(v Vec3) {
	vm.globals.SetVector(progs.OfsReturn, v)
}

// ReturnString registers s as a known string and returns its handle.
func (vm *VM) ReturnString(s string) {
	vm.globals.SetInt(progs.OfsReturn, vm.strings.Register(s))
}

// ReturnEdict returns an entity.
func (vm *VM) ReturnEdict(e Edict) {
	vm.globals.SetInt(progs.OfsReturn, e.Ptr())
}
