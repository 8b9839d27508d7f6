package vm

import (
	"github.com/nethervm/nethervm/progs"
)

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// enter pushes a frame for f, saves the globals its locals occupy and
// copies the arguments into its parameters. It returns the statement
// before f's first, since the interpreter increments before it executes.
func (vm *VM) enter(f *progs.Function) (int, error) {
	vm.stack[vm.depth] = frame{statement: vm.xstatement, function: vm.xfunction}
	vm.depth++
	if vm.depth >= vm.cfg.MaxStackDepth {
		return 0, vm.runError(ErrStackOverflow, "stack overflow")
	}

	c := int(f.Locals)
	if vm.localUsed+c > len(vm.localStack) {
		return 0, vm.runError(ErrLocalsOverflow, "locals stack overflow")
	}
	start := int(f.ParmStart)
	for i := 0; i < c; i++ {
		vm.localStack[vm.localUsed+i] = vm.globals.Word(start + i)
	}
	vm.localUsed += c

	o := start
	for i := 0; i < int(f.NumParms); i++ {
		for j := 0; j < int(f.ParmSize[i]); j++ {
			vm.globals.SetWord(o, vm.globals.Word(progs.ParmOffset(i)+j))
			o++
		}
	}

	vm.xfunction = f
	return int(f.FirstStatement) - 1, nil
}

// leave restores the locals of the finished function and pops its frame,
// returning the statement to resume at.
func (vm *VM) leave() (int, error) {
	if vm.depth <= 0 {
		return 0, vm.runError(ErrStackUnderflow, "prog stack underflow")
	}

	f := vm.xfunction
	c := int(f.Locals)
	if vm.localUsed-c < 0 {
		return 0, vm.runError(ErrLocalsUnderflow, "locals stack underflow")
	}
	vm.localUsed -= c
	start := int(f.ParmStart)
	for i := 0; i < c; i++ {
		vm.globals.SetWord(start+i, vm.localStack[vm.localUsed+i])
	}

	vm.depth--
	fr := vm.stack[vm.depth]
	vm.xfunction = fr.function
	return fr.statement, nil
}

// StackTrace lists the active functions, innermost first. The last entry
// is whatever was running when the outermost call was made, which is empty
// for a call from the host.
func (vm *VM) StackTrace() []TraceEntry {
	if vm.depth == 0 {
		return nil
	}
	trace := make([]TraceEntry, 0, vm.depth+1)
	for i := vm.depth; i >= 0; i-- {
		f := vm.xfunction
		if i < vm.depth {
			f = vm.stack[i].function
		}
		if f == nil {
			trace = append(trace, TraceEntry{})
			continue
		}
		trace = append(trace, TraceEntry{File: vm.str(f.File), Function: vm.str(f.Name)})
	}
	return trace
}
