package vm

import (
	"fmt"

	"github.com/nethervm/nethervm/progs"
)

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

// Execute runs function fn until it returns to the current depth. Builtins
// may call Execute again; the nested call returns when its own function
// does.
//
// Any runtime error abandons the whole call chain: the failing statement
// and the trace are printed, the stacks are reset and the ErrorHandler is
// told before the *RuntimeError is returned.
func (vm *VM) Execute(fn int) (err error) {
	if vm.img == nil {
		return ErrNotLoaded
	}
	if fn == 0 {
		return vm.runError(ErrNullFunction, "NULL function")
	}
	if fn < 0 || fn >= len(vm.img.Functions) {
		return vm.runError(ErrBadFunction, "function %d out of range", fn)
	}

	if vm.running == 0 {
		vm.aborted = nil
	}
	vm.running++
	defer func() {
		vm.running--
		if r := recover(); r != nil {
			mf, ok := r.(memoryFault)
			if !ok {
				panic(r)
			}
			err = vm.runError(ErrMemoryAccess, "memory access out of bounds: slot %d of %d", mf.index, mf.words)
		}
	}()

	f := &vm.img.Functions[fn]
	if f.IsBuiltin() {
		vm.argc = int(f.NumParms)
		return vm.callBuiltin(f)
	}
	return vm.run(f)
}

// run is the dispatch loop.
func (vm *VM) run(f *progs.Function) error {
	statements := vm.img.Statements
	functions := vm.img.Functions
	g := vm.globals

	exitDepth := vm.depth
	s, err := vm.enter(f)
	if err != nil {
		return err
	}
	profile, startProfile := 0, 0

	for {
		s++
		if s < 0 || s >= len(statements) {
			return vm.runError(ErrBadStatement, "statement %d outside %d", s, len(statements))
		}
		vm.xstatement = s
		st := statements[s]

		profile++
		if profile > vm.cfg.MaxInstructions {
			return vm.runError(ErrRunaway, "runaway loop error")
		}
		if vm.trace {
			vm.print(vm.FormatStatement(st)+"\n", false)
		}

		a, b, c := int(uint16(st.A)), int(uint16(st.B)), int(uint16(st.C))

		switch op := Opcode(st.Op); op {
		case OpAddF:
			g.SetFloat(c, g.Float(a)+g.Float(b))
		case OpAddV:
			g.SetVector(c, g.Vector(a).Add(g.Vector(b)))
		case OpSubF:
			g.SetFloat(c, g.Float(a)-g.Float(b))
		case OpSubV:
			g.SetVector(c, g.Vector(a).Sub(g.Vector(b)))
		case OpMulF:
			g.SetFloat(c, g.Float(a)*g.Float(b))
		case OpMulV:
			g.SetFloat(c, g.Vector(a).Dot(g.Vector(b)))
		case OpMulFV:
			g.SetVector(c, g.Vector(b).Scale(g.Float(a)))
		case OpMulVF:
			g.SetVector(c, g.Vector(a).Scale(g.Float(b)))
		case OpDivF:
			g.SetFloat(c, g.Float(a)/g.Float(b))

		case OpBitAnd:
			g.SetFloat(c, float32(int32(g.Float(a))&int32(g.Float(b))))
		case OpBitOr:
			g.SetFloat(c, float32(int32(g.Float(a))|int32(g.Float(b))))

		case OpGE:
			g.SetFloat(c, boolFloat(g.Float(a) >= g.Float(b)))
		case OpLE:
			g.SetFloat(c, boolFloat(g.Float(a) <= g.Float(b)))
		case OpGT:
			g.SetFloat(c, boolFloat(g.Float(a) > g.Float(b)))
		case OpLT:
			g.SetFloat(c, boolFloat(g.Float(a) < g.Float(b)))
		case OpAnd:
			g.SetFloat(c, boolFloat(g.Float(a) != 0 && g.Float(b) != 0))
		case OpOr:
			g.SetFloat(c, boolFloat(g.Float(a) != 0 || g.Float(b) != 0))

		case OpNotF:
			g.SetFloat(c, boolFloat(g.Float(a) == 0))
		case OpNotV:
			g.SetFloat(c, boolFloat(g.Vector(a).IsZero()))
		case OpNotS:
			h := g.Int(a)
			empty := h == 0
			if !empty {
				text, err := vm.strings.Resolve(h)
				if err != nil {
					return vm.runError(ErrBadString, "%v", err)
				}
				empty = text == ""
			}
			g.SetFloat(c, boolFloat(empty))
		case OpNotFnc:
			g.SetFloat(c, boolFloat(g.Int(a) == 0))
		case OpNotEnt:
			g.SetFloat(c, boolFloat(g.Int(a) == 0))

		case OpEqF:
			g.SetFloat(c, boolFloat(g.Float(a) == g.Float(b)))
		case OpEqV:
			g.SetFloat(c, boolFloat(g.Vector(a) == g.Vector(b)))
		case OpEqS, OpNeS:
			sa, err := vm.strings.Resolve(g.Int(a))
			if err != nil {
				return vm.runError(ErrBadString, "%v", err)
			}
			sb, err := vm.strings.Resolve(g.Int(b))
			if err != nil {
				return vm.runError(ErrBadString, "%v", err)
			}
			g.SetFloat(c, boolFloat((sa == sb) == (op == OpEqS)))
		case OpEqE, OpEqFnc:
			g.SetFloat(c, boolFloat(g.Int(a) == g.Int(b)))

		case OpNeF:
			g.SetFloat(c, boolFloat(g.Float(a) != g.Float(b)))
		case OpNeV:
			g.SetFloat(c, boolFloat(g.Vector(a) != g.Vector(b)))
		case OpNeE, OpNeFnc:
			g.SetFloat(c, boolFloat(g.Int(a) != g.Int(b)))

		case OpStoreF, OpStoreEnt, OpStoreFld, OpStoreS, OpStoreFnc:
			g.SetWord(b, g.Word(a))
		case OpStoreV:
			g.Copy(b, a, 3)

		case OpStorePF, OpStorePEnt, OpStorePFld, OpStorePS, OpStorePFnc:
			vm.edicts.arena.SetWord(pointerSlot(g.Int(b)), g.Word(a))
		case OpStorePV:
			vm.edicts.arena.SetVector(pointerSlot(g.Int(b)), g.Vector(a))

		case OpAddress:
			n, err := vm.edicts.index(g.Int(a))
			if err != nil {
				return vm.runError(ErrBadEdict, "%v", err)
			}
			slot := vm.edicts.word(n, int(g.Int(b)), 1)
			g.SetInt(c, int32(slot*progs.WordSize))

		case OpLoadF, OpLoadFld, OpLoadEnt, OpLoadS, OpLoadFnc:
			n, err := vm.edicts.index(g.Int(a))
			if err != nil {
				return vm.runError(ErrBadEdict, "%v", err)
			}
			g.SetWord(c, vm.edicts.arena.Word(vm.edicts.word(n, int(g.Int(b)), 1)))
		case OpLoadV:
			n, err := vm.edicts.index(g.Int(a))
			if err != nil {
				return vm.runError(ErrBadEdict, "%v", err)
			}
			g.SetVector(c, vm.edicts.arena.Vector(vm.edicts.word(n, int(g.Int(b)), 3)))

		case OpIfNot:
			if g.Int(a) == 0 {
				s += int(st.B) - 1
			}
		case OpIf:
			if g.Int(a) != 0 {
				s += int(st.B) - 1
			}
		case OpGoto:
			s += int(st.A) - 1

		case OpCall0, OpCall1, OpCall2, OpCall3, OpCall4, OpCall5, OpCall6, OpCall7, OpCall8:
			vm.xfunction.Profile += int32(profile - startProfile)
			startProfile = profile
			vm.argc = op.Argc()
			target := g.Int(a)
			if target == 0 {
				return vm.runError(ErrNullFunction, "NULL function")
			}
			if target < 0 || int(target) >= len(functions) {
				return vm.runError(ErrBadFunction, "function %d out of range", target)
			}
			nf := &functions[target]
			if nf.IsBuiltin() {
				if err := vm.callBuiltin(nf); err != nil {
					return err
				}
				break
			}
			if s, err = vm.enter(nf); err != nil {
				return err
			}

		case OpDone, OpReturn:
			vm.xfunction.Profile += int32(profile - startProfile)
			startProfile = profile
			g.Copy(progs.OfsReturn, a, returnWords(g, a))
			if s, err = vm.leave(); err != nil {
				return err
			}
			if vm.depth == exitDepth {
				return nil
			}

		case OpState:
			if err := vm.state(g.Float(a), g.Int(b)); err != nil {
				return err
			}

		default:
			return vm.runError(ErrBadOpcode, "Bad opcode %d", st.Op)
		}
	}
}

// returnWords is how much of the 3-word return value slot a can supply.
// Fewer than three slots remain only for a scalar at the end of globals.
func returnWords(g Memory, a int) int {
	n := min(3, g.Words()-a)
	if n < 1 {
		panic(memoryFault{index: a, words: g.Words()})
	}
	return n
}

// pointerSlot converts an arena byte offset from STOREP into a word slot.
func pointerSlot(ptr int32) int {
	if ptr < 0 || ptr%progs.WordSize != 0 {
		panic(memoryFault{index: int(ptr), words: -1})
	}
	return int(ptr / progs.WordSize)
}

// state implements STATE on the self edict.
func (vm *VM) state(frame float32, think int32) error {
	sf := vm.stateDefs
	if !sf.ok {
		return vm.runError(ErrNoStateFields, "STATE needs self, nextthink, frame and think")
	}
	e, err := vm.EdictFor(vm.globals.Int(sf.self))
	if err != nil {
		return vm.runError(ErrBadEdict, "STATE: %v", err)
	}
	e.SetFloat(sf.nextthink, vm.currentTime()+0.1)
	e.SetFloat(sf.frame, frame)
	e.SetInt(sf.think, think)
	return nil
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// runError reports a fatal error and abandons the call chain.
func (vm *VM) runError(kind error, format string, args ...any) *RuntimeError {
	return vm.wrapError(kind, nil, format, args...)
}

func (vm *VM) wrapError(kind, cause error, format string, args ...any) *RuntimeError {
	e := &RuntimeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Trace:   vm.StackTrace(),
		Err:     cause,
	}
	if vm.xfunction != nil && vm.xstatement >= 0 && vm.xstatement < len(vm.img.Statements) {
		e.Statement = vm.FormatStatement(vm.img.Statements[vm.xstatement])
	}
	vm.print(e.Report()+"\n", false)

	vm.aborted = e

	vm.depth = 0
	vm.localUsed = 0
	vm.xfunction = nil

	vm.fail("Program error: " + e.Error())
	return e
}
