package vm

import (
	"crypto/sha256"
	"fmt"
)

// State is a copy of everything a program can change: globals, the edict
// arena, the known strings and the clock. It is bound to the program it was
// taken from by the image hash. Host payloads on edicts are not included.
type State struct {
	Program   [sha256.Size]byte
	Globals   []uint32
	Edicts    []byte
	NumEdicts int
	MaxEdicts int
	Reserved  int
	Time      float32
	Known     []string
}

// CaptureState copies the VM's mutable state. The VM must be idle.
func (vm *VM) CaptureState() (*State, error) {
	if vm.img == nil {
		return nil, ErrNotLoaded
	}
	if vm.running > 0 {
		return nil, ErrBusy
	}
	st := &State{
		Program:   vm.img.Hash,
		Globals:   make([]uint32, vm.globals.Words()),
		NumEdicts: vm.edicts.num,
		MaxEdicts: vm.edicts.capacity,
		Reserved:  vm.edicts.reserved,
		Time:      vm.time,
		Known:     append([]string(nil), vm.strings.Known()...),
	}
	for i := range st.Globals {
		st.Globals[i] = vm.globals.Word(i)
	}
	if vm.edicts.arena != nil {
		st.Edicts = append([]byte(nil), vm.edicts.arena...)
	}
	return st, nil
}

// RestoreState puts back a state captured from the same program. Edicts are
// allocated when the VM has none yet; an existing arena must have the
// captured capacity.
func (vm *VM) RestoreState(st *State) error {
	if vm.img == nil {
		return ErrNotLoaded
	}
	if vm.running > 0 {
		return ErrBusy
	}
	if st.Program != vm.img.Hash {
		return fmt.Errorf("%w: captured from another program", ErrStateMismatch)
	}
	if len(st.Globals) != vm.globals.Words() {
		return fmt.Errorf("%w: %d globals, program has %d", ErrStateMismatch, len(st.Globals), vm.globals.Words())
	}
	if len(st.Known) == 0 {
		return fmt.Errorf("%w: no known strings", ErrStateMismatch)
	}
	if st.Edicts != nil {
		if len(st.Edicts) != st.MaxEdicts*vm.edicts.stride {
			return fmt.Errorf("%w: %d edict bytes for %d edicts", ErrStateMismatch, len(st.Edicts), st.MaxEdicts)
		}
		if st.NumEdicts < 1 || st.NumEdicts > st.MaxEdicts {
			return fmt.Errorf("%w: %d of %d edicts in use", ErrStateMismatch, st.NumEdicts, st.MaxEdicts)
		}
		if vm.edicts.arena == nil {
			vm.edicts.reserved = st.Reserved
			if err := vm.AllocateEdicts(st.MaxEdicts); err != nil {
				return err
			}
		} else if vm.edicts.capacity != st.MaxEdicts {
			return fmt.Errorf("%w: %d edicts, vm has %d", ErrStateMismatch, st.MaxEdicts, vm.edicts.capacity)
		}
	}

	for i, w := range st.Globals {
		vm.globals.SetWord(i, w)
	}
	if st.Edicts != nil {
		copy(vm.edicts.arena, st.Edicts)
		vm.edicts.num = st.NumEdicts
		vm.edicts.reserved = st.Reserved
		clear(vm.edicts.host)
	}
	vm.strings.restoreKnown(st.Known)
	vm.time = st.Time
	vm.depth = 0
	vm.localUsed = 0
	return nil
}
