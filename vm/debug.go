package vm

import (
	"fmt"
	"strings"

	"github.com/nethervm/nethervm/progs"
)

// ---------------------------------------------------------------------------
// Statement and value formatting
// ---------------------------------------------------------------------------

// FormatStatement renders st with its operands described by the global
// defs: the mnemonic padded to ten columns, then one padded column per
// operand.
func (vm *VM) FormatStatement(st progs.Statement) string {
	var b strings.Builder
	op := Opcode(st.Op)
	if op.Valid() {
		name := op.String()
		b.WriteString(name)
		b.WriteByte(' ')
		for i := len(name); i < 10; i++ {
			b.WriteByte(' ')
		}
	}

	a, bb, c := int(uint16(st.A)), int(uint16(st.B)), int(uint16(st.C))
	switch {
	case op == OpIf || op == OpIfNot:
		fmt.Fprintf(&b, "%sbranch %d", vm.GlobalString(a), st.B)
	case op == OpGoto:
		fmt.Fprintf(&b, "branch %d", st.A)
	case op.IsStore():
		b.WriteString(vm.GlobalString(a))
		b.WriteString(vm.GlobalStringNoContents(bb))
	default:
		if a != 0 {
			b.WriteString(vm.GlobalString(a))
		}
		if bb != 0 {
			b.WriteString(vm.GlobalString(bb))
		}
		if c != 0 {
			b.WriteString(vm.GlobalStringNoContents(c))
		}
	}
	return b.String()
}

// GlobalString describes global ofs with its name and current value,
// padded to twenty columns plus a separator.
func (vm *VM) GlobalString(ofs int) string {
	var line string
	def := vm.globalAt(ofs)
	if def == nil || ofs+def.Type.Words() > vm.globals.Words() {
		line = fmt.Sprintf("%d(?)", ofs)
	} else {
		line = fmt.Sprintf("%d(%s)%s", ofs, vm.str(def.Name), vm.ValueString(def.Type, vm.globals, ofs))
	}
	return pad20(line)
}

// GlobalStringNoContents describes global ofs by name only.
func (vm *VM) GlobalStringNoContents(ofs int) string {
	def := vm.globalAt(ofs)
	if def == nil {
		return pad20(fmt.Sprintf("%d(?)", ofs))
	}
	return pad20(fmt.Sprintf("%d(%s)", ofs, vm.str(def.Name)))
}

func pad20(s string) string {
	if len(s) < 20 {
		s += strings.Repeat(" ", 20-len(s))
	}
	return s + " "
}

// ValueString renders the value at slot i of m according to t.
func (vm *VM) ValueString(t progs.Type, m Memory, i int) string {
	switch t.Base() {
	case progs.TypeString:
		s, err := vm.strings.Resolve(m.Int(i))
		if err != nil {
			return fmt.Sprintf("bad string %d", m.Int(i))
		}
		return s
	case progs.TypeEntity:
		n, err := vm.edicts.index(m.Int(i))
		if err != nil {
			return fmt.Sprintf("entity ?%d", m.Int(i))
		}
		return fmt.Sprintf("entity %d", n)
	case progs.TypeFunction:
		fn := int(m.Int(i))
		if f := vm.Function(fn); f != nil {
			return vm.str(f.Name) + "()"
		}
		return fmt.Sprintf("bad function %d", fn)
	case progs.TypeField:
		if def := vm.fieldAt(int(m.Int(i))); def != nil {
			return "." + vm.str(def.Name)
		}
		return fmt.Sprintf(".?%d", m.Int(i))
	case progs.TypeVoid:
		return "void"
	case progs.TypeFloat:
		return fmt.Sprintf("%5.1f", m.Float(i))
	case progs.TypeInteger:
		return fmt.Sprintf("%d", m.Int(i))
	case progs.TypeVector:
		v := m.Vector(i)
		return fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2])
	case progs.TypePointer:
		return "pointer"
	default:
		return fmt.Sprintf("bad type %d", t.Base())
	}
}

func (vm *VM) globalAt(ofs int) *progs.Def {
	if vm.img == nil {
		return nil
	}
	for i := range vm.img.GlobalDefs {
		if int(vm.img.GlobalDefs[i].Ofs) == ofs {
			return &vm.img.GlobalDefs[i]
		}
	}
	return nil
}

func (vm *VM) fieldAt(ofs int) *progs.Def {
	for i := range vm.img.FieldDefs {
		if int(vm.img.FieldDefs[i].Ofs) == ofs {
			return &vm.img.FieldDefs[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble lists the statements of function fn, from its first
// statement up to the next function's.
func (vm *VM) Disassemble(fn int) (string, error) {
	f := vm.Function(fn)
	if f == nil {
		return "", fmt.Errorf("%w: %d", ErrBadFunction, fn)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) parms=%d locals=%d start=%d\n",
		vm.str(f.Name), vm.str(f.File), f.NumParms, f.Locals, f.ParmStart)
	if f.IsBuiltin() || f.FirstStatement == 0 {
		fmt.Fprintf(&b, "  builtin #%d\n", f.BuiltinIndex())
		return b.String(), nil
	}

	start := int(f.FirstStatement)
	end := len(vm.img.Statements)
	for i := range vm.img.Functions {
		if s := int(vm.img.Functions[i].FirstStatement); s > start && s < end {
			end = s
		}
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%5d: %s\n", i, strings.TrimRight(vm.FormatStatement(vm.img.Statements[i]), " "))
	}
	return b.String(), nil
}
