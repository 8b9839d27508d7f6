package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"github.com/nethervm/nethervm/vm"
)

// host holds the state the CLI builtins share.
type host struct {
	out     io.Writer
	verbose bool
	counter int32
}

func newHost(out io.Writer, verbose bool) *host {
	return &host{out: out, verbose: verbose}
}

// builtins maps the names a program can declare to their handlers.
func (h *host) builtins() map[string]vm.Builtin {
	return map[string]vm.Builtin{
		"counter_increase": h.counterIncrease,
		"print":            h.print,
		"dprint":           h.dprint,
		"ftos":             ftos,
		"vtos":             vtos,
		"spawn":            spawn,
		"remove":           remove,
		"time":             currentTime,
	}
}

// bind registers every builtin the loaded program declares, in name order
// so auto-assigned slots are the same on every run. Names the program does
// not declare are skipped.
func (h *host) bind(m *vm.VM) {
	table := h.builtins()
	for _, name := range slices.Sorted(maps.Keys(table)) {
		err := m.RegisterBuiltin(0, name, table[name])
		switch {
		case err == nil:
			log.Debugf("bound builtin %s", name)
		case errors.Is(err, vm.ErrNoBuiltin):
		default:
			log.Warningf("builtin %s: %v", name, err)
		}
	}
}

func (h *host) counterIncrease(m *vm.VM) error {
	h.counter += m.ArgInt(0)
	return nil
}

func (h *host) print(m *vm.VM) error {
	s, err := m.ArgString(0)
	if err != nil {
		return err
	}
	fmt.Fprintln(h.out, s)
	return nil
}

func (h *host) dprint(m *vm.VM) error {
	s, err := m.ArgString(0)
	if err != nil {
		return err
	}
	if h.verbose {
		fmt.Fprint(h.out, s)
	}
	log.Debug(s)
	return nil
}

func ftos(m *vm.VM) error {
	m.ReturnString(formatFloat(m.ArgFloat(0)))
	return nil
}

func formatFloat(f float32) string {
	if f == float32(math.Trunc(float64(f))) && math.Abs(float64(f)) < 1e9 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%5.1f", f)
}

func vtos(m *vm.VM) error {
	v := m.ArgVector(0)
	m.ReturnString(fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2]))
	return nil
}

func spawn(m *vm.VM) error {
	e, err := m.Spawn()
	if err != nil {
		return err
	}
	m.ReturnEdict(e)
	return nil
}

func remove(m *vm.VM) error {
	e, err := m.ArgEdict(0)
	if err != nil {
		return err
	}
	return m.Remove(e)
}

func currentTime(m *vm.VM) error {
	m.ReturnFloat(m.Time())
	return nil
}
