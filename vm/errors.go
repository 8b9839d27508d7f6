package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

var (
	// Host errors
	ErrNotLoaded     = errors.New("no program loaded")
	ErrAllocation    = errors.New("allocation failed")
	ErrNoEdicts      = errors.New("edicts not allocated")
	ErrNoFreeEdicts  = errors.New("no free edicts")
	ErrBadBuiltin    = errors.New("bad builtin number")
	ErrNoBuiltin     = errors.New("no placeholder function with that name")
	ErrBusy          = errors.New("vm is executing")
	ErrStateMismatch = errors.New("state does not match program")

	// Runtime errors
	ErrNullFunction         = errors.New("NULL function")
	ErrBadFunction          = errors.New("bad function number")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrStackUnderflow       = errors.New("prog stack underflow")
	ErrLocalsOverflow       = errors.New("locals stack overflow")
	ErrLocalsUnderflow      = errors.New("locals stack underflow")
	ErrBadOpcode            = errors.New("bad opcode")
	ErrBadStatement         = errors.New("statement out of range")
	ErrBadEdict             = errors.New("bad edict")
	ErrBadString            = errors.New("bad string")
	ErrMemoryAccess         = errors.New("memory access out of bounds")
	ErrRunaway              = errors.New("runaway loop error")
	ErrUnimplementedBuiltin = errors.New("unimplemented builtin")
	ErrNoStateFields        = errors.New("STATE needs self, nextthink, frame and think")
	ErrBuiltin              = errors.New("builtin failed")
)

// ---------------------------------------------------------------------------
// RuntimeError
// ---------------------------------------------------------------------------

// TraceEntry is one line of a call-stack trace.
type TraceEntry struct {
	File     string
	Function string
}

func (e TraceEntry) String() string {
	if e.File == "" && e.Function == "" {
		return "<NO FUNCTION>"
	}
	return fmt.Sprintf("%12s : %s", e.File, e.Function)
}

// RuntimeError aborts an Execute call. The diagnostics are captured at the
// point of failure, before the call stack was dropped.
type RuntimeError struct {
	Kind      error  // one of the Err* runtime sentinels
	Message   string // detail text
	Statement string // the failing statement, formatted
	Trace     []TraceEntry
	Err       error // underlying cause, if any
}

func (e *RuntimeError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Unwrap exposes the kind and the cause to errors.Is and errors.As.
func (e *RuntimeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Report renders the statement, the trace and the message the way they are
// sent to the print sink.
func (e *RuntimeError) Report() string {
	var b strings.Builder
	if e.Statement != "" {
		b.WriteString(e.Statement)
		b.WriteByte('\n')
	}
	if len(e.Trace) == 0 {
		b.WriteString("<NO STACK>\n")
	}
	for _, t := range e.Trace {
		b.WriteString(t.String())
		b.WriteByte('\n')
	}
	b.WriteString(e.Error())
	return b.String()
}
