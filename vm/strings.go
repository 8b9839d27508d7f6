package vm

import (
	"bytes"
	"fmt"
)

// ---------------------------------------------------------------------------
// StringTable: static program strings plus runtime "known" strings
// ---------------------------------------------------------------------------

// StringTable resolves string handles. Handles in [0, StaticSize) are byte
// offsets into the program's string lump; a handle of StaticSize+i names
// the i-th known string. Known strings are never freed, so their handles
// stay valid for the life of the table.
type StringTable struct {
	static []byte
	known  []string
}

// NewStringTable creates a table over a static string blob.
func NewStringTable(static []byte) *StringTable {
	return &StringTable{static: static}
}

// StaticSize is the size in bytes of the static blob.
func (t *StringTable) StaticSize() int {
	return len(t.static)
}

// Resolve returns the text for handle.
func (t *StringTable) Resolve(handle int32) (string, error) {
	if handle >= 0 && int(handle) < len(t.static) {
		end := bytes.IndexByte(t.static[handle:], 0)
		if end < 0 {
			return "", fmt.Errorf("%w: string at %d is not terminated", ErrBadString, handle)
		}
		return string(t.static[int(handle) : int(handle)+end]), nil
	}
	i := int64(handle) - int64(len(t.static))
	if handle < 0 || i >= int64(len(t.known)) {
		return "", fmt.Errorf("%w: handle %d", ErrBadString, handle)
	}
	return t.known[i], nil
}

// Register appends s to the known strings and returns its handle. Every
// call yields a new handle.
func (t *StringTable) Register(s string) int32 {
	t.known = append(t.known, s)
	return int32(len(t.static) + len(t.known) - 1)
}

// Known returns the registered strings in handle order.
func (t *StringTable) Known() []string {
	return t.known
}

// NumKnown is the number of registered strings.
func (t *StringTable) NumKnown() int {
	return len(t.known)
}

// restoreKnown replaces the known strings, keeping handle order.
func (t *StringTable) restoreKnown(known []string) {
	t.known = append([]string(nil), known...)
}
