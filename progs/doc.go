// Package progs reads and writes compiled QuakeC program images.
//
// An image is a header followed by lumps: statements, global and field
// defs, functions, the string blob and the initial globals. Load decodes
// and validates one; Builder assembles one.
package progs
