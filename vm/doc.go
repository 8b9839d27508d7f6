// Package vm executes progs images.
//
// This package contains:
//   - A word-addressed memory model shared by globals and edict fields
//   - The string table (static blob plus known strings)
//   - The edict arena
//   - The call and locals stacks and the calling convention
//   - The builtin table
//   - The bytecode interpreter and its diagnostics
//   - State capture for savegames
package vm
