package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the operator field of a statement.
type Opcode uint16

const (
	OpDone Opcode = iota
	OpMulF
	OpMulV
	OpMulFV
	OpMulVF
	OpDivF
	OpAddF
	OpAddV
	OpSubF
	OpSubV

	OpEqF
	OpEqV
	OpEqS
	OpEqE
	OpEqFnc

	OpNeF
	OpNeV
	OpNeS
	OpNeE
	OpNeFnc

	OpLE
	OpGE
	OpLT
	OpGT

	OpLoadF
	OpLoadV
	OpLoadS
	OpLoadEnt
	OpLoadFld
	OpLoadFnc

	OpAddress

	OpStoreF
	OpStoreV
	OpStoreS
	OpStoreEnt
	OpStoreFld
	OpStoreFnc

	OpStorePF
	OpStorePV
	OpStorePS
	OpStorePEnt
	OpStorePFld
	OpStorePFnc

	OpReturn
	OpNotF
	OpNotV
	OpNotS
	OpNotEnt
	OpNotFnc
	OpIf
	OpIfNot
	OpCall0
	OpCall1
	OpCall2
	OpCall3
	OpCall4
	OpCall5
	OpCall6
	OpCall7
	OpCall8
	OpState
	OpGoto
	OpAnd
	OpOr

	OpBitAnd
	OpBitOr

	// NumOpcodes is one past the last valid opcode.
	NumOpcodes
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// opNames are the mnemonics used by diagnostics. The LOAD family prints
// as INDIRECT.
var opNames = [NumOpcodes]string{
	"DONE",
	"MUL_F", "MUL_V", "MUL_FV", "MUL_VF",
	"DIV",
	"ADD_F", "ADD_V",
	"SUB_F", "SUB_V",
	"EQ_F", "EQ_V", "EQ_S", "EQ_E", "EQ_FNC",
	"NE_F", "NE_V", "NE_S", "NE_E", "NE_FNC",
	"LE", "GE", "LT", "GT",
	"INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT",
	"ADDRESS",
	"STORE_F", "STORE_V", "STORE_S", "STORE_ENT", "STORE_FLD", "STORE_FNC",
	"STOREP_F", "STOREP_V", "STOREP_S", "STOREP_ENT", "STOREP_FLD", "STOREP_FNC",
	"RETURN",
	"NOT_F", "NOT_V", "NOT_S", "NOT_ENT", "NOT_FNC",
	"IF", "IFNOT",
	"CALL0", "CALL1", "CALL2", "CALL3", "CALL4", "CALL5", "CALL6", "CALL7", "CALL8",
	"STATE",
	"GOTO",
	"AND", "OR",
	"BITAND", "BITOR",
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < NumOpcodes
}

// String returns the mnemonic of op.
func (op Opcode) String() string {
	if op.Valid() {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint16(op))
}

// IsCall reports whether op is one of CALL0..CALL8.
func (op Opcode) IsCall() bool {
	return op >= OpCall0 && op <= OpCall8
}

// Argc is the argument count encoded in a CALL opcode.
func (op Opcode) Argc() int {
	return int(op - OpCall0)
}

// IsStore reports whether op is one of the direct STORE family, whose
// second operand is a destination rather than an input.
func (op Opcode) IsStore() bool {
	return op >= OpStoreF && op <= OpStoreFnc
}
