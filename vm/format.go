package vm

import "fmt"

// FormatInstr renders a decoded instruction the way disasm output expects:
// the opcode name followed by its operands in declared order, with a
// mode-4 literal rendered through Value.String rather than as a raw byte
// count.
func FormatInstr(in Instr) string {
	if in.Op.Mode() == 4 {
		return fmt.Sprintf("%s %d %s", in.Op, in.A, in.Lit)
	}
	switch in.Op.Mode() {
	case 1:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	case 2:
		return fmt.Sprintf("%s %d %d", in.Op, in.A, in.B)
	default:
		return fmt.Sprintf("%s %d %d %d", in.Op, in.A, in.B, in.C)
	}
}
