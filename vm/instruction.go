package vm

import "fmt"

/*
	A raw instruction word is a 32-bit big-endian field:

		opcode(6) | A(5) | B(5) | C(16)

	packInstruction/unpackInstruction are pure, side-effect-free and are
	each other's strict inverse over the domain opcode∈[0,64), A,B∈[0,32),
	C∈[0,65536) — see instruction_test.go for the round-trip property
	test. Negative or over-range fields are a programming error the
	assembler rejects before ever calling pack (assembler.go checks
	bounds and returns ErrOutOfRangeOperand instead of calling this with
	bad input).
*/

const (
	opcodeBits, opcodeOff = 6, 26
	aBits, aOff           = 5, 21
	bBits, bOff           = 5, 16
	cBits, cOff           = 16, 0

	maxOpcode = 1 << opcodeBits
	maxAB     = 1 << aBits
	maxC      = 1 << cBits
)

func packInstruction(opcode, a, b, c uint32) uint32 {
	return (opcode << opcodeOff) | (a << aOff) | (b << bOff) | (c << cOff)
}

func unpackInstruction(word uint32) (opcode, a, b, c uint32) {
	opcode = bitfield(word, opcodeBits, opcodeOff)
	a = bitfield(word, aBits, aOff)
	b = bitfield(word, bBits, bOff)
	c = bitfield(word, cBits, cOff)
	return
}

func bitfield(word uint32, nbits, offset uint32) uint32 {
	mask := uint32(1<<nbits) - 1
	return (word >> offset) & mask
}

func checkFieldRanges(opcode, a, b, c uint32) error {
	if opcode >= maxOpcode {
		return fmt.Errorf("%w: opcode %d out of range [0,%d)", ErrOutOfRangeOperand, opcode, maxOpcode)
	}
	if a >= maxAB || b >= maxAB {
		return fmt.Errorf("%w: register operand out of range [0,%d)", ErrOutOfRangeOperand, maxAB)
	}
	if c >= maxC {
		return fmt.Errorf("%w: literal/count operand out of range [0,%d)", ErrOutOfRangeOperand, maxC)
	}
	return nil
}
