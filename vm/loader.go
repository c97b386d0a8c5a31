package vm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Load reads a flat byte stream of 32-bit big-endian instruction words
// and decodes it into a Code value — a sequence of (opcode,
// operand-tuple) pairs, with literal-kind-3 nested code literals decoded
// recursively. Load is the bit-exact inverse of Assemble for any program
// the assembler produced.
func Load(r io.Reader) (Code, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decodeProgram(data)
}

// decodeProgram decodes a complete byte slice into a sequence of
// instructions, stopping only when the slice is exhausted. It is used
// both at the top level and, recursively, to decode a kind-3 literal's
// payload — the same "consume bytes until exhausted" rule applies in
// both places.
func decodeProgram(data []byte) (Code, error) {
	var code Code
	pos := 0
	for pos < len(data) {
		instr, consumed, err := decodeOneInstr(data[pos:])
		if err != nil {
			return nil, err
		}
		code = append(code, instr)
		pos += consumed
	}
	return code, nil
}

func decodeOneInstr(data []byte) (Instr, int, error) {
	if len(data) < 4 {
		return Instr{}, 0, fmt.Errorf("%w: %d bytes remain, need 4 for an instruction word", ErrMalformedInstruction, len(data))
	}
	word := binary.BigEndian.Uint32(data[:4])
	opcode, a, b, c := unpackInstruction(word)

	op := Op(opcode)
	if !op.valid() {
		return Instr{}, 0, fmt.Errorf("%w: opcode %d is not in the opcode table", ErrMalformedInstruction, opcode)
	}

	mode := op.Mode()
	if mode != 4 {
		return Instr{Op: op, A: int(a), B: int(b), C: int(c)}, 4, nil
	}

	need := int(c)
	if len(data) < 4+need {
		return Instr{}, 0, fmt.Errorf("%w: instruction declares a %d-byte literal but only %d bytes remain", ErrTruncatedLiteral, need, len(data)-4)
	}

	payload := data[4 : 4+need]
	lit, err := decodeLiteral(b, payload)
	if err != nil {
		return Instr{}, 0, err
	}
	return Instr{Op: op, A: int(a), Lit: lit}, 4 + need, nil
}

// decodeLiteral decodes a mode-4 payload per its literal kind.
func decodeLiteral(kind uint32, payload []byte) (Value, error) {
	switch kind {
	case 0:
		return Int(decodeSignedBigEndian(payload)), nil
	case 1:
		return Str(string(payload)), nil
	case 2:
		if len(payload) != 0 {
			return Nil, fmt.Errorf("%w: nil literal (kind 2) must carry an empty payload, got %d bytes", ErrMalformedInstruction, len(payload))
		}
		return Nil, nil
	case 3:
		nested, err := decodeProgram(payload)
		if err != nil {
			return Nil, err
		}
		return CodeValue(nested), nil
	default:
		return Nil, fmt.Errorf("%w: literal kind %d is not one of {0,1,2,3}", ErrMalformedInstruction, kind)
	}
}

// decodeSignedBigEndian is the inverse of encodeSignedMinBytes: a
// big-endian two's complement signed integer of arbitrary byte width,
// sign-extended into an int64. An empty payload decodes to 0.
func decodeSignedBigEndian(bytes []byte) int64 {
	if len(bytes) == 0 {
		return 0
	}
	var u uint64
	for _, b := range bytes {
		u = (u << 8) | uint64(b)
	}
	bits := uint(len(bytes) * 8)
	if bits < 64 && u&(1<<(bits-1)) != 0 {
		u |= ^uint64(0) << bits
	}
	return int64(u)
}
