package vm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Strips trailing line comments before a source line is tokenised.
var asmComment = regexp.MustCompile(`;.*`)

// Assemble reads a textual assembly program from r and writes its encoded
// byte stream to w, returning the number of bytes written. It reads all
// lines from r and hands them to AssembleLines below, the in-memory entry
// point tests use.
func Assemble(r io.Reader, w io.Writer) (int, error) {
	lines, err := readAsmLines(r)
	if err != nil {
		return 0, err
	}
	out, err := AssembleLines(lines)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(out)
	return n, err
}

// AssembleLines assembles an already-split buffer of source lines (one
// instruction per non-blank, comment-stripped line) into a byte stream.
// This is the buffer-oriented entry point tests use.
func AssembleLines(rawLines []string) ([]byte, error) {
	lines, lineNos, err := preprocessAsmLines(rawLines)
	if err != nil {
		return nil, err
	}

	idx := 0
	var out []byte
	for idx < len(lines) {
		startIdx := idx
		chunk, err := assembleOneLine(lines, lineNos, &idx)
		if err != nil {
			return nil, &AssembleError{Line: lineNos[startIdx], Err: err}
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func readAsmLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// preprocessAsmLines strips comments and surrounding whitespace, discards
// blank lines, and records the 1-based source line number each surviving
// entry came from (for error messages).
func preprocessAsmLines(rawLines []string) (lines []string, lineNos []int, err error) {
	for i, raw := range rawLines {
		line := asmComment.ReplaceAllString(raw, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		lineNos = append(lineNos, i+1)
	}
	return lines, lineNos, nil
}

// assembleOneLine consumes lines[*idx] (and, for a mode-4 literal of kind 3,
// recursively absorbs the following N source instructions) and returns the
// packed bytes for exactly one top-level instruction.
func assembleOneLine(lines []string, lineNos []int, idx *int) ([]byte, error) {
	if *idx >= len(lines) {
		return nil, fmt.Errorf("unexpected end of input, expected an instruction")
	}
	line := lines[*idx]
	*idx++

	fields := strings.Fields(line)
	opName := fields[0]
	op, ok := nameToOp[opName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, opName)
	}
	args := fields[1:]
	mode := op.Mode()

	if mode != 4 {
		if len(args) != mode {
			return nil, fmt.Errorf("%s wants %d operands, got %d", op, mode, len(args))
		}
		var a, b, c uint32
		vals := [3]uint32{}
		for i, tok := range args {
			n, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: operand %q is not a non-negative decimal integer", op, tok)
			}
			vals[i] = uint32(n)
		}
		a, b, c = vals[0], vals[1], vals[2]
		if err := checkFieldRanges(uint32(op), a, b, c); err != nil {
			return nil, err
		}
		return packWord(uint32(op), a, b, c), nil
	}

	// Mode 4: exactly three tokens R K LIT.
	if len(args) != 3 {
		return nil, fmt.Errorf("%s wants exactly 3 operands (register, kind, literal), got %d", op, len(args))
	}
	r, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: register operand %q is not a decimal integer", op, args[0])
	}
	k, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: literal-kind operand %q is not a decimal integer", op, args[1])
	}

	payload, err := assembleLiteralPayload(uint32(k), args[2], lines, lineNos, idx)
	if err != nil {
		return nil, err
	}
	if len(payload) >= maxC {
		return nil, fmt.Errorf("%w: literal payload of %d bytes exceeds max %d", ErrOutOfRangeOperand, len(payload), maxC)
	}

	if err := checkFieldRanges(uint32(op), uint32(r), uint32(k), uint32(len(payload))); err != nil {
		return nil, err
	}

	word := packWord(uint32(op), uint32(r), uint32(k), uint32(len(payload)))
	return append(word, payload...), nil
}

func packWord(opcode, a, b, c uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, packInstruction(opcode, a, b, c))
	return buf
}

// assembleLiteralPayload encodes the payload bytes for one of the four
// literal kinds. Kind 3 is the one asymmetry between the textual and
// binary layers: LIT is a count of following *source* instructions to
// absorb, not a byte count — the byte count is computed here and
// rewritten into the instruction word's C field by the caller.
func assembleLiteralPayload(kind uint32, lit string, lines []string, lineNos []int, idx *int) ([]byte, error) {
	switch kind {
	case 0: // signed integer
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer literal %q: %w", lit, err)
		}
		return encodeSignedMinBytes(n), nil
	case 1: // ASCII string
		return []byte(lit), nil
	case 2: // nil; payload discarded
		return nil, nil
	case 3: // nested code: lit is the count of following source instructions
		n, err := strconv.Atoi(lit)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("nested-code literal count %q is not a non-negative integer", lit)
		}
		var payload []byte
		for i := 0; i < n; i++ {
			startIdx := *idx
			chunk, err := assembleOneLine(lines, lineNos, idx)
			if err != nil {
				return nil, &AssembleError{Line: lineNoAt(lineNos, startIdx), Err: err}
			}
			payload = append(payload, chunk...)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown literal kind %d", kind)
	}
}

func lineNoAt(lineNos []int, idx int) int {
	if idx >= 0 && idx < len(lineNos) {
		return lineNos[idx]
	}
	return 0
}

// encodeSignedMinBytes encodes lit as a big-endian two's complement signed
// integer using the minimum number of bytes: bit_length(lit)/8 + 1, where
// bit_length mirrors Python's int.bit_length (number of bits to represent
// abs(lit), 0 for lit == 0).
func encodeSignedMinBytes(lit int64) []byte {
	nbytes := bitLength(lit)/8 + 1
	if nbytes > 8 {
		nbytes = 8
	}
	buf := make([]byte, nbytes)
	u := uint64(lit)
	for i := nbytes - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

func bitLength(n int64) int {
	if n < 0 {
		n = -n
	}
	bits := 0
	for n > 0 {
		bits++
		n >>= 1
	}
	return bits
}
