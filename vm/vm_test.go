package vm

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func assembleAndLoad(t *testing.T, src string) Code {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(src), "\n")
	out, err := AssembleLines(lines)
	require.NoError(t, err)
	prog, err := Load(strings.NewReader(string(out)))
	require.NoError(t, err)
	return prog
}

// TestArithmeticAndReturn checks that loading two integer literals and
// adding them returns the sum.
func TestArithmeticAndReturn(t *testing.T) {
	prog := assembleAndLoad(t, `
		loadl 0 0 2
		loadl 1 0 3
		add 2 0 1
		rtrn 2
	`)

	machine := New()
	machine.Load(prog)
	val, err := machine.Run()
	require.NoError(t, err)
	n, err := val.Int()
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}

// TestTailCallDoesNotGrowFrameChain checks the tail-call property: a
// closure that tail-calls itself M times must not grow the
// frame chain, regardless of M. The body decrements a counter captured
// in its own bindings and tail-appls itself again; the closure it calls
// lives in a fixed register, since the register file is VM-wide state
// rather than per-frame.
func TestTailCallDoesNotGrowFrameChain(t *testing.T) {
	body := `
		loadl 5 0 0
		loadm 6 0 0
		eq 7 6 5
		cond 7
		rtrn 6
		loadl 8 0 1
		sub 9 6 8
		vecl 10 1
		svecl 10 0 9
		appl 3 10
	`
	bodyLines := strings.Split(strings.TrimSpace(body), "\n")

	outer := []string{
		"loadl 2 3 " + strconv.Itoa(len(bodyLines)),
	}
	outer = append(outer, bodyLines...)
	outer = append(outer,
		"clos 3 2",
		"loadl 11 0 100000",
		"vecl 12 1",
		"svecl 12 0 11",
		"appl 3 12",
	)

	prog := assembleAndLoad(t, strings.Join(outer, "\n"))

	// A max frame depth far smaller than the iteration count proves the
	// frame chain never grows past the initial root frame.
	machine := New(WithMaxFrameDepth(1), WithNumRegisters(16))
	machine.Load(prog)
	val, err := machine.Run()
	require.NoError(t, err)
	n, err := val.Int()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

// TestContinuationCaptureAndResume checks the continuation property:
// ccc followed by appl of the captured continuation to [X] leaves
// val = X and resumes one instruction past the ccc. The continuation
// must be invoked from inside the capturing closure's own body, as its
// own last instruction, so that the root frame is still parked at the
// ccc instruction (never allowed to fall off the end and advance on its
// own) at the moment the continuation is applied. Invoking it any later
// would just find vm.frame already equal to the captured frame, with
// its pc long past the ccc — a no-op, not a resumption.
func TestContinuationCaptureAndResume(t *testing.T) {
	src := `
		loadl 0 3 5
		loadm 9 0 0
		loadl 20 0 42
		vecl 21 1
		svecl 21 0 20
		appl 9 21
		clos 1 0
		ccc 1
		getv 3
		rtrn 3
	`
	// The five lines right after "loadl 0 3 5" are the fn body ccc applies:
	// that loadl's count of 5 absorbs exactly them as a nested code literal,
	// leaving the rest of src as the top-level program. The body loads the
	// continuation passed as its sole argument, builds a one-element
	// argument vector holding 42, and tail-applies the continuation to it
	// as its own last instruction.
	prog := assembleAndLoad(t, src)

	machine := New(WithNumRegisters(32))
	machine.Load(prog)
	val, err := machine.Run()
	require.NoError(t, err)
	n, err := val.Int()
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

// TestAssq checks searching an association list [('a',1), ('b',2),
// ('c',3)] for key 'b' terminates with val = ['b', 2].
func TestAssq(t *testing.T) {
	body := `
		loadm 10 0 0
		loadm 11 0 1
		loadl 12 2 0
		eq 13 10 12
		cond 13
		rtrn 12
		gvecl 14 10 0
		gvecl 15 14 0
		eq 16 15 11
		cond 16
		rtrn 14
		gvecl 17 10 1
		vecl 18 2
		svecl 18 0 17
		svecl 18 1 11
		appl 19 18
	`
	bodyLines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, bodyLines, 16)

	outer := []string{
		"loadl 0 3 " + strconv.Itoa(len(bodyLines)),
	}
	outer = append(outer, bodyLines...)
	outer = append(outer,
		"clos 19 0",
		"loadl 1 1 a",
		"loadl 2 0 1",
		"cons 3 1 2",
		"loadl 4 1 b",
		"loadl 5 0 2",
		"cons 6 4 5",
		"loadl 7 1 c",
		"loadl 8 0 3",
		"cons 9 7 8",
		"loadl 10 2 0",
		"cons 11 9 10",
		"cons 12 6 11",
		"cons 13 3 12",
		"loadl 14 1 b",
		"vecl 15 2",
		"svecl 15 0 13",
		"svecl 15 1 14",
		"appl 19 15",
	)

	prog := assembleAndLoad(t, strings.Join(outer, "\n"))

	machine := New(WithNumRegisters(32))
	machine.Load(prog)
	val, err := machine.Run()
	require.NoError(t, err)

	pair, err := val.Vector()
	require.NoError(t, err)
	require.Equal(t, 2, pair.Len())

	key, err := pair.Get(0)
	require.NoError(t, err)
	keyStr, err := key.Str()
	require.NoError(t, err)
	require.Equal(t, "b", keyStr)

	value, err := pair.Get(1)
	require.NoError(t, err)
	n, err := value.Int()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestOutOfBoundsRegisterIsRuntimeFatal(t *testing.T) {
	prog := assembleAndLoad(t, "loadr 0 5")
	machine := New(WithNumRegisters(1))
	machine.Load(prog)
	_, err := machine.Get(5)
	require.ErrorIs(t, err, ErrOutOfBoundsRegister)
	_, err = machine.Run()
	require.ErrorIs(t, err, ErrOutOfBoundsRegister)
}

func TestHostCallable(t *testing.T) {
	table := NewHostTable()
	table.Register("double", func(v Value) (Value, error) {
		n, err := v.Int()
		if err != nil {
			return Nil, err
		}
		return Int(n * 2), nil
	})

	machine := New(WithHostTable(table), WithNumRegisters(8))
	require.NoError(t, machine.BindHost(0, "double"))

	prog := assembleAndLoad(t, `
		loadl 1 0 21
		host 2 0 1
		rtrn 2
	`)
	machine.Load(prog)
	val, err := machine.Run()
	require.NoError(t, err)
	n, err := val.Int()
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}
