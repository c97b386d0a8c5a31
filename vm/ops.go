package vm

import "fmt"

// opClos attaches the frame's current lexical environment to a raw code
// value, producing a callable closure.
func opClos(vm *VM, in Instr) error {
	code, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	c, err := code.Code()
	if err != nil {
		return err
	}
	return vm.Set(in.A, ClosureValue(&ClosureHandle{Env: vm.frame.env, Code: c}))
}

// opSavr pushes R[r] onto the frame's scratch stack.
func opSavr(vm *VM, in Instr) error {
	v, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	vm.frame.pushScratch(v)
	return nil
}

// opRstr pops the frame's scratch stack into R[r].
func opRstr(vm *VM, in Instr) error {
	v, err := vm.frame.popScratch()
	if err != nil {
		return err
	}
	return vm.Set(in.A, v)
}

// opAppl implements function application: continuation resumption, tail
// calls via in-place frame reuse, and ordinary non-tail calls. Textual
// position — whether this appl sits on the last instruction of its own
// program — is the sole tail-call test.
func opAppl(vm *VM, in Instr) error {
	fnval, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	argsval, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	return apply(vm, fnval, argsval)
}

// apply is the shared application logic behind both `appl` and `ccc`:
// resume a captured continuation, or build a new environment from a
// closure and either reuse the current frame (tail position) or push a
// new one.
func apply(vm *VM, fnval, argsval Value) error {
	if cont, ok := fnval.Continuation(); ok {
		args, err := argsval.Vector()
		if err != nil {
			return err
		}
		first, err := args.Get(0)
		if err != nil {
			return err
		}
		vm.val = first
		vm.frame = cont
		return nil
	}

	clos, err := fnval.Closure()
	if err != nil {
		return fmt.Errorf("appl target is neither a closure nor a continuation: %w", err)
	}
	args, err := argsval.Vector()
	if err != nil {
		return err
	}
	newEnv := NewEnv(args, clos.Env)

	f := vm.frame
	if f.atLastInstruction() {
		f.env = newEnv
		f.prog = clos.Code
		f.pc = -1
		f.vstack = nil
		return nil
	}

	vm.frame = newFrame(newEnv, clos.Code, f)
	return nil
}

// opLoadm resolves a lexical address against the frame's environment
// chain (`loadm d n i`).
func opLoadm(vm *VM, in Instr) error {
	v, err := vm.frame.env.lexaddr(in.B, in.C)
	if err != nil {
		return err
	}
	return vm.Set(in.A, v)
}

// opLoadr copies one register to another (`loadr d s`).
func opLoadr(vm *VM, in Instr) error {
	v, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	return vm.Set(in.A, v)
}

// opVecl allocates a fixed-length, nil-filled vector (`vecl r n`, n a
// literal constant).
func opVecl(vm *VM, in Instr) error {
	return vm.Set(in.A, VecValue(NewVector(in.B)))
}

// opVec allocates a fixed-length, nil-filled vector whose length is read
// from a register (`vec r n`).
func opVec(vm *VM, in Instr) error {
	nval, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	n, err := nval.Int()
	if err != nil {
		return err
	}
	return vm.Set(in.A, VecValue(NewVector(int(n))))
}

// opSvecl stores into a vector at a literal index (`svecl v i s`).
func opSvecl(vm *VM, in Instr) error {
	vec, err := mustVector(vm, in.A)
	if err != nil {
		return err
	}
	s, err := mustGet(vm, in.C)
	if err != nil {
		return err
	}
	return vec.Set(in.B, s)
}

// opSvec stores into a vector at an index read from a register (`svec v
// i s`).
func opSvec(vm *VM, in Instr) error {
	vec, err := mustVector(vm, in.A)
	if err != nil {
		return err
	}
	iIdx, err := intAt(vm, in.B)
	if err != nil {
		return err
	}
	s, err := mustGet(vm, in.C)
	if err != nil {
		return err
	}
	return vec.Set(int(iIdx), s)
}

// opGvecl reads from a vector at a literal index (`gvecl d v i`).
func opGvecl(vm *VM, in Instr) error {
	vec, err := mustVector(vm, in.B)
	if err != nil {
		return err
	}
	v, err := vec.Get(in.C)
	if err != nil {
		return err
	}
	return vm.Set(in.A, v)
}

// opGvec reads from a vector at an index read from a register (`gvec d v
// i`).
func opGvec(vm *VM, in Instr) error {
	vec, err := mustVector(vm, in.B)
	if err != nil {
		return err
	}
	iIdx, err := intAt(vm, in.C)
	if err != nil {
		return err
	}
	v, err := vec.Get(int(iIdx))
	if err != nil {
		return err
	}
	return vm.Set(in.A, v)
}

// opEq implements reference identity for vectors/closures/continuations/
// code, value equality for scalars (`eq d a b`).
func opEq(vm *VM, in Instr) error {
	a, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	b, err := mustGet(vm, in.C)
	if err != nil {
		return err
	}
	return vm.Set(in.A, Bool(Eq(a, b)))
}

// opLt implements numeric ordering (`lt d a b`).
func opLt(vm *VM, in Instr) error {
	a, err := intAt(vm, in.B)
	if err != nil {
		return err
	}
	b, err := intAt(vm, in.C)
	if err != nil {
		return err
	}
	return vm.Set(in.A, Bool(a < b))
}

// opNot implements logical negation; nil and false are falsy, everything
// else is truthy (`not d o`).
func opNot(vm *VM, in Instr) error {
	o, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	return vm.Set(in.A, Bool(!o.Truthy()))
}

// opRcur re-enters the currently executing function in place: rebinds
// the frame's environment to a fresh bindings vector sharing the same
// parent, and resets pc to restart the body (`rcur bs`).
func opRcur(vm *VM, in Instr) error {
	bsval, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	bindings, err := bsval.Vector()
	if err != nil {
		return err
	}
	f := vm.frame
	f.env = NewEnv(bindings, f.env.parent)
	f.pc = -1
	return nil
}

// opRtrn sets the last-return-value slot and pops the current frame
// (`rtrn v`).
func opRtrn(vm *VM, in Instr) error {
	v, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	vm.val = v
	vm.frame = vm.frame.parent
	return nil
}

// opCond expresses a one-instruction skip when R[r] is falsy; it never
// carries a branch target of its own (`cond r`).
func opCond(vm *VM, in Instr) error {
	r, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	if !r.Truthy() {
		vm.frame.pc++
	}
	return nil
}

func arith(vm *VM, in Instr, f func(a, b int64) int64) error {
	a, err := intAt(vm, in.B)
	if err != nil {
		return err
	}
	b, err := intAt(vm, in.C)
	if err != nil {
		return err
	}
	return vm.Set(in.A, Int(f(a, b)))
}

func opAdd(vm *VM, in Instr) error { return arith(vm, in, func(a, b int64) int64 { return a + b }) }
func opMul(vm *VM, in Instr) error { return arith(vm, in, func(a, b int64) int64 { return a * b }) }
func opSub(vm *VM, in Instr) error { return arith(vm, in, func(a, b int64) int64 { return a - b }) }
func opDiv(vm *VM, in Instr) error { return arith(vm, in, func(a, b int64) int64 { return a / b }) }
func opAnd(vm *VM, in Instr) error { return arith(vm, in, func(a, b int64) int64 { return a & b }) }
func opOr(vm *VM, in Instr) error  { return arith(vm, in, func(a, b int64) int64 { return a | b }) }

// opJmp sets pc to R[r]; the normal pc++ that runs on the next dispatch
// tick lands on the intended target, so R[r] holds the index *before*
// the target (`jmp r`).
func opJmp(vm *VM, in Instr) error {
	r, err := intAt(vm, in.A)
	if err != nil {
		return err
	}
	vm.frame.pc = int(r)
	return nil
}

// opLoadl installs an already-decoded literal into a register (`loadl d
// K lit`); the loader has already turned K/payload into in.Lit.
func opLoadl(vm *VM, in Instr) error {
	return vm.Set(in.A, in.Lit)
}

// opCons builds a two-element vector (`cons r a b`).
func opCons(vm *VM, in Instr) error {
	a, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	b, err := mustGet(vm, in.C)
	if err != nil {
		return err
	}
	vec := NewVector(2)
	vec.items[0] = a
	vec.items[1] = b
	return vm.Set(in.A, VecValue(vec))
}

// opGetv copies the last-return-value slot into a register (`getv d`).
func opGetv(vm *VM, in Instr) error {
	return vm.Set(in.A, vm.val)
}

// opCcc captures the current frame as a continuation handle and applies
// fn to a one-element argument vector holding it, dispatching through
// the shared apply helper opAppl also uses rather than duplicating its
// logic.
func opCcc(vm *VM, in Instr) error {
	fnval, err := mustGet(vm, in.A)
	if err != nil {
		return err
	}
	argVec := NewVector(1)
	argVec.items[0] = ContinuationValue(vm.frame)
	return apply(vm, fnval, VecValue(argVec))
}

// opHost invokes a host-provided callable stored in R[f] on R[a],
// storing the result in both R[d] and val (`host d f a`).
func opHost(vm *VM, in Instr) error {
	fval, err := mustGet(vm, in.B)
	if err != nil {
		return err
	}
	h, err := fval.hostHandle()
	if err != nil {
		return err
	}
	argv, err := mustGet(vm, in.C)
	if err != nil {
		return err
	}
	result, err := h.fn(argv)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrHostFailure, err)
	}
	if err := vm.Set(in.A, result); err != nil {
		return err
	}
	vm.val = result
	return nil
}

func mustGet(vm *VM, r int) (Value, error) { return vm.Get(r) }

func mustVector(vm *VM, r int) (*Vector, error) {
	v, err := vm.Get(r)
	if err != nil {
		return nil, err
	}
	return v.Vector()
}

func intAt(vm *VM, r int) (int64, error) {
	v, err := vm.Get(r)
	if err != nil {
		return 0, err
	}
	return v.Int()
}
