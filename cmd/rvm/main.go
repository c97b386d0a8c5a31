package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"rvm/vm"
)

func main() {
	app := cli.NewApp()
	app.Name = "rvm"
	app.Usage = "assemble, disassemble and run register-vm bytecode"
	app.Commands = []cli.Command{
		asmCommand,
		disasmCommand,
		runCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var asmCommand = cli.Command{
	Name:      "asm",
	Usage:     "assemble a textual program into a bytecode stream",
	ArgsUsage: "[infile] [outfile]",
	Action:    runAsm,
}

// runAsm reads one input stream and writes one output stream, printing
// the byte count written; streams default to stdin/stdout.
func runAsm(ctx *cli.Context) error {
	in, out, closeFn, err := openStreams(ctx.Args())
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := vm.Assemble(in, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d bytes written\n", n)
	return nil
}

var disasmCommand = cli.Command{
	Name:      "disasm",
	Usage:     "decode a bytecode stream and print one instruction per line",
	ArgsUsage: "[infile]",
	Action:    runDisasm,
}

func runDisasm(ctx *cli.Context) error {
	in, _, closeFn, err := openStreams(ctx.Args())
	if err != nil {
		return err
	}
	defer closeFn()

	prog, err := vm.Load(in)
	if err != nil {
		return err
	}
	printCode(prog, 0)
	return nil
}

func printCode(prog vm.Code, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	for i, instr := range prog {
		fmt.Printf("%s%d: %s\n", indent, i, vm.FormatInstr(instr))
		if nested, ok := instr.Lit.CodeOrNil(); ok && instr.Op == vm.OpLoadl {
			printCode(nested, depth+1)
		}
	}
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "load and execute a bytecode program, printing the terminal value",
	ArgsUsage: "[infile]",
	Action:    runRun,
}

// runRun wraps execution so a panic anywhere below is treated the same
// as a returned runtime error, since the engine has no in-band recovery
// path either.
func runRun(ctx *cli.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	in, _, closeFn, err := openStreams(ctx.Args())
	if err != nil {
		return err
	}
	defer closeFn()

	prog, err := vm.Load(in)
	if err != nil {
		return err
	}

	machine := vm.New()
	machine.Load(prog)
	result, err := machine.Run()
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	return nil
}

func openStreams(args cli.Args) (in, out *os.File, closeFn func(), err error) {
	in, out = os.Stdin, os.Stdout
	var closers []*os.File

	if len(args) >= 1 && args[0] != "-" {
		in, err = os.Open(args[0])
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, in)
	}
	if len(args) >= 2 && args[1] != "-" {
		out, err = os.Create(args[1])
		if err != nil {
			for _, f := range closers {
				f.Close()
			}
			return nil, nil, nil, err
		}
		closers = append(closers, out)
	}

	return in, out, func() {
		for _, f := range closers {
			f.Close()
		}
	}, nil
}
