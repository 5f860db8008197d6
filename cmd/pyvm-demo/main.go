// Command pyvm-demo is a small host harness around the VM: a fixed set of
// hand-assembled bytecode programs exercising the call engine, builtins and
// context-manager protocol, runnable either one-shot (`pyvm-demo run NAME`)
// or from an interactive prompt (`pyvm-demo`), mirroring the teacher's
// cmd/hey entry point shape minus the PHP front end this repo doesn't have.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/parcadei/pyrt/opcodes"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
	"github.com/parcadei/pyrt/version"
	"github.com/parcadei/pyrt/vm"
)

func main() {
	app := &cli.Command{
		Name:  "pyvm-demo",
		Usage: "hand-assembled bytecode demos for the VM core",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list available demos",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					for _, name := range demoNames() {
						fmt.Println(name)
					}
					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "run one demo by name",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "trace", Usage: "print a per-opcode execution trace"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if name == "" {
						return fmt.Errorf("run: missing demo name (see `pyvm-demo list`)")
					}
					return runDemo(name, cmd.Bool("trace"))
				},
			},
			{
				Name:  "version",
				Usage: "print the VM core version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Println(version.Version())
					return nil
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runREPL()
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pyvm-demo: %v\n", err)
		os.Exit(1)
	}
}

// runDemo bootstraps a fresh VM and executes demo, optionally dumping a
// step trace the way the teacher's profiling VM reports hot spots.
func runDemo(name string, trace bool) error {
	demo, ok := demos[name]
	if !ok {
		return fmt.Errorf("unknown demo %q%s", name, suggestion(name))
	}
	var opts []vm.Option
	if trace {
		opts = append(opts, vm.WithProfiling(vm.DebugTrace|vm.DebugOpcodeCounts))
	}
	vmachine := vm.New(opts...)
	vmachine.Bootstrap()

	fn := demo.build(vmachine)
	result, err := vmachine.Execute(fn, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Printf("%s => %s\n", name, formatValue(vmachine, result))
	dropPublic(vmachine, result)

	if trace {
		fmt.Println(strings.Repeat("-", 40))
		counts := vmachine.Profiler.OpcodeCounts()
		names := make([]string, 0, len(counts))
		for op := range counts {
			names = append(names, op)
		}
		sort.Strings(names)
		for _, op := range names {
			fmt.Printf("%-24s %d\n", op, counts[op])
		}
	}
	return nil
}

// runREPL drives a persistent VM from a chzyer/readline prompt: each line
// is a demo name (this repo has no Python front end to parse arbitrary
// source), with history and a levenshtein "did you mean" nudge on typos -
// the nearest this harness gets to the teacher's `hey > ` shell.
func runREPL() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pyvm> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("pyvm-demo interactive shell. Type a demo name, `list`, or `exit`.")
	vmachine := vm.New()
	vmachine.Bootstrap()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "list":
			for _, name := range demoNames() {
				fmt.Println(name)
			}
			continue
		}
		demo, ok := demos[line]
		if !ok {
			fmt.Printf("unknown demo %q%s\n", line, suggestion(line))
			continue
		}
		fn := demo.build(vmachine)
		result, err := vmachine.Execute(fn, nil)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(formatValue(vmachine, result))
		dropPublic(vmachine, result)
	}
}

// formatValue renders a top-level result well enough for a demo harness to
// print, without pulling in the VM's internal __repr__ dispatch (stringify
// is unexported - this stays at arm's length with a plain Kind/payload
// switch instead).
func formatValue(vmachine *vm.VirtualMachine, v values.Value) string {
	switch v.Kind {
	case values.KindNone:
		return "None"
	case values.KindBool:
		return fmt.Sprintf("%v", v.I != 0)
	case values.KindInt:
		return fmt.Sprintf("%d", v.I)
	case values.KindFloat:
		return fmt.Sprintf("%v", v.F)
	case values.KindInternString:
		return fmt.Sprintf("%q", vmachine.InternText(uint32(v.I)))
	case values.KindRef:
		payload, live := vmachine.Heap.Get(v.HeapID)
		if !live {
			return "<dead>"
		}
		switch p := payload.(type) {
		case *values.Str:
			return fmt.Sprintf("%q", p.S)
		case *values.List:
			parts := make([]string, len(p.Items))
			for i, it := range p.Items {
				parts[i] = formatValue(vmachine, it)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case *values.Tuple:
			parts := make([]string, len(p.Items))
			for i, it := range p.Items {
				parts[i] = formatValue(vmachine, it)
			}
			return "(" + strings.Join(parts, ", ") + ")"
		default:
			return fmt.Sprintf("<%T>", p)
		}
	default:
		return fmt.Sprintf("<%s>", vmachine.TypeName(v))
	}
}

// dropPublic releases the one reference Execute() handed back to the host,
// the harness-level counterpart of the interpreter's own dropValue.
func dropPublic(vmachine *vm.VirtualMachine, v values.Value) {
	if v.Kind == values.KindRef {
		vmachine.Heap.DecRef(v.HeapID)
	}
}

// suggestion returns a " - did you mean X?" hint for the closest demo name
// by Levenshtein distance, or "" when nothing is close enough to be useful.
func suggestion(name string) string {
	best := ""
	bestDist := -1
	for _, candidate := range demoNames() {
		d := levenshtein.ComputeDistance(name, candidate)
		if bestDist == -1 || d < bestDist {
			bestDist, best = d, candidate
		}
	}
	if best == "" || bestDist > len(best)/2+1 {
		return ""
	}
	return fmt.Sprintf(" - did you mean %q?", best)
}

type demo struct {
	build func(vmachine *vm.VirtualMachine) *registry.DefFunction
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var demos = map[string]demo{
	"arithmetic": {build: buildArithmeticDemo},
	"sorted":     {build: buildSortedDemo},
	"exitstack":  {build: buildExitStackDemo},
}

// buildArithmeticDemo hand-assembles `2 + 3 * 4` and returns it, the way a
// compiler would emit CALL_BUILTIN_FUNCTION-free constant folding for a
// pure expression statement.
func buildArithmeticDemo(vmachine *vm.VirtualMachine) *registry.DefFunction {
	fn := &registry.DefFunction{
		Name:      "arithmetic_demo",
		Module:    "__main__",
		Constants: []values.Value{values.NewInt(2), values.NewInt(3), values.NewInt(4)},
		Instructions: []opcodes.Instruction{
			{Op: opcodes.OpLoadConst, Arg1: 1}, // 3
			{Op: opcodes.OpLoadConst, Arg1: 2}, // 4
			{Op: opcodes.OpBinaryMul},          // 3*4
			{Op: opcodes.OpLoadConst, Arg1: 0}, // 2
			{Op: opcodes.OpRot2},
			{Op: opcodes.OpBinaryAdd}, // 2 + 12
			{Op: opcodes.OpReturnValue},
		},
	}
	vmachine.Registry.RegisterDefFunction(fn)
	return fn
}

// buildSortedDemo builds [5, 3, 1, 4] and calls the builtin sorted(xs,
// reverse=True) by pushing the builtin function itself as a constant and
// using the generic CALL_FUNCTION_KW opcode, exactly as a compiler would
// for any other keyword call - sorted() has no dedicated opcode.
func buildSortedDemo(vmachine *vm.VirtualMachine) *registry.DefFunction {
	sortedID, _ := vmachine.Registry.BuiltinByName("sorted")
	reverseName := vmachine.Intern("reverse")
	fn := &registry.DefFunction{
		Name:   "sorted_demo",
		Module: "__main__",
		Constants: []values.Value{
			values.NewInt(5), values.NewInt(3), values.NewInt(1), values.NewInt(4),
			values.NewBuiltinFunction(sortedID),
			values.NewBool(true),
			{Kind: values.KindInternString, I: int64(reverseName)},
		},
	}
	fn.Instructions = []opcodes.Instruction{
		{Op: opcodes.OpLoadConst, Arg1: 4}, // sorted builtin
		{Op: opcodes.OpLoadConst, Arg1: 0},
		{Op: opcodes.OpLoadConst, Arg1: 1},
		{Op: opcodes.OpLoadConst, Arg1: 2},
		{Op: opcodes.OpLoadConst, Arg1: 3},
		{Op: opcodes.OpBuildList, Arg1: 4},
		{Op: opcodes.OpLoadConst, Arg1: 5},                                  // True
		{Op: opcodes.OpLoadConst, Arg1: 6},  // "reverse"
		{Op: opcodes.OpBuildTuple, Arg1: 1}, // (reverse_name,) kwnames tuple
		{Op: opcodes.OpCallFunctionKw, Arg1: 2 /* list, True below the kwnames tuple */},
		{Op: opcodes.OpReturnValue},
	}
	vmachine.Registry.RegisterDefFunction(fn)
	return fn
}

// buildExitStackDemo constructs a contextlib.ExitStack via its module
// function (the demo has no IMPORT_NAME opcode to load contextlib), registers
// id() as an unwind callback through ExitStack.callback, then closes the
// stack, running that callback before handing the stack itself back.
func buildExitStackDemo(vmachine *vm.VirtualMachine) *registry.DefFunction {
	ctorID, _ := vmachine.Registry.Module("contextlib").ByName("ExitStack")
	idBuiltinID, _ := vmachine.Registry.BuiltinByName("id")
	callbackName := vmachine.Intern("callback")
	closeName := vmachine.Intern("close")
	fn := &registry.DefFunction{
		Name:   "exitstack_demo",
		Module: "__main__",
		Constants: []values.Value{
			values.NewModuleFunction(ctorID),
			values.NewBuiltinFunction(idBuiltinID),
			values.NewInt(42),
		},
		MaxLocalSlot: 1,
		Instructions: []opcodes.Instruction{
			{Op: opcodes.OpLoadConst, Arg1: 0},
			{Op: opcodes.OpCallFunction, Arg1: 0}, // ExitStack()
			{Op: opcodes.OpStoreLocal, Arg1: 0},

			{Op: opcodes.OpLoadLocal, Arg1: 0},
			{Op: opcodes.OpLoadAttr, Arg1: callbackName},
			{Op: opcodes.OpLoadConst, Arg1: 1}, // id builtin
			{Op: opcodes.OpLoadConst, Arg1: 2}, // 42
			{Op: opcodes.OpCallFunction, Arg1: 2}, // stack.callback(id, 42)
			{Op: opcodes.OpPop},                   // discard callback()'s return (id)

			{Op: opcodes.OpLoadLocal, Arg1: 0},
			{Op: opcodes.OpLoadAttr, Arg1: closeName},
			{Op: opcodes.OpCallFunction, Arg1: 0}, // stack.close(): runs id(42)
			{Op: opcodes.OpPop},                   // discard close()'s None

			{Op: opcodes.OpLoadLocal, Arg1: 0},
			{Op: opcodes.OpReturnValue},
		},
	}
	vmachine.Registry.RegisterDefFunction(fn)
	return fn
}
