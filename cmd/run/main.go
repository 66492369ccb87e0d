package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/runtime"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to core wasm module")
		funcName    = flag.String("func", "", "Function to call (optional)")
		callArgs    = flag.String("args", "", "Arguments (comma-separated)")
		witFile     = flag.String("wit", "", "WIT file describing the module's exports")
		withWASI    = flag.Bool("wasi", false, "Serve wasi_snapshot_preview1 imports")
		withLibC    = flag.Bool("libc", false, "Link the built-in libc routines into env imports")
		envVars     = flag.String("env", "", "WASI environment variables (KEY=VAL,KEY2=VAL2)")
		cliArgs     = flag.String("argv", "", "WASI CLI arguments (comma-separated)")
		stackSize   = flag.Uint("stack", engine.DefaultStackSize, "Host stack size in bytes")
		mode        = flag.String("mode", "", "Execution mode: interpreter or compiler")
		list        = flag.Bool("list", false, "List the function table and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Log engine and linking activity")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args 1,2] [-wasi] [-libc]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer l.Sync()
		engine.SetLogger(l.Named("engine"))
		runtime.SetLogger(l.Named("runtime"))
	}

	opts := options{
		wasmFile:  *wasmFile,
		witFile:   *witFile,
		mode:      runtime.Mode(*mode),
		wasi:      *withWASI,
		libc:      *withLibC,
		stackSize: uint32(*stackSize),
		env:       splitEnv(*envVars),
		argv:      splitList(*cliArgs),
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts, *funcName, splitList(*callArgs), *list); err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			os.Exit(int(exit.ExitCode()))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, funcName string, args []string, listOnly bool) error {
	ctx := context.Background()

	opts.stdin, opts.stdout, opts.stderr = os.Stdin, os.Stdout, os.Stderr
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Module: %s (%s)\n", opts.wasmFile, s.mod.Name(s.rt))
	fmt.Printf("\nFunction table:\n")
	for _, fi := range s.mod.Functions(s.rt) {
		fmt.Printf("  %s\n", formatTableEntry(fi))
	}

	if listOnly {
		return nil
	}

	if funcName == "" {
		for _, name := range []string{"_start", "main", "run"} {
			if s.lookup(name) != nil {
				funcName = name
				break
			}
		}
		if funcs := s.callable(); funcName == "" && len(funcs) == 1 {
			funcName = funcs[0].name
		}
		if funcName == "" {
			fmt.Printf("\nNo function specified and no common entry point found.\n")
			fmt.Printf("Use -func to specify a function to call.\n")
			return nil
		}
	}

	fmt.Printf("\nCalling %s(%s)...\n", funcName, strings.Join(args, ", "))
	result, err := s.call(ctx, funcName, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	if result != "" {
		fmt.Printf("Result: %s\n", result)
	}
	return nil
}

func formatTableEntry(fi runtime.FunctionInfo) string {
	name := fi.Name
	if name == "" {
		name = "-"
	}
	line := fmt.Sprintf("[%d] %s %s", fi.Index, name, fi.Signature)
	if fi.Import != nil {
		state := "unlinked"
		if fi.Linked {
			state = "linked"
		}
		line += fmt.Sprintf(" import %s (%s)", fi.Import, state)
	}
	return line
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func splitEnv(s string) map[string]string {
	env := make(map[string]string)
	for _, kv := range splitList(s) {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}
