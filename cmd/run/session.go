package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostlink/runtime"
)

type options struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	env       map[string]string
	wasmFile  string
	witFile   string
	mode      runtime.Mode
	argv      []string
	stackSize uint32
	wasi      bool
	libc      bool
}

// session is one module loaded into its own runtime.
type session struct {
	env *runtime.Environment
	rt  *runtime.Runtime
	mod runtime.Module
	wit map[string]runtime.WITFunction
}

type funcInfo struct {
	name       string
	resultType string
	params     []paramInfo
	witResult  wit.Type
}

type paramInfo struct {
	witType   wit.Type
	name      string
	typeStr   string
	valueType api.ValueType
}

func openSession(ctx context.Context, opts options) (_ *session, err error) {
	data, err := os.ReadFile(opts.wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	s := &session{}
	if opts.witFile != "" {
		text, err := os.ReadFile(opts.witFile)
		if err != nil {
			return nil, fmt.Errorf("read wit: %w", err)
		}
		if s.wit, err = runtime.ParseWIT(string(text)); err != nil {
			return nil, fmt.Errorf("parse wit: %w", err)
		}
	}

	s.env, err = runtime.NewEnvironment(&runtime.Config{Mode: opts.mode})
	if err != nil {
		return nil, fmt.Errorf("create environment: %w", err)
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.rt, err = runtime.NewRuntime(ctx, s.env, &runtime.RuntimeConfig{
		StackSize: opts.stackSize,
		WASI: runtime.WASIConfig{
			Stdin:  opts.stdin,
			Stdout: opts.stdout,
			Stderr: opts.stderr,
			Args:   append([]string{opts.wasmFile}, opts.argv...),
			Env:    opts.env,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	parsed, err := runtime.Parse(s.env, data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if s.mod, err = s.rt.LoadModule(ctx, parsed); err != nil {
		_ = parsed.Close(ctx)
		return nil, fmt.Errorf("load: %w", err)
	}

	if opts.wasi {
		if err = s.mod.LinkWASI(s.rt); err != nil {
			return nil, fmt.Errorf("link wasi: %w", err)
		}
	}
	if opts.libc {
		if err = s.mod.LinkLibC(s.rt); err != nil {
			return nil, fmt.Errorf("link libc: %w", err)
		}
	}
	return s, nil
}

func (s *session) Close() {
	ctx := context.Background()
	if s.rt != nil {
		_ = s.rt.Close(ctx)
	}
	if s.env != nil {
		_ = s.env.Close(ctx)
	}
}

// callable lists the named functions the module defines, sorted by name.
func (s *session) callable() []funcInfo {
	var funcs []funcInfo
	for _, fi := range s.mod.Functions(s.rt) {
		if fi.Import != nil || fi.Name == "" {
			continue
		}
		funcs = append(funcs, s.describe(fi))
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })
	return funcs
}

func (s *session) lookup(name string) *funcInfo {
	for _, fi := range s.mod.Functions(s.rt) {
		for _, n := range fi.Names {
			if n == name {
				info := s.describe(fi)
				info.name = name
				return &info
			}
		}
	}
	return nil
}

// describe types a table entry, preferring WIT types when the WIT text
// declares a function of that name with a matching core signature.
func (s *session) describe(fi runtime.FunctionInfo) funcInfo {
	info := funcInfo{name: fi.Name}

	witFn, ok := s.wit[fi.Name]
	if ok {
		sig, err := witFn.Signature()
		ok = err == nil && sig.Equal(fi.Signature)
	}

	for i, vt := range fi.Signature.Params {
		p := paramInfo{
			name:      fmt.Sprintf("arg%d", i),
			valueType: vt,
			typeStr:   api.ValueTypeName(vt),
		}
		if ok {
			p.witType = witFn.Params[i]
			p.typeStr = witTypeStr(p.witType)
		}
		info.params = append(info.params, p)
	}
	for _, vt := range fi.Signature.Results {
		info.resultType = api.ValueTypeName(vt)
		if ok {
			info.witResult = witFn.Results[0]
			info.resultType = witTypeStr(info.witResult)
		}
	}
	return info
}

// call parses args against the function's parameter types, calls it and
// formats the result. Functions without results format as "".
func (s *session) call(ctx context.Context, name string, args []string) (string, error) {
	info := s.lookup(name)
	if info == nil {
		return "", fmt.Errorf("function %q not found", name)
	}
	if len(args) != len(info.params) {
		return "", fmt.Errorf("%s takes %d arguments, got %d", name, len(info.params), len(args))
	}

	values := make([]any, len(args))
	for i, text := range args {
		v, err := parseArg(info.params[i], text)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}

	fn, err := s.mod.FindFunction(ctx, s.rt, name)
	if err != nil {
		return "", err
	}
	result, err := fn.Call(ctx, values...)
	if err != nil {
		return "", err
	}
	return formatResult(info, result), nil
}

func parseArg(p paramInfo, text string) (any, error) {
	if p.witType != nil {
		return runtime.ParseWITValue(p.witType, text)
	}
	switch p.valueType {
	case api.ValueTypeI32, api.ValueTypeI64:
		if n, err := strconv.ParseInt(text, 0, 64); err == nil {
			return n, nil
		}
		return strconv.ParseUint(text, 0, 64)
	case api.ValueTypeF32:
		f, err := strconv.ParseFloat(text, 32)
		return float32(f), err
	case api.ValueTypeF64:
		return strconv.ParseFloat(text, 64)
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", p.typeStr)
	}
}

func formatResult(info *funcInfo, v any) string {
	switch {
	case v == nil:
		return ""
	case info.witResult != nil:
		return runtime.FormatWITValue(info.witResult, v)
	default:
		return fmt.Sprint(v)
	}
}

func witTypeStr(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	default:
		return fmt.Sprintf("%T", t)
	}
}
