package engine

import (
	"context"
	"crypto/rand"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASINamespace is the import namespace served by EnableWASI.
const WASINamespace = wasi_snapshot_preview1.ModuleName

// wasiFunctionNames lists the functions wazero's WASI implementation
// exports. The set is computed once per runtime by compiling an exporter
// module without instantiating it.
func (rt *Runtime) wasiFunctionNames(ctx context.Context) (map[string]struct{}, error) {
	if rt.wasiNames != nil {
		return rt.wasiNames, nil
	}

	builder := rt.wz.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	compiled, err := builder.Compile(ctx)
	if err != nil {
		return nil, err
	}
	defer compiled.Close(ctx)

	names := make(map[string]struct{})
	for name := range compiled.ExportedFunctions() {
		names[name] = struct{}{}
	}
	rt.wasiNames = names
	return names, nil
}

// wasiModuleConfig applies the runtime's WASI settings to a guest config.
func (rt *Runtime) wasiModuleConfig(cfg wazero.ModuleConfig) wazero.ModuleConfig {
	w := rt.cfg.WASI
	cfg = cfg.
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	if w.Stdin != nil {
		cfg = cfg.WithStdin(w.Stdin)
	}
	if w.Stdout != nil {
		cfg = cfg.WithStdout(w.Stdout)
	}
	if w.Stderr != nil {
		cfg = cfg.WithStderr(w.Stderr)
	}
	if len(w.Args) > 0 {
		cfg = cfg.WithArgs(w.Args...)
	}
	for k, v := range w.Env {
		cfg = cfg.WithEnv(k, v)
	}
	return cfg
}
