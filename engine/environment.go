package engine

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/errors"
	"github.com/wippyai/wasm-hostlink/wasm"
)

// Mode selects how wazero executes guest code.
type Mode string

const (
	// ModeAuto uses the compiler where the platform supports it.
	ModeAuto Mode = ""
	// ModeInterpreter always interprets.
	ModeInterpreter Mode = "interpreter"
	// ModeCompiler compiles to native code ahead of execution.
	ModeCompiler Mode = "compiler"
)

// Config holds configuration for environment creation
type Config struct {
	// Mode selects interpreter or compiler execution.
	Mode Mode

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CacheDir persists compiled modules across processes. Empty keeps the
	// cache in memory for the environment's lifetime.
	CacheDir string
}

// Environment is shared by every runtime and parsed module created from it.
// It owns the compilation cache and is reference counted: the cache is
// closed when the last holder releases it.
type Environment struct {
	cfg   Config
	cache wazero.CompilationCache
	refs  atomic.Int32
}

// NewEnvironment creates an environment holding one reference for the caller.
func NewEnvironment(cfg *Config) (*Environment, error) {
	env := &Environment{}
	if cfg != nil {
		env.cfg = *cfg
	}

	switch env.cfg.Mode {
	case ModeAuto, ModeInterpreter, ModeCompiler:
	default:
		return nil, errors.InvalidInput(errors.PhaseRuntime, "unknown engine mode "+string(env.cfg.Mode))
	}

	if env.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(env.cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "open compilation cache")
		}
		env.cache = cache
	} else {
		env.cache = wazero.NewCompilationCache()
	}

	env.refs.Store(1)
	Logger().Debug("environment created",
		zap.String("mode", env.mode()),
		zap.String("cache_dir", env.cfg.CacheDir))
	return env, nil
}

// Retain adds a reference.
func (e *Environment) Retain() {
	e.refs.Add(1)
}

// Release drops a reference and closes the cache when none remain.
func (e *Environment) Release(ctx context.Context) error {
	n := e.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return errors.Unsupported(errors.PhaseRuntime, "environment released more times than retained")
	}
	Logger().Debug("environment closed")
	return e.cache.Close(ctx)
}

// Config returns the environment configuration.
func (e *Environment) Config() Config {
	return e.cfg
}

func (e *Environment) mode() string {
	if e.cfg.Mode == ModeAuto {
		return "auto"
	}
	return string(e.cfg.Mode)
}

func (e *Environment) runtimeConfig() wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	switch e.cfg.Mode {
	case ModeInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	case ModeCompiler:
		rc = wazero.NewRuntimeConfigCompiler()
	default:
		rc = wazero.NewRuntimeConfig()
	}
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc.WithCompilationCache(e.cache).WithCloseOnContextDone(true)
}

// ParseModule decodes a binary into an unloaded module that holds a
// reference to the environment until it is loaded or freed.
func (e *Environment) ParseModule(data []byte) (*Module, error) {
	if uint64(len(data)) > wasm.MaxModuleSize {
		return nil, errors.ModuleTooLarge(uint64(len(data)), wasm.MaxModuleSize)
	}

	decoded, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}
	for _, exp := range decoded.Exports {
		if strings.HasPrefix(exp.Name, funcExportPrefix) {
			return nil, errors.InvalidData(errors.PhaseParse, []string{"export", exp.Name},
				"export name uses the reserved prefix "+strconv.Quote(funcExportPrefix))
		}
	}

	m := newModule(e, decoded, data)
	e.Retain()
	Logger().Debug("module parsed",
		zap.String("module", m.Name),
		zap.Int("functions", len(m.Functions)),
		zap.Int("imports", decoded.NumImportedFuncs()))
	return m, nil
}
