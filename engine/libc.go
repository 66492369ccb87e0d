package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tetratelabs/wazero/sys"

	hostlink "github.com/wippyai/wasm-hostlink"
)

// LibCNamespace is the import namespace the libc routines are linked into.
const LibCNamespace = "env"

// ErrAbort is raised by the libc _abort routine.
var ErrAbort = errors.New("abort called")

// ErrNoMemory is raised when a memory routine runs in a module without memory.
var ErrNoMemory = errors.New("module has no linear memory")

// LibCFunc is one engine-provided libc routine.
type LibCFunc struct {
	Name      string
	Signature string // compact signature notation, '*' is a 32-bit pointer
	Fn        RawFunc
}

// LibC returns the libc routines in link order.
func LibC() []LibCFunc {
	return []LibCFunc{
		{Name: "_debug", Signature: "i(*i)", Fn: libcDebug},
		{Name: "_memset", Signature: "*(*ii)", Fn: libcMemset},
		{Name: "_memcpy", Signature: "*(**i)", Fn: libcMemcpy},
		{Name: "_abort", Signature: "v()", Fn: libcAbort},
		{Name: "_exit", Signature: "v(i)", Fn: libcExit},
		{Name: "clock_ms", Signature: "i()", Fn: libcClockMs},
		{Name: "printf", Signature: "i(**)", Fn: libcPrintf},
	}
}

// Stdout is where libc output goes: the WASI stdout if configured, else
// the process stdout.
func (rt *Runtime) Stdout() io.Writer {
	if rt.cfg.WASI.Stdout != nil {
		return rt.cfg.WASI.Stdout
	}
	return os.Stdout
}

func u32(v uint64) uint32 { return uint32(v) }

// libcDebug writes len bytes at ptr to stdout and returns len.
func libcDebug(_ context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error {
	s := rt.Slots(sp, 2)
	if mem == nil {
		return ErrNoMemory
	}
	data, err := mem.Read(u32(s[0]), u32(s[1]))
	if err != nil {
		return err
	}
	if _, err := rt.Stdout().Write(data); err != nil {
		return err
	}
	s[0] = uint64(u32(s[1]))
	return ErrNone
}

func libcMemset(_ context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error {
	s := rt.Slots(sp, 3)
	if mem == nil {
		return ErrNoMemory
	}
	ptr, value, size := u32(s[0]), byte(s[1]), u32(s[2])
	buf, err := mem.Read(ptr, size)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = value
	}
	s[0] = uint64(ptr)
	return ErrNone
}

func libcMemcpy(_ context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error {
	s := rt.Slots(sp, 3)
	if mem == nil {
		return ErrNoMemory
	}
	dst, src, size := u32(s[0]), u32(s[1]), u32(s[2])
	from, err := mem.Read(src, size)
	if err != nil {
		return err
	}
	to, err := mem.Read(dst, size)
	if err != nil {
		return err
	}
	// Read views alias linear memory; copy handles the overlap like memmove
	copy(to, from)
	s[0] = uint64(dst)
	return ErrNone
}

func libcAbort(context.Context, *Runtime, StackPointer, hostlink.Memory) error {
	return ErrAbort
}

func libcExit(_ context.Context, rt *Runtime, sp StackPointer, _ hostlink.Memory) error {
	code := u32(rt.Slots(sp, 1)[0])
	return sys.NewExitError(code)
}

// libcClockMs returns milliseconds since the runtime was created.
func libcClockMs(_ context.Context, rt *Runtime, sp StackPointer, _ hostlink.Memory) error {
	rt.Slots(sp, 1)[0] = uint64(uint32(time.Since(rt.started).Milliseconds()))
	return ErrNone
}

// libcPrintf writes the NUL-terminated format string verbatim. Arguments
// are not interpolated. It returns the number of bytes written.
func libcPrintf(_ context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error {
	s := rt.Slots(sp, 2)
	if mem == nil {
		return ErrNoMemory
	}
	format, err := readCString(mem, u32(s[0]))
	if err != nil {
		return err
	}
	n, err := io.WriteString(rt.Stdout(), format)
	if err != nil {
		return err
	}
	s[0] = uint64(uint32(n))
	return ErrNone
}

const maxCString = 64 * 1024

func readCString(mem hostlink.Memory, ptr uint32) (string, error) {
	var buf []byte
	for i := uint32(0); i < maxCString; i++ {
		if ptr+i < ptr {
			return "", fmt.Errorf("string at %d runs past the end of the address space", ptr)
		}
		b, err := mem.ReadU8(ptr + i)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", fmt.Errorf("string at %d is not terminated within %d bytes", ptr, maxCString)
}
