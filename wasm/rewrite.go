package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-hostlink/wasm/internal/binary"
)

// RewriteOptions configures RewriteImports.
type RewriteOptions struct {
	// ImportModule returns the replacement module name for a function import.
	// Non-function imports keep their module name. Nil leaves names unchanged.
	ImportModule func(imp Import) string

	// FuncExportName, when set, adds an export for every function index under
	// the returned name so that any function is reachable by the host.
	FuncExportName func(idx uint32) string

	// NumFuncs is the size of the function index space, required with FuncExportName.
	NumFuncs uint32
}

// RewriteImports rewrites a module at section level. Every section other than
// import and export is copied verbatim. If the module has no export section
// and synthetic exports are requested, one is inserted in canonical position.
func RewriteImports(data []byte, opts RewriteOptions) ([]byte, error) {
	r := binary.NewReader(data)
	header, err := r.ReadBytes(8)
	if err != nil {
		return nil, r.WrapError("header", err)
	}

	w := binary.NewWriter()
	w.WriteBytes(header)

	exportOrder := sectionOrder(SectionExport)
	exportsWritten := opts.FuncExportName == nil

	for {
		start := r.Position()
		id, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		if !exportsWritten && id != SectionCustom && sectionOrder(id) > exportOrder {
			w.Section(SectionExport, rewriteExportSection(nil, opts))
			exportsWritten = true
		}

		switch id {
		case SectionImport:
			sec, err := rewriteImportSection(payload, opts)
			if err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
			w.Section(SectionImport, sec)
		case SectionExport:
			if exportsWritten {
				w.WriteBytes(r.Span(start, r.Position()))
				continue
			}
			w.Section(SectionExport, rewriteExportSection(payload, opts))
			exportsWritten = true
		default:
			w.WriteBytes(r.Span(start, r.Position()))
		}
	}

	if !exportsWritten {
		w.Section(SectionExport, rewriteExportSection(nil, opts))
	}
	return w.Bytes(), nil
}

func rewriteImportSection(section []byte, opts RewriteOptions) ([]byte, error) {
	r := binary.NewReader(section)
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	w := binary.NewWriter()
	w.WriteU32(count)
	for i := uint32(0); i < count; i++ {
		start := r.Position()
		imp, err := readImport(r)
		if err != nil {
			return nil, err
		}
		if imp.Kind != KindFunc || opts.ImportModule == nil {
			w.WriteBytes(r.Span(start, r.Position()))
			continue
		}
		w.WriteName(opts.ImportModule(imp))
		w.WriteName(imp.Name)
		w.Byte(KindFunc)
		w.WriteU32(imp.TypeIdx)
	}
	return w.Bytes(), nil
}

// rewriteExportSection appends synthetic function exports after the
// module's own. section is nil when the module has none. It assumes the
// section already passed ParseModule.
func rewriteExportSection(section []byte, opts RewriteOptions) []byte {
	var count uint32
	var rest []byte
	if section != nil {
		r := binary.NewReader(section)
		count, _ = r.ReadU32()
		rest = r.ReadRemaining()
	}

	w := binary.NewWriter()
	if opts.FuncExportName == nil {
		w.WriteU32(count)
		w.WriteBytes(rest)
		return w.Bytes()
	}

	w.WriteU32(count + opts.NumFuncs)
	w.WriteBytes(rest)
	for idx := uint32(0); idx < opts.NumFuncs; idx++ {
		writeExport(w, Export{Name: opts.FuncExportName(idx), Kind: KindFunc, Idx: idx})
	}
	return w.Bytes()
}
