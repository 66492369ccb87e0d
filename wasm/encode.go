package wasm

import (
	"sort"

	"github.com/wippyai/wasm-hostlink/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format. Only the sections
// Module models are written: type, import (function and memory), function,
// memory, export, start, code, and the name section.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		w.Section(SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				sec.WriteU32(imp.TypeIdx)
			case KindMemory:
				mt := MemoryType{}
				if imp.Memory != nil {
					mt = *imp.Memory
				}
				writeLimits(sec, mt)
			}
		}
		w.Section(SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec.WriteU32(idx)
		}
		w.Section(SectionFunction, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mt := range m.Memories {
			writeLimits(sec, mt)
		}
		w.Section(SectionMemory, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			writeExport(sec, exp)
		}
		w.Section(SectionExport, sec.Bytes())
	}

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		w.Section(SectionStart, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			b := binary.NewWriter()
			b.WriteU32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b.WriteU32(l.Count)
				b.Byte(byte(l.ValType))
			}
			b.WriteBytes(body.Code)
			sec.WriteU32(uint32(b.Len()))
			sec.WriteBytes(b.Bytes())
		}
		w.Section(SectionCode, sec.Bytes())
	}

	if m.Name != "" || len(m.FuncNames) > 0 {
		w.Section(SectionCustom, m.encodeNameSection())
	}

	return w.Bytes()
}

func (m *Module) encodeNameSection() []byte {
	sec := binary.NewWriter()
	sec.WriteName("name")

	if m.Name != "" {
		sub := binary.NewWriter()
		sub.WriteName(m.Name)
		sec.Byte(NameSubsectionModule)
		sec.WriteU32(uint32(sub.Len()))
		sec.WriteBytes(sub.Bytes())
	}

	if len(m.FuncNames) > 0 {
		indices := make([]uint32, 0, len(m.FuncNames))
		for idx := range m.FuncNames {
			indices = append(indices, idx)
		}
		// name maps must be sorted by index
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		sub := binary.NewWriter()
		sub.WriteU32(uint32(len(indices)))
		for _, idx := range indices {
			sub.WriteU32(idx)
			sub.WriteName(m.FuncNames[idx])
		}
		sec.Byte(NameSubsectionFunction)
		sec.WriteU32(uint32(sub.Len()))
		sec.WriteBytes(sub.Bytes())
	}

	return sec.Bytes()
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, mt MemoryType) {
	if mt.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(mt.Min)
		w.WriteU32(*mt.Max)
		return
	}
	w.Byte(0)
	w.WriteU32(mt.Min)
}

func writeExport(w *binary.Writer, exp Export) {
	w.WriteName(exp.Name)
	w.Byte(exp.Kind)
	w.WriteU32(exp.Idx)
}
