package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-hostlink/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrTooLarge       = errors.New("module exceeds 32-bit length limit")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	if uint64(len(data)) > MaxModuleSize {
		return nil, ErrTooLarge
	}

	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		// custom sections can appear anywhere
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(sectionData)

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		default:
			// tables, globals, elements, data and tags do not touch the
			// function index space; the engine validates them
		}
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(sectionID), err)
		}
	}

	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check enforces the cross-section invariants the function table relies on.
func (m *Module) check() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("function and code section counts differ: %d != %d", len(m.Funcs), len(m.Code))
	}
	for i, imp := range m.Imports {
		if imp.Kind == KindFunc && int(imp.TypeIdx) >= len(m.Types) {
			return fmt.Errorf("import %d: type index %d out of range", i, imp.TypeIdx)
		}
	}
	for i, typeIdx := range m.Funcs {
		if int(typeIdx) >= len(m.Types) {
			return fmt.Errorf("function %d: type index %d out of range", i, typeIdx)
		}
	}
	total := uint32(m.NumFuncs())
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= total {
			return fmt.Errorf("export %q: function index %d out of range", exp.Name, exp.Idx)
		}
	}
	if m.Start != nil && *m.Start >= total {
		return fmt.Errorf("start function index %d out of range", *m.Start)
	}
	return nil
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for an
// unknown ID. The order differs from the IDs for tag and data count.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionMemory:
		return "memory"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionCode:
		return "code"
	default:
		return fmt.Sprintf("section %d", id)
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest := r.ReadRemaining()
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	if name == "name" {
		// a malformed name section is debug info only and must not reject the module
		_ = parseNameSection(binary.NewReader(rest), m)
	}
	return nil
}

func parseNameSection(r *binary.Reader, m *Module) error {
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return err
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		sr := binary.NewReader(payload)
		switch id {
		case NameSubsectionModule:
			if m.Name, err = sr.ReadName(); err != nil {
				return err
			}
		case NameSubsectionFunction:
			count, err := sr.ReadU32()
			if err != nil {
				return err
			}
			if int(count) > sr.Len() {
				return fmt.Errorf("function name count %d exceeds subsection", count)
			}
			m.FuncNames = make(map[uint32]string, count)
			for i := uint32(0); i < count; i++ {
				idx, err := sr.ReadU32()
				if err != nil {
					return err
				}
				name, err := sr.ReadName()
				if err != nil {
					return err
				}
				m.FuncNames[idx] = name
			}
		}
	}
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("type count %d exceeds section", count)
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02x", i, form)
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds section", count)
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("import count %d exceeds section", count)
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		imp, err := readImport(r)
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func readImport(r *binary.Reader) (Import, error) {
	module, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	name, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return Import{}, err
	}

	imp := Import{Module: module, Name: name, Kind: kind}
	switch kind {
	case KindFunc:
		imp.TypeIdx, err = r.ReadU32()
	case KindTable:
		if _, err = r.ReadByte(); err == nil {
			_, err = readLimits(r)
		}
	case KindMemory:
		var mt MemoryType
		if mt, err = readLimits(r); err == nil {
			imp.Memory = &mt
		}
	case KindGlobal:
		err = r.Skip(2) // valtype, mutability
	case KindTag:
		if _, err = r.ReadByte(); err == nil {
			_, err = r.ReadU32()
		}
	default:
		err = fmt.Errorf("unknown import kind: %d", kind)
	}
	return imp, err
}

func readLimits(r *binary.Reader) (MemoryType, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return MemoryType{}, err
	}
	read := func() (uint32, error) {
		if flags&LimitsMemory64 != 0 {
			v, err := r.ReadU64()
			return uint32(v), err
		}
		return r.ReadU32()
	}

	var mt MemoryType
	if mt.Min, err = read(); err != nil {
		return MemoryType{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := read()
		if err != nil {
			return MemoryType{}, err
		}
		if maxVal < mt.Min {
			return MemoryType{}, fmt.Errorf("limits min (%d) exceeds max (%d)", mt.Min, maxVal)
		}
		mt.Max = &maxVal
	}
	return mt, nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("function count %d exceeds section", count)
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("memory count %d exceeds section", count)
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readLimits(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("export count %d exceeds section", count)
	}
	m.Exports = make([]Export, count)
	seen := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate export name %q", name)
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("body count %d exceeds section", count)
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReader(bodyData)
		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		}

		m.Code[i] = FuncBody{Locals: locals, Code: br.ReadRemaining()}
	}
	return nil
}
