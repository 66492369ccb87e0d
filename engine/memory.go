package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	hostlink "github.com/wippyai/wasm-hostlink"
)

// Memory wraps a wazero memory as a hostlink.Memory.
type Memory struct {
	mem api.Memory
}

// NewMemory wraps mem. It returns nil for a nil memory.
func NewMemory(mem api.Memory) *Memory {
	if mem == nil {
		return nil
	}
	return &Memory{mem: mem}
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

var _ hostlink.Memory = (*Memory)(nil)
var _ hostlink.MemorySizer = (*Memory)(nil)
