package runtime

import (
	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
)

// findImport returns the first import slot in table order declared as
// module.field. Only import slots are considered and names match exactly.
func (m Module) findImport(module, field string) (*engine.Function, error) {
	fn, ok := m.raw.FindImport(module, field)
	if !ok {
		return nil, errors.FunctionNotFound(errors.PhaseLinking, module, field)
	}
	return fn, nil
}
