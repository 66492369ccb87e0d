package runtime

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
)

// RawFunc is a host routine working directly on the engine's value stack.
type RawFunc = engine.RawFunc

const (
	directThunkWords  = 2 // [OpCallRaw, routine]
	closureThunkWords = 3 // [OpCallRawEx, shim, closure key]
)

// LinkFunction binds a raw routine to the import slot module.field. sig is
// the routine's contract and must match the slot's declared type exactly.
//
// It fails with errors.ErrFunctionNotFound, errors.ErrSignatureMismatch or
// errors.ErrOutOfMemory, leaving the slot untouched in every case.
func (m Module) LinkFunction(rt *Runtime, module, field string, sig Signature, fn RawFunc) error {
	m.rtCheck(rt)
	if fn == nil {
		return errors.InvalidInput(errors.PhaseLinking, "nil routine for "+module+"."+field)
	}
	slot, err := m.findImport(module, field)
	if err != nil {
		return err
	}
	if err := validateSignature(errors.PhaseLinking, []string{module, field}, sig, slot.Type); err != nil {
		return err
	}
	if err := m.raw.CanLink(slot); err != nil {
		return err
	}

	page := rt.raw.AcquireCodePage(directThunkWords)
	if page == nil {
		return errors.AllocationFailed(errors.PhaseLinking, "code page", directThunkWords)
	}
	m.install(page, slot, engine.OpCallRaw, rt.raw.RegisterRoutine(fn))
	rt.raw.ReleaseCodePage(page)

	Logger().Debug("function linked",
		zap.String("module", m.raw.Name),
		zap.String("import", slot.Import.String()),
		zap.Stringer("signature", sig))
	return nil
}

// LinkClosure binds a Go closure to the import slot module.field. The
// closure's contract comes from SignatureOf and must match the slot's
// declared type exactly. The runtime keeps the closure alive until it is
// closed, and calls Release on it then if it implements Releaser.
//
// Failures leave the slot untouched and the closure unregistered.
func (m Module) LinkClosure(rt *Runtime, module, field string, closure any) error {
	m.rtCheck(rt)
	shape, err := shapeOf(closure)
	if err != nil {
		return err
	}
	slot, err := m.findImport(module, field)
	if err != nil {
		return err
	}
	path := []string{module, field}
	if err := validateSignature(errors.PhaseLinking, path, shape.sig, slot.Type); err != nil {
		if e, ok := errors.As(err); ok {
			e.GoType = reflect.TypeOf(closure).String()
		}
		return err
	}
	if err := m.raw.CanLink(slot); err != nil {
		return err
	}

	page := rt.raw.AcquireCodePage(closureThunkWords)
	if page == nil {
		return errors.AllocationFailed(errors.PhaseLinking, "code page", closureThunkWords)
	}
	key := rt.closures.add(&closureEntry{shape: shape, value: closure, name: slot.Import.String()})
	m.install(page, slot, engine.OpCallRawEx, rt.shimAddr, key)
	rt.raw.ReleaseCodePage(page)

	Logger().Debug("closure linked",
		zap.String("module", m.raw.Name),
		zap.String("import", slot.Import.String()),
		zap.Stringer("signature", shape.sig),
		zap.Int("closures", rt.closures.len()))
	return nil
}

// install points slot at a new thunk and claims it for this module. The
// page must have room for every word; emission itself cannot fail.
func (m Module) install(page *engine.CodePage, slot *engine.Function, words ...engine.Word) {
	slot.Compiled = page.PC()
	slot.Module = m.raw
	for _, w := range words {
		page.Emit(w)
	}
}
