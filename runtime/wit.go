package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostlink/errors"
)

// WITFunction is a function declaration read from WIT text. Core modules
// carry no signedness, so WIT is how callers learn whether an i32 is a u32
// or an s32.
type WITFunction struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// Signature maps the WIT declaration onto a core contract. Only scalar WIT
// types have a single-slot core form.
func (f WITFunction) Signature() (Signature, error) {
	var sig Signature
	for _, p := range f.Params {
		vt, err := witValueType(p)
		if err != nil {
			return Signature{}, err
		}
		sig.Params = append(sig.Params, vt)
	}
	if len(f.Results) > 1 {
		return Signature{}, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("%s returns %d values", f.Name, len(f.Results)))
	}
	for _, r := range f.Results {
		vt, err := witValueType(r)
		if err != nil {
			return Signature{}, err
		}
		sig.Results = append(sig.Results, vt)
	}
	return sig, nil
}

var witFuncPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseWIT extracts function declarations of the form
// "[export] name: func(params) -> result;" from WIT text.
func ParseWIT(text string) (map[string]WITFunction, error) {
	funcs := make(map[string]WITFunction)

	for _, match := range witFuncPattern.FindAllStringSubmatch(text, -1) {
		fn := WITFunction{Name: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range splitParams(params) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				t, err := parseWitType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse param type "+typStr)
				}
				fn.Params = append(fn.Params, t)
			}
		}

		result := strings.TrimSpace(match[3])
		switch {
		case result == "" || result == "()":
		case strings.HasPrefix(result, "(") && strings.HasSuffix(result, ")"):
			for _, part := range splitParams(result[1 : len(result)-1]) {
				t, err := parseWitType(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type "+part)
				}
				fn.Results = append(fn.Results, t)
			}
		default:
			t, err := parseWitType(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type "+result)
			}
			fn.Results = []wit.Type{t}
		}

		funcs[fn.Name] = fn
	}

	if len(funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return funcs, nil
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
		case ')', '>':
			depth--
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
				continue
			}
		}
		current.WriteRune(ch)
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

func parseWitType(s string) (wit.Type, error) {
	return wit.ParseType(strings.TrimSpace(s))
}

func witValueType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, errors.New(errors.PhaseParse, errors.KindUnsupported).
			Detail("WIT type %T has no single-value core form", t).
			Build()
	}
}

// ParseWITValue parses text as a value of the scalar WIT type t, returning
// a Go value Function.Call accepts.
func ParseWITValue(t wit.Type, text string) (any, error) {
	switch t.(type) {
	case wit.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, err
		}
		if b {
			return uint32(1), nil
		}
		return uint32(0), nil
	case wit.U8, wit.U16, wit.U32:
		n, err := strconv.ParseUint(text, 0, witBits(t))
		return uint32(n), err
	case wit.S8, wit.S16, wit.S32:
		n, err := strconv.ParseInt(text, 0, witBits(t))
		return int32(n), err
	case wit.Char:
		r := []rune(text)
		if len(r) != 1 {
			return nil, fmt.Errorf("char needs exactly one rune, got %q", text)
		}
		return uint32(r[0]), nil
	case wit.U64:
		return strconv.ParseUint(text, 0, 64)
	case wit.S64:
		return strconv.ParseInt(text, 0, 64)
	case wit.F32:
		f, err := strconv.ParseFloat(text, 32)
		return float32(f), err
	case wit.F64:
		return strconv.ParseFloat(text, 64)
	default:
		_, err := witValueType(t)
		return nil, err
	}
}

// FormatWITValue renders a Function.Call result as the WIT type t, restoring
// the signedness the core result lost.
func FormatWITValue(t wit.Type, v any) string {
	switch t.(type) {
	case wit.Bool:
		return strconv.FormatBool(v.(int32) != 0)
	case wit.U8, wit.U16, wit.U32:
		return strconv.FormatUint(uint64(uint32(v.(int32))), 10)
	case wit.Char:
		return strconv.QuoteRune(rune(v.(int32)))
	case wit.U64:
		return strconv.FormatUint(uint64(v.(int64)), 10)
	default:
		return fmt.Sprint(v)
	}
}

func witBits(t wit.Type) int {
	switch t.(type) {
	case wit.U8, wit.S8:
		return 8
	case wit.U16, wit.S16:
		return 16
	default:
		return 32
	}
}
