package dataimport

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateRow checks required fields and type conformance of rec against defs.
// Type checks only apply to cells that are not empty.
func (val *Validator) ValidateRow(rec Record, defs Definitions) []Violation {
	var out []Violation
	for _, def := range defs {
		raw, hasRaw := rec.Raw[def.Name]
		value := rec.Values[def.Name]
		if !hasRaw {
			raw = fmt.Sprint(value)
			if value == nil {
				raw = ""
			}
		}
		if strings.TrimSpace(raw) == "" {
			if def.Required {
				out = append(out, Violation{Line: rec.Line, Code: CodeRequired, Field: def.Name})
			}
			continue
		}
		if code, ok := val.check(def.Type, value); !ok {
			out = append(out, Violation{Line: rec.Line, Code: code, Field: def.Name, Info: raw})
		}
	}
	return out
}

func (val *Validator) check(t FieldType, value any) (string, bool) {
	switch t {
	case TypeText:
		return "", true
	case TypeIDNumber:
		s, ok := value.(string)
		return CodeInvalidValue, ok && !strings.ContainsAny(s, " \t") && val.v.Var(s, "max=255") == nil
	case TypeInt:
		_, ok := value.(int64)
		return CodeInvalidValue, ok
	case TypeEmail:
		s, ok := value.(string)
		return CodeInvalidValue, ok && val.v.Var(strings.TrimSpace(s), "email") == nil
	case TypeEmailList:
		list, ok := value.([]string)
		if !ok {
			return CodeInvalidValue, false
		}
		return CodeInvalidValue, val.v.Var(list, "dive,email") == nil
	case TypeTimestamp:
		ts, ok := value.(time.Time)
		return CodeInvalidValue, ok && ts.Unix() > 0
	case TypeForeignKey:
		id, ok := value.(int64)
		return CodeReferenceNotFound, ok && id > 0
	default:
		return CodeInvalidValue, false
	}
}
