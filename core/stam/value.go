package stam

import (
	"fmt"
	"strconv"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// normalizeValue maps supported Go values onto string, int64, float64, bool or nil.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, &errors.ValidationError{
			Field:   "value",
			Value:   fmt.Sprintf("%v", v),
			Message: fmt.Sprintf("unsupported data value type %T", v),
		}
	}
}

// valueString renders a normalized value as text.
func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// valueTypeName returns the wire type tag of a normalized value.
func valueTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "Null"
	case int64:
		return "Int"
	case float64:
		return "Float"
	case bool:
		return "Bool"
	default:
		return "String"
	}
}

// FormatValue renders a data value as text. Nil renders as the empty string.
func FormatValue(v any) string {
	return valueString(v)
}
