package harness

import (
	"fmt"
	"math"
	"sort"

	"github.com/roach88/compositefk/internal/ir"
)

// convertToIRValue converts a YAML-parsed scalar to an IRValue.
// YAML null becomes IRNull since columns may be NULL.
func convertToIRValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case nil:
		return ir.IRNull{}, nil
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", v)
		}
		return ir.IRInt(int64(v)), nil
	case float64:
		// Integral floats come from JSON-style sources
		if v == math.Trunc(v) && v >= math.MinInt64 && v <= math.MaxInt64 {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("float values are forbidden - use int instead: %v", v)
	case bool:
		return ir.IRBool(v), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", val)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
