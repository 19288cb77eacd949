package rel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a single cell in a table. After normalization it is one of
// nil, bool, int64, uint64, float64, string, or []Value.
type Value = any

// Row is a single tuple of a table, positionally aligned with the schema.
type Row []Value

// normalizeValue widens raw Go values to the canonical representations the
// engine computes on. Unsupported types are rejected rather than coerced.
func normalizeValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, uint64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case float32:
		return float64(x), nil
	case []Value:
		out := make([]Value, len(x))
		for i, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func isNumeric(v Value) bool {
	switch v.(type) {
	case int64, uint64, float64:
		return true
	}
	return false
}

// equalValues reports whether two non-null values compare equal. Numeric
// values compare across int/uint/float representations; integer operands
// compare integrally so large ids keep their low bits.
func equalValues(a, b Value) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	if isNumeric(a) && isNumeric(b) {
		c, err := numericCompare(a, b)
		if err != nil {
			return false, err
		}
		return c == 0, nil
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y, nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y, nil
	case []Value:
		y, ok := b.([]Value)
		if !ok || len(x) != len(y) {
			return false, nil
		}
		for i := range x {
			eq, err := equalValues(x[i], y[i])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("cannot compare values of types %T and %T", a, b)
}

// compareValues orders two non-null values: -1, 0, or +1.
func compareValues(a, b Value) (int, error) {
	if isNumeric(a) && isNumeric(b) {
		return numericCompare(a, b)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot order values of types %T and %T", a, b)
}

// numericCompare orders two numeric values. Pairs of integers compare
// integrally rather than through float64, which would collapse values
// differing only below 2^53. A float operand forces float comparison.
func numericCompare(a, b Value) (int, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), nil
		case uint64:
			if x < 0 {
				return -1, nil
			}
			return cmpOrdered(uint64(x), y), nil
		case float64:
			return cmpOrdered(float64(x), y), nil
		}
	case uint64:
		switch y := b.(type) {
		case int64:
			if y < 0 {
				return 1, nil
			}
			return cmpOrdered(x, uint64(y)), nil
		case uint64:
			return cmpOrdered(x, y), nil
		case float64:
			return cmpOrdered(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), nil
		case uint64:
			return cmpOrdered(x, float64(y)), nil
		case float64:
			return cmpOrdered(x, y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare values of types %T and %T", a, b)
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// encodeValue renders a value to a canonical string key. Numerics that hold
// an integral value share an encoding so 2 (int64) and 2.0 (float64) key the
// same group.
func encodeValue(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("~")
	case bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(x))
	case int64:
		sb.WriteString("n:")
		sb.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		sb.WriteString("n:")
		sb.WriteString(strconv.FormatUint(x, 10))
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			sb.WriteString("n:")
			sb.WriteString(strconv.FormatInt(int64(x), 10))
		} else {
			sb.WriteString("f:")
			sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
	case string:
		sb.WriteString("s:")
		sb.WriteString(strconv.Quote(x))
	case []Value:
		sb.WriteString("l:[")
		for i, e := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeValue(sb, e)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(fmt.Sprintf("?:%v", x))
	}
}

// encodeKey builds a hash key from a tuple of values. hasNull reports whether
// any component is NULL, which callers use to apply join semantics (NULL keys
// never match).
func encodeKey(values []Value) (key string, hasNull bool) {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte('|')
		}
		if v == nil {
			hasNull = true
		}
		encodeValue(&sb, v)
	}
	return sb.String(), hasNull
}
