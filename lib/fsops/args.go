package fsops

import "math"

// Argument helpers. Values arrive as decoded by the serializer: integers as
// int64 or uint64 (float64 with the json codec), byte slices as []byte
// (string with the json codec).

func argString(op string, args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", invalidArgument(op, "missing argument %d (%s)", i, name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", invalidArgument(op, "argument %d (%s) must be a string, got %T", i, name, args[i])
	}
	return s, nil
}

func argBytes(op string, args []any, i int, name string) ([]byte, error) {
	if i >= len(args) {
		return nil, invalidArgument(op, "missing argument %d (%s)", i, name)
	}
	switch v := args[i].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return []byte{}, nil
	default:
		return nil, invalidArgument(op, "argument %d (%s) must be bytes, got %T", i, name, args[i])
	}
}

func argBool(op string, args []any, i int, name string, def bool) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, invalidArgument(op, "argument %d (%s) must be a boolean, got %T", i, name, args[i])
	}
	return b, nil
}

func argInt(op string, args []any, i int, name string, def int64) (int64, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	switch v := args[i].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, invalidArgument(op, "argument %d (%s) out of range", i, name)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, invalidArgument(op, "argument %d (%s) must be an integer", i, name)
		}
		return int64(v), nil
	default:
		return 0, invalidArgument(op, "argument %d (%s) must be an integer, got %T", i, name, args[i])
	}
}
