package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// FromJSON decodes a JSON document into codec values. Integral numbers
// become int64, other numbers float64, objects map[string]any and arrays
// []any.
func FromJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON value: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to parse JSON value: trailing data")
	}
	return fromJSON(v)
}

func fromJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case []any:
		for i := range x {
			item, err := fromJSON(x[i])
			if err != nil {
				return nil, err
			}
			x[i] = item
		}
		return x, nil
	case map[string]any:
		for k, item := range x {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			x[k] = conv
		}
		return x, nil
	}
	return v, nil
}

// ToJSON converts a codec value into something encoding/json can marshal.
// Sets become arrays, maps become arrays of [key, value] pairs, undefined
// and non-finite floats become null.
func ToJSON(v any) any {
	switch x := v.(type) {
	case undefined:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ToJSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = ToJSON(item)
		}
		return out
	case *Set:
		out := make([]any, 0, x.Len())
		for _, item := range x.items {
			out = append(out, ToJSON(item))
		}
		return out
	case *Map:
		out := make([]any, 0, x.Len())
		x.Range(func(k, val any) bool {
			out = append(out, []any{ToJSON(k), ToJSON(val)})
			return true
		})
		return out
	}
	return v
}
