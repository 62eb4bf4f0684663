package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
)

// ErrUnsupported is returned for values that have no structured encoding,
// such as structs, channels, functions or cyclic containers.
var ErrUnsupported = errors.New("value cannot be stored")

const maxDepth = 512

const (
	tagNull uint8 = iota
	tagUndefined
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagTime
	tagArray
	tagObject
	tagSet
	tagMap
)

// envelope is the stored form of a value. Containers nest envelopes in
// Items; objects pair Keys with Items, maps flatten entries as k0,v0,k1,v1.
type envelope struct {
	Tag   uint8      `codec:"t"`
	Bool  bool       `codec:"b,omitempty"`
	Int   int64      `codec:"i,omitempty"`
	Float float64    `codec:"f,omitempty"`
	Str   string     `codec:"s,omitempty"`
	Bytes []byte     `codec:"y,omitempty"`
	Keys  []string   `codec:"k,omitempty"`
	Items []envelope `codec:"a,omitempty"`
}

var handle = func() *msgpack.MsgpackHandle {
	h := &msgpack.MsgpackHandle{}
	h.WriteExt = true
	return h
}()

// Marshal encodes v into its stored form.
func Marshal(v any) ([]byte, error) {
	env, err := wrap(v, 0)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf, handle).Encode(&env); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a value produced by Marshal.
func Unmarshal(data []byte) (any, error) {
	var env envelope
	if err := msgpack.NewDecoder(bytes.NewReader(data), handle).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return unwrap(&env)
}

func wrap(v any, depth int) (envelope, error) {
	if depth > maxDepth {
		return envelope{}, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}

	switch x := v.(type) {
	case nil:
		return envelope{Tag: tagNull}, nil
	case undefined:
		return envelope{Tag: tagUndefined}, nil
	case bool:
		return envelope{Tag: tagBool, Bool: x}, nil
	case string:
		return envelope{Tag: tagString, Str: x}, nil
	case []byte:
		return envelope{Tag: tagBytes, Bytes: append([]byte{}, x...)}, nil
	case time.Time:
		return envelope{Tag: tagTime, Str: x.UTC().Format(time.RFC3339Nano)}, nil
	case float64:
		return envelope{Tag: tagFloat, Float: x}, nil
	case float32:
		return envelope{Tag: tagFloat, Float: float64(x)}, nil
	case *Set:
		env := envelope{Tag: tagSet, Items: make([]envelope, 0, x.Len())}
		for _, item := range x.items {
			e, err := wrap(item, depth+1)
			if err != nil {
				return envelope{}, err
			}
			env.Items = append(env.Items, e)
		}
		return env, nil
	case *Map:
		env := envelope{Tag: tagMap, Items: make([]envelope, 0, 2*x.Len())}
		for i := range x.keys {
			k, err := wrap(x.keys[i], depth+1)
			if err != nil {
				return envelope{}, err
			}
			val, err := wrap(x.values[i], depth+1)
			if err != nil {
				return envelope{}, err
			}
			env.Items = append(env.Items, k, val)
		}
		return env, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return envelope{Tag: tagInt, Int: rv.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return envelope{Tag: tagFloat, Float: float64(u)}, nil
		}
		return envelope{Tag: tagInt, Int: int64(u)}, nil
	case reflect.Float32, reflect.Float64:
		return envelope{Tag: tagFloat, Float: rv.Float()}, nil
	case reflect.Bool:
		return envelope{Tag: tagBool, Bool: rv.Bool()}, nil
	case reflect.String:
		return envelope{Tag: tagString, Str: rv.String()}, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return envelope{Tag: tagNull}, nil
		}
		env := envelope{Tag: tagArray, Items: make([]envelope, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			e, err := wrap(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return envelope{}, err
			}
			env.Items = append(env.Items, e)
		}
		return env, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return envelope{}, fmt.Errorf("%w: map with %s keys, use *codec.Map", ErrUnsupported, rv.Type().Key())
		}
		if rv.IsNil() {
			return envelope{Tag: tagNull}, nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		env := envelope{Tag: tagObject, Keys: keys, Items: make([]envelope, 0, len(keys))}
		for _, k := range keys {
			e, err := wrap(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface(), depth+1)
			if err != nil {
				return envelope{}, err
			}
			env.Items = append(env.Items, e)
		}
		return env, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return envelope{Tag: tagNull}, nil
		}
	}
	return envelope{}, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func unwrap(env *envelope) (any, error) {
	switch env.Tag {
	case tagNull:
		return nil, nil
	case tagUndefined:
		return Undefined, nil
	case tagBool:
		return env.Bool, nil
	case tagInt:
		return env.Int, nil
	case tagFloat:
		return env.Float, nil
	case tagString:
		return env.Str, nil
	case tagBytes:
		if env.Bytes == nil {
			return []byte{}, nil
		}
		return env.Bytes, nil
	case tagTime:
		t, err := time.Parse(time.RFC3339Nano, env.Str)
		if err != nil {
			return nil, fmt.Errorf("failed to decode time: %w", err)
		}
		return t, nil
	case tagArray:
		out := make([]any, 0, len(env.Items))
		for i := range env.Items {
			v, err := unwrap(&env.Items[i])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case tagObject:
		if len(env.Keys) != len(env.Items) {
			return nil, fmt.Errorf("corrupt object: %d keys, %d values", len(env.Keys), len(env.Items))
		}
		out := make(map[string]any, len(env.Keys))
		for i, k := range env.Keys {
			v, err := unwrap(&env.Items[i])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case tagSet:
		s := &Set{}
		for i := range env.Items {
			v, err := unwrap(&env.Items[i])
			if err != nil {
				return nil, err
			}
			s.Add(v)
		}
		return s, nil
	case tagMap:
		if len(env.Items)%2 != 0 {
			return nil, fmt.Errorf("corrupt map: odd number of items")
		}
		m := NewMap()
		for i := 0; i < len(env.Items); i += 2 {
			k, err := unwrap(&env.Items[i])
			if err != nil {
				return nil, err
			}
			v, err := unwrap(&env.Items[i+1])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown value tag %d", env.Tag)
}
