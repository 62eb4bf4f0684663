// Package codec stores structured values in engines that only hold bytes.
// Values are wrapped in a tagged envelope so their category survives a round
// trip: null, undefined, bool, integer, float, string, bytes, time, array,
// object, set and map.
package codec

import (
	"math"
	"reflect"
	"time"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks an absent value. Get returns it for keys that were never
// stored, and it may also be stored explicitly.
var Undefined any = undefined{}

// IsUndefined reports whether v is the absent-value marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// sameValue compares two members the way set and map lookups need. Numbers
// and scalars match when they encode the same way, NaN matches NaN, and
// slices, maps and pointers match only themselves. A slice is itself only
// when its backing array, length and capacity all agree, so sub-slices and
// empty slices stay distinct members.
func sameValue(a, b any) bool {
	a, b = canonical(a), canonical(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case time.Time:
		return x.Equal(b.(time.Time))
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Slice:
		return va.Cap() > 0 && va.Pointer() == vb.Pointer() &&
			va.Len() == vb.Len() && va.Cap() == vb.Cap()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	if ta.Comparable() {
		return a == b
	}
	return false
}

// canonical folds scalars onto the types Unmarshal produces for them.
func canonical(v any) any {
	switch v.(type) {
	case nil, bool, string, int64, float64, time.Time, *Set, *Map, undefined:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	}
	return v
}

// Set is an insertion-ordered collection of distinct values.
type Set struct {
	items []any
}

// NewSet creates a Set holding items, dropping duplicates.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

func (s *Set) index(v any) int {
	for i, item := range s.items {
		if sameValue(item, v) {
			return i
		}
	}
	return -1
}

// Add inserts v unless it is already present.
func (s *Set) Add(v any) {
	if s.index(v) < 0 {
		s.items = append(s.items, v)
	}
}

func (s *Set) Has(v any) bool { return s.index(v) >= 0 }

func (s *Set) Delete(v any) bool {
	i := s.index(v)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Set) Len() int { return len(s.items) }

// Values returns the members in insertion order.
func (s *Set) Values() []any {
	return append([]any(nil), s.items...)
}

// Map is an insertion-ordered association whose keys may be any value.
type Map struct {
	keys   []any
	values []any
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{}
}

func (m *Map) index(k any) int {
	for i, key := range m.keys {
		if sameValue(key, k) {
			return i
		}
	}
	return -1
}

// Set stores v under k, replacing any existing entry in place.
func (m *Map) Set(k, v any) *Map {
	if i := m.index(k); i >= 0 {
		m.values[i] = v
		return m
	}
	m.keys = append(m.keys, k)
	m.values = append(m.values, v)
	return m
}

func (m *Map) Get(k any) (any, bool) {
	if i := m.index(k); i >= 0 {
		return m.values[i], true
	}
	return nil, false
}

func (m *Map) Delete(k any) bool {
	i := m.index(k)
	if i < 0 {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	return true
}

func (m *Map) Len() int { return len(m.keys) }

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(k, v any) bool) {
	for i := range m.keys {
		if !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}
