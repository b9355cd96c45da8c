// Package restore rebuilds entities from stored or external JSON. Unknown
// keys are dropped silently at every nesting level before decoding, so old
// rows and over-chatty model output never fail construction; schema drift is
// not an error. Known fields with the wrong type still fail loudly.
package restore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	fieldCache      sync.Map // reflect.Type -> map[string]reflect.Type
	unmarshalerType = reflect.TypeFor[json.Unmarshaler]()
)

// Entity decodes data into T, keeping only the fields T declares.
func Entity[T any](data []byte) (T, error) {
	var zero T
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return zero, fmt.Errorf("restore: %w", err)
	}
	return FromMap[T](raw)
}

// FromMap filters m against T's declared field set and decodes the rest.
func FromMap[T any](m map[string]any) (T, error) {
	var out T
	filtered := Filter(m, reflect.TypeFor[T]())
	data, err := json.Marshal(filtered)
	if err != nil {
		return out, fmt.Errorf("restore: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("restore: %w", err)
	}
	return out, nil
}

// Filter returns a copy of m holding only keys that t declares, recursing
// into nested structs, slices, and struct-valued maps.
func Filter(m map[string]any, t reflect.Type) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return m
	}
	fields := fieldSet(t)
	out := make(map[string]any, len(m))
	for key, val := range m {
		ft, ok := fields[key]
		if !ok {
			continue
		}
		out[key] = filterValue(val, ft)
	}
	return out
}

func filterValue(v any, t reflect.Type) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// Types with their own decoder keep the raw value.
	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return v
	}
	switch t.Kind() {
	case reflect.Struct:
		if m, ok := v.(map[string]any); ok {
			return Filter(m, t)
		}
	case reflect.Slice, reflect.Array:
		if arr, ok := v.([]any); ok {
			out := make([]any, len(arr))
			for i, elem := range arr {
				out[i] = filterValue(elem, t.Elem())
			}
			return out
		}
	case reflect.Map:
		if m, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(m))
			for k, elem := range m {
				out[k] = filterValue(elem, t.Elem())
			}
			return out
		}
	}
	return v
}

func fieldSet(t reflect.Type) map[string]reflect.Type {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]reflect.Type)
	}
	fields := make(map[string]reflect.Type)
	collectFields(t, fields)
	fieldCache.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, out map[string]reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, out)
				continue
			}
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
}
