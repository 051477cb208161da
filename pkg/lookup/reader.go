package lookup

import (
	"reflect"
	"strings"
)

// AttributeReader reads a named attribute from a lookup result object. Form
// authors name attributes at design time, so the lookup stays name-keyed.
type AttributeReader interface {
	Attribute(object any, name string) (any, bool)
}

// ReflectReader reads attributes from maps with string keys and from structs,
// matching exported field names or json tags case-insensitively. Pointers and
// interfaces are followed.
type ReflectReader struct{}

// Attribute implements AttributeReader.
func (ReflectReader) Attribute(object any, name string) (any, bool) {
	if object == nil || name == "" {
		return nil, false
	}
	if m, ok := object.(map[string]any); ok {
		return mapAttribute(m, name)
	}

	value := reflect.ValueOf(object)
	for value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		if value.IsNil() {
			return nil, false
		}
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Map:
		if value.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		iter := value.MapRange()
		for iter.Next() {
			if strings.EqualFold(iter.Key().String(), name) {
				return iter.Value().Interface(), true
			}
		}
		return nil, false
	case reflect.Struct:
		typ := value.Type()
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			if strings.EqualFold(field.Name, name) || strings.EqualFold(jsonName(field), name) {
				return value.Field(i).Interface(), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func mapAttribute(m map[string]any, name string) (any, bool) {
	if value, ok := m[name]; ok {
		return value, true
	}
	for key, value := range m {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return nil, false
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}
