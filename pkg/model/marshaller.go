package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MarshallerContext rehydrates raw form values into the types declared by the
// process engine (task io definitions, process variable schema).
type MarshallerContext interface {
	Rehydrate(typeName string, value any) (any, error)
}

// DefaultMarshaller understands the scalar type names used by process
// definitions, with or without a java.lang / java.util package prefix. Values
// of unknown types pass through untouched.
type DefaultMarshaller struct{}

// Rehydrate converts value into the type named by typeName.
func (DefaultMarshaller) Rehydrate(typeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, isString := value.(string)
	switch SimpleTypeName(typeName) {
	case "string":
		if isString {
			return raw, nil
		}
		return fmt.Sprint(value), nil
	case "integer", "int", "long", "short":
		if !isString {
			return value, nil
		}
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("model: rehydrate %q as %s: %w", raw, typeName, err)
		}
		return parsed, nil
	case "double", "float", "bigdecimal":
		if !isString {
			return value, nil
		}
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("model: rehydrate %q as %s: %w", raw, typeName, err)
		}
		return parsed, nil
	case "boolean", "bool":
		if !isString {
			return value, nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("model: rehydrate %q as %s: %w", raw, typeName, err)
		}
		return parsed, nil
	case "date", "localdate", "localdatetime":
		if !isString {
			return value, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("model: rehydrate %q as %s: unsupported date layout", raw, typeName)
	default:
		return value, nil
	}
}

// SimpleTypeName lower-cases a type name and strips any package prefix, so
// "java.lang.Integer" and "Integer" both yield "integer".
func SimpleTypeName(typeName string) string {
	name := strings.TrimSpace(typeName)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.ToLower(name)
}
