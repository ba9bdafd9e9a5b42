package tools

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/yukin371/palaver/internal/core"
)

// SchemaFor derives a JSON parameter schema from a Go argument type.
//
// Struct fields become named parameters (json tag names respected, "-"
// skipped); a field is required unless it is a pointer or carries the
// omitempty option. A `desc` struct tag becomes the parameter
// description. Types that cannot be expressed in the schema primitive
// set (channels, funcs, complex numbers, bare interfaces) fail with an
// error rather than producing a lossy schema.
func SchemaFor(t reflect.Type) (*core.Schema, error) {
	return schemaOf(t)
}

func schemaOf(t reflect.Type) (*core.Schema, error) {
	switch t.Kind() {
	case reflect.Pointer:
		return schemaOf(t.Elem())
	case reflect.String:
		return &core.Schema{Type: "string"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &core.Schema{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &core.Schema{Type: "number"}, nil
	case reflect.Bool:
		return &core.Schema{Type: "boolean"}, nil
	case reflect.Slice, reflect.Array:
		items, err := schemaOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return &core.Schema{Type: "array", Items: items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported parameter type %s: map keys must be strings", t)
		}
		values, err := schemaOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return &core.Schema{Type: "object", AdditionalProperties: values}, nil
	case reflect.Struct:
		return structSchema(t)
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", t)
	}
}

func structSchema(t reflect.Type) (*core.Schema, error) {
	schema := &core.Schema{
		Type:       "object",
		Properties: map[string]*core.Schema{},
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, optional := fieldName(field)
		if name == "" {
			continue
		}
		prop, err := schemaOf(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if desc := field.Tag.Get("desc"); desc != "" {
			prop.Description = desc
		}
		schema.Properties[name] = prop
		if !optional && field.Type.Kind() != reflect.Pointer {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema, nil
}

// fieldName resolves the wire name of a struct field and whether the json
// tag marks it optional.
func fieldName(field reflect.StructField) (name string, optional bool) {
	name = field.Name
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return name, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		return "", false
	}
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			optional = true
		}
	}
	return name, optional
}
