// Package schema validates values crossing the model boundary.
//
// Every outgoing payload and every parsed model answer is decoded into a
// declared Go type and checked with go-playground/validator struct tags.
// Decoding goes through a JSON copy, so the caller's value is never
// mutated, undeclared fields are dropped and type mismatches fail instead
// of being coerced.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"daybrief/internal/model"
)

// Error reports the first violation found while validating against a schema.
type Error struct {
	Schema  string
	Field   string
	Rule    string
	Value   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s: %s", e.Schema, e.Message)
}

// Defaulter is implemented by schema types that declare defaults. It runs
// after decoding and before the validation rules.
type Defaulter interface {
	ApplyDefaults()
}

// Pipeline holds a configured validator. It is safe for concurrent use.
type Pipeline struct {
	v *validator.Validate
}

// New returns a Pipeline with the custom rules used by daybrief schemas.
func New() *Pipeline {
	v := validator.New()

	// Report json names ("currentDate") instead of Go names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	RegisterRules(v)

	return &Pipeline{v: v}
}

// RegisterRules installs the custom tags on v. The config package reuses them.
func RegisterRules(v *validator.Validate) {
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := model.ParseTime(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate decodes value into T and checks it against T's rules.
//
// value may be raw JSON ([]byte or json.RawMessage), a decoded JSON value
// (map[string]any, ...) or a typed Go value; all take the same path.
func Validate[T any](p *Pipeline, name string, value any) (T, error) {
	var out T

	raw, err := toJSON(value)
	if err != nil {
		return out, &Error{Schema: name, Rule: "json", Message: "value is not representable as JSON: " + err.Error()}
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, &Error{Schema: name, Rule: "required", Message: "value is null"}
	}

	if err := checkKeys(raw, reflect.TypeOf(out), ""); err != nil {
		err.Schema = name
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, decodeError(name, err)
	}

	if d, ok := any(&out).(Defaulter); ok {
		d.ApplyDefaults()
	}

	if err := p.v.Struct(out); err != nil {
		return out, fieldError(name, err)
	}
	return out, nil
}

func toJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

// checkKeys walks raw alongside t and rejects object keys that
// encoding/json would accept loosely: a key repeated within one object, and
// a key that names a declared field only under case folding. Undeclared keys
// are left for Unmarshal to drop.
func checkKeys(raw []byte, t reflect.Type, path string) *Error {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch {
	case raw[0] == '{' && t.Kind() == reflect.Struct:
		fields := jsonFields(t)
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return nil
		}
		seen := make(map[string]bool)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil
			}
			key, _ := tok.(string)
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return nil
			}

			field := joinPath(path, key)
			if seen[key] {
				return &Error{Field: field, Rule: "duplicate", Message: fmt.Sprintf("field '%s' appears more than once", field)}
			}
			seen[key] = true

			ft, ok := fields[key]
			if !ok {
				for declared := range fields {
					if strings.EqualFold(declared, key) {
						return &Error{
							Field:   field,
							Rule:    "case",
							Value:   key,
							Message: fmt.Sprintf("field '%s' must be spelled '%s'", field, joinPath(path, declared)),
						}
					}
				}
				continue
			}
			if err := checkKeys(value, ft, field); err != nil {
				return err
			}
		}
	case raw[0] == '[' && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		for i, item := range items {
			if err := checkKeys(item, t.Elem(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// jsonFields maps the exact json names of t's fields to their types,
// including fields promoted from embedded structs.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" && !strings.HasPrefix(tag, "-,") {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				for k, v := range jsonFields(ft) {
					if _, ok := out[k]; !ok {
						out[k] = v
					}
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
	return out
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func decodeError(name string, err error) *Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return &Error{
				Schema:  name,
				Rule:    "type",
				Value:   typeErr.Value,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}
		return &Error{
			Schema:  name,
			Field:   typeErr.Field,
			Rule:    "type",
			Value:   typeErr.Value,
			Message: fmt.Sprintf("field '%s' must be %s, got %s", typeErr.Field, describeType(typeErr.Type), typeErr.Value),
		}
	}
	return &Error{Schema: name, Rule: "json", Message: err.Error()}
}

func fieldError(name string, err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Schema: name, Rule: "invalid", Message: err.Error()}
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	value := fmt.Sprintf("%v", fe.Value())

	return &Error{
		Schema:  name,
		Field:   field,
		Rule:    fe.Tag(),
		Value:   value,
		Message: formatRule(field, fe.Tag(), fe.Param(), value),
	}
}

func formatRule(field, tag, param, value string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "notblank":
		return fmt.Sprintf("field '%s' must not be blank", field)
	case "iso8601":
		return fmt.Sprintf("field '%s' must be an ISO-8601 timestamp (got %q)", field, value)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s (got %q)", field, param, value)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, param)
	default:
		return fmt.Sprintf("field '%s' failed rule %s (got %q)", field, tag, value)
	}
}

func describeType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "a number"
	case reflect.Pointer:
		return describeType(t.Elem())
	default:
		return t.String()
	}
}
