// Package interpolation expands ${VAR} and ${VAR:default} environment
// references inside configuration values.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// Expand replaces every ${VAR} or ${VAR:default} reference in the input
// with the environment value. A reference without a default for an unset
// variable is an error; all missing variables are reported together.
func Expand(input string) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	expanded := envRefPattern.ReplaceAllStringFunc(input, func(ref string) string {
		parts := envRefPattern.FindStringSubmatch(ref)
		name, hasDefault, fallback := parts[1], parts[2] == ":", parts[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		missing = append(missing, fmt.Errorf("environment variable not defined: %s", name))
		return ref
	})
	return expanded, errors.Join(missing...)
}

// Apply expands environment references in every field of the struct tagged
// `env_interpolation:"yes"`. The struct is modified in place. String
// fields, string slices, string-valued maps, and nested (pointer-to-)
// struct fields are supported.
func Apply(v any) error {
	if v == nil {
		return nil
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct or pointer to struct, got %T", v)
	}

	typ := val.Type()
	var errs []error
	for i := range val.NumField() {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}

		tagged := strings.EqualFold(typ.Field(i).Tag.Get("env_interpolation"), "yes")
		if err := applyField(field, tagged); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", typ.Field(i).Name, err))
		}
	}
	return errors.Join(errs...)
}

func applyField(field reflect.Value, tagged bool) error {
	switch field.Kind() {
	case reflect.String:
		if !tagged || field.String() == "" {
			return nil
		}
		expanded, err := Expand(field.String())
		if err != nil {
			return err
		}
		field.SetString(expanded)
		return nil

	case reflect.Map:
		if !tagged || field.IsNil() {
			return nil
		}
		if field.Type().Key().Kind() != reflect.String ||
			field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var errs []error
		for _, key := range field.MapKeys() {
			expanded, err := Expand(field.MapIndex(key).String())
			if err != nil {
				errs = append(errs, fmt.Errorf("key %s: %w", key.String(), err))
				continue
			}
			field.SetMapIndex(key, reflect.ValueOf(expanded))
		}
		return errors.Join(errs...)

	case reflect.Slice:
		if !tagged || field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var errs []error
		for j := range field.Len() {
			elem := field.Index(j)
			if elem.String() == "" {
				continue
			}
			expanded, err := Expand(elem.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("index %d: %w", j, err))
				continue
			}
			elem.SetString(expanded)
		}
		return errors.Join(errs...)

	case reflect.Struct:
		// Nested structs are always walked so tagged leaves are found.
		return Apply(field.Addr().Interface())

	case reflect.Ptr:
		if field.Type().Elem().Kind() == reflect.Struct && !field.IsNil() {
			return Apply(field.Interface())
		}
		return nil
	}
	return nil
}
