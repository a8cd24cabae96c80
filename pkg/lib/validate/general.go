package validate

import (
	"fmt"
	"reflect"
	"strings"
)

// NotNil checks if the provided value is not nil.
// It returns an error if the value is nil, using the provided message and arguments.
func NotNil(value any, msg string, args ...any) error {
	if value == nil {
		return createError(msg, args...)
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return createError(msg, args...)
		}
	default:
	}
	return nil
}

// NotBlank checks if the provided string is not empty or whitespace only.
// It returns an error if the string is blank, using the provided message and arguments.
func NotBlank(value string, msg string, args ...any) error {
	if strings.TrimSpace(value) == "" {
		return createError(msg, args...)
	}
	return nil
}

// KeyNotInMap checks the provided map does not contain the given key.
// It returns an error if the key is present, using the provided message and arguments.
func KeyNotInMap[K comparable, V any](key K, m map[K]V, msg string, args ...any) error {
	if _, ok := m[key]; ok {
		return createError(msg, args...)
	}
	return nil
}

func createError(msg string, args ...any) error {
	return fmt.Errorf(msg, args...)
}
