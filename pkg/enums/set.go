package enums

import (
	"fmt"
	"slices"
	"strings"
)

// valueSet is the closed list of values a string enum accepts.
type valueSet[T ~string] struct {
	kind   string
	values []T
}

func newValueSet[T ~string](kind string, values ...T) valueSet[T] {
	return valueSet[T]{kind: kind, values: values}
}

func (s valueSet[T]) has(v T) bool {
	return slices.Contains(s.values, v)
}

// parse accepts raw input case-insensitively and with surrounding space.
func (s valueSet[T]) parse(raw string) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	if !s.has(v) {
		var zero T
		return zero, fmt.Errorf("invalid %s %q", s.kind, raw)
	}
	return v, nil
}
