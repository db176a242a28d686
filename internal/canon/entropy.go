package canon

import (
	"fmt"
	"reflect"
	"time"
)

// EntropyChecker asserts that a value about to be digested carries no
// wall-clock or floating-point entropy. Hosts can run AssertNoEntropy
// over a release manifest or plan snapshot before trusting its digest.
type EntropyChecker struct {
	strict bool
}

// NewEntropyChecker returns a checker. strict=false disables all checks,
// used only by tests that intentionally exercise non-strict paths.
func NewEntropyChecker(strict bool) *EntropyChecker {
	return &EntropyChecker{strict: strict}
}

// AssertNoEntropy walks v and returns an error on the first time.Time,
// *time.Time, or float32/float64 it finds. Canonical() already renders
// floats deterministically, but a float in a digested struct usually
// means a wall-clock-derived quantity leaked into the trust path, so it
// is flagged here rather than silently canonicalized.
func (c *EntropyChecker) AssertNoEntropy(v any, path string) error {
	if !c.strict {
		return nil
	}
	return c.walk(v, path)
}

// AssertNoEntropy is the package-level convenience form using a strict
// checker, for call sites that don't need to toggle strictness.
func AssertNoEntropy(v any, path string) error {
	return defaultChecker.AssertNoEntropy(v, path)
}

var defaultChecker = NewEntropyChecker(true)

func (c *EntropyChecker) walk(v any, path string) error {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case time.Time:
		return fmt.Errorf("canon: entropy violation at %s: time.Time in digest path", path)
	case *time.Time:
		if val != nil {
			return fmt.Errorf("canon: entropy violation at %s: *time.Time in digest path", path)
		}
		return nil
	case float32, float64:
		return fmt.Errorf("canon: entropy violation at %s: floating-point in digest path", path)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		return c.walkStruct(rv, path)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return c.walk(rv.Elem().Interface(), path)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := c.walk(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			if err := c.walk(rv.MapIndex(key).Interface(), path+"."+fmt.Sprint(key.Interface())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *EntropyChecker) walkStruct(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		if !field.CanInterface() {
			continue
		}
		fieldType := rt.Field(i)
		fieldPath := path + "." + fieldType.Name

		if field.Type() == reflect.TypeOf(time.Time{}) {
			return fmt.Errorf("canon: entropy violation at %s: struct field is time.Time", fieldPath)
		}
		switch field.Kind() {
		case reflect.Float32, reflect.Float64:
			return fmt.Errorf("canon: entropy violation at %s: struct field is floating-point", fieldPath)
		case reflect.Struct, reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
			if err := c.walk(field.Interface(), fieldPath); err != nil {
				return err
			}
		}
	}
	return nil
}
