package query

import (
	"cmp"
	"reflect"
	"strings"
	"time"
)

// normalize collapses the scalar kinds an extractor or a decoded JSON value
// may produce into float64, string, bool or time.Time.
func normalize(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case time.Time:
		return typed.UTC()
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.UTC()
	case string, bool, float64:
		return typed
	}

	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Pointer, reflect.Interface:
		if reflected.IsNil() {
			return nil
		}
		return normalize(reflected.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(reflected.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(reflected.Uint())
	case reflect.Float32, reflect.Float64:
		return reflected.Float()
	case reflect.String:
		return reflected.String()
	case reflect.Bool:
		return reflected.Bool()
	}
	return value
}

// listValues returns the elements of a slice or array value.
func listValues(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if items, ok := value.([]any); ok {
		return items, true
	}
	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return nil, false
	}
	if reflected.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, reflected.Len())
	for index := range items {
		items[index] = reflected.Index(index).Interface()
	}
	return items, true
}

// compareValues orders two normalised scalars. ok is false when the values
// are not mutually comparable.
func compareValues(left, right any) (result int, ok bool) {
	left, right = normalize(left), normalize(right)
	switch typedLeft := left.(type) {
	case float64:
		if typedRight, isFloat := right.(float64); isFloat {
			return cmp.Compare(typedLeft, typedRight), true
		}
	case string:
		switch typedRight := right.(type) {
		case string:
			return strings.Compare(typedLeft, typedRight), true
		case time.Time:
			parsed, err := time.Parse(time.RFC3339Nano, typedLeft)
			if err != nil {
				return 0, false
			}
			return parsed.Compare(typedRight), true
		}
	case time.Time:
		switch typedRight := right.(type) {
		case time.Time:
			return typedLeft.Compare(typedRight), true
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, typedRight)
			if err != nil {
				return 0, false
			}
			return typedLeft.Compare(parsed), true
		}
	case bool:
		if typedRight, isBool := right.(bool); isBool {
			switch {
			case typedLeft == typedRight:
				return 0, true
			case !typedLeft:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func equalValues(left, right any) bool {
	if result, ok := compareValues(left, right); ok {
		return result == 0
	}
	left, right = normalize(left), normalize(right)
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return reflect.DeepEqual(left, right)
}

func containsValue(items []any, target any) bool {
	for _, item := range items {
		if equalValues(item, target) {
			return true
		}
	}
	return false
}

// isAbsent reports whether an extracted value counts as missing for $exists.
// Numbers and booleans always exist.
func isAbsent(value any) bool {
	if items, ok := listValues(value); ok {
		return len(items) == 0
	}
	switch typed := normalize(value).(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case time.Time:
		return typed.IsZero()
	}
	if reflected := reflect.ValueOf(value); reflected.Kind() == reflect.Map {
		return reflected.Len() == 0
	}
	return false
}

// encodeValue converts a filter operand into its JSON-friendly form.
func encodeValue(value any) any {
	switch typed := value.(type) {
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.UTC().Format(time.RFC3339Nano)
	}
	if items, ok := listValues(value); ok {
		encoded := make([]any, len(items))
		for index, item := range items {
			encoded[index] = encodeValue(item)
		}
		return encoded
	}
	return value
}
