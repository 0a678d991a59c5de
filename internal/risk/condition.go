package risk

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/BradenHooton/aegis/internal/models"
)

// regexCache holds compiled condition patterns keyed by source.
var regexCache sync.Map

// lookupPath resolves a dotted field path into a nested context.
// The second result is false when any segment is missing or the value is nil.
func lookupPath(evalCtx map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = evalCtx
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return deref(current)
}

func child(node interface{}, key string) (interface{}, bool) {
	node, ok := deref(node)
	if !ok {
		return nil, false
	}
	switch m := node.(type) {
	case map[string]interface{}:
		v, ok := m[key]
		return v, ok
	case models.Metadata:
		v, ok := m[key]
		return v, ok
	}

	rv := reflect.ValueOf(node)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

// deref unwraps pointers. A nil value or nil pointer is reported as absent.
func deref(v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	return rv.Interface(), true
}

// evaluateCondition reports whether cond holds against evalCtx. It never panics.
func evaluateCondition(cond models.Condition, evalCtx map[string]interface{}) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()

	actual, ok := lookupPath(evalCtx, cond.Field)
	if !ok {
		return cond.Operator == models.OpNe
	}

	switch cond.Operator {
	case models.OpEq:
		return looseTypedEqual(actual, cond.Value)
	case models.OpNe:
		return !looseTypedEqual(actual, cond.Value)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		a, okA := toNumber(actual)
		b, okB := toNumber(cond.Value)
		if !okA || !okB {
			return false
		}
		switch cond.Operator {
		case models.OpGt:
			return a > b
		case models.OpGte:
			return a >= b
		case models.OpLt:
			return a < b
		default:
			return a <= b
		}
	case models.OpIn:
		found, isList := member(cond.Value, actual)
		return isList && found
	case models.OpNin:
		found, isList := member(cond.Value, actual)
		return isList && !found
	case models.OpContains:
		return strings.Contains(toString(actual), toString(cond.Value))
	case models.OpRegex:
		re, err := compilePattern(toString(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toString(actual))
	}
	return false
}

// looseTypedEqual is strict equality except that all Go numeric kinds compare as numbers.
func looseTypedEqual(a, b interface{}) bool {
	a, okA := deref(a)
	b, okB := deref(b)
	if !okA || !okB {
		return !okA && !okB
	}
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return ra.String() == rb.String()
	}
	if ra.Kind() == reflect.Bool && rb.Kind() == reflect.Bool {
		return ra.Bool() == rb.Bool()
	}
	return reflect.DeepEqual(a, b)
}

// member reports whether needle is in the list. isList is false when list is not a slice or array.
func member(list, needle interface{}) (found, isList bool) {
	list, ok := deref(list)
	if !ok {
		return false, false
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseTypedEqual(rv.Index(i).Interface(), needle) {
			return true, true
		}
	}
	return false, true
}

// numeric converts Go numeric kinds to float64 without coercing other types.
func numeric(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toNumber coerces for ordering comparisons: numbers as-is, bools as 0/1, strings parsed.
// An empty string is 0.
func toNumber(v interface{}) (float64, bool) {
	v, ok := deref(v)
	if !ok {
		return 0, false
	}
	if f, ok := numeric(v); ok {
		return f, true
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toString(v interface{}) string {
	v, ok := deref(v)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = toString(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}
