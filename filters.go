package marqo

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Filters narrows a search or listing. It is a nested map in the pipeline
// filter language:
//
//   - logical operators "$and", "$or", "$not" take a map or a list of maps;
//   - comparison operators "$eq", "$ne", "$in", "$nin", "$gt", "$gte", "$lt",
//     "$lte" take a value ("$in"/"$nin" take a list);
//   - any other key is a metadata field name.
//
// Without a logical operator "$and" is implied; without a comparison
// operator "$eq" is implied, or "$in" when the value is a list.
//
//	marqo.Filters{
//	    "type":   "article",
//	    "rating": map[string]any{"$gte": 3},
//	    "$or": map[string]any{
//	        "genre":     []string{"economy", "politics"},
//	        "publisher": "nytimes",
//	    },
//	}
type Filters map[string]any

// Logical and comparison operators.
const (
	opAnd = "$and"
	opOr  = "$or"
	opNot = "$not"
	opEq  = "$eq"
	opNe  = "$ne"
	opIn  = "$in"
	opNin = "$nin"
	opGt  = "$gt"
	opGte = "$gte"
	opLt  = "$lt"
	opLte = "$lte"
)

// reservedFields are stored under their own name; everything else is metadata.
var reservedFields = map[string]struct{}{
	"id": {}, "content": {}, "content_type": {}, "metadata": {},
	"id_hash_keys": {}, "score": {}, "embedding": {},
}

const specialFilterChars = `+-&|!(){}[]^"~*?:\`

// FilterString converts the filters into a Marqo filter string.
// Empty filters yield an empty string.
func (f Filters) FilterString() (string, error) {
	s, _, err := convertMap(map[string]any(f), "AND")
	return s, err
}

// convertValue converts the value of a logical operator: a map, or a list
// of maps joined with op.
func convertValue(v any, op string) (string, int, error) {
	if m, ok := asMap(v); ok {
		return convertMap(m, op)
	}
	items, ok := asList(v)
	if !ok {
		return "", 0, filterErrorf("expected a map or a list of maps, got %T", v)
	}
	stmts := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			return "", 0, filterErrorf("expected a map in filter list, got %T", item)
		}
		s, n, err := convertMap(m, "AND")
		if err != nil {
			return "", 0, err
		}
		if n == 0 {
			continue
		}
		if n > 1 {
			s = "(" + s + ")"
		}
		stmts = append(stmts, s)
	}
	return strings.Join(stmts, " "+op+" "), len(stmts), nil
}

// convertMap converts one level of filters and joins its statements with op.
// It returns the number of statements joined.
func convertMap(m map[string]any, op string) (string, int, error) {
	var stmts []string
	for _, key := range sortedKeys(m) {
		value := m[key]

		if isLogical(key) {
			s, err := convertLogical(key, value)
			if err != nil {
				return "", 0, err
			}
			if s != "" {
				stmts = append(stmts, s)
			}
			continue
		}

		field := fieldName(key)

		if child, ok := asMap(value); ok {
			for _, cop := range sortedKeys(child) {
				if isLogical(cop) {
					s, err := convertFieldLogical(key, cop, child[cop])
					if err != nil {
						return "", 0, err
					}
					if s != "" {
						stmts = append(stmts, s)
					}
					continue
				}
				s, err := comparison(field, cop, child[cop])
				if err != nil {
					return "", 0, err
				}
				stmts = append(stmts, s)
			}
			continue
		}

		if list, ok := asList(value); ok {
			s, err := anyOf(field, list)
			if err != nil {
				return "", 0, err
			}
			stmts = append(stmts, s)
			continue
		}

		s, err := comparison(field, opEq, value)
		if err != nil {
			return "", 0, err
		}
		stmts = append(stmts, s)
	}
	return strings.Join(stmts, " "+op+" "), len(stmts), nil
}

// convertLogical renders "$and"/"$or" as a parenthesised group and "$not" as
// the negation of the conjunction of its children.
func convertLogical(key string, value any) (string, error) {
	op := "AND"
	if key == opOr {
		op = "OR"
	}
	s, n, err := convertValue(value, op)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if key == opNot {
		return "NOT (" + s + ")", nil
	}
	return "(" + s + ")", nil
}

// convertFieldLogical handles a logical operator nested under a field name,
// e.g. {"date": {"$or": {"$lt": 1, "$gte": 5}}}. A list of maps is merged first.
func convertFieldLogical(field, op string, value any) (string, error) {
	if list, ok := asList(value); ok {
		merged := make(map[string]any)
		for _, item := range list {
			m, ok := asMap(item)
			if !ok {
				return "", filterErrorf("expected a map under %s.%s, got %T", field, op, item)
			}
			for k, v := range m {
				merged[k] = v
			}
		}
		value = merged
	}
	return convertLogical(op, map[string]any{field: value})
}

func comparison(field, op string, value any) (string, error) {
	switch op {
	case opEq:
		v, err := formatValue(value)
		if err != nil {
			return "", err
		}
		return field + ":(" + v + ")", nil
	case opNe:
		v, err := formatValue(value)
		if err != nil {
			return "", err
		}
		return "NOT " + field + ":(" + v + ")", nil
	case opIn:
		list, ok := asList(value)
		if !ok {
			return "", filterErrorf("%s on %s expects a list, got %T", op, field, value)
		}
		return anyOf(field, list)
	case opNin:
		list, ok := asList(value)
		if !ok {
			return "", filterErrorf("%s on %s expects a list, got %T", op, field, value)
		}
		if len(list) == 0 {
			return "", filterErrorf("empty value list for %s", field)
		}
		parts := make([]string, len(list))
		for i, item := range list {
			v, err := formatValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = "NOT " + field + ":(" + v + ")"
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case opGt, opGte, opLt, opLte:
		return rangeFilter(field, op, value)
	default:
		return "", filterErrorf("operator %q is not supported", op)
	}
}

func anyOf(field string, list []any) (string, error) {
	if len(list) == 0 {
		return "", filterErrorf("empty value list for %s", field)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		v, err := formatValue(item)
		if err != nil {
			return "", err
		}
		parts[i] = field + ":(" + v + ")"
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// rangeFilter renders numeric bounds. Marqo ranges are inclusive, so the
// exclusive operators use the adjacent representable float64.
func rangeFilter(field, op string, value any) (string, error) {
	f, ok := toNumber(value)
	if !ok {
		return "", filterErrorf("value %v of type %T is not supported for range filters, must be a number", value, value)
	}
	switch op {
	case opGt:
		return field + ":[" + formatNumber(math.Nextafter(f, math.Inf(1))) + " TO *]", nil
	case opGte:
		return field + ":[" + formatNumber(f) + " TO *]", nil
	case opLt:
		return field + ":[* TO " + formatNumber(math.Nextafter(f, math.Inf(-1))) + "]", nil
	default:
		return field + ":[* TO " + formatNumber(f) + "]", nil
	}
}

func fieldName(key string) string {
	if _, ok := reservedFields[key]; ok {
		return key
	}
	return metadataPrefix + key
}

func isLogical(key string) bool {
	return key == opAnd || key == opOr || key == opNot
}

func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", filterErrorf("null filter values are not supported")
	case string:
		return escapeFilterValue(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", filterErrorf("invalid number %q", x.String())
		}
		return formatNumber(f), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return formatNumber(rv.Float()), nil
	case reflect.String:
		return escapeFilterValue(rv.String()), nil
	case reflect.Map, reflect.Slice, reflect.Array:
		return "", filterErrorf("unexpected %T value", v)
	default:
		return escapeFilterValue(fmt.Sprint(v)), nil
	}
}

// formatNumber never uses exponent notation: `+` and `-` are special in
// filter values.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toNumber(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

// escapeFilterValue backslash-escapes Marqo's query syntax characters.
func escapeFilterValue(s string) string {
	if !strings.ContainsAny(s, specialFilterChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(specialFilterChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Filters:
		return map[string]any(m), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
