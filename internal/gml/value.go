package gml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Значения языка представлены обычными Go-типами, совместимыми с
// encoding/json: nil, bool, int64, float64, string, []any,
// map[string]any. Числа из JSON нормализуются через NormalizeValue.

// Truthy определяет истинность значения:
// null — ложь; bool — как есть; число — ненулевое; строка — непустая;
// массив и объект — непустые.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// TypeName возвращает имя типа значения для сообщений об ошибках.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// LooseEqual сравнивает значения с числовым повышением типов:
// int и float сравнимы между собой, вещественные числа сравниваются
// с допуском epsilon. Массивы сравниваются поэлементно, объекты —
// по ключам.
func LooseEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return math.Abs(float64(x)-y) < 1e-9
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return math.Abs(x-float64(y)) < 1e-9
		case float64:
			return math.Abs(x-y) < 1e-9
		}
		return false
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !LooseEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, present := y[k]
			if !present || !LooseEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// StrictEqual — строгое равенство: типы должны совпадать
// (int и float считаются разными типами), затем применяется LooseEqual.
func StrictEqual(a, b any) bool {
	if TypeName(a) != TypeName(b) {
		return false
	}
	return LooseEqual(a, b)
}

// CompareValues упорядочивает два значения для сортировки.
// Числа сравниваются с повышением типов, строки и bool — естественно,
// несравнимые пары считаются равными.
func CompareValues(a, b any) int {
	if af, aok := AsFloat(a); aok {
		if bf, bok := AsFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			}
			return 0
		}
	}
	return 0
}

// AsFloat приводит числовое значение к float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// AsInt приводит числовое значение к int64 (float усекается).
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

// Stringify возвращает строковое представление значения для шаблонов
// и конкатенации. Массивы и объекты сериализуются в JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// NormalizeValue приводит значение к канонической форме: float64 без
// дробной части из json.Unmarshal становится int64, вложенные массивы
// и объекты нормализуются рекурсивно.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return int64(x)
		}
		return x
	case int:
		return int64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = NormalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = NormalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneValue делает глубокую копию значения. Скаляры неизменяемы и
// возвращаются как есть.
func CloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// SortValues сортирует копию массива по CompareValues.
func SortValues(arr []any, desc bool) []any {
	out := make([]any, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool {
		c := CompareValues(out[i], out[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}
