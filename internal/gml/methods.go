package gml

import (
	"fmt"
	"strings"
)

// callMethod обслуживает вызовы методов значений. Цель null
// отсекается раньше, в evalCall.
func (ev *Evaluator) callMethod(target any, name string, args []any) (any, error) {
	switch t := target.(type) {
	case []any:
		return ev.arrayMethod(t, name, args)
	case string:
		return stringMethod(t, name, args)
	case map[string]any:
		return objectMethod(t, name, args)
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrUnknownMethod, name, TypeName(target))
}

// argClosure достаёт обязательный аргумент-замыкание.
func argClosure(method string, args []any) (*Closure, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s requires a callback", ErrInvalidArgument, method)
	}
	cl, ok := args[0].(*Closure)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires a callback", ErrInvalidArgument, method)
	}
	return cl, nil
}

func (ev *Evaluator) arrayMethod(arr []any, name string, args []any) (any, error) {
	switch name {
	case "length", "count":
		return int64(len(arr)), nil

	case "map":
		cl, err := argClosure("map", args)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case "filter":
		cl, err := argClosure("filter", args)
		if err != nil {
			return nil, err
		}
		out := []any{}
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				out = append(out, item)
			}
		}
		return out, nil

	case "some":
		cl, err := argClosure("some", args)
		if err != nil {
			return nil, err
		}
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return true, nil
			}
		}
		return false, nil

	case "every":
		cl, err := argClosure("every", args)
		if err != nil {
			return nil, err
		}
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			if !Truthy(v) {
				return false, nil
			}
		}
		return true, nil

	case "find":
		cl, err := argClosure("find", args)
		if err != nil {
			return nil, err
		}
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return item, nil
			}
		}
		return nil, nil

	case "findIndex":
		cl, err := argClosure("findIndex", args)
		if err != nil {
			return nil, err
		}
		for i, item := range arr {
			v, err := ev.callClosure(cl, []any{item, int64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return int64(i), nil
			}
		}
		return int64(-1), nil

	case "sort":
		return sortMethod(arr, args), nil

	case "group":
		return ev.groupMethod(arr, args)

	case "pluck":
		field, _ := firstString(args)
		out := make([]any, len(arr))
		for i, item := range arr {
			if obj, ok := item.(map[string]any); ok {
				out[i] = obj[field]
			}
		}
		return out, nil

	case "proj":
		fields, ok := firstString(args)
		if !ok {
			return nil, fmt.Errorf("%w: proj requires field names", ErrInvalidArgument)
		}
		names := splitFields(fields)
		out := make([]any, len(arr))
		for i, item := range arr {
			if obj, ok := item.(map[string]any); ok {
				out[i] = projectObject(obj, names)
			} else {
				out[i] = item
			}
		}
		return out, nil

	case "sum":
		return fnSum(append([]any{arr}, args...))
	case "avg":
		return fnAvg(append([]any{arr}, args...))
	case "min":
		return fnMin(append([]any{arr}, args...))
	case "max":
		return fnMax(append([]any{arr}, args...))

	case "first":
		if len(arr) == 0 {
			return nil, nil
		}
		return arr[0], nil
	case "last":
		if len(arr) == 0 {
			return nil, nil
		}
		return arr[len(arr)-1], nil

	case "reverse":
		out := make([]any, len(arr))
		for i, item := range arr {
			out[len(arr)-1-i] = item
		}
		return out, nil

	case "distinct":
		out := []any{}
		for _, item := range arr {
			seen := false
			for _, have := range out {
				if LooseEqual(item, have) {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, item)
			}
		}
		return out, nil

	case "join":
		sep := ","
		if s, ok := firstString(args); ok {
			sep = s
		}
		parts := make([]string, len(arr))
		for i, item := range arr {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, sep), nil

	case "flat":
		depth := int64(1)
		if len(args) > 0 {
			if n, ok := AsInt(args[0]); ok {
				depth = n
			}
		}
		return flattenArray(arr, depth), nil

	case "includes", "contains":
		if len(args) == 0 {
			return false, nil
		}
		for _, item := range arr {
			if LooseEqual(item, args[0]) {
				return true, nil
			}
		}
		return false, nil

	case "push", "add":
		out := make([]any, len(arr), len(arr)+len(args))
		copy(out, arr)
		return append(out, args...), nil

	case "concat", "addAll":
		out := make([]any, len(arr))
		copy(out, arr)
		for _, a := range args {
			if inner, ok := a.([]any); ok {
				out = append(out, inner...)
			} else {
				out = append(out, a)
			}
		}
		return out, nil

	case "slice":
		start, end := int64(0), int64(len(arr))
		if len(args) > 0 {
			start, _ = AsInt(args[0])
		}
		if len(args) > 1 {
			end, _ = AsInt(args[1])
		}
		if start < 0 {
			start += int64(len(arr))
		}
		if end < 0 {
			end += int64(len(arr))
		}
		start = clampIndex(start, int64(len(arr)))
		end = clampIndex(end, int64(len(arr)))
		if start >= end {
			return []any{}, nil
		}
		out := make([]any, end-start)
		copy(out, arr[start:end])
		return out, nil

	case "chunk":
		size := int64(1)
		if len(args) > 0 {
			if n, ok := AsInt(args[0]); ok && n > 0 {
				size = n
			}
		}
		out := []any{}
		for i := int64(0); i < int64(len(arr)); i += size {
			end := i + size
			if end > int64(len(arr)) {
				end = int64(len(arr))
			}
			chunk := make([]any, end-i)
			copy(chunk, arr[i:end])
			out = append(out, chunk)
		}
		return out, nil

	case "take":
		n := int64(0)
		if len(args) > 0 {
			n, _ = AsInt(args[0])
		}
		n = clampIndex(n, int64(len(arr)))
		out := make([]any, n)
		copy(out, arr[:n])
		return out, nil

	case "skip", "drop":
		n := int64(0)
		if len(args) > 0 {
			n, _ = AsInt(args[0])
		}
		n = clampIndex(n, int64(len(arr)))
		out := make([]any, int64(len(arr))-n)
		copy(out, arr[n:])
		return out, nil

	case "at":
		if len(args) == 0 {
			return nil, nil
		}
		return indexValue(arr, args[0]), nil
	}
	return nil, fmt.Errorf("%w: array method %s", ErrUnknownMethod, name)
}

// sortMethod сортирует копию массива. Аргументы: необязательное имя
// поля для массива объектов и необязательное направление "desc".
func sortMethod(arr []any, args []any) []any {
	field := ""
	desc := false
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			continue
		}
		switch strings.ToLower(s) {
		case "desc":
			desc = true
		case "asc":
		default:
			field = s
		}
	}
	if field == "" {
		return SortValues(arr, desc)
	}
	out := make([]any, len(arr))
	copy(out, arr)
	key := func(v any) any {
		if obj, ok := v.(map[string]any); ok {
			return obj[field]
		}
		return v
	}
	insertionSortBy(out, key, desc)
	return out
}

func insertionSortBy(arr []any, key func(any) any, desc bool) {
	for i := 1; i < len(arr); i++ {
		for j := i; j > 0; j-- {
			c := CompareValues(key(arr[j-1]), key(arr[j]))
			if (!desc && c > 0) || (desc && c < 0) {
				arr[j-1], arr[j] = arr[j], arr[j-1]
				continue
			}
			break
		}
	}
}

// groupMethod группирует элементы по ключу: имени поля либо замыканию.
func (ev *Evaluator) groupMethod(arr []any, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: group requires a key", ErrInvalidArgument)
	}
	keyOf := func(item any, idx int) (string, error) {
		switch k := args[0].(type) {
		case string:
			if obj, ok := item.(map[string]any); ok {
				return Stringify(obj[k]), nil
			}
			return "", nil
		case *Closure:
			v, err := ev.callClosure(k, []any{item, int64(idx)})
			if err != nil {
				return "", err
			}
			return Stringify(v), nil
		}
		return "", fmt.Errorf("%w: group key must be a field name or callback", ErrInvalidArgument)
	}
	out := map[string]any{}
	for i, item := range arr {
		k, err := keyOf(item, i)
		if err != nil {
			return nil, err
		}
		bucket, _ := out[k].([]any)
		out[k] = append(bucket, item)
	}
	return out, nil
}

func stringMethod(s, name string, args []any) (any, error) {
	switch name {
	case "length":
		return int64(len([]rune(s))), nil
	case "toLowerCase", "lower":
		return strings.ToLower(s), nil
	case "toUpperCase", "upper":
		return strings.ToUpper(s), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "split":
		sep := ","
		if v, ok := firstString(args); ok {
			sep = v
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "startsWith":
		prefix, _ := firstString(args)
		return strings.HasPrefix(s, prefix), nil
	case "endsWith":
		suffix, _ := firstString(args)
		return strings.HasSuffix(s, suffix), nil
	case "contains", "includes":
		search, _ := firstString(args)
		return strings.Contains(s, search), nil
	case "replace":
		if len(args) < 1 {
			return s, nil
		}
		from, _ := firstString(args)
		to := ""
		if len(args) > 1 {
			to, _ = args[1].(string)
		}
		return strings.ReplaceAll(s, from, to), nil
	}
	return nil, fmt.Errorf("%w: string method %s", ErrUnknownMethod, name)
}

func objectMethod(obj map[string]any, name string, args []any) (any, error) {
	switch name {
	case "proj":
		fields, ok := firstString(args)
		if !ok {
			return nil, fmt.Errorf("%w: proj requires field names", ErrInvalidArgument)
		}
		return projectObject(obj, splitFields(fields)), nil
	case "keys":
		keys := sortedKeys(obj)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	case "values":
		keys := sortedKeys(obj)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = obj[k]
		}
		return out, nil
	case "has":
		k, _ := firstString(args)
		_, present := obj[k]
		return present, nil
	}
	return nil, fmt.Errorf("%w: object method %s", ErrUnknownMethod, name)
}

func projectObject(obj map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	return out
}

func splitFields(fields string) []string {
	parts := strings.Split(fields, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstString(args []any) (string, bool) {
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			return s, true
		}
	}
	return "", false
}

func flattenArray(arr []any, depth int64) []any {
	if depth <= 0 {
		out := make([]any, len(arr))
		copy(out, arr)
		return out
	}
	out := []any{}
	for _, item := range arr {
		if inner, ok := item.([]any); ok {
			out = append(out, flattenArray(inner, depth-1)...)
		} else {
			out = append(out, item)
		}
	}
	return out
}

func clampIndex(i, n int64) int64 {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
