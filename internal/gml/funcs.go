package gml

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FuncImpl — реализация встроенной функции.
type FuncImpl func(args []any) (any, error)

// FuncRegistry — реестр функций, доступных из выражений по имени.
// Пользовательские функции регистрируются через Register.
type FuncRegistry struct {
	reg map[string]FuncImpl
}

// NewFuncRegistry создаёт пустой реестр.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{reg: map[string]FuncImpl{}}
}

// Register добавляет функцию в реестр, перекрывая одноимённую.
func (r *FuncRegistry) Register(name string, fn FuncImpl) {
	r.reg[name] = fn
}

// Call вызывает функцию по имени.
func (r *FuncRegistry) Call(name string, args []any) (any, error) {
	fn, ok := r.reg[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(args)
}

// DefaultFuncs возвращает реестр со стандартным набором функций:
// математика, строки, даты, массивы, преобразования типов.
func DefaultFuncs() *FuncRegistry {
	r := NewFuncRegistry()

	// Математика.
	r.Register("SUM", fnSum)
	r.Register("AVG", fnAvg)
	r.Register("MIN", fnMin)
	r.Register("MAX", fnMax)
	r.Register("ROUND", fnRound)
	r.Register("FLOOR", fnFloor)
	r.Register("CEIL", fnCeil)
	r.Register("ABS", fnAbs)

	// Строки.
	r.Register("CONCAT", fnConcat)
	r.Register("UPPER", stringFn("UPPER", strings.ToUpper))
	r.Register("LOWER", stringFn("LOWER", strings.ToLower))
	r.Register("TRIM", stringFn("TRIM", strings.TrimSpace))
	r.Register("LENGTH", fnLength)
	r.Register("SUBSTRING", fnSubstring)
	r.Register("REPLACE", fnReplace)
	r.Register("SPLIT", fnSplit)

	// Даты.
	r.Register("DATE", fnDate)
	r.Register("NOW", fnNow)
	r.Register("TIME", fnDate)
	r.Register("FORMAT_DATE", fnFormatDate)

	// Массивы.
	r.Register("COUNT", fnCount)
	r.Register("FIRST", fnFirst)
	r.Register("LAST", fnLast)

	// Преобразования типов.
	r.Register("INT", fnInt)
	r.Register("FLOAT", fnFloat)
	r.Register("STRING", fnString)
	r.Register("BOOL", fnBool)

	// Служебные.
	r.Register("COALESCE", fnCoalesce)
	r.Register("IF", fnIf)
	r.Register("MD5", fnMD5)

	return r
}

// fieldFloat извлекает числовое значение элемента: само значение либо
// указанное поле объекта.
func fieldFloat(item any, field string) (float64, bool) {
	if field == "" {
		return AsFloat(item)
	}
	obj, ok := item.(map[string]any)
	if !ok {
		return 0, false
	}
	return AsFloat(obj[field])
}

// collectFloats собирает числа из аргументов: первый аргумент-массив
// с необязательным именем поля либо произвольный список чисел.
func collectFloats(args []any) []float64 {
	if len(args) > 0 {
		if arr, ok := args[0].([]any); ok {
			field := ""
			if len(args) > 1 {
				field, _ = args[1].(string)
			}
			var out []float64
			for _, item := range arr {
				if f, ok := fieldFloat(item, field); ok {
					out = append(out, f)
				}
			}
			return out
		}
	}
	var out []float64
	for _, a := range args {
		if f, ok := AsFloat(a); ok {
			out = append(out, f)
		}
	}
	return out
}

func fnSum(args []any) (any, error) {
	sum := 0.0
	for _, f := range collectFloats(args) {
		sum += f
	}
	return sum, nil
}

func fnAvg(args []any) (any, error) {
	vals := collectFloats(args)
	if len(vals) == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, f := range vals {
		sum += f
	}
	return sum / float64(len(vals)), nil
}

func fnMin(args []any) (any, error) {
	vals := collectFloats(args)
	if len(vals) == 0 {
		return nil, nil
	}
	min := vals[0]
	for _, f := range vals[1:] {
		if f < min {
			min = f
		}
	}
	return min, nil
}

func fnMax(args []any) (any, error) {
	vals := collectFloats(args)
	if len(vals) == 0 {
		return nil, nil
	}
	max := vals[0]
	for _, f := range vals[1:] {
		if f > max {
			max = f
		}
	}
	return max, nil
}

func argFloat(name string, args []any) (float64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: %s requires a number", ErrInvalidArgument, name)
	}
	f, ok := AsFloat(args[0])
	if !ok {
		return 0, typeErr("number", args[0])
	}
	return f, nil
}

func fnRound(args []any) (any, error) {
	num, err := argFloat("ROUND", args)
	if err != nil {
		return nil, err
	}
	decimals := int64(0)
	if len(args) > 1 {
		decimals, _ = AsInt(args[1])
	}
	factor := math.Pow(10, float64(decimals))
	return math.Round(num*factor) / factor, nil
}

func fnFloor(args []any) (any, error) {
	num, err := argFloat("FLOOR", args)
	if err != nil {
		return nil, err
	}
	return math.Floor(num), nil
}

func fnCeil(args []any) (any, error) {
	num, err := argFloat("CEIL", args)
	if err != nil {
		return nil, err
	}
	return math.Ceil(num), nil
}

func fnAbs(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: ABS requires a number", ErrInvalidArgument)
	}
	switch n := args[0].(type) {
	case int64:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case float64:
		return math.Abs(n), nil
	}
	return nil, typeErr("number", args[0])
}

func fnConcat(args []any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		if a == nil {
			continue
		}
		b.WriteString(Stringify(a))
	}
	return b.String(), nil
}

func stringFn(name string, f func(string) string) FuncImpl {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: %s requires a string", ErrInvalidArgument, name)
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, typeErr("string", args[0])
		}
		return f(s), nil
	}
}

func fnLength(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: LENGTH requires an argument", ErrInvalidArgument)
	}
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	}
	return nil, typeErr("string or array", args[0])
}

func fnSubstring(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: SUBSTRING requires a string", ErrInvalidArgument)
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeErr("string", args[0])
	}
	chars := []rune(s)
	start := int64(0)
	if len(args) > 1 {
		start, _ = AsInt(args[1])
	}
	end := int64(len(chars))
	if len(args) > 2 {
		if l, ok := AsInt(args[2]); ok {
			end = start + l
		}
	}
	if start < 0 {
		start = 0
	}
	if end > int64(len(chars)) {
		end = int64(len(chars))
	}
	if start >= end {
		return "", nil
	}
	return string(chars[start:end]), nil
}

func fnReplace(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: REPLACE requires a string and a pattern", ErrInvalidArgument)
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeErr("string", args[0])
	}
	from, ok := args[1].(string)
	if !ok {
		return nil, typeErr("string", args[1])
	}
	to := ""
	if len(args) > 2 {
		to, _ = args[2].(string)
	}
	return strings.ReplaceAll(s, from, to), nil
}

func fnSplit(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: SPLIT requires a string", ErrInvalidArgument)
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeErr("string", args[0])
	}
	sep := ","
	if len(args) > 1 {
		if v, ok := args[1].(string); ok {
			sep = v
		}
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func fnNow(_ []any) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// fnDate возвращает текущую дату со смещением вида "1d", "2w", "-3M".
// Единицы: s, m, h, d, w, M (≈30 дней), y (≈365 дней).
func fnDate(args []any) (any, error) {
	now := time.Now()
	if len(args) == 0 {
		return now.Format(time.RFC3339), nil
	}
	offset := "0d"
	if s, ok := args[0].(string); ok {
		offset = s
	}
	shifted, err := applyDateOffset(now, offset)
	if err != nil {
		return nil, err
	}
	return shifted.Format(time.RFC3339), nil
}

func applyDateOffset(t time.Time, offset string) (time.Time, error) {
	offset = strings.TrimSpace(offset)
	if offset == "" || offset == "0" {
		return t, nil
	}
	numStr, unit := offset, "d"
	last := offset[len(offset)-1]
	if (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z') {
		numStr, unit = offset[:len(offset)-1], offset[len(offset)-1:]
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date offset %q", ErrInvalidArgument, offset)
	}
	switch unit {
	case "s":
		return t.Add(time.Duration(n) * time.Second), nil
	case "m":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "h":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "d":
		return t.AddDate(0, 0, int(n)), nil
	case "w":
		return t.AddDate(0, 0, int(n)*7), nil
	case "M":
		return t.AddDate(0, 0, int(n)*30), nil
	case "y":
		return t.AddDate(0, 0, int(n)*365), nil
	}
	return time.Time{}, fmt.Errorf("%w: date offset unit %q", ErrInvalidArgument, unit)
}

// fnFormatDate форматирует дату по strftime-подобному шаблону
// (поддерживаются %Y %m %d %H %M %S).
func fnFormatDate(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: FORMAT_DATE requires a date", ErrInvalidArgument)
	}
	dateStr, ok := args[0].(string)
	if !ok {
		return nil, typeErr("string", args[0])
	}
	format := "%Y-%m-%d"
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			format = s
		}
	}
	t, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		t, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidArgument, dateStr)
		}
	}
	return t.Format(strftimeToLayout(format)), nil
}

var strftimeRepl = strings.NewReplacer(
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

func strftimeToLayout(format string) string {
	return strftimeRepl.Replace(format)
}

func fnCount(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: COUNT requires an argument", ErrInvalidArgument)
	}
	if arr, ok := args[0].([]any); ok {
		return int64(len(arr)), nil
	}
	return int64(1), nil
}

func fnFirst(args []any) (any, error) {
	if len(args) > 0 {
		if arr, ok := args[0].([]any); ok {
			if len(arr) == 0 {
				return nil, nil
			}
			return arr[0], nil
		}
		return args[0], nil
	}
	return nil, nil
}

func fnLast(args []any) (any, error) {
	if len(args) > 0 {
		if arr, ok := args[0].([]any); ok {
			if len(arr) == 0 {
				return nil, nil
			}
			return arr[len(arr)-1], nil
		}
		return args[len(args)-1], nil
	}
	return nil, nil
}

func fnInt(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: INT requires an argument", ErrInvalidArgument)
	}
	switch v := args[0].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot convert %q to int", ErrInvalidArgument, v)
		}
		return n, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, typeErr("convertible to int", args[0])
}

func fnFloat(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: FLOAT requires an argument", ErrInvalidArgument)
	}
	switch v := args[0].(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot convert %q to float", ErrInvalidArgument, v)
		}
		return f, nil
	}
	return nil, typeErr("convertible to float", args[0])
}

func fnString(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: STRING requires an argument", ErrInvalidArgument)
	}
	return Stringify(args[0]), nil
}

func fnBool(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: BOOL requires an argument", ErrInvalidArgument)
	}
	return Truthy(args[0]), nil
}

func fnCoalesce(args []any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func fnIf(args []any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("%w: IF requires condition, then, else", ErrInvalidArgument)
	}
	if Truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func fnMD5(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: MD5 requires a string", ErrInvalidArgument)
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeErr("string", args[0])
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}
