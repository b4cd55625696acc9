package gml

import (
	"errors"
	"fmt"
)

// Ошибки вычислителя.
var (
	// ErrDivisionByZero — деление на ноль.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrUnknownFunction — вызов незарегистрированной функции.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrUnknownMethod — вызов неизвестного метода значения.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrNotCallable — попытка вызвать значение, не являющееся функцией.
	ErrNotCallable = errors.New("value is not callable")

	// ErrInvalidArgument — некорректный аргумент функции или метода.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrParse — программа содержит синтаксические ошибки.
	ErrParse = errors.New("parse failed")
)

// TypeError — операция над значением несовместимого типа.
type TypeError struct {
	Expected string
	Actual   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error: expected %s, got %s", e.Expected, e.Actual)
}

// typeErr — краткий конструктор TypeError.
func typeErr(expected string, actual any) error {
	return &TypeError{Expected: expected, Actual: TypeName(actual)}
}

// Err сворачивает список ошибок разбора в одну ошибку, пригодную
// для обёртывания через errors.Is(err, ErrParse). Для успешного
// разбора возвращает nil.
func (r ParseResult) Err() error {
	if r.Success {
		return nil
	}
	msg := ""
	for i, pe := range r.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += pe.Error()
	}
	return fmt.Errorf("%w: %s", ErrParse, msg)
}
