package errors

import (
	"errors"
	"fmt"
)

var (
	_ error = (*wrappedError)(nil)
	_ error = (*Violation)(nil)
)

func New(text string) error {
	return errors.New(text)
}

func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}

	if len(text) == 0 {
		return err
	}

	return &wrappedError{
		err: err,
		msg: text,
	}
}

type wrappedError struct {
	err error
	msg string
}

const sep = ", err: "

func (err wrappedError) Error() string {
	if err.err == nil {
		return err.msg
	}

	return err.msg + sep + err.err.Error()
}

func (err wrappedError) Unwrap() error {
	if err.err == nil {
		return errors.New(err.msg)
	}

	return err.err
}

// Violation is a financial-safety failure bound to the table and row that raised it.
// Kind is one of the exception.Err*Violation sentinels and is matched by errors.Is.
type Violation struct {
	Kind   error
	Table  string
	RowID  string
	Detail string
}

// Violationf builds a Violation with a formatted detail.
func Violationf(kind error, table, rowID, format string, args ...any) *Violation {
	return &Violation{
		Kind:   kind,
		Table:  table,
		RowID:  rowID,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (v *Violation) Error() string {
	msg := v.Kind.Error()
	if v.Table != "" {
		msg += " table=" + v.Table
	}
	if v.RowID != "" {
		msg += " row=" + v.RowID
	}
	if v.Detail != "" {
		msg += ": " + v.Detail
	}
	return msg
}

// Is matches the Kind sentinel. Violation has no Unwrap so wrappers that
// flatten their cause (github.com/yanun0323/errors) stop at the Violation
// itself and AsViolation can still reach it.
func (v *Violation) Is(target error) bool {
	return errors.Is(v.Kind, target)
}

// AsViolation returns the first Violation in the chain.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Join combines every non-nil error; it returns nil when all are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Violations returns every Violation in a joined error tree.
func Violations(err error) []*Violation {
	if err == nil {
		return nil
	}
	if v, ok := err.(*Violation); ok {
		return []*Violation{v}
	}
	var out []*Violation
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			out = append(out, Violations(inner)...)
		}
	case interface{ Unwrap() error }:
		out = append(out, Violations(e.Unwrap())...)
	}
	return out
}
