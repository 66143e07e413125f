package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why the registry rejected a write.
type Kind int

const (
	KindOther Kind = iota
	KindDuplicateCourse
	KindDuplicateCode
	KindMissingFields
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateCourse:
		return "duplicate_course"
	case KindDuplicateCode:
		return "duplicate_code"
	case KindMissingFields:
		return "missing_fields"
	default:
		return "other"
	}
}

// Error is the only error type returned by Registry writes. Callers branch on
// Kind with errors.As; the message is for humans.
type Error struct {
	Kind   Kind
	Course string   // KindDuplicateCourse
	Code   string   // KindDuplicateCode
	Fields []string // KindMissingFields
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDuplicateCourse:
		return fmt.Sprintf("student already holds a certificate for course %q", e.Course)
	case KindDuplicateCode:
		return fmt.Sprintf("verification code %s is already in use", e.Code)
	case KindMissingFields:
		return "missing required fields: " + strings.Join(e.Fields, ", ")
	default:
		if e.Err != nil {
			return "registry: " + e.Err.Error()
		}
		return "registry: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindOther when err is not a registry Error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindOther
}

// IsConflict reports duplicate-course and duplicate-code rejections.
func IsConflict(err error) bool {
	k := KindOf(err)
	return k == KindDuplicateCourse || k == KindDuplicateCode
}

func other(op string, err error) error {
	return &Error{Kind: KindOther, Err: fmt.Errorf("%s: %w", op, err)}
}
