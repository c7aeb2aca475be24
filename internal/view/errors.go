package view

import (
	"errors"
	"fmt"
)

var errMissingFetcher = errors.New("fetcher is required")

// Error is the typed failure returned by view operations. Code has the form
// "view.<operation>.<reason>".
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

const (
	opNew       = "view.new"
	opGet       = "view.get"
	opQueryMore = "view.query_more"
	opRefetch   = "view.refetch"
)

func newError(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
