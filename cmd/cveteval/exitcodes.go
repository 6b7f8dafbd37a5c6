package main

import (
	"github.com/go-faster/errors"

	"github.com/iota-uz/cveteval/modules/evaluation/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// serviceExit maps domain refusals to a usage error and anything else to fallback.
func serviceExit(err error, fallback int) int {
	var se *services.ServiceError
	if errors.As(err, &se) {
		return exitUsage
	}
	return fallback
}
