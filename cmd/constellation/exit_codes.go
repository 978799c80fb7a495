package main

import (
	"errors"

	cerrors "github.com/odvcencio/constellation/pkg/errors"
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError maps err to a process exit code: 2 for usage, 3 for
// configuration, 4 for a session that did not shut down cleanly.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch cerrors.GetCode(err) {
	case cerrors.ErrCodeConfigLoad, cerrors.ErrCodeConfigInvalid:
		return 3
	case cerrors.ErrCodeDisconnected:
		return 4
	}
	return 1
}
