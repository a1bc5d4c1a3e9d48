package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNoExecutor      = errors.New("no executor available")
	ErrExhausted       = errors.New("resource pool exhausted")
	ErrInvalidCategory = errors.New("invalid category")
	ErrUnknownOp       = errors.New("unknown operation")
)
