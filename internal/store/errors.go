package store

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrEmptyContent       = errors.New("empty content")
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
)
