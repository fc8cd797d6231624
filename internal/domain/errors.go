package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidID         = errors.New("invalid document id")
	ErrOutsideRoot       = errors.New("path outside knowledge root")
	ErrCorrupt           = errors.New("corrupt record")
	ErrEmptyText         = errors.New("no extractable text")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidConfig     = errors.New("invalid configuration")
)
