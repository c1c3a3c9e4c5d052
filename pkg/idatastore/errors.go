/*
 * Copyright (c) 2020-present unTill Pro, Ltd.
 */

package idatastore

import "errors"

var (
	ErrNotFound              = errors.New("entity not found")
	ErrInvalidKey            = errors.New("invalid entity key")
	ErrConcurrentTransaction = errors.New("concurrent transaction conflict")
	ErrUnsatisfiableQuery    = errors.New("unsatisfiable query")
	ErrUnsupportedValue      = errors.New("unsupported property value")
)
