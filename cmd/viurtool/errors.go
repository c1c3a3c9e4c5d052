/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author Dmitry Molchanovsky
 */

package main

import "errors"

var (
	ErrUnknownStorageDriver = errors.New("unknown storage driver")
	ErrPgStorageRequired    = errors.New("the migrate command requires the pg storage driver")
)
