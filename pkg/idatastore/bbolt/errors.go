/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package bbolt

import "errors"

var ErrDBPathNotSpecified = errors.New("database file path is not specified")
