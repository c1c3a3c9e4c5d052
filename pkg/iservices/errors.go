/*
* Copyright (c) 2022-present unTill Pro, Ltd.
* @author Maxim Geraskin
 */

package iservices

import "errors"

var ErrAtLeastOneServiceFailedToStart = errors.New("at least one service failed to start")
