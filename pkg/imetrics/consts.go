/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 *
 */

package imetrics

const bitSize = 64
