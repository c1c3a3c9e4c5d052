/*
 * Copyright (c) 2020-present unTill Pro, Ltd.
 */

package idatastore

// KeyProperty filters or orders on the entity identity instead of a named property
const KeyProperty = "__key__"

const keyPathSeparator = "/"
