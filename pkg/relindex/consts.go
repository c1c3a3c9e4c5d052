/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Denis Gribanov
 */

package relindex

import "time"

const (
	// DefaultQueueSize bounds the dispatcher channel. Beyond it Enqueue
	// executes synchronously instead of dropping.
	DefaultQueueSize = 256

	DefaultRetryDelay = 5 * time.Second
	DefaultRetryCount = 10
)
