/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 */

package cas

import "time"

const (
	DefaultKeyspace       = "virel"
	SimpleWithReplication = "{ 'class' : 'SimpleStrategy', 'replication_factor' : 1 }"

	ConnectionTimeout    = 30 * time.Second
	connectionAttempts   = 6
	connectionRetryDelay = 2 * time.Second
	retryAttempt         = 3
)
