/*
 * Copyright (c) 2022-present unTill Pro, Ltd.
 */

package idatastorecache

const (
	getTotal       = "virel_idatastorecache_get_total"
	getCachedTotal = "virel_idatastorecache_get_cached_total"
	getSeconds     = "virel_idatastorecache_get_seconds"
	putTotal       = "virel_idatastorecache_put_total"
	putSeconds     = "virel_idatastorecache_put_seconds"
	deleteTotal    = "virel_idatastorecache_delete_total"
	runTotal       = "virel_idatastorecache_run_total"
	runSeconds     = "virel_idatastorecache_run_seconds"
	txTotal        = "virel_idatastorecache_tx_total"
	txSeconds      = "virel_idatastorecache_tx_seconds"
)
