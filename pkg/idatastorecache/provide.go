/*
 * Copyright (c) 2022-present unTill Pro, Ltd.
 */

package idatastorecache

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/imetrics"
)

// Provide decorates the datastore with an entity cache of at most maxBytes.
// storageName labels the cache metrics.
func Provide(maxBytes int, ds idatastore.IDatastore, metrics imetrics.IMetrics, storageName string) idatastore.IDatastore {
	return &cachedDatastore{
		cache:   fastcache.New(maxBytes),
		ds:      ds,
		metrics: metrics,
		storage: storageName,
	}
}
