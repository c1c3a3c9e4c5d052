/*
 * Copyright (c) 2022-present unTill Pro, Ltd.
 */

package idatastorecache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/idatastore/mem"
	"github.com/voedger/virel/pkg/imetrics"
)

const testMaxBytes = 32 * 1024 * 1024

func TestTCK(t *testing.T) {
	// the decorator must be transparent
	ds := Provide(testMaxBytes, mem.Provide(), imetrics.Provide(), "mem")
	idatastore.TechnologyCompatibilityKit(t, ds)
}

func TestBasicUsage(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	underlying := mem.Provide()
	metrics := imetrics.Provide()
	ds := Provide(testMaxBytes, underlying, metrics, "mem")

	key := idatastore.NewKey("doc", "d1")
	e := idatastore.NewEntity(key)
	e.Set("title", "cached")
	require.NoError(ds.Put(ctx, e))

	t.Run("must serve repeated gets from the cache", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			stored, err := ds.Get(ctx, key)
			require.NoError(err)
			require.Equal("cached", stored.Get("title"))
		}
		require.GreaterOrEqual(metricValue(t, metrics, getCachedTotal), 3.0)
	})

	t.Run("must invalidate on delete", func(t *testing.T) {
		require.NoError(ds.Delete(ctx, key))
		_, err := ds.Get(ctx, key)
		require.ErrorIs(err, idatastore.ErrNotFound)
	})
}

func TestTransactionInvalidation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	ds := Provide(testMaxBytes, mem.Provide(), imetrics.Provide(), "mem")

	key := idatastore.NewKey("doc", "d1")
	e := idatastore.NewEntity(key)
	e.Set("n", int64(1))
	require.NoError(ds.Put(ctx, e))

	// cache it
	_, err := ds.Get(ctx, key)
	require.NoError(err)

	t.Run("must not touch the cache on rollback", func(t *testing.T) {
		testErr := errors.New("boom")
		err := ds.RunInTransaction(ctx, func(tx idatastore.ITransaction) error {
			changed := idatastore.NewEntity(key)
			changed.Set("n", int64(2))
			if err := tx.Put(changed); err != nil {
				return err
			}
			return testErr
		})
		require.ErrorIs(err, testErr)

		stored, err := ds.Get(ctx, key)
		require.NoError(err)
		require.Equal(int64(1), stored.Get("n"))
	})

	t.Run("must apply writes to the cache on commit", func(t *testing.T) {
		err := ds.RunInTransaction(ctx, func(tx idatastore.ITransaction) error {
			changed := idatastore.NewEntity(key)
			changed.Set("n", int64(3))
			return tx.Put(changed)
		})
		require.NoError(err)

		stored, err := ds.Get(ctx, key)
		require.NoError(err)
		require.Equal(int64(3), stored.Get("n"))
	})
}

func metricValue(t *testing.T, metrics imetrics.IMetrics, name string) float64 {
	t.Helper()
	value := 0.0
	err := metrics.List(func(metric imetrics.IMetric, metricValue float64) error {
		if metric.Name() == name {
			value = metricValue
		}
		return nil
	})
	require.NoError(t, err)
	return value
}
