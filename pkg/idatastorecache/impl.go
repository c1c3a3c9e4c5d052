/*
 * Copyright (c) 2022-present unTill Pro, Ltd.
 */

package idatastorecache

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/valyala/bytebufferpool"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/imetrics"
)

// Write-through entity cache. Values are the BSON-encoded entities, keyed by
// the encoded entity key. Queries are never cached, transaction writes reach
// the cache only after the commit succeeds.
type cachedDatastore struct {
	cache   *fastcache.Cache
	ds      idatastore.IDatastore
	metrics imetrics.IMetrics
	storage string
}

const keySeparator = '/'

func writeKey(bb *bytebufferpool.ByteBuffer, key *idatastore.Key) {
	if key.Parent != nil {
		writeKey(bb, key.Parent)
		bb.WriteByte(keySeparator)
	}
	bb.WriteString(key.Kind)
	bb.WriteByte(keySeparator)
	bb.WriteString(key.ID)
}

func (s *cachedDatastore) cacheSet(key *idatastore.Key, entity *idatastore.Entity) {
	data, err := idatastore.MarshalEntity(entity)
	if err != nil {
		// entity came through the datastore, so it is encodable
		// notest
		return
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	writeKey(bb, key)
	s.cache.Set(bb.B, data)
}

func (s *cachedDatastore) cacheDel(key *idatastore.Key) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	writeKey(bb, key)
	s.cache.Del(bb.B)
}

func (s *cachedDatastore) cacheGet(key *idatastore.Key) *idatastore.Entity {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	writeKey(bb, key)
	data := s.cache.Get(nil, bb.B)
	if len(data) == 0 {
		return nil
	}
	entity, err := idatastore.UnmarshalEntity(data)
	if err != nil {
		s.cache.Del(bb.B)
		return nil
	}
	return entity
}

func (s *cachedDatastore) Get(ctx context.Context, key *idatastore.Key) (*idatastore.Entity, error) {
	start := time.Now()
	defer func() {
		s.metrics.Increase(getSeconds, s.storage, time.Since(start).Seconds())
	}()
	s.metrics.Increase(getTotal, s.storage, 1.0)

	if err := key.Validate(); err != nil {
		return nil, err
	}
	if entity := s.cacheGet(key); entity != nil {
		s.metrics.Increase(getCachedTotal, s.storage, 1.0)
		return entity, nil
	}
	entity, err := s.ds.Get(ctx, key)
	if err == idatastore.ErrNotFound {
		s.cacheDel(key)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(key, entity)
	return entity, nil
}

func (s *cachedDatastore) GetMulti(ctx context.Context, keys []*idatastore.Key) ([]*idatastore.Entity, error) {
	s.metrics.Increase(getTotal, s.storage, float64(len(keys)))

	res := make([]*idatastore.Entity, len(keys))
	missing := []*idatastore.Key{}
	missingAt := []int{}
	for i, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		if entity := s.cacheGet(key); entity != nil {
			res[i] = entity
			continue
		}
		missing = append(missing, key)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		s.metrics.Increase(getCachedTotal, s.storage, float64(len(keys)))
		return res, nil
	}
	s.metrics.Increase(getCachedTotal, s.storage, float64(len(keys)-len(missing)))

	fetched, err := s.ds.GetMulti(ctx, missing)
	if err != nil {
		return nil, err
	}
	for n, entity := range fetched {
		if entity == nil {
			s.cacheDel(missing[n])
			continue
		}
		s.cacheSet(missing[n], entity)
		res[missingAt[n]] = entity
	}
	return res, nil
}

func (s *cachedDatastore) Put(ctx context.Context, entity *idatastore.Entity) error {
	start := time.Now()
	defer func() {
		s.metrics.Increase(putSeconds, s.storage, time.Since(start).Seconds())
	}()
	s.metrics.Increase(putTotal, s.storage, 1.0)

	if err := s.ds.Put(ctx, entity); err != nil {
		return err
	}
	// the driver completed the key by now
	s.cacheSet(entity.Key, entity)
	return nil
}

func (s *cachedDatastore) PutMulti(ctx context.Context, entities []*idatastore.Entity) error {
	s.metrics.Increase(putTotal, s.storage, float64(len(entities)))

	if err := s.ds.PutMulti(ctx, entities); err != nil {
		return err
	}
	for _, entity := range entities {
		s.cacheSet(entity.Key, entity)
	}
	return nil
}

func (s *cachedDatastore) Delete(ctx context.Context, keys ...*idatastore.Key) error {
	s.metrics.Increase(deleteTotal, s.storage, float64(len(keys)))

	if err := s.ds.Delete(ctx, keys...); err != nil {
		return err
	}
	for _, key := range keys {
		s.cacheDel(key)
	}
	return nil
}

func (s *cachedDatastore) Run(ctx context.Context, q *idatastore.Query) ([]*idatastore.Entity, error) {
	start := time.Now()
	defer func() {
		s.metrics.Increase(runSeconds, s.storage, time.Since(start).Seconds())
	}()
	s.metrics.Increase(runTotal, s.storage, 1.0)

	return s.ds.Run(ctx, q)
}

func (s *cachedDatastore) Iterate(ctx context.Context, q *idatastore.Query, cb func(entity *idatastore.Entity) error) error {
	s.metrics.Increase(runTotal, s.storage, 1.0)
	return s.ds.Iterate(ctx, q, cb)
}

func (s *cachedDatastore) RunInTransaction(ctx context.Context, f func(tx idatastore.ITransaction) error) error {
	start := time.Now()
	defer func() {
		s.metrics.Increase(txSeconds, s.storage, time.Since(start).Seconds())
	}()
	s.metrics.Increase(txTotal, s.storage, 1.0)

	touched := []txTouch{}
	err := s.ds.RunInTransaction(ctx, func(tx idatastore.ITransaction) error {
		return f(&cachedTransaction{tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	for _, t := range touched {
		if t.entity == nil {
			s.cacheDel(t.key)
		} else {
			s.cacheSet(t.key, t.entity)
		}
	}
	return nil
}

type txTouch struct {
	key    *idatastore.Key
	entity *idatastore.Entity
}

type cachedTransaction struct {
	tx      idatastore.ITransaction
	touched *[]txTouch
}

func (t *cachedTransaction) Get(key *idatastore.Key) (*idatastore.Entity, error) {
	// transactional reads bypass the cache, drivers guarantee read-own-writes
	return t.tx.Get(key)
}

func (t *cachedTransaction) Put(entity *idatastore.Entity) error {
	if err := t.tx.Put(entity); err != nil {
		return err
	}
	*t.touched = append(*t.touched, txTouch{key: entity.Key, entity: entity.Clone()})
	return nil
}

func (t *cachedTransaction) Delete(keys ...*idatastore.Key) error {
	if err := t.tx.Delete(keys...); err != nil {
		return err
	}
	for _, key := range keys {
		*t.touched = append(*t.touched, txTouch{key: key})
	}
	return nil
}
