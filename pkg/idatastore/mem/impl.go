/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package mem

import (
	"context"
	"sync"

	"github.com/voedger/virel/pkg/idatastore"
)

// In-memory IDatastore for unit tests. Transactions serialize on the global
// lock: atomic and fully isolated, at test-only scale.
type datastore struct {
	lock  sync.RWMutex
	kinds map[string]map[string]*idatastore.Entity
}

func (s *datastore) Get(ctx context.Context, key *idatastore.Key) (*idatastore.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.get(key)
}

func (s *datastore) get(key *idatastore.Key) (*idatastore.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if e, ok := s.kinds[key.Kind][key.Encode()]; ok {
		return e.Clone(), nil
	}
	return nil, idatastore.ErrNotFound
}

func (s *datastore) GetMulti(ctx context.Context, keys []*idatastore.Key) ([]*idatastore.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := make([]*idatastore.Entity, len(keys))
	for i, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		if e, ok := s.kinds[key.Kind][key.Encode()]; ok {
			res[i] = e.Clone()
		}
	}
	return res, nil
}

func (s *datastore) Put(ctx context.Context, entity *idatastore.Entity) error {
	return s.PutMulti(ctx, []*idatastore.Entity{entity})
}

func (s *datastore) PutMulti(ctx context.Context, entities []*idatastore.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, entity := range entities {
		if err := s.put(entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) put(entity *idatastore.Entity) error {
	if err := idatastore.CompleteKey(entity); err != nil {
		return err
	}
	kind := s.kinds[entity.Key.Kind]
	if kind == nil {
		kind = map[string]*idatastore.Entity{}
		s.kinds[entity.Key.Kind] = kind
	}
	kind[entity.Key.Encode()] = entity.Clone()
	return nil
}

func (s *datastore) Delete(ctx context.Context, keys ...*idatastore.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, key := range keys {
		s.delete(key)
	}
	return nil
}

func (s *datastore) delete(key *idatastore.Key) {
	delete(s.kinds[key.Kind], key.Encode())
}

func (s *datastore) Run(ctx context.Context, q *idatastore.Query) ([]*idatastore.Entity, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	matched := []*idatastore.Entity{}
	for _, e := range s.kinds[q.Kind()] {
		if idatastore.Match(q, e) {
			matched = append(matched, e)
		}
	}
	s.lock.RUnlock()

	res := idatastore.ApplyOrderLimit(q, matched)
	for i := range res {
		res[i] = res[i].Clone()
	}
	return res, nil
}

func (s *datastore) Iterate(ctx context.Context, q *idatastore.Query, cb func(entity *idatastore.Entity) error) error {
	res, err := s.Run(ctx, q)
	if err != nil {
		return err
	}
	for _, e := range res {
		if err := cb(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) RunInTransaction(ctx context.Context, f func(tx idatastore.ITransaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	tx := &transaction{store: s, ops: map[string]*txOp{}}
	if err := f(tx); err != nil {
		return err
	}
	for _, op := range tx.order {
		if op.entity == nil {
			s.delete(op.key)
		} else {
			if err := s.put(op.entity); err != nil {
				// notest: keys are validated when the op is staged
				return err
			}
		}
	}
	return nil
}

type txOp struct {
	key    *idatastore.Key
	entity *idatastore.Entity
}

type transaction struct {
	store *datastore
	ops   map[string]*txOp
	order []*txOp
}

func (t *transaction) Get(key *idatastore.Key) (*idatastore.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if op, ok := t.ops[key.Encode()]; ok {
		if op.entity == nil {
			return nil, idatastore.ErrNotFound
		}
		return op.entity.Clone(), nil
	}
	return t.store.get(key)
}

func (t *transaction) Put(entity *idatastore.Entity) error {
	if err := idatastore.CompleteKey(entity); err != nil {
		return err
	}
	t.stage(&txOp{key: entity.Key, entity: entity.Clone()})
	return nil
}

func (t *transaction) Delete(keys ...*idatastore.Key) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		t.stage(&txOp{key: key})
	}
	return nil
}

func (t *transaction) stage(op *txOp) {
	enc := op.key.Encode()
	if prev, ok := t.ops[enc]; ok {
		prev.entity = op.entity
		return
	}
	t.ops[enc] = op
	t.order = append(t.order, op)
}
