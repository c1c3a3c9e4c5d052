/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 * @author: Maxim Geraskin (refactoring)
 */

package bbolt

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/voedger/virel/pkg/idatastore"
)

// One top-level bucket per kind, entity keys (encoded) map to BSON documents.
// Writes go through db.Update, so transactions are atomic and serialized.
type datastore struct {
	db *bolt.DB
}

func (s *datastore) Get(ctx context.Context, key *idatastore.Key) (entity *idatastore.Entity, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if err = key.Validate(); err != nil {
		return nil, err
	}
	err = s.db.View(func(btx *bolt.Tx) error {
		entity, err = get(btx, key)
		return err
	})
	return entity, err
}

func (s *datastore) GetMulti(ctx context.Context, keys []*idatastore.Key) (entities []*idatastore.Entity, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err = key.Validate(); err != nil {
			return nil, err
		}
	}
	entities = make([]*idatastore.Entity, len(keys))
	err = s.db.View(func(btx *bolt.Tx) error {
		for i, key := range keys {
			e, err := get(btx, key)
			if err == idatastore.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			entities[i] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entities, nil
}

func get(btx *bolt.Tx, key *idatastore.Key) (*idatastore.Entity, error) {
	bucket := btx.Bucket([]byte(key.Kind))
	if bucket == nil {
		return nil, idatastore.ErrNotFound
	}
	data := bucket.Get([]byte(key.Encode()))
	if data == nil {
		return nil, idatastore.ErrNotFound
	}
	return idatastore.UnmarshalEntity(data)
}

func (s *datastore) Put(ctx context.Context, entity *idatastore.Entity) error {
	return s.PutMulti(ctx, []*idatastore.Entity{entity})
}

func (s *datastore) PutMulti(ctx context.Context, entities []*idatastore.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		for _, entity := range entities {
			if err := put(btx, entity); err != nil {
				return err
			}
		}
		return nil
	})
}

func put(btx *bolt.Tx, entity *idatastore.Entity) error {
	if err := idatastore.CompleteKey(entity); err != nil {
		return err
	}
	data, err := idatastore.MarshalEntity(entity)
	if err != nil {
		return err
	}
	bucket, err := btx.CreateBucketIfNotExists([]byte(entity.Key.Kind))
	if err != nil {
		// notest
		return err
	}
	return bucket.Put([]byte(entity.Key.Encode()), data)
}

func (s *datastore) Delete(ctx context.Context, keys ...*idatastore.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		for _, key := range keys {
			if err := del(btx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

func del(btx *bolt.Tx, key *idatastore.Key) error {
	bucket := btx.Bucket([]byte(key.Kind))
	if bucket == nil {
		return nil
	}
	return bucket.Delete([]byte(key.Encode()))
}

func (s *datastore) Run(ctx context.Context, q *idatastore.Query) ([]*idatastore.Entity, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := []*idatastore.Entity{}
	err := s.db.View(func(btx *bolt.Tx) error {
		bucket := btx.Bucket([]byte(q.Kind()))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, data []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e, err := idatastore.UnmarshalEntity(data)
			if err != nil {
				return err
			}
			if idatastore.Match(q, e) {
				matched = append(matched, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return idatastore.ApplyOrderLimit(q, matched), nil
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
	// bolt rolls the native transaction back when f fails
	return s.db.Update(func(btx *bolt.Tx) error {
		return f(&transaction{btx: btx})
	})
}

type transaction struct {
	btx *bolt.Tx
}

func (t *transaction) Get(key *idatastore.Key) (*idatastore.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return get(t.btx, key)
}

func (t *transaction) Put(entity *idatastore.Entity) error {
	return put(t.btx, entity)
}

func (t *transaction) Delete(keys ...*idatastore.Key) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		if err := del(t.btx, key); err != nil {
			return err
		}
	}
	return nil
}
