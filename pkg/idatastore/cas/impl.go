/*
 * Copyright (c) 2021-present unTill Pro, Ltd.
 */

package cas

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/idatastore"
)

// Entities live in one table partitioned by kind and clustered by the encoded
// entity key. Transaction commits go through a logged batch: atomic, not
// isolated, which is enough for the single-writer flows built on top.
type datastore struct {
	session *gocql.Session
}

func newCluster(casPar CassandraParamsType) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(strings.Split(casPar.Hosts, ",")...)
	if casPar.Port > 0 {
		cluster.Port = casPar.Port
	}
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = ConnectionTimeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: casPar.NumRetries}
	cluster.CQLVersion = casPar.cqlVersion()
	if casPar.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: casPar.Username, Password: casPar.Pwd}
	}
	if casPar.ProtoVersion > 0 {
		cluster.ProtoVersion = casPar.ProtoVersion
	}
	if casPar.DC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.DCAwareRoundRobinPolicy(casPar.DC)
	}
	return cluster
}

func getSession(casPar CassandraParamsType) (*gocql.Session, error) {
	keyspace := casPar.keyspace()

	// bootstrap session without a keyspace to create ours
	var boot *gocql.Session
	err := doWithAttempts(connectionAttempts, connectionRetryDelay, func() (err error) {
		boot, err = newCluster(casPar).CreateSession()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("can't connect to cluster: %w", err)
	}
	err = boot.Query(fmt.Sprintf("create keyspace if not exists %s with replication = %s", keyspace, casPar.KeyspaceWithReplication)).Exec()
	boot.Close()
	if err != nil {
		return nil, fmt.Errorf("can't create keyspace «%s»: %w", keyspace, err)
	}

	cluster := newCluster(casPar)
	cluster.Keyspace = keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		// notest
		return nil, err
	}
	err = session.Query(fmt.Sprintf(`
		create table if not exists %s.entities (
			kind text,
			key text,
			data blob,
			primary key ((kind), key)
		)`, keyspace)).Exec()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("can't create entities table: %w", err)
	}
	return session, nil
}

func doWithAttempts(attempts int, delay time.Duration, f func() error) (err error) {
	for i := 0; i < attempts; i++ {
		err = f()
		if err == nil {
			return nil
		}
		logger.Error(err)
		time.Sleep(delay)
	}
	return err
}

func (s *datastore) Get(ctx context.Context, key *idatastore.Key) (*idatastore.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data := []byte{}
	err := s.session.Query("select data from entities where kind = ? and key = ?",
		key.Kind, key.Encode()).WithContext(ctx).Scan(&data)
	if err == gocql.ErrNotFound {
		return nil, idatastore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return idatastore.UnmarshalEntity(data)
}

func (s *datastore) GetMulti(ctx context.Context, keys []*idatastore.Key) ([]*idatastore.Entity, error) {
	res := make([]*idatastore.Entity, len(keys))
	for i, key := range keys {
		e, err := s.Get(ctx, key)
		if err == idatastore.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		res[i] = e
	}
	return res, nil
}

func (s *datastore) Put(ctx context.Context, entity *idatastore.Entity) error {
	if err := idatastore.CompleteKey(entity); err != nil {
		return err
	}
	data, err := idatastore.MarshalEntity(entity)
	if err != nil {
		return err
	}
	return s.session.Query("insert into entities (kind, key, data) values (?, ?, ?)",
		entity.Key.Kind, entity.Key.Encode(), data).WithContext(ctx).Exec()
}

func (s *datastore) PutMulti(ctx context.Context, entities []*idatastore.Entity) error {
	for _, entity := range entities {
		if err := s.Put(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) Delete(ctx context.Context, keys ...*idatastore.Key) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		err := s.session.Query("delete from entities where kind = ? and key = ?",
			key.Kind, key.Encode()).WithContext(ctx).Exec()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) Run(ctx context.Context, q *idatastore.Query) ([]*idatastore.Entity, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	iter := s.session.Query("select data from entities where kind = ?", q.Kind()).
		WithContext(ctx).Iter()
	matched := []*idatastore.Entity{}
	data := []byte{}
	for iter.Scan(&data) {
		e, err := idatastore.UnmarshalEntity(data)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if idatastore.Match(q, e) {
			matched = append(matched, e)
		}
		data = []byte{}
	}
	if err := iter.Close(); err != nil {
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
	tx := &transaction{ds: s, ctx: ctx, ops: map[string]*txOp{}}
	if err := f(tx); err != nil {
		return err
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, op := range tx.order {
		if op.entity == nil {
			batch.Query("delete from entities where kind = ? and key = ?",
				op.key.Kind, op.key.Encode())
			continue
		}
		data, err := idatastore.MarshalEntity(op.entity)
		if err != nil {
			return err
		}
		batch.Query("insert into entities (kind, key, data) values (?, ?, ?)",
			op.key.Kind, op.key.Encode(), data)
	}
	return s.session.ExecuteBatch(batch)
}

type txOp struct {
	key    *idatastore.Key
	entity *idatastore.Entity
}

type transaction struct {
	ds    *datastore
	ctx   context.Context
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
	return t.ds.Get(t.ctx, key)
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
