/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/voedger/virel/pkg/idatastore"
)

// Entities live in one table keyed by (kind, encoded key path). Queries
// pre-filter by kind (and by key-path prefix for ancestor queries), then the
// rows go through idatastore.Match so the pre-filter may be over-inclusive.
type datastore struct {
	db *sql.DB
}

const serializationFailure = "40001"

func pgError(err error) error {
	if err == nil {
		return nil
	}
	pqErr := &pq.Error{}
	if errors.As(err, &pqErr) && pqErr.Code == serializationFailure {
		return fmt.Errorf("%w: %v", idatastore.ErrConcurrentTransaction, err)
	}
	return err
}

func parentPath(key *idatastore.Key) string {
	if key.Parent == nil {
		return ""
	}
	return key.Parent.Encode()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func get(ctx context.Context, qr querier, key *idatastore.Key) (*idatastore.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data := []byte{}
	err := qr.QueryRowContext(ctx,
		"select data from entities where kind = $1 and key_path = $2",
		key.Kind, key.Encode()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, idatastore.ErrNotFound
	}
	if err != nil {
		return nil, pgError(err)
	}
	return idatastore.UnmarshalEntity(data)
}

func put(ctx context.Context, qr querier, entity *idatastore.Entity) error {
	if err := idatastore.CompleteKey(entity); err != nil {
		return err
	}
	data, err := idatastore.MarshalEntity(entity)
	if err != nil {
		return err
	}
	_, err = qr.ExecContext(ctx, `
		insert into entities (kind, key_path, parent_path, data) values ($1, $2, $3, $4)
		on conflict (kind, key_path) do update set parent_path = excluded.parent_path, data = excluded.data`,
		entity.Key.Kind, entity.Key.Encode(), parentPath(entity.Key), data)
	return pgError(err)
}

func del(ctx context.Context, qr querier, key *idatastore.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := qr.ExecContext(ctx,
		"delete from entities where kind = $1 and key_path = $2",
		key.Kind, key.Encode())
	return pgError(err)
}

func runQuery(ctx context.Context, qr querier, q *idatastore.Query) ([]*idatastore.Entity, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	stmt := "select data from entities where kind = $1"
	args := []any{q.Kind()}
	if ancestor := q.AncestorKey(); ancestor != nil {
		// prefix match may over-include, Match below re-checks
		stmt += " and (key_path = $2 or key_path like $3)"
		args = append(args, ancestor.Encode(), ancestor.Encode()+"/%")
	}
	rows, err := qr.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	matched := []*idatastore.Entity{}
	for rows.Next() {
		data := []byte{}
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		e, err := idatastore.UnmarshalEntity(data)
		if err != nil {
			return nil, err
		}
		if idatastore.Match(q, e) {
			matched = append(matched, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(err)
	}
	return idatastore.ApplyOrderLimit(q, matched), nil
}

func (s *datastore) Get(ctx context.Context, key *idatastore.Key) (*idatastore.Entity, error) {
	return get(ctx, s.db, key)
}

func (s *datastore) GetMulti(ctx context.Context, keys []*idatastore.Key) ([]*idatastore.Entity, error) {
	res := make([]*idatastore.Entity, len(keys))
	for i, key := range keys {
		e, err := get(ctx, s.db, key)
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
	return put(ctx, s.db, entity)
}

func (s *datastore) PutMulti(ctx context.Context, entities []*idatastore.Entity) error {
	for _, entity := range entities {
		if err := put(ctx, s.db, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) Delete(ctx context.Context, keys ...*idatastore.Key) error {
	for _, key := range keys {
		if err := del(ctx, s.db, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *datastore) Run(ctx context.Context, q *idatastore.Query) ([]*idatastore.Entity, error) {
	return runQuery(ctx, s.db, q)
}

func (s *datastore) Iterate(ctx context.Context, q *idatastore.Query, cb func(entity *idatastore.Entity) error) error {
	res, err := runQuery(ctx, s.db, q)
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
	stx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return pgError(err)
	}
	if err := f(&transaction{ctx: ctx, stx: stx}); err != nil {
		stx.Rollback()
		return err
	}
	return pgError(stx.Commit())
}

type transaction struct {
	ctx context.Context
	stx *sql.Tx
}

func (t *transaction) Get(key *idatastore.Key) (*idatastore.Entity, error) {
	return get(t.ctx, t.stx, key)
}

func (t *transaction) Put(entity *idatastore.Entity) error {
	return put(t.ctx, t.stx, entity)
}

func (t *transaction) Delete(keys ...*idatastore.Key) error {
	for _, key := range keys {
		if err := del(t.ctx, t.stx, key); err != nil {
			return err
		}
	}
	return nil
}
