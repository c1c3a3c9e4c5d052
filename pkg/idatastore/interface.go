/*
* Copyright (c) 2021-present unTill Pro, Ltd.
* @author Maxim Geraskin
 */

package idatastore

import (
	"context"
)

// IDatastore is the entity store contract implemented by a certain driver.
//
// Entities are schemaless property bags addressed by hierarchical keys.
// Query support is deliberately narrow: kind scan, AND-composed predicate
// filters, ancestor constraint, ordering, limit. No joins, no planner.
type IDatastore interface {
	// returns ErrNotFound
	// @ConcurrentAccess
	Get(ctx context.Context, key *Key) (*Entity, error)

	// missing entities yield nil entries, no error
	// @ConcurrentAccess
	GetMulti(ctx context.Context, keys []*Key) ([]*Entity, error)

	// an empty key ID is replaced with a generated one before write
	// @ConcurrentAccess
	Put(ctx context.Context, entity *Entity) error

	PutMulti(ctx context.Context, entities []*Entity) error

	// absent keys are ignored
	Delete(ctx context.Context, keys ...*Key) error

	// returns the matching entities, ordered and limited per q
	Run(ctx context.Context, q *Query) ([]*Entity, error)

	// cb error aborts the iteration and is returned as is
	Iterate(ctx context.Context, q *Query, cb func(entity *Entity) error) error

	// f error rolls the transaction back and is returned as is.
	// Drivers document their atomicity and isolation properties, see package docs of each driver.
	// May return ErrConcurrentTransaction after exhausting internal retries.
	RunInTransaction(ctx context.Context, f func(tx ITransaction) error) error
}

// ITransaction scopes Get/Put/Delete to one atomic unit.
// Reads observe writes made earlier in the same transaction.
type ITransaction interface {
	// returns ErrNotFound
	Get(key *Key) (*Entity, error)

	Put(entity *Entity) error

	Delete(keys ...*Key) error
}
