/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/objcache"
)

// Registry holds the registered schemas of an application and hands out
// instances over them. Registration happens at configuration time, afterwards
// the registry is read-only and safe for concurrent use.
type Registry struct {
	ds      idatastore.IDatastore
	iTime   coreutils.ITime
	queue   TaskQueue
	schemas map[string]*Schema
	kinds   []string

	// referenced sub-schemas, derived once per (kind, refKeys) pair
	refCache objcache.ICache[string, *Schema]
}

func New(ds idatastore.IDatastore, iTime coreutils.ITime) *Registry {
	return &Registry{
		ds:       ds,
		iTime:    iTime,
		schemas:  map[string]*Schema{},
		refCache: objcache.NewUnbounded[string, *Schema](),
	}
}

// SetTaskQueue wires the deferred-task consumer. The registry and the
// consumer reference each other, so wiring is a separate second phase.
// Without a queue maintenance tasks are skipped, which only suits setups
// that never mutate relations.
func (r *Registry) SetTaskQueue(queue TaskQueue) {
	r.queue = queue
}

func (r *Registry) Register(schema *Schema) {
	if _, ok := r.schemas[schema.kind]; ok {
		panic(fmt.Sprintf("kind «%s» is already registered", schema.kind))
	}
	r.schemas[schema.kind] = schema
	r.kinds = append(r.kinds, schema.kind)
	sort.Strings(r.kinds)
}

func (r *Registry) ByKind(kind string) (*Schema, error) {
	schema, ok := r.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("kind «%s»: %w", kind, ErrUnknownKind)
	}
	return schema, nil
}

// Kinds returns the registered kinds sorted alphabetically.
func (r *Registry) Kinds() []string {
	return append([]string{}, r.kinds...)
}

func (r *Registry) NewInstance(kind string) (*Instance, error) {
	schema, err := r.ByKind(kind)
	if err != nil {
		return nil, err
	}
	return r.InstanceOf(schema), nil
}

// InstanceOf builds an instance over a schema that need not be registered,
// e.g. an edge (using) schema or a derived referenced sub-schema.
func (r *Registry) InstanceOf(schema *Schema) *Instance {
	return &Instance{registry: r, schema: schema, values: map[string]any{}}
}

// DeleteByKey loads and deletes the entity behind key with full relational
// bookkeeping.
func (r *Registry) DeleteByKey(ctx context.Context, key *idatastore.Key) error {
	inst, err := r.NewInstance(key.Kind)
	if err != nil {
		return err
	}
	if err := inst.FromDB(ctx, key); err != nil {
		return err
	}
	return inst.Delete(ctx)
}

func (r *Registry) Datastore() idatastore.IDatastore {
	return r.ds
}

func (r *Registry) Time() coreutils.ITime {
	return r.iTime
}

// RefSchemaFor derives the referenced sub-schema of kind restricted to the
// top-level segments of refKeys. The derived schema shares the bone
// declarations of the registered one and is cached, so repeated lookups for
// the same bone are cheap.
func (r *Registry) RefSchemaFor(kind string, refKeys []string) (*Schema, error) {
	cacheKey := kind + "\x00" + strings.Join(refKeys, "\x00")
	if schema, ok := r.refCache.Get(cacheKey); ok {
		return schema, nil
	}
	base, err := r.ByKind(kind)
	if err != nil {
		return nil, err
	}
	heads := map[string]bool{}
	for _, k := range refKeys {
		head, _, _ := strings.Cut(k, ".")
		heads[head] = true
	}
	ref := NewSchema(kind)
	for _, name := range base.names {
		if name == KeyField || !heads[name] {
			continue
		}
		ref.AddBone(name, base.bones[name])
	}
	r.refCache.Put(cacheKey, ref)
	return ref, nil
}

func (r *Registry) enqueue(task Task) {
	if r.queue == nil {
		if logger.IsVerbose() {
			logger.Verbose("no task queue wired, skipping", task.Kind.String(), "task")
		}
		return
	}
	r.queue.Enqueue(task)
}
