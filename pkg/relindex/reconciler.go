/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package relindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/skeleton"
)

// Reconciler applies the deferred relation-maintenance tasks against the
// relation-index collection. Every operation is idempotent, so tasks may be
// delivered more than once.
type Reconciler struct {
	registry *skeleton.Registry
}

func New(registry *skeleton.Registry) *Reconciler {
	return &Reconciler{registry: registry}
}

// Execute dispatches one task to its operation.
func (r *Reconciler) Execute(ctx context.Context, task skeleton.Task) error {
	switch task.Kind {
	case skeleton.TaskKind_Reconcile:
		return r.Reconcile(ctx, task)
	case skeleton.TaskKind_CleanupSource:
		return r.CleanupSource(ctx, task)
	case skeleton.TaskKind_DestUpdated:
		return r.PropagateDestUpdate(ctx, task)
	case skeleton.TaskKind_DestDeleted:
		return r.EnforceDestPolicies(ctx, task)
	}
	return fmt.Errorf("unsupported task kind %d", task.Kind)
}

// Reconcile diffs the stored index rows of one (source entity, bone) pair
// against the current bone value. Rows whose destination is still referenced
// are updated in place keeping their identity, rows whose destination
// dropped out of the value are deleted together with undecodable rows, and
// values without a row are inserted as new rows. A missing source entity, an
// unregistered kind or a bone that is no longer a multiple relation all
// reduce to an empty value, deleting every row of the pair.
func (r *Reconciler) Reconcile(ctx context.Context, task skeleton.Task) error {
	wanted, inst, err := r.currentValues(ctx, task)
	if err != nil {
		return err
	}
	rows, err := r.sourceRows(ctx, task)
	if err != nil {
		return err
	}
	var bone *skeleton.RelationalBone
	if inst != nil {
		bone = skeleton.AsRelational(inst.Schema().Bone(task.SrcProperty))
	}
	tag := r.registry.Time().Now().UnixMilli()
	deletes := []*idatastore.Key{}
	puts := []*idatastore.Entity{}
	for _, row := range rows {
		entry, err := DecodeRow(row)
		if err != nil {
			if logger.IsVerbose() {
				logger.Verbose("deleting undecodable index row:", err.Error())
			}
			deletes = append(deletes, row.Key)
			continue
		}
		v := takeValue(&wanted, entry.DestKey)
		if v == nil {
			deletes = append(deletes, row.Key)
			continue
		}
		fresh := newEntry(inst, bone, task.SrcProperty, v, tag)
		fresh.Key = row.Key
		puts = append(puts, fresh.Row())
	}
	for _, v := range wanted {
		if v.Dest.Key == nil {
			continue
		}
		fresh := newEntry(inst, bone, task.SrcProperty, v, tag)
		fresh.Key = idatastore.NewKeyWithParent(skeleton.RelationIndexKind, "", task.SrcKey)
		puts = append(puts, fresh.Row())
	}
	if len(puts) > 0 {
		if err := r.registry.Datastore().PutMulti(ctx, puts); err != nil {
			return err
		}
	}
	return r.registry.Datastore().Delete(ctx, deletes...)
}

// currentValues loads the source entity and returns the current edge values
// of the bone. Every state in which the pair can no longer carry index rows
// yields an empty value set and a nil instance.
func (r *Reconciler) currentValues(ctx context.Context, task skeleton.Task) ([]*skeleton.RelationValue, *skeleton.Instance, error) {
	inst, err := r.registry.NewInstance(task.SrcKind)
	if errors.Is(err, skeleton.ErrUnknownKind) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	err = inst.FromDB(ctx, task.SrcKey)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	bone := skeleton.AsRelational(inst.Schema().Bone(task.SrcProperty))
	if bone == nil || !bone.Multiple {
		return nil, nil, nil
	}
	values := bone.Relations(inst, task.SrcProperty)
	return append([]*skeleton.RelationValue{}, values...), inst, nil
}

// takeValue removes and returns the first value referencing destKey. Finding
// by first match keeps duplicate edges to the same destination stable.
func takeValue(values *[]*skeleton.RelationValue, destKey *idatastore.Key) *skeleton.RelationValue {
	for i, v := range *values {
		if v.Dest.Key != nil && v.Dest.Key.Equal(destKey) {
			*values = append((*values)[:i], (*values)[i+1:]...)
			return v
		}
	}
	return nil
}

// sourceRows returns every index row of the (source entity, bone) pair. The
// destination kind is deliberately not part of the query: rows written
// before a bone was retargeted to another kind carry the old kind and must
// still be found, the diff deletes them.
func (r *Reconciler) sourceRows(ctx context.Context, task skeleton.Task) ([]*idatastore.Entity, error) {
	q := idatastore.NewQuery(skeleton.RelationIndexKind).
		Ancestor(task.SrcKey).
		Filter(skeleton.IndexField_SrcKind+" =", task.SrcKind).
		Filter(skeleton.IndexField_SrcProperty+" =", task.SrcProperty)
	return r.registry.Datastore().Run(ctx, q)
}

// CleanupSource deletes every index row of one deleted (source entity, bone)
// pair.
func (r *Reconciler) CleanupSource(ctx context.Context, task skeleton.Task) error {
	q := idatastore.NewQuery(skeleton.RelationIndexKind).
		Ancestor(task.SrcKey).
		Filter(skeleton.IndexField_SrcKind+" =", task.SrcKind).
		Filter(skeleton.IndexField_DestKind+" =", task.DestKind).
		Filter(skeleton.IndexField_SrcProperty+" =", task.SrcProperty).
		KeysOnly()
	rows, err := r.registry.Datastore().Run(ctx, q)
	if err != nil {
		return err
	}
	keys := make([]*idatastore.Key, len(rows))
	for i, row := range rows {
		keys[i] = row.Key
	}
	return r.registry.Datastore().Delete(ctx, keys...)
}

// EnforceDestPolicies applies the SetNull and CascadeDeletion policies of
// every edge pointing at a deleted entity. Multiple bones are found through
// their index rows, single bones through a per-kind scan over the dotted
// destination key. PreventDeletion needs no handling here, it vetoed the
// deletion up front, and Ignore keeps the stale snapshot on purpose.
func (r *Reconciler) EnforceDestPolicies(ctx context.Context, task skeleton.Task) error {
	enc := task.DestKey.Encode()
	q := idatastore.NewQuery(skeleton.RelationIndexKind).
		Filter(skeleton.IndexField_DestKind+" =", task.DestKind).
		Filter(skeleton.IndexField_Dest+"."+skeleton.KeyField+" =", enc)
	rows, err := r.registry.Datastore().Run(ctx, q)
	if err != nil {
		return err
	}
	for _, row := range rows {
		entry, err := DecodeRow(row)
		if err != nil {
			if logger.IsVerbose() {
				logger.Verbose("deleting undecodable index row:", err.Error())
			}
			if err := r.registry.Datastore().Delete(ctx, row.Key); err != nil {
				return err
			}
			continue
		}
		if err := r.applyPolicy(ctx, entry.Consistency, entry.SrcKind, entry.SrcKey(), entry.SrcProperty, task.DestKey); err != nil {
			return err
		}
	}
	return r.forEachSingleReference(ctx, task.DestKind, enc, nil,
		func(bone *skeleton.RelationalBone, kind string, srcKey *idatastore.Key, prop string) error {
			return r.applyPolicy(ctx, bone.Consistency, kind, srcKey, prop, task.DestKey)
		})
}

func (r *Reconciler) applyPolicy(ctx context.Context, policy skeleton.RelationalConsistency, srcKind string, srcKey *idatastore.Key, prop string, destKey *idatastore.Key) error {
	switch policy {
	case skeleton.RelationalConsistency_SetNull:
		return r.dropEdge(ctx, srcKind, srcKey, prop, destKey)
	case skeleton.RelationalConsistency_CascadeDeletion:
		err := r.registry.DeleteByKey(ctx, srcKey)
		if errors.Is(err, idatastore.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// dropEdge removes destKey from the bone value of one source entity and
// re-saves it. An already-removed edge or a vanished source entity is fine,
// the task may run twice.
func (r *Reconciler) dropEdge(ctx context.Context, srcKind string, srcKey *idatastore.Key, prop string, destKey *idatastore.Key) error {
	inst, err := r.registry.NewInstance(srcKind)
	if errors.Is(err, skeleton.ErrUnknownKind) {
		return nil
	}
	if err != nil {
		return err
	}
	err = inst.FromDB(ctx, srcKey)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	bone := skeleton.AsRelational(inst.Schema().Bone(prop))
	if bone == nil {
		return nil
	}
	values := bone.Relations(inst, prop)
	kept := make([]*skeleton.RelationValue, 0, len(values))
	for _, v := range values {
		if v.Dest.Key != nil && v.Dest.Key.Equal(destKey) {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == len(values) {
		return nil
	}
	if bone.Multiple {
		err = inst.SetValue(prop, kept)
	} else {
		err = inst.SetValue(prop, nil)
	}
	if err != nil {
		return err
	}
	_, err = inst.ToDB(ctx)
	return err
}

// PropagateDestUpdate refreshes the denormalized snapshots of every source
// referencing an updated entity through an UpdateLevel_Always bone. Index
// rows already rewritten at or after MinTag carry the fresh snapshot and are
// skipped. Each affected source is loaded once, refreshed on the affected
// properties only and saved without further propagation.
func (r *Reconciler) PropagateDestUpdate(ctx context.Context, task skeleton.Task) error {
	enc := task.DestKey.Encode()
	q := idatastore.NewQuery(skeleton.RelationIndexKind).
		Filter(skeleton.IndexField_DestKind+" =", task.DestKind).
		Filter(skeleton.IndexField_Dest+"."+skeleton.KeyField+" =", enc).
		Filter(skeleton.IndexField_UpdateLevel+" =", int64(skeleton.UpdateLevel_Always)).
		Filter(skeleton.IndexField_UpdateTag+" <", task.MinTag)
	rows, err := r.registry.Datastore().Run(ctx, q)
	if err != nil {
		return err
	}
	affected := newSourceSet()
	for _, row := range rows {
		entry, err := DecodeRow(row)
		if err != nil {
			// reconciliation owns corrupt-row removal
			continue
		}
		affected.add(entry.SrcKind, entry.SrcKey(), entry.SrcProperty)
	}
	err = r.forEachSingleReference(ctx, task.DestKind, enc, isAlways,
		func(bone *skeleton.RelationalBone, kind string, srcKey *idatastore.Key, prop string) error {
			affected.add(kind, srcKey, prop)
			return nil
		})
	if err != nil {
		return err
	}
	return affected.each(func(srcKind string, srcKey *idatastore.Key, props []string) error {
		return r.refreshSource(ctx, srcKind, srcKey, props)
	})
}

func isAlways(bone *skeleton.RelationalBone) bool {
	return bone.UpdateLevel == skeleton.UpdateLevel_Always
}

// forEachSingleReference scans the registered kinds for single relational
// bones targeting destKind and calls fn once per entity currently
// referencing the destination. Multiple bones are excluded, their edges live
// in the relation index.
func (r *Reconciler) forEachSingleReference(ctx context.Context, destKind, destEnc string,
	accept func(bone *skeleton.RelationalBone) bool,
	fn func(bone *skeleton.RelationalBone, kind string, srcKey *idatastore.Key, prop string) error) error {
	for _, kind := range r.registry.Kinds() {
		schema, err := r.registry.ByKind(kind)
		if err != nil {
			return err
		}
		for _, name := range schema.BoneNames() {
			bone := skeleton.AsRelational(schema.Bone(name))
			if bone == nil || bone.Multiple || bone.Kind != destKind {
				continue
			}
			if accept != nil && !accept(bone) {
				continue
			}
			q := idatastore.NewQuery(kind).
				Filter(name+"."+skeleton.IndexField_Dest+"."+skeleton.KeyField+" =", destEnc).
				KeysOnly()
			err := r.registry.Datastore().Iterate(ctx, q, func(e *idatastore.Entity) error {
				return fn(bone, kind, e.Key, name)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshSource re-pulls the snapshots of the given properties from the live
// referenced entities and re-saves the source. The save reconciles the index
// rows of the source through its own tasks, WithoutPropagation stops the
// update from fanning out a second time.
func (r *Reconciler) refreshSource(ctx context.Context, srcKind string, srcKey *idatastore.Key, props []string) error {
	inst, err := r.registry.NewInstance(srcKind)
	if errors.Is(err, skeleton.ErrUnknownKind) {
		return nil
	}
	if err != nil {
		return err
	}
	err = inst.FromDB(ctx, srcKey)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, prop := range props {
		bone := skeleton.AsRelational(inst.Schema().Bone(prop))
		if bone == nil || bone.UpdateLevel != skeleton.UpdateLevel_Always {
			continue
		}
		if err := bone.Refresh(ctx, inst, prop); err != nil {
			return err
		}
	}
	_, err = inst.ToDB(ctx, skeleton.WithoutPropagation())
	return err
}

// FullReindex re-saves every entity of every kind carrying relational bones,
// refreshing the snapshots of UpdateLevel_Always and UpdateLevel_OnRebuild
// bones. Per-entity failures are logged and skipped, one broken entity must
// not starve the sweep.
func (r *Reconciler) FullReindex(ctx context.Context) error {
	for _, kind := range r.registry.Kinds() {
		schema, err := r.registry.ByKind(kind)
		if err != nil {
			return err
		}
		relational := []string{}
		for _, name := range schema.BoneNames() {
			if skeleton.AsRelational(schema.Bone(name)) != nil {
				relational = append(relational, name)
			}
		}
		if len(relational) == 0 {
			continue
		}
		q := idatastore.NewQuery(kind).KeysOnly()
		err = r.registry.Datastore().Iterate(ctx, q, func(e *idatastore.Entity) error {
			if err := r.reindexEntity(ctx, kind, e.Key, relational); err != nil {
				logger.Error("reindex of", e.Key.Encode(), "failed:", err.Error())
			}
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reindexEntity(ctx context.Context, kind string, key *idatastore.Key, props []string) error {
	inst, err := r.registry.NewInstance(kind)
	if err != nil {
		return err
	}
	err = inst.FromDB(ctx, key)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, prop := range props {
		bone := skeleton.AsRelational(inst.Schema().Bone(prop))
		if err := bone.Refresh(ctx, inst, prop); err != nil {
			return err
		}
	}
	_, err = inst.ToDB(ctx, skeleton.WithoutPropagation())
	return err
}

// sourceSet groups affected properties by source entity, so each source is
// loaded and saved once per propagation.
type sourceSet struct {
	order []string
	props map[string][]string
	kinds map[string]string
	keys  map[string]*idatastore.Key
}

func newSourceSet() *sourceSet {
	return &sourceSet{
		props: map[string][]string{},
		kinds: map[string]string{},
		keys:  map[string]*idatastore.Key{},
	}
}

func (s *sourceSet) add(kind string, key *idatastore.Key, prop string) {
	enc := key.Encode()
	if _, ok := s.props[enc]; !ok {
		s.order = append(s.order, enc)
		s.kinds[enc] = kind
		s.keys[enc] = key
	}
	for _, p := range s.props[enc] {
		if p == prop {
			return
		}
	}
	s.props[enc] = append(s.props[enc], prop)
}

func (s *sourceSet) each(fn func(kind string, key *idatastore.Key, props []string) error) error {
	for _, enc := range s.order {
		if err := fn(s.kinds[enc], s.keys[enc], s.props[enc]); err != nil {
			return err
		}
	}
	return nil
}
