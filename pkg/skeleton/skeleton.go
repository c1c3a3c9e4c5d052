/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package skeleton

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/voedger/virel/pkg/idatastore"
)

// Schema declares the bones of one entity kind. Schemas are assembled at
// configuration time and must not change afterwards.
type Schema struct {
	kind  string
	names []string
	bones map[string]Bone
}

func NewSchema(kind string) *Schema {
	if kind == "" {
		panic("schema kind must not be empty")
	}
	if strings.ContainsAny(kind, "/ ") {
		panic(fmt.Sprintf("schema kind «%s»: kinds are key path segments, no separators or spaces", kind))
	}
	return &Schema{kind: kind, bones: map[string]Bone{}}
}

// AddBone declares a bone. Declaration errors are programming errors and
// panic: empty, dotted or reserved names, duplicates.
func (s *Schema) AddBone(name string, bone Bone) *Schema {
	if name == "" {
		panic(fmt.Sprintf("kind «%s»: bone name must not be empty", s.kind))
	}
	if strings.ContainsAny(name, ". $/") {
		panic(fmt.Sprintf("kind «%s»: bone name «%s» contains a reserved character", s.kind, name))
	}
	if name == KeyField || name == orderByKey || name == orderDirKey || name == IncomingLocksProperty {
		panic(fmt.Sprintf("kind «%s»: bone name «%s» is reserved", s.kind, name))
	}
	if strings.HasSuffix(name, OutgoingLocksSuffix) || strings.HasSuffix(name, uniqueValuesSuffix) {
		panic(fmt.Sprintf("kind «%s»: bone name «%s» collides with a bookkeeping property", s.kind, name))
	}
	if _, ok := s.bones[name]; ok {
		panic(fmt.Sprintf("kind «%s»: bone «%s» is already declared", s.kind, name))
	}
	if p, ok := bone.(interface{ prepare(schemaKind, name string) }); ok {
		p.prepare(s.kind, name)
	}
	s.names = append(s.names, name)
	s.bones[name] = bone
	return s
}

func (s *Schema) Kind() string {
	return s.kind
}

// Bone returns the declaration by name, nil when absent.
func (s *Schema) Bone(name string) Bone {
	return s.bones[name]
}

// BoneNames returns the bone names in declaration order.
func (s *Schema) BoneNames() []string {
	return append([]string{}, s.names...)
}

// Instance is one entity viewed through a Schema: a key, the typed bone
// values and the raw stored entity it was loaded from (nil for new ones).
//
// Instances are not safe for concurrent use.
type Instance struct {
	registry *Registry
	schema   *Schema
	key      *idatastore.Key
	dbEntity *idatastore.Entity
	values   map[string]any
}

func (inst *Instance) Schema() *Schema {
	return inst.schema
}

func (inst *Instance) Key() *idatastore.Key {
	return inst.key
}

// SetKey assigns the identity of a not yet saved instance, e.g. to create an
// entity under a parent or with a caller-chosen ID.
func (inst *Instance) SetKey(key *idatastore.Key) error {
	if key == nil || key.Kind != inst.schema.kind {
		return fmt.Errorf("key «%s» does not address kind «%s»: %w", key.Encode(), inst.schema.kind, ErrKindMismatch)
	}
	inst.key = key
	return nil
}

func (inst *Instance) Value(name string) any {
	return inst.values[name]
}

func (inst *Instance) SetValue(name string, value any) error {
	if _, ok := inst.schema.bones[name]; !ok {
		return fmt.Errorf("kind «%s», bone «%s»: %w", inst.schema.kind, name, ErrUnknownBone)
	}
	inst.values[name] = value
	return nil
}

// DBEntity returns the stored entity the instance was loaded from, nil for
// new instances. Callers must not mutate it.
func (inst *Instance) DBEntity() *idatastore.Entity {
	return inst.dbEntity
}

// FromDB loads the entity behind key and unserializes every bone.
func (inst *Instance) FromDB(ctx context.Context, key *idatastore.Key) error {
	if key == nil || key.Kind != inst.schema.kind {
		return fmt.Errorf("key «%s» does not address kind «%s»: %w", key.Encode(), inst.schema.kind, ErrKindMismatch)
	}
	e, err := inst.registry.ds.Get(ctx, key)
	if err != nil {
		return err
	}
	inst.key = e.Key
	inst.dbEntity = e
	inst.values = map[string]any{}
	for _, name := range inst.schema.names {
		if err := inst.schema.bones[name].Unserialize(inst, name, e); err != nil {
			return err
		}
	}
	return nil
}

type saveOptions struct {
	noPropagation bool
}

type SaveOption func(*saveOptions)

// WithoutPropagation suppresses the referenced-entity-updated task of this
// save. The snapshot-propagation worker saves with it, otherwise every
// propagated refresh would fan out again.
func WithoutPropagation() SaveOption {
	return func(o *saveOptions) { o.noPropagation = true }
}

// ToDB writes the instance transactionally: bone serialization, lock-list
// maintenance and unique-index maintenance commit or fail as one unit.
// Relation-index reconciliation is deferred to tasks enqueued after the
// commit.
func (inst *Instance) ToDB(ctx context.Context, opts ...SaveOption) (*idatastore.Key, error) {
	o := saveOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if inst.key == nil {
		inst.key = idatastore.NewKey(inst.schema.kind, "")
	}
	key := inst.key
	var entity *idatastore.Entity
	err := inst.registry.ds.RunInTransaction(ctx, func(tx idatastore.ITransaction) error {
		old, err := tx.Get(key)
		if err != nil && !errors.Is(err, idatastore.ErrNotFound) {
			return err
		}
		entity = idatastore.NewEntity(key)
		if old != nil {
			// properties of bones removed from the schema survive a resave
			for _, p := range old.Properties() {
				entity.Set(p, old.Get(p))
			}
		}
		for _, name := range inst.schema.names {
			if err := inst.schema.bones[name].Serialize(inst, name, entity); err != nil {
				return fmt.Errorf("kind «%s», bone «%s»: %w", inst.schema.kind, name, err)
			}
		}
		if err := syncOutgoingLocks(tx, inst, old, entity); err != nil {
			return err
		}
		if err := syncUniqueIndex(tx, inst, old, entity); err != nil {
			return err
		}
		return tx.Put(entity)
	})
	if err != nil {
		return nil, err
	}
	inst.dbEntity = entity
	for _, name := range inst.schema.names {
		if rb := AsRelational(inst.schema.bones[name]); rb != nil && rb.Multiple {
			inst.registry.enqueue(Task{
				Kind:        TaskKind_Reconcile,
				SrcKind:     inst.schema.kind,
				DestKind:    rb.Kind,
				SrcProperty: name,
				SrcKey:      key,
			})
		}
	}
	if !o.noPropagation {
		inst.registry.enqueue(Task{
			Kind:     TaskKind_DestUpdated,
			DestKind: inst.schema.kind,
			DestKey:  key,
			MinTag:   inst.registry.iTime.Now().UnixMilli(),
		})
	}
	return key, nil
}

// Delete removes the entity transactionally. Incoming PreventDeletion locks
// veto the removal, outgoing locks and owned unique-index rows are released
// within the same transaction. Relation-index rows and deletion policies of
// entities referencing this one are handled by tasks enqueued after the
// commit.
func (inst *Instance) Delete(ctx context.Context) error {
	key := inst.key
	if key == nil {
		return fmt.Errorf("instance of kind «%s» has no key: %w", inst.schema.kind, idatastore.ErrNotFound)
	}
	err := inst.registry.ds.RunInTransaction(ctx, func(tx idatastore.ITransaction) error {
		e, err := tx.Get(key)
		if err != nil {
			return err
		}
		if locks := stringList(e.Get(IncomingLocksProperty)); len(locks) > 0 {
			return fmt.Errorf("entity «%s» is referenced by %d entity(ies), e.g. «%s»: %w",
				key.Encode(), len(locks), locks[0], ErrProtectedByLocks)
		}
		if err := releaseOutgoingLocks(tx, inst.schema, e); err != nil {
			return err
		}
		if err := releaseUniqueRows(tx, inst.schema, e); err != nil {
			return err
		}
		return tx.Delete(key)
	})
	if err != nil {
		return err
	}
	for _, name := range inst.schema.names {
		if rb := AsRelational(inst.schema.bones[name]); rb != nil && rb.Multiple {
			inst.registry.enqueue(Task{
				Kind:        TaskKind_CleanupSource,
				SrcKind:     inst.schema.kind,
				DestKind:    rb.Kind,
				SrcProperty: name,
				SrcKey:      key,
			})
		}
	}
	inst.registry.enqueue(Task{
		Kind:     TaskKind_DestDeleted,
		DestKind: inst.schema.kind,
		DestKey:  key,
	})
	inst.dbEntity = nil
	return nil
}

// FromClient parses flat form-encoded client input into the instance values.
// Every bone reports its problems, the returned slice holds the blocking
// ones: Invalid always, Empty and NotSet only for required bones. nil means
// the input is acceptable for saving.
func (inst *Instance) FromClient(ctx context.Context, data url.Values) []FieldError {
	blocking := []FieldError{}
	for _, name := range inst.schema.names {
		bone := inst.schema.bones[name]
		if bone.IsReadOnly() {
			continue
		}
		for _, fe := range bone.FromClient(ctx, inst, name, data) {
			if fe.Severity == Severity_Invalid || bone.IsRequired() {
				blocking = append(blocking, fe)
			}
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return blocking
}

// All returns a query over the schema kind.
func (inst *Instance) All() *idatastore.Query {
	return idatastore.NewQuery(inst.schema.kind)
}

// MergeExternalFilter translates a raw external filter mapping into q.
// Filterable fields are decided by the bones, an unsatisfiable field latches
// an error into q and is returned here, never silently dropped. Raw keys
// matching no bone are ignored.
func (inst *Instance) MergeExternalFilter(q *idatastore.Query, rawFilter map[string]any) error {
	// relational bones first: a collection switch must happen before plain
	// bones add their filters, so the installed hooks can redirect them
	for pass := 0; pass < 2; pass++ {
		for _, name := range inst.schema.names {
			bone := inst.schema.bones[name]
			if (AsRelational(bone) != nil) != (pass == 0) {
				continue
			}
			if err := bone.BuildDBFilter(name, inst, q, rawFilter, ""); err != nil {
				return err
			}
			if err := bone.BuildDBSort(name, inst, q, rawFilter); err != nil {
				return err
			}
		}
	}
	if raw, ok := rawFilter[KeyField]; ok && q.Kind() == inst.schema.kind {
		q.Filter(idatastore.KeyProperty+" =", raw)
	}
	return q.Err()
}

// SearchTags returns the sorted union of the full-text tokens of all bones.
func (inst *Instance) SearchTags() []string {
	seen := map[string]bool{}
	tags := []string{}
	for _, name := range inst.schema.names {
		for _, tag := range inst.schema.bones[name].SearchTags(inst, name) {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// ReferencedBlobs returns the union of blob identifiers reachable from all
// bone values.
func (inst *Instance) ReferencedBlobs() []string {
	seen := map[string]bool{}
	blobs := []string{}
	for _, name := range inst.schema.names {
		for _, blob := range inst.schema.bones[name].ReferencedBlobs(inst, name) {
			if !seen[blob] {
				seen[blob] = true
				blobs = append(blobs, blob)
			}
		}
	}
	sort.Strings(blobs)
	return blobs
}

// SetRelation assigns a relational bone programmatically by destination key.
// appendTo adds to a multiple bone instead of replacing the list.
func (inst *Instance) SetRelation(ctx context.Context, name string, destKey *idatastore.Key, using url.Values, appendTo bool) error {
	rb := AsRelational(inst.schema.bones[name])
	if rb == nil {
		return fmt.Errorf("kind «%s», bone «%s» is not relational: %w", inst.schema.kind, name, ErrUnknownBone)
	}
	return rb.SetValue(ctx, inst, name, destKey, using, appendTo)
}

// stringList converts a stored list property into []string, dropping
// non-string elements. nil input yields nil.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
