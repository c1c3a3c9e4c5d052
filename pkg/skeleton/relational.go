/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package skeleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/voedger/virel/pkg/idatastore"
)

// RelationValue is one relation edge: the denormalized snapshot of the
// referenced entity and of the optional edge record.
type RelationValue struct {
	// Dest holds the referenced entity identity (Dest.Key) and the
	// denormalized refKeys properties as they were at snapshot time.
	Dest *idatastore.Entity

	// Rel holds the edge attributes declared by the Using schema, nil
	// otherwise. Rel has no key of its own.
	Rel *idatastore.Entity
}

func (v *RelationValue) Clone() *RelationValue {
	c := &RelationValue{Dest: v.Dest.Clone()}
	if v.Rel != nil {
		c.Rel = v.Rel.Clone()
	}
	return c
}

// RelationalBone declares a reference to entities of another kind, with a
// denormalized snapshot of the referenced fields stored inline.
type RelationalBone struct {
	BaseBone

	// Kind of the referenced entities. Required.
	Kind string

	// Module overrides the logical module name, defaults to Kind.
	Module string

	// Multiple switches the value from a single edge to an ordered list.
	// Only multiple bones get relation-index rows.
	Multiple bool

	// RefKeys lists the referenced-entity fields captured into the dest
	// snapshot, dotted paths select sub-documents. «key» is implied.
	RefKeys []string

	// ParentKeys lists the own fields replicated into relation-index rows,
	// the only own fields filterable alongside this bone. «key» is implied.
	ParentKeys []string

	// Using declares the edge attributes, nil for plain references.
	Using *Schema

	// UpdateLevel controls snapshot refresh on referenced-entity change.
	UpdateLevel UpdateLevel

	// Consistency selects the referential-integrity policy, defaults to
	// RelationalConsistency_Ignore.
	Consistency RelationalConsistency

	// Format renders a display string from the snapshots, e.g.
	// «$(dest.lastname), $(dest.firstname) ($(rel.role))».
	Format string

	// EntryCheck vets each accepted candidate during client input, a
	// non-empty result rejects it with that message.
	EntryCheck func(value *RelationValue) string

	format *formatTemplate
}

// RelationConfig returns the relational declaration, also when embedded in a
// derived bone type. See AsRelational.
func (b *RelationalBone) RelationConfig() *RelationalBone {
	return b
}

// AsRelational returns the relational declaration of bone, nil for plain
// bones.
func AsRelational(bone Bone) *RelationalBone {
	if rb, ok := bone.(interface{ RelationConfig() *RelationalBone }); ok {
		return rb.RelationConfig()
	}
	return nil
}

func (b *RelationalBone) prepare(schemaKind, name string) {
	if b.Kind == "" {
		panic(fmt.Sprintf("kind «%s», relational bone «%s»: referenced kind must not be empty", schemaKind, name))
	}
	if b.Unique && b.Multiple {
		panic(fmt.Sprintf("kind «%s», relational bone «%s»: unique is not supported on multiple bones", schemaKind, name))
	}
	b.RefKeys = ensureKeyField(b.RefKeys)
	b.ParentKeys = ensureKeyField(b.ParentKeys)
	if b.Module == "" {
		b.Module = b.Kind
	}
	if b.Consistency == RelationalConsistency_null {
		b.Consistency = RelationalConsistency_Ignore
	}
	if b.Format == "" {
		b.Format = DefaultFormat
	}
	if b.format == nil {
		b.format = mustParseFormat(b.Format)
	}
}

func ensureKeyField(keys []string) []string {
	if containsString(keys, KeyField) {
		return keys
	}
	return append([]string{KeyField}, keys...)
}

// Relations returns the current value as a slice, a single value is wrapped.
func (b *RelationalBone) Relations(inst *Instance, name string) []*RelationValue {
	switch v := inst.Value(name).(type) {
	case *RelationValue:
		if v != nil {
			return []*RelationValue{v}
		}
	case []*RelationValue:
		return v
	}
	return nil
}

// Serialize writes the edge documents and purges every previously
// denormalized «name.suffix» sibling, so a bone or refKeys change cannot
// leave stale flattened properties behind. Serializing an unchanged value
// twice yields identical properties.
func (b *RelationalBone) Serialize(inst *Instance, name string, entity *idatastore.Entity) error {
	prefix := name + "."
	for _, p := range entity.Properties() {
		if p == name || strings.HasPrefix(p, prefix) {
			entity.Delete(p)
		}
	}
	values := b.Relations(inst, name)
	if b.Multiple {
		encoded := make([]any, len(values))
		for i, v := range values {
			encoded[i] = encodeRelation(v)
		}
		entity.Set(name, encoded)
		return nil
	}
	if len(values) == 0 {
		entity.Set(name, nil)
		return nil
	}
	entity.Set(name, encodeRelation(values[0]))
	return nil
}

func encodeRelation(v *RelationValue) map[string]any {
	dest := v.Dest.Clone()
	destDoc := map[string]any{KeyField: dest.Key}
	for _, p := range dest.Properties() {
		destDoc[p] = dest.Get(p)
	}
	doc := map[string]any{destField: destDoc, relField: nil}
	if v.Rel != nil {
		rel := v.Rel.Clone()
		relDoc := map[string]any{}
		for _, p := range rel.Properties() {
			relDoc[p] = rel.Get(p)
		}
		doc[relField] = relDoc
	}
	return doc
}

func (b *RelationalBone) Unserialize(inst *Instance, name string, entity *idatastore.Entity) error {
	values, err := decodeRelations(entity.Get(name))
	if err != nil {
		return fmt.Errorf("bone «%s»: %w", name, err)
	}
	if b.Multiple {
		inst.values[name] = values
		return nil
	}
	if len(values) == 0 {
		inst.values[name] = nil
		return nil
	}
	inst.values[name] = values[0]
	return nil
}

// decodeRelations tolerates every historic encoding: nil, a single edge
// document, a list of edge documents, a bare dest document without the
// dest/rel wrapper and the legacy JSON string form. Undecodable list
// elements are dropped, the value must stay loadable.
func decodeRelations(raw any) ([]*RelationValue, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("legacy relation string: %w: %v", idatastore.ErrUnsupportedValue, err)
		}
		return decodeRelations(decoded)
	case map[string]any:
		value, err := decodeRelation(v)
		if err != nil {
			return nil, err
		}
		return []*RelationValue{value}, nil
	case []any:
		values := []*RelationValue{}
		for _, item := range v {
			doc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			value, err := decodeRelation(doc)
			if err != nil {
				continue
			}
			values = append(values, value)
		}
		return values, nil
	}
	return nil, fmt.Errorf("relation encoding %T: %w", raw, idatastore.ErrUnsupportedValue)
}

func decodeRelation(doc map[string]any) (*RelationValue, error) {
	destRaw, ok := doc[destField]
	if !ok {
		// bare dest document written before the dest/rel wrapper existed
		if _, hasKey := doc[KeyField]; !hasKey {
			return nil, fmt.Errorf("relation document without dest: %w", idatastore.ErrUnsupportedValue)
		}
		doc = map[string]any{destField: doc}
		destRaw = doc[destField]
	}
	destDoc, ok := destRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("relation dest %T: %w", destRaw, idatastore.ErrUnsupportedValue)
	}
	destKey, err := relationKey(destDoc[KeyField])
	if err != nil {
		return nil, err
	}
	dest := idatastore.NewEntity(destKey)
	for k, v := range destDoc {
		if k == KeyField {
			continue
		}
		dest.Set(k, v)
	}
	value := &RelationValue{Dest: dest}
	if relDoc, ok := doc[relField].(map[string]any); ok {
		rel := idatastore.NewEntity(nil)
		for k, v := range relDoc {
			rel.Set(k, v)
		}
		value.Rel = rel
	}
	return value, nil
}

func relationKey(raw any) (*idatastore.Key, error) {
	switch k := raw.(type) {
	case *idatastore.Key:
		return k, nil
	case string:
		return idatastore.DecodeKey(k)
	}
	return nil, fmt.Errorf("relation dest key %T: %w", raw, idatastore.ErrUnsupportedValue)
}

// Snapshot copies the fields selected by keys (and their dotted sub-fields)
// from the live entity into a fresh snapshot carrying the same key. The
// «key» entry of keys is implicit in the carried identity and copies no
// property.
func Snapshot(live *idatastore.Entity, keys []string) *idatastore.Entity {
	snap := idatastore.NewEntity(live.Key)
	for _, p := range live.Properties() {
		if snapshotCovers(keys, p) {
			snap.Set(p, live.Get(p))
		}
	}
	return snap
}

func snapshotCovers(keys []string, property string) bool {
	for _, k := range keys {
		if k == KeyField {
			continue
		}
		if property == k || strings.HasPrefix(property, k+".") {
			return true
		}
	}
	return false
}

// coveredBy reports whether field is one of keys or a dotted descent into
// one of them.
func coveredBy(keys []string, field string) bool {
	for _, k := range keys {
		if field == k || strings.HasPrefix(field, k+".") {
			return true
		}
	}
	return false
}

func (b *RelationalBone) IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case *RelationValue:
		return v == nil
	case []*RelationValue:
		return len(v) == 0
	}
	return true
}

// currentLocks returns the destination keys the bone must hold locked, empty
// unless the policy is PreventDeletion.
func (b *RelationalBone) currentLocks(inst *Instance, name string) []string {
	if b.Consistency != RelationalConsistency_PreventDeletion {
		return nil
	}
	locks := []string{}
	for _, v := range b.Relations(inst, name) {
		if v.Dest.Key == nil {
			continue
		}
		enc := v.Dest.Key.Encode()
		if !containsString(locks, enc) {
			locks = append(locks, enc)
		}
	}
	return locks
}

// UniqueValues registers the encoded destination key, so at most one entity
// may reference a given destination through this bone.
func (b *RelationalBone) UniqueValues(inst *Instance, name string) []string {
	if !b.Unique {
		return nil
	}
	values := []string{}
	for _, v := range b.Relations(inst, name) {
		if v.Dest.Key != nil {
			values = append(values, v.Dest.Key.Encode())
		}
	}
	return values
}

// SearchTags walks the dest snapshots through the referenced sub-schema and
// the rel snapshots through the using schema.
func (b *RelationalBone) SearchTags(inst *Instance, name string) []string {
	refSchema, err := inst.registry.RefSchemaFor(b.Kind, b.RefKeys)
	if err != nil {
		return nil
	}
	tags := []string{}
	for _, v := range b.Relations(inst, name) {
		tags = append(tags, snapshotInstance(inst.registry, refSchema, v.Dest).SearchTags()...)
		if b.Using != nil && v.Rel != nil {
			tags = append(tags, snapshotInstance(inst.registry, b.Using, v.Rel).SearchTags()...)
		}
	}
	return tags
}

// ReferencedBlobs walks the snapshots like SearchTags, so blobs referenced
// through file bones of the sub-schemas stay alive.
func (b *RelationalBone) ReferencedBlobs(inst *Instance, name string) []string {
	refSchema, err := inst.registry.RefSchemaFor(b.Kind, b.RefKeys)
	if err != nil {
		return nil
	}
	blobs := []string{}
	for _, v := range b.Relations(inst, name) {
		blobs = append(blobs, snapshotInstance(inst.registry, refSchema, v.Dest).ReferencedBlobs()...)
		if b.Using != nil && v.Rel != nil {
			blobs = append(blobs, snapshotInstance(inst.registry, b.Using, v.Rel).ReferencedBlobs()...)
		}
	}
	return blobs
}

// snapshotInstance views a snapshot entity through schema. Unserialize
// failures leave the affected bone value empty, a snapshot walk must not
// fail the caller.
func snapshotInstance(reg *Registry, schema *Schema, snapshot *idatastore.Entity) *Instance {
	snapInst := reg.InstanceOf(schema)
	for _, n := range schema.names {
		_ = schema.bones[n].Unserialize(snapInst, n, snapshot)
	}
	return snapInst
}

// Refresh re-pulls the dest snapshots from the live referenced entities.
// UpdateLevel_Never keeps them as written. A missing referenced entity keeps
// the stale snapshot, the deletion policies handle those separately.
func (b *RelationalBone) Refresh(ctx context.Context, inst *Instance, name string) error {
	if b.UpdateLevel == UpdateLevel_Never {
		return nil
	}
	for _, v := range b.Relations(inst, name) {
		if v.Dest.Key == nil {
			continue
		}
		live, err := inst.registry.ds.Get(ctx, v.Dest.Key)
		if errors.Is(err, idatastore.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		v.Dest = Snapshot(live, b.RefKeys)
	}
	return nil
}

// SetValue assigns the relation programmatically by destination key: the
// destination is fetched, snapshotted and optionally combined with edge
// attributes parsed from using. A nil destKey clears the value. appendTo
// adds to a multiple bone instead of replacing the list.
func (b *RelationalBone) SetValue(ctx context.Context, inst *Instance, name string, destKey *idatastore.Key, using url.Values, appendTo bool) error {
	if appendTo && !b.Multiple {
		return fmt.Errorf("bone «%s»: %w", name, ErrSingleValue)
	}
	if destKey == nil {
		if b.Multiple {
			inst.values[name] = []*RelationValue{}
		} else {
			inst.values[name] = nil
		}
		return nil
	}
	if destKey.Kind != b.Kind {
		return fmt.Errorf("bone «%s» references kind «%s», got «%s»: %w", name, b.Kind, destKey.Kind, ErrKindMismatch)
	}
	live, err := inst.registry.ds.Get(ctx, destKey)
	if err != nil {
		return err
	}
	value := &RelationValue{Dest: Snapshot(live, b.RefKeys)}
	if b.Using != nil {
		relInst := inst.registry.InstanceOf(b.Using)
		if len(using) > 0 {
			if errs := relInst.FromClient(ctx, using); len(errs) > 0 {
				return fmt.Errorf("bone «%s» edge attributes: %s", name, errs[0].String())
			}
		}
		value.Rel = relEntityOf(relInst)
	}
	switch {
	case b.Multiple && appendTo:
		inst.values[name] = append(b.Relations(inst, name), value)
	case b.Multiple:
		inst.values[name] = []*RelationValue{value}
	default:
		inst.values[name] = value
	}
	return nil
}

// relEntityOf serializes the bones of an edge instance into a keyless entity.
func relEntityOf(relInst *Instance) *idatastore.Entity {
	rel := idatastore.NewEntity(nil)
	for _, n := range relInst.schema.names {
		_ = relInst.schema.bones[n].Serialize(relInst, n, rel)
	}
	return rel
}

// FormatValue renders the display string of one edge value. src carries the
// referencing entity for $(src.field) placeholders, nil renders them empty.
func (b *RelationalBone) FormatValue(value *RelationValue, src *idatastore.Entity) string {
	return b.format.render(func(path string) (any, bool) {
		head, rest, ok := strings.Cut(path, ".")
		if !ok {
			return nil, false
		}
		switch head {
		case destField:
			if rest == KeyField {
				return value.Dest.Key.Encode(), true
			}
			return idatastore.PropertyValue(value.Dest, rest)
		case relField:
			if value.Rel == nil {
				return nil, false
			}
			return idatastore.PropertyValue(value.Rel, rest)
		case srcField:
			if src == nil {
				return nil, false
			}
			if rest == KeyField {
				return src.Key.Encode(), true
			}
			return idatastore.PropertyValue(src, rest)
		}
		return nil, false
	})
}
