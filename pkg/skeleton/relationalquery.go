/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"fmt"
	"strings"

	"github.com/voedger/virel/pkg/idatastore"
)

// Query building over relational bones.
//
// A filter or sort on a multiple bone switches the query to the
// «viur-relations» index collection: rows carry src/dest/rel snapshot
// documents, so edge predicates become plain dotted filters there. The
// switch installs filter and order hooks that rewrite everything added to
// the query afterwards, bare own fields are only allowed when listed in
// parentKeys (they are replicated into the rows). A reference outside
// refKeys, parentKeys or the using schema makes the query unsatisfiable,
// never silently unfiltered.
//
// A single (non-multiple) bone needs no index: its snapshot is inlined, so
// predicates delegate to the referenced sub-schema against the flattened
// «bone.dest.field» paths of the own collection.

func (b *RelationalBone) BuildDBFilter(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any, prefix string) error {
	if !b.filterTouches(rawFilter, name) {
		return nil
	}
	if prefix != "" {
		return fmt.Errorf("bone «%s%s»: filtering a reference below another reference is unsatisfiable: %w",
			prefix, name, idatastore.ErrUnsatisfiableQuery)
	}
	if !b.Indexed {
		return fmt.Errorf("bone «%s» is not indexed, filtering is unsatisfiable: %w", name, idatastore.ErrUnsatisfiableQuery)
	}
	if b.Multiple {
		return b.filterViaIndex(name, inst, q, rawFilter)
	}
	return b.filterViaSnapshot(name, inst, q, rawFilter)
}

func (b *RelationalBone) BuildDBSort(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any) error {
	orderBy, ok := rawFilter[orderByKey].(string)
	if !ok || (orderBy != name && !strings.HasPrefix(orderBy, name+".")) {
		return nil
	}
	if !b.Indexed {
		return fmt.Errorf("bone «%s» is not indexed, ordering is unsatisfiable: %w", name, idatastore.ErrUnsatisfiableQuery)
	}
	if b.Multiple {
		if err := b.ensureIndexQuery(name, inst.schema.kind, q); err != nil {
			return err
		}
		// the order hook rewrites the field
		if descendingOrder(rawFilter) {
			q.Order("-" + orderBy)
		} else {
			q.Order(orderBy)
		}
		return q.Err()
	}
	field, err := b.sourceOrderField(name, orderBy)
	if err != nil {
		return err
	}
	if descendingOrder(rawFilter) {
		field = "-" + field
	}
	q.Order(field)
	return q.Err()
}

// filterTouches reports whether any raw filter key addresses the bone.
func (b *RelationalBone) filterTouches(rawFilter map[string]any, name string) bool {
	for k := range rawFilter {
		if k == orderByKey || k == orderDirKey {
			continue
		}
		field, _ := splitOpSuffix(k)
		if field == name || strings.HasPrefix(field, name+".") {
			return true
		}
	}
	return false
}

// filterViaIndex switches q to the relation-index collection and records the
// bone-addressed predicates. Validation and field mapping happen in the
// installed hooks, so predicates added by later bones or by the caller
// follow the same rules.
func (b *RelationalBone) filterViaIndex(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any) error {
	if err := b.ensureIndexQuery(name, inst.schema.kind, q); err != nil {
		return err
	}
	for _, rawKey := range sortedKeys(rawFilter) {
		if rawKey == orderByKey || rawKey == orderDirKey {
			continue
		}
		value := rawFilter[rawKey]
		if rawKey == KeyField {
			// source identity: rows are parented by the source key, the hook
			// converts the equality into an ancestor constraint
			q.Filter(idatastore.KeyProperty+" =", value)
			continue
		}
		field, op := splitOpSuffix(rawKey)
		if field != name && !strings.HasPrefix(field, name+".") {
			continue
		}
		q.Filter(field+" "+string(op), value)
	}
	return q.Err()
}

// ensureIndexQuery performs the collection switch once: retarget to the
// index kind, pin the (source kind, bone) row subset and install the rewrite
// hooks. A query already switched for another bone cannot serve two row
// subsets and is unsatisfiable.
func (b *RelationalBone) ensureIndexQuery(name, srcKind string, q *idatastore.Query) error {
	if q.Kind() == RelationIndexKind {
		for _, f := range q.Filters() {
			if f.Field != IndexField_SrcProperty {
				continue
			}
			if f.Value == name {
				return nil
			}
			return fmt.Errorf("query is already rewritten for bone «%v», bone «%s» cannot share it: %w",
				f.Value, name, idatastore.ErrUnsatisfiableQuery)
		}
	}
	q.SetKind(RelationIndexKind)
	q.Filter(IndexField_SrcKind+" =", srcKind)
	q.Filter(IndexField_DestKind+" =", b.Kind)
	q.Filter(IndexField_SrcProperty+" =", name)
	q.SetFilterHook(b.indexFilterHook(name))
	q.SetOrderHook(b.indexOrderHook(name))
	return nil
}

func (b *RelationalBone) indexFilterHook(name string) idatastore.FilterHook {
	return func(q *idatastore.Query, field string, op idatastore.Op, value any) (string, idatastore.Op, any, error) {
		if field == idatastore.KeyProperty && op == idatastore.OpEqual {
			key, err := filterKey(value)
			if err != nil {
				return "", op, value, err
			}
			q.Ancestor(key)
			return "", op, value, nil
		}
		newField, err := b.indexQueryField(name, field)
		if err != nil {
			return "", op, value, err
		}
		return newField, op, value, nil
	}
}

func (b *RelationalBone) indexOrderHook(name string) idatastore.OrderHook {
	return func(q *idatastore.Query, field string, descending bool) (string, bool, error) {
		if field == idatastore.KeyProperty {
			return field, descending, nil
		}
		newField, err := b.indexQueryField(name, field)
		if err != nil {
			return "", descending, err
		}
		return newField, descending, nil
	}
}

// indexQueryField maps a field reference onto a relation-index row path.
//
//	«bone», «bone.key»                      ->  dest.key
//	«bone.x», «bone.dest.x», «dest.x»       ->  dest.x, x within refKeys
//	«bone.rel.x», «rel.x»                   ->  rel.x, x within the using schema
//	«bone.src.x», «src.x», bare own field   ->  src.x, x within parentKeys
//	viur_* bookkeeping fields, __key__      ->  unchanged
//
// Anything else cannot be answered by the index and is rejected.
func (b *RelationalBone) indexQueryField(name, field string) (string, error) {
	if field == idatastore.KeyProperty || strings.HasPrefix(field, "viur_") {
		return field, nil
	}
	if field == name {
		return destField + "." + KeyField, nil
	}
	if strings.HasPrefix(field, name+".") {
		sub := field[len(name)+1:]
		head, _, _ := strings.Cut(sub, ".")
		if head != destField && head != relField && head != srcField {
			// «bone.x» addresses the destination snapshot
			if sub == KeyField || coveredBy(b.RefKeys, sub) {
				return destField + "." + sub, nil
			}
			return "", fmt.Errorf("field «%s» is not in refKeys of bone «%s»: %w", sub, name, idatastore.ErrUnsatisfiableQuery)
		}
		field = sub
	}
	head, rest, _ := strings.Cut(field, ".")
	switch head {
	case destField:
		if rest != "" && (rest == KeyField || coveredBy(b.RefKeys, rest)) {
			return field, nil
		}
		return "", fmt.Errorf("field «%s» is not in refKeys of bone «%s»: %w", rest, name, idatastore.ErrUnsatisfiableQuery)
	case relField:
		if b.Using != nil && rest != "" && b.Using.Bone(topSegment(rest)) != nil {
			return field, nil
		}
		return "", fmt.Errorf("field «%s» is not an edge attribute of bone «%s»: %w", rest, name, idatastore.ErrUnsatisfiableQuery)
	case srcField:
		if rest != "" && coveredBy(b.ParentKeys, rest) {
			return field, nil
		}
		return "", fmt.Errorf("field «%s» is not in parentKeys of bone «%s»: %w", rest, name, idatastore.ErrUnsatisfiableQuery)
	}
	if coveredBy(b.ParentKeys, field) {
		return srcField + "." + field, nil
	}
	return "", fmt.Errorf("field «%s» is not in parentKeys of bone «%s», the relation index cannot answer it: %w",
		field, name, idatastore.ErrUnsatisfiableQuery)
}

// filterViaSnapshot translates bone-addressed predicates into flattened
// «bone.dest.field» paths on the own collection, each destination field
// vetted by the corresponding bone of the referenced sub-schema.
func (b *RelationalBone) filterViaSnapshot(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any) error {
	refSchema, err := inst.registry.RefSchemaFor(b.Kind, b.RefKeys)
	if err != nil {
		return err
	}
	refInst := inst.registry.InstanceOf(refSchema)
	destPrefix := name + "." + destField + "."
	for _, rawKey := range sortedKeys(rawFilter) {
		if rawKey == orderByKey || rawKey == orderDirKey {
			continue
		}
		value := rawFilter[rawKey]
		field, op := splitOpSuffix(rawKey)
		if field == name {
			q.Filter(destPrefix+KeyField+" "+string(op), value)
			continue
		}
		if !strings.HasPrefix(field, name+".") {
			continue
		}
		sub := field[len(name)+1:]
		if head, rest, _ := strings.Cut(sub, "."); head == relField {
			if b.Using == nil || rest == "" || b.Using.Bone(topSegment(rest)) == nil {
				return fmt.Errorf("field «%s» is not an edge attribute of bone «%s»: %w", rest, name, idatastore.ErrUnsatisfiableQuery)
			}
			q.Filter(name+"."+sub+" "+string(op), value)
			continue
		}
		sub = strings.TrimPrefix(sub, destField+".")
		if sub == KeyField {
			q.Filter(destPrefix+KeyField+" "+string(op), value)
			continue
		}
		head, rest, _ := strings.Cut(sub, ".")
		subBone := refSchema.Bone(head)
		if subBone == nil {
			return fmt.Errorf("field «%s» is not in refKeys of bone «%s»: %w", sub, name, idatastore.ErrUnsatisfiableQuery)
		}
		if AsRelational(subBone) != nil {
			return fmt.Errorf("bone «%s.%s»: filtering a reference below another reference is unsatisfiable: %w",
				name, head, idatastore.ErrUnsatisfiableQuery)
		}
		if rest == "" {
			subRaw := map[string]any{head + opSuffix(op): value}
			if err := subBone.BuildDBFilter(head, refInst, q, subRaw, destPrefix); err != nil {
				return err
			}
			continue
		}
		// dotted descent below the sub-bone, e.g. an embedded document field
		if !subBone.IsIndexed() {
			return fmt.Errorf("bone «%s%s» is not indexed, filtering is unsatisfiable: %w", destPrefix, head, idatastore.ErrUnsatisfiableQuery)
		}
		if !coveredBy(b.RefKeys, sub) {
			return fmt.Errorf("field «%s» is not in refKeys of bone «%s»: %w", sub, name, idatastore.ErrUnsatisfiableQuery)
		}
		q.Filter(destPrefix+sub+" "+string(op), value)
	}
	return q.Err()
}

// sourceOrderField validates a sort over the inlined snapshot of a single
// bone and returns the flattened path.
func (b *RelationalBone) sourceOrderField(name, path string) (string, error) {
	sub := strings.TrimPrefix(path, name)
	if sub == "" {
		return name + "." + destField + "." + KeyField, nil
	}
	sub = sub[1:]
	if sub == KeyField {
		return name + "." + destField + "." + KeyField, nil
	}
	if head, rest, _ := strings.Cut(sub, "."); head == relField {
		if b.Using == nil || rest == "" || b.Using.Bone(topSegment(rest)) == nil {
			return "", fmt.Errorf("field «%s» is not an edge attribute of bone «%s»: %w", rest, name, idatastore.ErrUnsatisfiableQuery)
		}
		return name + "." + sub, nil
	}
	sub = strings.TrimPrefix(sub, destField+".")
	if sub != KeyField && !coveredBy(b.RefKeys, sub) {
		return "", fmt.Errorf("field «%s» is not in refKeys of bone «%s»: %w", sub, name, idatastore.ErrUnsatisfiableQuery)
	}
	return name + "." + destField + "." + sub, nil
}

func topSegment(path string) string {
	head, _, _ := strings.Cut(path, ".")
	return head
}

// splitOpSuffix splits the raw filter key convention «field$op» used by
// external filter mappings.
func splitOpSuffix(rawKey string) (field string, op idatastore.Op) {
	op = idatastore.OpEqual
	i := strings.LastIndex(rawKey, filterOpMark)
	if i < 0 {
		return rawKey, op
	}
	for _, fo := range rawFilterOps {
		if fo.suffix != "" && rawKey[i:] == fo.suffix {
			return rawKey[:i], fo.op
		}
	}
	return rawKey, op
}

func opSuffix(op idatastore.Op) string {
	for _, fo := range rawFilterOps {
		if fo.op == op {
			return fo.suffix
		}
	}
	// notest
	return ""
}

func filterKey(value any) (*idatastore.Key, error) {
	switch v := value.(type) {
	case *idatastore.Key:
		return v, nil
	case string:
		return idatastore.DecodeKey(v)
	}
	return nil, fmt.Errorf("key filter value %T: %w", value, idatastore.ErrInvalidKey)
}
