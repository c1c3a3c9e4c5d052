/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/voedger/virel/pkg/idatastore"
)

// Unique-property index.
//
// Each taken value of a unique bone owns one row in the
// «kind_uniquePropertyIndex» collection, its src property holding the owner
// identity. The rows an entity currently owns are remembered on the sibling
// property «bone_uniqueIndexValues», so releasing them needs no scan. Index
// maintenance happens inside the save/delete transaction: two concurrent
// claims of the same value conflict on the same row and one of them fails.

// uniqueRowKey hashes the value, values are unrestricted strings while key
// IDs must stay separator-free.
func uniqueRowKey(kind, name, value string) *idatastore.Key {
	sum := sha256.Sum256([]byte(value))
	return idatastore.NewKey(kind+UniqueIndexKindSuffix, name+"="+hex.EncodeToString(sum[:]))
}

func syncUniqueIndex(tx idatastore.ITransaction, inst *Instance, old, entity *idatastore.Entity) error {
	src := entity.Key.Encode()
	for _, name := range inst.schema.names {
		bone := inst.schema.bones[name]
		if !bone.IsUnique() {
			continue
		}
		newValues := bone.UniqueValues(inst, name)
		var oldValues []string
		if old != nil {
			oldValues = stringList(old.Get(name + uniqueValuesSuffix))
		}
		entity.Set(name+uniqueValuesSuffix, newValues)
		for _, value := range newValues {
			if containsString(oldValues, value) {
				continue
			}
			if err := claimUniqueRow(tx, inst.schema.kind, name, value, src); err != nil {
				return err
			}
		}
		for _, value := range oldValues {
			if containsString(newValues, value) {
				continue
			}
			if err := dropUniqueRow(tx, inst.schema.kind, name, value, src); err != nil {
				return err
			}
		}
	}
	return nil
}

// releaseUniqueRows drops every index row owned by the stored entity e,
// called on delete.
func releaseUniqueRows(tx idatastore.ITransaction, schema *Schema, e *idatastore.Entity) error {
	src := e.Key.Encode()
	for _, name := range schema.names {
		if !schema.bones[name].IsUnique() {
			continue
		}
		for _, value := range stringList(e.Get(name + uniqueValuesSuffix)) {
			if err := dropUniqueRow(tx, schema.kind, name, value, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func claimUniqueRow(tx idatastore.ITransaction, kind, name, value, src string) error {
	rowKey := uniqueRowKey(kind, name, value)
	row, err := tx.Get(rowKey)
	switch {
	case errors.Is(err, idatastore.ErrNotFound):
		row = idatastore.NewEntity(rowKey)
		row.Set(UniqueIndexSrcProperty, src)
		return tx.Put(row)
	case err != nil:
		return err
	}
	if owner, _ := row.Get(UniqueIndexSrcProperty).(string); owner != src {
		return fmt.Errorf("bone «%s», value «%s» is owned by «%s»: %w", name, value, owner, ErrUniqueValueTaken)
	}
	return nil
}

// dropUniqueRow removes the row unless another entity took the value over,
// which happens when this entity lost it in an earlier failed save.
func dropUniqueRow(tx idatastore.ITransaction, kind, name, value, src string) error {
	rowKey := uniqueRowKey(kind, name, value)
	row, err := tx.Get(rowKey)
	if errors.Is(err, idatastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner, _ := row.Get(UniqueIndexSrcProperty).(string); owner != src {
		return nil
	}
	return tx.Delete(rowKey)
}
