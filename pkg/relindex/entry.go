/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package relindex

import (
	"errors"
	"fmt"

	"github.com/voedger/virel/pkg/idatastore"
	"github.com/voedger/virel/pkg/skeleton"
)

// ErrCorruptRow marks an index row whose destination reference cannot be
// decoded anymore. Reconciliation deletes such rows.
var ErrCorruptRow = errors.New("corrupt relation-index row")

// Entry is one decoded relation-index row: a live n:n edge between a source
// entity property and a referenced entity, together with the denormalized
// documents and bookkeeping fields of the stored row.
type Entry struct {
	// Key identifies the row, its parent is the source entity key.
	Key *idatastore.Key

	SrcKind     string
	DestKind    string
	SrcProperty string

	// DestKey is the referenced entity identity, also materialized under
	// «key» inside the Dest document.
	DestKey *idatastore.Key

	// Src, Dest and Rel are the denormalized documents queried through
	// dotted property paths. Rel is nil for edges without attributes.
	Src  map[string]any
	Dest map[string]any
	Rel  map[string]any

	// UpdateTag is the UnixMilli write time of the row, bounding snapshot
	// propagation.
	UpdateTag int64

	UpdateLevel skeleton.UpdateLevel
	Consistency skeleton.RelationalConsistency

	// ForeignKeys lists the refKeys captured into Dest when the row was
	// written, so a later refKeys declaration change is detectable per row.
	ForeignKeys []string
}

// SrcKey returns the source entity key carried by the row parent.
func (e *Entry) SrcKey() *idatastore.Key {
	return e.Key.Parent
}

// RefreshDest replaces the dest document with a fresh snapshot of the live
// referenced entity, restricted to the foreignKeys captured in the row, and
// stamps the row with tag.
func (e *Entry) RefreshDest(live *idatastore.Entity, tag int64) {
	e.Dest = docOf(skeleton.Snapshot(live, e.ForeignKeys), live.Key)
	e.DestKey = live.Key
	e.UpdateTag = tag
}

// DecodeRow parses a stored index row. A row whose mandatory fields or
// destination reference cannot be decoded yields ErrCorruptRow.
func DecodeRow(row *idatastore.Entity) (*Entry, error) {
	e := &Entry{Key: row.Key}
	var ok bool
	if e.SrcKind, ok = row.Get(skeleton.IndexField_SrcKind).(string); !ok {
		return nil, rowError(row, skeleton.IndexField_SrcKind)
	}
	if e.DestKind, ok = row.Get(skeleton.IndexField_DestKind).(string); !ok {
		return nil, rowError(row, skeleton.IndexField_DestKind)
	}
	if e.SrcProperty, ok = row.Get(skeleton.IndexField_SrcProperty).(string); !ok {
		return nil, rowError(row, skeleton.IndexField_SrcProperty)
	}
	if e.Dest, ok = row.Get(skeleton.IndexField_Dest).(map[string]any); !ok {
		return nil, rowError(row, skeleton.IndexField_Dest)
	}
	destKey, err := docKey(e.Dest)
	if err != nil {
		return nil, fmt.Errorf("row «%s»: dest: %w", row.Key.Encode(), err)
	}
	e.DestKey = destKey
	e.Src, _ = row.Get(skeleton.IndexField_Src).(map[string]any)
	e.Rel, _ = row.Get(skeleton.IndexField_Rel).(map[string]any)
	if tag, ok := row.Get(skeleton.IndexField_UpdateTag).(int64); ok {
		e.UpdateTag = tag
	}
	if lvl, ok := row.Get(skeleton.IndexField_UpdateLevel).(int64); ok {
		e.UpdateLevel = skeleton.UpdateLevel(lvl)
	}
	if c, ok := row.Get(skeleton.IndexField_Consistency).(int64); ok {
		e.Consistency = skeleton.RelationalConsistency(c)
	}
	e.ForeignKeys = stringsOf(row.Get(skeleton.IndexField_ForeignKeys))
	return e, nil
}

func rowError(row *idatastore.Entity, field string) error {
	return fmt.Errorf("row «%s»: %s: %w", row.Key.Encode(), field, ErrCorruptRow)
}

// docKey reads the «key» entry of a src/dest document.
func docKey(doc map[string]any) (*idatastore.Key, error) {
	switch k := doc[skeleton.KeyField].(type) {
	case *idatastore.Key:
		return k, nil
	case string:
		key, err := idatastore.DecodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrCorruptRow)
		}
		return key, nil
	}
	return nil, fmt.Errorf("document key %T: %w", doc[skeleton.KeyField], ErrCorruptRow)
}

func stringsOf(raw any) []string {
	list, _ := raw.([]any)
	res := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			res = append(res, s)
		}
	}
	return res
}

// Row encodes the entry into a storable index row.
func (e *Entry) Row() *idatastore.Entity {
	row := idatastore.NewEntity(e.Key)
	row.Set(skeleton.IndexField_SrcKind, e.SrcKind)
	row.Set(skeleton.IndexField_DestKind, e.DestKind)
	row.Set(skeleton.IndexField_SrcProperty, e.SrcProperty)
	row.Set(skeleton.IndexField_Src, e.Src)
	row.Set(skeleton.IndexField_Dest, e.Dest)
	if e.Rel == nil {
		row.Set(skeleton.IndexField_Rel, nil)
	} else {
		row.Set(skeleton.IndexField_Rel, e.Rel)
	}
	row.Set(skeleton.IndexField_UpdateTag, e.UpdateTag)
	row.Set(skeleton.IndexField_UpdateLevel, int64(e.UpdateLevel))
	row.Set(skeleton.IndexField_Consistency, int64(e.Consistency))
	row.Set(skeleton.IndexField_ForeignKeys, e.ForeignKeys)
	return row
}

// newEntry builds the row content of one current edge value. The src
// document replicates the parentKeys fields of the live source entity, the
// dest and rel documents replicate the stored value snapshots.
func newEntry(inst *skeleton.Instance, b *skeleton.RelationalBone, name string, v *skeleton.RelationValue, tag int64) *Entry {
	var rel map[string]any
	if v.Rel != nil {
		rel = docOf(v.Rel, nil)
	}
	return &Entry{
		SrcKind:     inst.Schema().Kind(),
		DestKind:    b.Kind,
		SrcProperty: name,
		DestKey:     v.Dest.Key,
		Src:         docOf(skeleton.Snapshot(inst.DBEntity(), b.ParentKeys), inst.Key()),
		Dest:        docOf(v.Dest, v.Dest.Key),
		Rel:         rel,
		UpdateTag:   tag,
		UpdateLevel: b.UpdateLevel,
		Consistency: b.Consistency,
		ForeignKeys: b.RefKeys,
	}
}

// docOf flattens an entity into a document, materializing the identity under
// «key» so dotted key filters match.
func docOf(e *idatastore.Entity, key *idatastore.Key) map[string]any {
	doc := map[string]any{}
	for _, p := range e.Properties() {
		doc[p] = e.Get(p)
	}
	if key != nil {
		doc[skeleton.KeyField] = key
	}
	return doc
}
