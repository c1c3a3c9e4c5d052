/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import "strconv"

const (
	// RelationIndexKind is the auxiliary collection materializing one row per
	// live n:n relation edge.
	RelationIndexKind = "viur-relations"

	// Relation index row fields. The viur_* spellings are a wire format shared
	// with earlier releases, they must not change.
	IndexField_SrcKind     = "viur_src_kind"
	IndexField_DestKind    = "viur_dest_kind"
	IndexField_SrcProperty = "viur_src_property"
	IndexField_Src         = "src"
	IndexField_Dest        = "dest"
	IndexField_Rel         = "rel"
	IndexField_UpdateTag   = "viur_delayed_update_tag"
	IndexField_UpdateLevel = "viur_relational_updateLevel"
	IndexField_Consistency = "viur_relational_consistency"
	IndexField_ForeignKeys = "viur_foreign_keys"

	// IncomingLocksProperty on a referenced entity lists the identities of the
	// referencing entities holding a PreventDeletion lock on it.
	// Historic spelling kept, it is a wire format.
	IncomingLocksProperty = "viur_incomming_relational_locks"

	// OutgoingLocksSuffix appended to a bone name forms the sibling property
	// holding the destination keys the bone currently locks.
	OutgoingLocksSuffix = "_outgoingRelationalLocks"

	// UniqueIndexKindSuffix appended to a kind forms the collection enforcing
	// unique bone values, one row per taken value.
	UniqueIndexKindSuffix  = "_uniquePropertyIndex"
	UniqueIndexSrcProperty = "src"

	// uniqueValuesSuffix appended to a bone name forms the sibling property
	// remembering which index rows the entity currently owns.
	uniqueValuesSuffix = "_uniqueIndexValues"

	// TreeDirKindSuffix marks the root-node kind of tree modules.
	TreeDirKindSuffix = "_rootNode"

	// KeyField names the referenced-entity identity inside a dest snapshot and
	// the source-entity identity filter in raw external filters.
	KeyField = "key"

	DefaultFormat = "$(dest.name)"

	destField = "dest"
	relField  = "rel"
	srcField  = "src"

	// raw external filter conventions
	filterOpMark = "$"
	orderByKey   = "orderby"
	orderDirKey  = "orderdir"
	orderDesc    = "desc"
)

// RelationalConsistency selects the referential-integrity policy of a
// relational bone. The integer values 1..4 are stored in index rows.
type RelationalConsistency int

const (
	RelationalConsistency_null RelationalConsistency = iota

	// RelationalConsistency_Ignore allows stale references to deleted entities.
	RelationalConsistency_Ignore

	// RelationalConsistency_PreventDeletion locks the referenced entity
	// against deletion while the relation exists.
	RelationalConsistency_PreventDeletion

	// RelationalConsistency_SetNull clears the relation when the referenced
	// entity is deleted.
	RelationalConsistency_SetNull

	// RelationalConsistency_CascadeDeletion deletes the referencing entity
	// together with the referenced one.
	RelationalConsistency_CascadeDeletion
)

func (c RelationalConsistency) String() string {
	switch c {
	case RelationalConsistency_Ignore:
		return "Ignore"
	case RelationalConsistency_PreventDeletion:
		return "PreventDeletion"
	case RelationalConsistency_SetNull:
		return "SetNull"
	case RelationalConsistency_CascadeDeletion:
		return "CascadeDeletion"
	}
	return "null"
}

// UpdateLevel controls when the denormalized dest snapshot is refreshed from
// the live referenced entity. The integer values are stored in index rows.
type UpdateLevel int

const (
	// UpdateLevel_Always refreshes on every save of the referenced entity.
	UpdateLevel_Always UpdateLevel = iota

	// UpdateLevel_OnRebuild refreshes only during a scheduled full reindex.
	UpdateLevel_OnRebuild

	// UpdateLevel_Never keeps the snapshot as written.
	UpdateLevel_Never
)

func (l UpdateLevel) String() string {
	switch l {
	case UpdateLevel_Always:
		return "Always"
	case UpdateLevel_OnRebuild:
		return "OnRebuild"
	case UpdateLevel_Never:
		return "Never"
	}
	return "UpdateLevel(" + strconv.Itoa(int(l)) + ")"
}
