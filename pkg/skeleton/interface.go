/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 * @author Denis Gribanov
 */

package skeleton

import (
	"context"
	"net/url"

	"github.com/voedger/virel/pkg/idatastore"
)

// Bone is one typed field declaration within a Schema.
//
// Serialize and Unserialize convert between the instance value and stored
// entity properties and are pure over (instance value, entity). FromClient
// parses flat form-encoded input into the instance value, accumulating field
// errors. BuildDBFilter and BuildDBSort translate a raw external filter
// mapping into query predicates, rejecting fields that cannot be satisfied.
type Bone interface {
	IsRequired() bool
	IsIndexed() bool
	IsUnique() bool
	IsReadOnly() bool

	Serialize(inst *Instance, name string, entity *idatastore.Entity) error
	Unserialize(inst *Instance, name string, entity *idatastore.Entity) error

	FromClient(ctx context.Context, inst *Instance, name string, data url.Values) []FieldError

	BuildDBFilter(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any, prefix string) error
	BuildDBSort(name string, inst *Instance, q *idatastore.Query, rawFilter map[string]any) error

	// SearchTags returns lowercase full-text tokens of the current value.
	SearchTags(inst *Instance, name string) []string

	// ReferencedBlobs returns the blob identifiers reachable through the
	// current value, for garbage collection of unreferenced uploads.
	ReferencedBlobs(inst *Instance, name string) []string

	// UniqueValues returns the normalized value strings registered in the
	// unique-property index when the bone is declared unique.
	UniqueValues(inst *Instance, name string) []string

	// Refresh re-pulls derived parts of the value from live data.
	Refresh(ctx context.Context, inst *Instance, name string) error

	IsEmpty(value any) bool
}

// TaskKind enumerates the deferred relation-maintenance tasks enqueued after
// a successful commit.
type TaskKind int

const (
	TaskKind_null TaskKind = iota

	// TaskKind_Reconcile rebuilds the relation-index rows of one (source
	// entity, bone) pair by diffing against the stored rows.
	TaskKind_Reconcile

	// TaskKind_CleanupSource removes every relation-index row of one deleted
	// (source entity, bone) pair.
	TaskKind_CleanupSource

	// TaskKind_DestUpdated propagates a referenced-entity change into the
	// denormalized snapshots of sources with UpdateLevel_Always.
	TaskKind_DestUpdated

	// TaskKind_DestDeleted enforces SetNull/CascadeDeletion policies of edges
	// pointing at a deleted entity.
	TaskKind_DestDeleted

	TaskKind_count
)

func (k TaskKind) String() string {
	switch k {
	case TaskKind_Reconcile:
		return "Reconcile"
	case TaskKind_CleanupSource:
		return "CleanupSource"
	case TaskKind_DestUpdated:
		return "DestUpdated"
	case TaskKind_DestDeleted:
		return "DestDeleted"
	}
	return "null"
}

// Task is the deferred-task payload. Reconcile and CleanupSource use the Src*
// fields, DestUpdated and DestDeleted the Dest* fields.
type Task struct {
	Kind TaskKind

	SrcKind     string
	DestKind    string
	SrcProperty string
	SrcKey      *idatastore.Key

	DestKey *idatastore.Key

	// MinTag bounds DestUpdated propagation: only index rows written before
	// this tag (UnixMilli) are refreshed, rows written after already carry
	// the fresh snapshot.
	MinTag int64
}

// TaskQueue receives deferred tasks after the transactional save or delete
// committed. Implementations must be safe for concurrent use.
type TaskQueue interface {
	Enqueue(task Task)
}
